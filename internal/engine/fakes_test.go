package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/pager"
	"github.com/roach88/harvest/internal/store"
	"github.com/roach88/harvest/internal/testutil"
	"github.com/roach88/harvest/internal/trace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSite is an executor and browser over one page with one table.
type fakeSite struct {
	mu sync.Mutex

	rows map[string][][]ir.NodeRep
	// fail makes any event targeting the xpath fail to find its node.
	fail map[string]bool

	replays      []ir.Event
	windows      int
	closedWins   []string
	closedTabs   []string
	backs        int
	replayCalls  int
	extractCalls int
}

func newFakeSite() *fakeSite {
	return &fakeSite{rows: make(map[string][][]ir.NodeRep), fail: make(map[string]bool)}
}

func (f *fakeSite) Replay(ctx context.Context, rp trace.Replay) (ReplayResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replayCalls++
	res := ReplayResult{Tabs: make(map[string]string)}
	for _, ev := range rp.Events {
		if ev.XPath != "" && f.fail[ev.XPath] {
			return res, fmt.Errorf("%w: %s", ErrNodeNotFound, ev.XPath)
		}
		out := ev.Clone()
		switch ev.Type {
		case ir.EventLoad:
			live := "live-" + ev.Tab
			res.Tabs[ev.Tab] = live
			out.Tab = live
		case ir.EventCapture:
			out.Node = &ir.NodeRep{Text: "text at " + ev.XPath, XPath: ev.XPath}
		}
		f.replays = append(f.replays, out)
		res.Events = append(res.Events, out)
	}
	return res, nil
}

func (f *fakeSite) Frames(ctx context.Context, tab string) ([]string, error) {
	if tab == "" {
		return nil, fmt.Errorf("no tab")
	}
	return []string{"top"}, nil
}

func (f *fakeSite) Extract(ctx context.Context, tab, frame string, rel *ir.Relation) (pager.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractCalls++
	rows := f.rows[rel.ID]
	if len(rows) == 0 {
		return pager.Extraction{Frame: frame, Status: pager.NoMoreItems}, nil
	}
	return pager.Extraction{Frame: frame, Status: pager.NewItems, Rows: rows}, nil
}

func (f *fakeSite) RunNextInteraction(ctx context.Context, tab string, rel *ir.Relation) error {
	return nil
}

func (f *fakeSite) Reload(ctx context.Context, tab string) error { return nil }

func (f *fakeSite) OpenWindow(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows++
	return fmt.Sprintf("win-%d", f.windows), nil
}

func (f *fakeSite) CloseWindow(ctx context.Context, window string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedWins = append(f.closedWins, window)
	return nil
}

func (f *fakeSite) CloseTab(ctx context.Context, tab string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedTabs = append(f.closedTabs, tab)
	return nil
}

func (f *fakeSite) Back(ctx context.Context, tab string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backs++
	return nil
}

func (f *fakeSite) replayCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replayCalls
}

const itemsURL = "https://shop.test/items"

// listProgram is: load the items page, loop over its rows running body,
// say "done" in the loop cleanup.
type listProgram struct {
	prog  *ir.Program
	page  *ir.PageVariable
	rel   *ir.Relation
	title *ir.NodeVariable
	loop  *ir.Loop
}

func itemRows(n int) [][]ir.NodeRep {
	out := make([][]ir.NodeRep, n)
	for i := range out {
		out[i] = []ir.NodeRep{{
			Text:  fmt.Sprintf("item %d", i+1),
			XPath: fmt.Sprintf("/html/body/ul/li[%d]/span", i+1),
		}}
	}
	return out
}

func newListProgram(site *fakeSite, n int, body func(lp *listProgram) []ir.Statement) *listProgram {
	rows := itemRows(n)
	lp := &listProgram{}
	lp.page = &ir.PageVariable{ID: "p1", Name: "page1", RecordTab: "t1", RecordURL: itemsURL}
	lp.title = &ir.NodeVariable{Name: "title", Recorded: rows[0][0], Source: ir.SourceRelation}
	lp.rel = &ir.Relation{
		ID:       "items",
		Name:     "items",
		URL:      itemsURL,
		RowXPath: "/html/body/ul/li[*]",
		Columns:  []ir.Column{{Name: "title", Suffix: "/span", FirstRow: rows[0][0], Node: lp.title}},
		DemoRows: n,
		Next:     ir.NextControl{Type: ir.NextNone},
	}
	site.rows[lp.rel.ID] = rows

	load := &ir.Load{URL: ir.Literal(itemsURL), RecordedURL: itemsURL}
	load.Trace = []ir.Event{{Type: ir.EventLoad, Tab: "t1", URL: itemsURL}}
	load.Opens = lp.page

	lp.loop = &ir.Loop{
		Relation: lp.rel,
		PageVar:  lp.page,
		Cleanup:  []ir.Statement{&ir.Say{Text: ir.Literal("done")}},
	}
	lp.loop.Body = body(lp)

	lp.prog = &ir.Program{
		ID:         "list",
		Name:       "list",
		Statements: []ir.Statement{load, lp.loop},
		Relations:  []*ir.Relation{lp.rel},
		PageVars:   []*ir.PageVariable{lp.page},
		Nodes:      ir.NewNodeRegistry(),
	}
	lp.prog.Link()
	return lp
}

func outputTitle(lp *listProgram) *ir.Output {
	return &ir.Output{Headers: []string{"title"}, Cells: []ir.Expr{ir.NodeVariableUse{Node: lp.title}}}
}

func clickTitle(lp *listProgram) *ir.Click {
	c := &ir.Click{Node: lp.title}
	c.Trace = []ir.Event{{Type: ir.EventClick, Tab: "t1", XPath: lp.title.Recorded.XPath}}
	c.PageVar = lp.page
	return c
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type testEnv struct {
	site  *fakeSite
	store *store.Store
	obs   *testutil.RecordingObserver
	clock *testutil.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &testEnv{
		site:  newFakeSite(),
		store: st,
		obs:   testutil.NewRecordingObserver(),
		clock: testutil.NewFakeClock(),
	}
}

func (te *testEnv) engine(opts ...EngineOption) *Engine {
	base := []EngineOption{
		WithRunRegistry(te.store),
		WithObserver(te.obs),
		WithIDGenerator(testutil.NewSequenceIDGenerator("run")),
		WithClock(te.clock),
		WithLogger(quietLogger()),
		WithPagerOptions(pager.WithClock(te.clock)),
	}
	return New(te.site, te.site, te.store, te.store, append(base, opts...)...)
}
