package pager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/testutil"
)

// fakeBrowser serves numbered pages of rows. Each frame has an answer
// function of the current page.
type fakeBrowser struct {
	mu      sync.Mutex
	frames  []string
	answers map[string]func(page int) Extraction
	page    int
	pages   int
	// stuck next interactions leave the page unchanged.
	stuck   int
	nextErr error

	extracts, nextCalls, reloads int
}

func (b *fakeBrowser) Frames(ctx context.Context, tab string) ([]string, error) {
	return b.frames, nil
}

func (b *fakeBrowser) Extract(ctx context.Context, tab, frame string, rel *ir.Relation) (Extraction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.extracts++
	fn, ok := b.answers[frame]
	if !ok {
		return Extraction{}, errors.New("frame gone")
	}
	return fn(b.page), nil
}

func (b *fakeBrowser) RunNextInteraction(ctx context.Context, tab string, rel *ir.Relation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextCalls++
	if b.nextErr != nil {
		return b.nextErr
	}
	if b.stuck > 0 {
		b.stuck--
		return nil
	}
	if b.page+1 < b.pages {
		b.page++
	}
	return nil
}

func (b *fakeBrowser) Reload(ctx context.Context, tab string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reloads++
	b.page = 0
	return nil
}

func rows(page, n int, withLocators int) [][]ir.NodeRep {
	out := make([][]ir.NodeRep, n)
	for i := range out {
		cell := ir.NodeRep{Text: fmt.Sprintf("p%d-r%d", page, i)}
		if i < withLocators {
			cell.XPath = fmt.Sprintf("/table/tr[%d]/td", i+1)
		}
		out[i] = []ir.NodeRep{cell}
	}
	return out
}

func paged(perPage int) func(page int) Extraction {
	return func(page int) Extraction {
		return Extraction{Status: NewItems, Rows: rows(page, perPage, perPage)}
	}
}

func noMore(int) Extraction { return Extraction{Status: NoMoreItems} }

func testConfig() Config {
	return Config{
		RelationTimeout:        time.Second,
		PollInterval:           100 * time.Millisecond,
		NextButtonAttempts:     3,
		NextInteractionTimeout: time.Hour,
	}
}

func newTestPager(b Browser, clock *testutil.FakeClock, cfg Config) *Pager {
	return New(b,
		WithConfig(cfg),
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func openPage() *ir.PageVariable {
	pv := &ir.PageVariable{ID: "p1", Name: "p1"}
	pv.SetTab("tab-1")
	return pv
}

func drain(t *testing.T, p *Pager, rel *ir.Relation, pv *ir.PageVariable) []string {
	t.Helper()
	var got []string
	for i := 0; i < 1000; i++ {
		row, ok, err := p.NextRow(context.Background(), rel, pv)
		require.NoError(t, err)
		if !ok {
			return got
		}
		got = append(got, row[0].Text)
	}
	t.Fatal("pager never ran out of rows")
	return nil
}

func TestNextRowYieldsEveryRowOnceThenFalse(t *testing.T) {
	b := &fakeBrowser{frames: []string{"0"}, answers: map[string]func(int) Extraction{"0": paged(3)}, pages: 1}
	p := newTestPager(b, testutil.NewFakeClock(), testConfig())
	rel := &ir.Relation{ID: "r", Name: "r", DemoRows: 3}
	pv := openPage()

	assert.Equal(t, []string{"p0-r0", "p0-r1", "p0-r2"}, drain(t, p, rel, pv))
	for i := 0; i < 3; i++ {
		_, ok, err := p.NextRow(context.Background(), rel, pv)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 1, b.extracts, "exhausted cursor does not touch the page")

	pv.ClearCursor(rel)
	assert.Equal(t, []string{"p0-r0", "p0-r1", "p0-r2"}, drain(t, p, rel, pv))
}

func TestBufferedRowsDoNotTouchThePage(t *testing.T) {
	b := &fakeBrowser{frames: []string{"0"}, answers: map[string]func(int) Extraction{"0": paged(5)}, pages: 1}
	p := newTestPager(b, testutil.NewFakeClock(), testConfig())
	rel := &ir.Relation{ID: "r", DemoRows: 5}
	pv := openPage()

	for i := 0; i < 5; i++ {
		_, ok, err := p.NextRow(context.Background(), rel, pv)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 1, b.extracts)
	}
}

func TestPaginationAcrossNextButton(t *testing.T) {
	b := &fakeBrowser{frames: []string{"0"}, answers: map[string]func(int) Extraction{"0": paged(2)}, pages: 3}
	p := newTestPager(b, testutil.NewFakeClock(), testConfig())
	rel := &ir.Relation{ID: "r", DemoRows: 2, Next: ir.NextControl{Type: ir.NextButton, XPath: "//a[@rel='next']"}}
	pv := openPage()

	got := drain(t, p, rel, pv)
	assert.Equal(t, []string{"p0-r0", "p0-r1", "p1-r0", "p1-r1", "p2-r0", "p2-r1"}, got)
	assert.Equal(t, 2+3, b.nextCalls, "two pages advanced, then three fruitless retries")
	assert.Equal(t, 0, b.reloads)
	assert.Equal(t, ir.CursorNoMoreRows, pv.Cursor(rel).State)
}

func TestTwoFrameRaceAcceptsLooseCandidate(t *testing.T) {
	b := &fakeBrowser{
		frames: []string{"A", "B"},
		answers: map[string]func(int) Extraction{
			"A": noMore,
			"B": func(int) Extraction { return Extraction{Status: NewItems, Rows: rows(0, 8, 8)} },
		},
		pages: 1,
	}
	p := newTestPager(b, testutil.NewFakeClock(), testConfig())
	rel := &ir.Relation{ID: "r", DemoRows: 10}
	pv := openPage()

	row, ok, err := p.NextRow(context.Background(), rel, pv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p0-r0", row[0].Text)

	c := pv.Cursor(rel)
	assert.Equal(t, 0, c.Index)
	assert.Len(t, c.Rows, 8)
	assert.Equal(t, "B", c.Frame)
	assert.False(t, c.TopFrameOnly, "B is not the top frame")
}

func TestStrictCandidateBeatsWeakerFrames(t *testing.T) {
	b := &fakeBrowser{
		frames: []string{"0", "ad", "list"},
		answers: map[string]func(int) Extraction{
			"0":    func(int) Extraction { return Extraction{Status: NewItems, Rows: rows(0, 10, 6)} },
			"ad":   func(int) Extraction { return Extraction{Status: NoNewItemsYet} },
			"list": func(int) Extraction { return Extraction{Status: NewItems, Rows: rows(1, 10, 10)} },
		},
		pages: 1,
	}
	clock := testutil.NewFakeClock()
	p := newTestPager(b, clock, testConfig())
	rel := &ir.Relation{ID: "r", DemoRows: 10}
	pv := openPage()

	row, ok, err := p.NextRow(context.Background(), rel, pv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1-r0", row[0].Text)
	assert.Equal(t, 0, clock.Sleeps(), "strict winner does not wait for pending frames")
}

func TestLooseFallbackAfterTimeout(t *testing.T) {
	b := &fakeBrowser{
		frames: []string{"0", "slow"},
		answers: map[string]func(int) Extraction{
			"0":    func(int) Extraction { return Extraction{Status: NewItems, Rows: rows(0, 10, 6)} },
			"slow": func(int) Extraction { return Extraction{Status: NoNewItemsYet} },
		},
		pages: 1,
	}
	clock := testutil.NewFakeClock()
	p := newTestPager(b, clock, testConfig())
	rel := &ir.Relation{ID: "r", DemoRows: 10}
	pv := openPage()

	_, ok, err := p.NextRow(context.Background(), rel, pv)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, clock.Sleeps(), "polled until the relation timeout")
	assert.True(t, pv.Cursor(rel).TopFrameOnly)
}

func TestNoAcceptableFrameExhausts(t *testing.T) {
	junk := func(int) Extraction { return Extraction{Status: NewItems, Rows: rows(0, 10, 2)} }
	b := &fakeBrowser{frames: []string{"0", "1"}, answers: map[string]func(int) Extraction{"0": junk, "1": junk}, pages: 1}
	p := newTestPager(b, testutil.NewFakeClock(), testConfig())
	rel := &ir.Relation{ID: "r", DemoRows: 10}

	_, ok, err := p.NextRow(context.Background(), rel, openPage())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSoleAnsweringFrameIsAccepted(t *testing.T) {
	b := &fakeBrowser{
		frames:  []string{"0", "gone"},
		answers: map[string]func(int) Extraction{"0": func(int) Extraction { return Extraction{Status: NewItems, Rows: rows(0, 2, 0)} }},
		pages:   1,
	}
	p := newTestPager(b, testutil.NewFakeClock(), testConfig())
	rel := &ir.Relation{ID: "r", DemoRows: 10}

	_, ok, err := p.NextRow(context.Background(), rel, openPage())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNoNewItemsYetIsRepolled(t *testing.T) {
	calls := 0
	b := &fakeBrowser{
		frames: []string{"0"},
		answers: map[string]func(int) Extraction{"0": func(int) Extraction {
			calls++
			if calls < 3 {
				return Extraction{Status: NoNewItemsYet}
			}
			return Extraction{Status: NewItems, Rows: rows(0, 4, 4)}
		}},
		pages: 1,
	}
	clock := testutil.NewFakeClock()
	p := newTestPager(b, clock, testConfig())
	rel := &ir.Relation{ID: "r", DemoRows: 4}

	_, ok, err := p.NextRow(context.Background(), rel, openPage())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, clock.Sleeps())
}

func TestStuckNextButtonIsRetried(t *testing.T) {
	b := &fakeBrowser{frames: []string{"0"}, answers: map[string]func(int) Extraction{"0": paged(2)}, pages: 2, stuck: 1}
	p := newTestPager(b, testutil.NewFakeClock(), testConfig())
	rel := &ir.Relation{ID: "r", DemoRows: 2, Next: ir.NextControl{Type: ir.NextButton}}
	pv := openPage()

	got := drain(t, p, rel, pv)
	assert.Equal(t, []string{"p0-r0", "p0-r1", "p1-r0", "p1-r1"}, got)
}

func TestFailingNextInteractionCountsAsAttempt(t *testing.T) {
	b := &fakeBrowser{frames: []string{"0"}, answers: map[string]func(int) Extraction{"0": paged(2)}, pages: 2, nextErr: errors.New("no next button")}
	cfg := testConfig()
	cfg.NextButtonAttempts = 2
	p := newTestPager(b, testutil.NewFakeClock(), cfg)
	rel := &ir.Relation{ID: "r", DemoRows: 2, Next: ir.NextControl{Type: ir.NextMoreButton}}

	assert.Len(t, drain(t, p, rel, openPage()), 2)
	assert.Equal(t, 2, b.nextCalls)
}

func TestNextInteractionTimeoutReloadsOnce(t *testing.T) {
	b := &fakeBrowser{frames: []string{"0"}, answers: map[string]func(int) Extraction{"0": paged(2)}, pages: 1}
	cfg := testConfig()
	cfg.NextInteractionTimeout = 1500 * time.Millisecond
	p := newTestPager(b, testutil.NewFakeClock(), cfg)
	rel := &ir.Relation{ID: "r", DemoRows: 2, Next: ir.NextControl{Type: ir.NextScroll}}
	pv := openPage()

	assert.Len(t, drain(t, p, rel, pv), 2)
	assert.Equal(t, 1, b.reloads)
	assert.Equal(t, 2, b.nextCalls)
	assert.True(t, pv.Cursor(rel).Reloaded)
}

func TestDefaultConfigReloadsBeforeGivingUp(t *testing.T) {
	firstPageOnly := func(page int) Extraction {
		if page == 0 {
			return Extraction{Status: NewItems, Rows: rows(0, 2, 2)}
		}
		return Extraction{Status: NoNewItemsYet}
	}
	b := &fakeBrowser{frames: []string{"0"}, answers: map[string]func(int) Extraction{"0": firstPageOnly}, pages: 2}
	clock := testutil.NewFakeClock()
	p := newTestPager(b, clock, DefaultConfig())
	rel := &ir.Relation{ID: "r", DemoRows: 2, Next: ir.NextControl{Type: ir.NextButton}}
	pv := openPage()

	assert.Equal(t, []string{"p0-r0", "p0-r1"}, drain(t, p, rel, pv))
	assert.Equal(t, 1, b.reloads)
	assert.Equal(t, 3, b.nextCalls)
	assert.True(t, pv.Cursor(rel).Reloaded)
	// Three slow attempts, then one more extraction after the reload.
	assert.Equal(t, testutil.Epoch.Add(60*time.Second), clock.Now())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.NextInteractionTimeout = time.Duration(cfg.NextButtonAttempts) * cfg.RelationTimeout
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next interaction timeout")

	cfg = DefaultConfig()
	cfg.NextButtonAttempts = 0
	assert.Error(t, cfg.Validate())
}

func TestNoTabMeansNoRows(t *testing.T) {
	p := newTestPager(&fakeBrowser{}, testutil.NewFakeClock(), testConfig())
	_, ok, err := p.NextRow(context.Background(), &ir.Relation{ID: "r"}, &ir.PageVariable{ID: "p"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelledContext(t *testing.T) {
	b := &fakeBrowser{frames: []string{"0"}, answers: map[string]func(int) Extraction{"0": paged(2)}, pages: 1}
	p := newTestPager(b, testutil.NewFakeClock(), testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := p.NextRow(ctx, &ir.Relation{ID: "r"}, openPage())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCountRatio(t *testing.T) {
	assert.InDelta(t, 0.8, countRatio(8, 10), 1e-9)
	assert.InDelta(t, 0.8, countRatio(10, 8), 1e-9)
	assert.Equal(t, 1.0, countRatio(3, 0))
	assert.Equal(t, 0.0, locatorFraction(nil))
}
