package trace

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harvest/internal/ir"
)

func keypresses(tab, xpath, text string) []ir.Event {
	var out []ir.Event
	for _, r := range text {
		out = append(out, ir.Event{Type: ir.EventKeypress, Tab: tab, XPath: xpath, Key: string(r)})
	}
	return out
}

func typeStatement(page *ir.PageVariable, column *ir.NodeVariable) *ir.Type {
	trace := []ir.Event{{Type: ir.EventClick, Tab: "1", XPath: "/form/input"}}
	trace = append(trace, keypresses("1", "/form/input", "hello world")...)
	trace = append(trace, ir.Event{Type: ir.EventInput, Tab: "1", XPath: "/form/input", Text: "hello world"})
	trace = append(trace, ir.Event{Type: ir.EventKeypress, Tab: "1", XPath: "/form/input", Key: "Enter"})

	t := &ir.Type{
		Text:     ir.Concatenate{Left: ir.Literal("hello "), Right: ir.NodeVariableUse{Node: column}},
		Recorded: "hello world",
	}
	t.Trace = trace
	t.PageVar = page
	return t
}

func TestTypeRetypesTheComposedValue(t *testing.T) {
	page := &ir.PageVariable{Name: "p1", RecordTab: "1"}
	column := &ir.NodeVariable{Name: "planet", Source: ir.SourceRelation}
	stmt := typeStatement(page, column)

	env := ir.NewEnv()
	env.Bind("planet", ir.NodeRep{Text: "mars"})

	r, err := Build([]ir.Replayable{stmt}, env, "w1")
	require.NoError(t, err)

	var typed strings.Builder
	for _, e := range r.Events {
		if e.Type == ir.EventKeypress && e.Key != "Enter" {
			typed.WriteString(e.Key)
		}
	}
	assert.Equal(t, "hello mars", typed.String())
	assert.Equal(t, ir.EventKeypress, r.Events[len(r.Events)-1].Type, "non-typing keys stay in place")
	assert.Equal(t, "Enter", r.Events[len(r.Events)-1].Key)
	assert.Equal(t, "hello mars", r.Events[len(r.Events)-2].Text)
	assert.Equal(t, map[string]string{"s0_typedstring": "hello mars"}, r.Config.Bindings)
	assert.Equal(t, "w1", r.Config.Window)
	assert.Len(t, r.Owners, len(r.Events))
}

func TestInstantiateIsIdempotent(t *testing.T) {
	page := &ir.PageVariable{Name: "p1", RecordTab: "1"}
	page.SetTab("42")
	column := &ir.NodeVariable{Name: "planet", Recorded: ir.NodeRep{XPath: "/ul/li[1]/a", Frame: "0"}, Source: ir.SourceRelation}
	click := &ir.Click{Node: column}
	click.PageVar = page
	click.Trace = []ir.Event{
		{Type: ir.EventClick, Tab: "1", Frame: "0", XPath: "/ul/li[1]/a", Wrappers: []string{"/ul", "/ul/li[1]"}},
	}
	stmts := []ir.Replayable{typeStatement(page, column), click}

	env := ir.NewEnv()
	env.Bind("planet", ir.NodeRep{Text: "mars", XPath: "/ul/li[4]/a", Frame: "2"})

	p := Parameterize(stmts)
	values, err := p.Arguments(stmts, env)
	require.NoError(t, err)

	first, firstBindings, err := p.Instantiate(values)
	require.NoError(t, err)
	second, secondBindings, err := p.Instantiate(values)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-instantiation differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, firstBindings, secondBindings)

	last := first[len(first)-1]
	assert.Equal(t, "/ul/li[4]/a", last.XPath)
	assert.Equal(t, "42", last.Tab)
	assert.Equal(t, "2", last.Frame)
	assert.Equal(t, []string{"/ul", "/ul/li[4]"}, last.Wrappers)
	assert.Equal(t, "/ul/li[1]/a", p.events[len(p.events)-1].XPath, "template untouched")
}

func TestParamNamesAreDeterministic(t *testing.T) {
	page := &ir.PageVariable{Name: "p1", RecordTab: "1"}
	page.SetTab("9")
	sel := &ir.PulldownInteraction{Option: ir.Literal("Blue"), Recorded: "Red"}
	sel.PageVar = page
	sel.Trace = []ir.Event{{Type: ir.EventChange, Tab: "1", XPath: "/select", Props: map[string]string{ir.SelectedProperty: "Red"}}}
	load := &ir.Load{URL: ir.Literal("https://b.test"), RecordedURL: "https://a.test"}
	load.Trace = []ir.Event{{Type: ir.EventLoad, Tab: "2", URL: "https://a.test"}}

	p := Parameterize([]ir.Replayable{load, sel})
	var names []string
	for _, param := range p.Params() {
		names = append(names, param.Name)
	}
	assert.Equal(t, []string{"s0_url", "s1_property_selected", "s1_tab"}, names)

	r, err := Build([]ir.Replayable{load, sel}, ir.NewEnv(), "")
	require.NoError(t, err)
	assert.Equal(t, "https://b.test", r.Events[0].URL)
	assert.Equal(t, "2", r.Events[0].Tab, "a load's new tab is never parameterized")
	assert.Equal(t, "Blue", r.Events[1].Props[ir.SelectedProperty])
	assert.Equal(t, "9", r.Events[1].Tab)
}

func TestInstantiateRequiresEveryValue(t *testing.T) {
	load := &ir.Load{URL: ir.Literal("https://b.test"), RecordedURL: "https://a.test"}
	p := Parameterize([]ir.Replayable{load})

	_, _, err := p.Instantiate(map[string]string{})
	assert.Error(t, err)
}

func TestArgumentsSurfaceUnboundNodes(t *testing.T) {
	column := &ir.NodeVariable{Name: "planet", Recorded: ir.NodeRep{XPath: "/a"}, Source: ir.SourceRelation}
	click := &ir.Click{Node: column}

	_, err := Build([]ir.Replayable{click}, ir.NewEnv(), "")
	assert.ErrorIs(t, err, ir.ErrUnbound)
}

func TestReplaySliceAndLarge(t *testing.T) {
	r := Replay{
		Events: make([]ir.Event, 4),
		Owners: []int{0, 0, 1, 2},
	}
	realized := []ir.Event{{URL: "a"}, {URL: "b"}, {URL: "c"}}

	assert.Equal(t, []ir.Event{{URL: "a"}, {URL: "b"}}, r.Slice(realized, 0))
	assert.Equal(t, []ir.Event{{URL: "c"}}, r.Slice(realized, 1))
	assert.Empty(t, r.Slice(realized, 2), "realized trace stopped early")
	assert.False(t, r.Large())

	r.Events = make([]ir.Event, LargeTraceThreshold+1)
	assert.True(t, r.Large())
}
