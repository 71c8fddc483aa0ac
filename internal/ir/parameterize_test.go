package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelation() (*Relation, *NodeVariable, *NodeVariable) {
	name := &NodeVariable{Name: "name", Recorded: NodeRep{Text: "world", XPath: "/ul/li[1]/span"}, Source: SourceRelation}
	link := &NodeVariable{Name: "link", Recorded: NodeRep{Text: "More", Link: "https://site.test/1", XPath: "/ul/li[1]/a"}, Source: SourceRelation}
	rel := &Relation{
		ID:       "r1",
		RowXPath: "/ul/li[*]",
		Columns: []Column{
			{Name: "name", Suffix: "span", FirstRow: name.Recorded, Node: name},
			{Name: "link", Suffix: "a", FirstRow: link.Recorded, Node: link},
		},
	}
	return rel, name, link
}

func TestParameterizeTypeComposesAroundColumn(t *testing.T) {
	rel, _, _ := newTestRelation()
	typ := &Type{Text: Literal("hello world"), Recorded: "hello world"}

	used := ParameterizeForRelation([]Statement{typ}, rel)
	assert.Equal(t, []string{"name"}, used)
	assert.Equal(t, `Concatenate("hello ", NodeVariableUse(name))`, typ.Text.String())

	env := NewEnv()
	require.NoError(t, rel.BindRow(env, []NodeRep{{Text: "mars"}, {}}))
	s, err := typ.Text.Eval(env)
	require.NoError(t, err)
	assert.Equal(t, "hello mars", s)
}

func TestParameterizeTypeWithSuffix(t *testing.T) {
	rel, _, _ := newTestRelation()
	typ := &Type{Text: Literal("world cup"), Recorded: "world cup"}

	ParameterizeForRelation([]Statement{typ}, rel)
	assert.Equal(t, `Concatenate(NodeVariableUse(name), " cup")`, typ.Text.String())
}

func TestParameterizeRebindsNodesAndURLs(t *testing.T) {
	rel, name, link := newTestRelation()
	recorded := &NodeVariable{Name: "thing_1", Recorded: NodeRep{XPath: "/ul/li[1]/span"}, Source: SourceRecorded}
	unrelated := &NodeVariable{Name: "thing_2", Recorded: NodeRep{XPath: "/footer"}, Source: SourceRecorded}
	click := &Click{Node: recorded}
	other := &Click{Node: unrelated}
	load := &Load{URL: Literal("https://site.test/1"), RecordedURL: "https://site.test/1"}
	block := &SkipBlock{Body: []Statement{click, other, load}}

	used := ParameterizeForRelation([]Statement{block}, rel)
	assert.Equal(t, []string{"name", "link"}, used)
	assert.Same(t, name, click.Node)
	assert.Same(t, unrelated, other.Node)
	assert.Equal(t, NodeVariableUse{Node: link, Attr: AttrLink}, load.URL)
}
