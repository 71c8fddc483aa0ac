package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprEval(t *testing.T) {
	n := &NodeVariable{Name: "item", Source: SourceRelation}
	env := NewEnv()
	env.Bind("item", NodeRep{Text: "mars", Link: "https://example.com/mars"})

	e := Concatenate{Left: Literal("hello "), Right: NodeVariableUse{Node: n}}
	s, err := e.Eval(env)
	require.NoError(t, err)
	assert.Equal(t, "hello mars", s)
	assert.Equal(t, `Concatenate("hello ", NodeVariableUse(item))`, e.String())

	link := NodeVariableUse{Node: n, Attr: AttrLink}
	s, err = link.Eval(env)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/mars", s)
	assert.Equal(t, "NodeVariableUse(item.link)", link.String())

	_, err = e.Eval(NewEnv())
	assert.ErrorIs(t, err, ErrUnbound)
}

func TestCondHolds(t *testing.T) {
	env := NewEnv()
	tests := []struct {
		name string
		cond Cond
		want bool
	}{
		{"eq", Compare{Op: OpEq, Left: Literal("a"), Right: Literal("a")}, true},
		{"ne", Compare{Op: OpNe, Left: Literal("a"), Right: Literal("a")}, false},
		{"contains", Compare{Op: OpContains, Left: Literal("harvest"), Right: Literal("vest")}, true},
		{"numeric lt", Compare{Op: OpLt, Left: Literal("9"), Right: Literal("10")}, true},
		{"lexical lt", Compare{Op: OpLt, Left: Literal("b"), Right: Literal("a")}, false},
		{"gt", Compare{Op: OpGt, Left: Literal(" 12"), Right: Literal("3")}, true},
		{"not", Not{Cond: Compare{Op: OpEq, Left: Literal("a"), Right: Literal("b")}}, true},
		{"empty all", All{}, true},
		{"empty any", Any{}, false},
		{"any", Any{Compare{Op: OpEq, Left: Literal("a"), Right: Literal("b")}, All{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Holds(env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Compare{Op: "approx", Left: Literal("a"), Right: Literal("a")}.Holds(env)
	assert.Error(t, err)
}
