package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageVariableCursors(t *testing.T) {
	rel := &Relation{ID: "r1"}
	other := &Relation{ID: "r2"}
	pv := &PageVariable{ID: "p1", RecordTab: "7"}

	pv.SetTab("12")
	c := pv.Cursor(rel)
	assert.Equal(t, CursorNeedRows, c.State)
	assert.Equal(t, -1, c.Index)
	assert.Same(t, c, pv.Cursor(rel))
	assert.NotSame(t, c, pv.Cursor(other))

	pv.SetTab("12")
	assert.True(t, pv.HasCursor(rel), "same tab keeps cursors")

	pv.SetTab("13")
	assert.False(t, pv.HasCursor(rel))
	assert.False(t, pv.HasCursor(other))

	pv.Cursor(rel)
	pv.ClearCursor(rel)
	assert.False(t, pv.HasCursor(rel))

	pv.SetTab("13")
	pv.Cursor(rel)
	pv.DropCursors()
	assert.False(t, pv.HasCursor(rel))
	assert.Equal(t, "13", pv.Tab(), "dropping cursors keeps the tab")

	pv.ClearTab()
	assert.Equal(t, "", pv.Tab())
}

func TestCursorBuffer(t *testing.T) {
	c := NewCursor()
	assert.Nil(t, c.Current())
	assert.False(t, c.Buffered())

	c.Rows = [][]NodeRep{{{Text: "a"}}, {{Text: "b"}}}
	assert.True(t, c.Buffered())
	c.Index = 1
	assert.Equal(t, "b", c.Current()[0].Text)
	assert.False(t, c.Buffered())
}

func TestRelationCellXPath(t *testing.T) {
	rel := &Relation{RowXPath: "/html/body/table/tbody/tr[*]"}
	assert.Equal(t, "/html/body/table/tbody/tr[3]/td[2]/a", rel.CellXPath(3, Column{Suffix: "/td[2]/a"}))
	assert.Equal(t, "/html/body/table/tbody/tr[1]", rel.CellXPath(1, Column{}))
	assert.Equal(t, "/html/body/table/tbody/tr[12]/td", rel.CellXPath(12, Column{Suffix: "td"}))
}

func TestRelationBindRow(t *testing.T) {
	name := &NodeVariable{Name: "name", Source: SourceRelation}
	rel := &Relation{Name: "people", Columns: []Column{{Name: "name", Node: name}, {Name: "unused"}}}

	env := NewEnv()
	assert.Error(t, rel.BindRow(env, []NodeRep{{Text: "x"}}))
	assert.NoError(t, rel.BindRow(env, []NodeRep{{Text: "ada"}, {Text: "-"}}))

	v, err := env.Lookup("name")
	assert.NoError(t, err)
	assert.Equal(t, "ada", v.Text)
}
