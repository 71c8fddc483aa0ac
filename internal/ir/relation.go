package ir

import (
	"fmt"
	"strings"
)

// NextType is how a relation reveals further rows.
type NextType string

const (
	NextNone       NextType = "none"
	NextButton     NextType = "next_button"
	NextMoreButton NextType = "more_button"
	NextScroll     NextType = "scroll_for_more"
)

// NextControl describes the pagination control of a relation.
type NextControl struct {
	Type  NextType `json:"type" yaml:"type"`
	XPath string   `json:"xpath,omitempty" yaml:"xpath,omitempty"`
	Text  string   `json:"text,omitempty" yaml:"text,omitempty"`
}

// Column is one cell position of a relation row.
type Column struct {
	Name string `json:"name" yaml:"name"`
	// Suffix locates the cell relative to the row element.
	Suffix string `json:"suffix" yaml:"suffix"`
	// FirstRow is the cell as seen in the first demonstrated row.
	FirstRow NodeRep `json:"first_row" yaml:"first_row"`
	// Node is bound to the cell's value while a loop visits a row.
	Node *NodeVariable `json:"-" yaml:"-"`
}

// Relation is a demonstrated, re-extractable table.
type Relation struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
	// RowXPath is the row pattern; "[*]" marks the repeated step.
	RowXPath string   `json:"row_xpath" yaml:"row_xpath"`
	Columns  []Column `json:"columns" yaml:"columns"`
	// DemoRows is the number of rows seen when the relation was demonstrated.
	DemoRows int         `json:"demo_rows,omitempty" yaml:"demo_rows,omitempty"`
	Next     NextControl `json:"next" yaml:"next"`
	Frame    string      `json:"frame,omitempty" yaml:"frame,omitempty"`
}

// Column looks a column up by name.
func (r *Relation) Column(name string) (*Column, bool) {
	for i := range r.Columns {
		if r.Columns[i].Name == name {
			return &r.Columns[i], true
		}
	}
	return nil, false
}

// BindRow binds every column node to the matching cell of row.
func (r *Relation) BindRow(env *Env, row []NodeRep) error {
	if len(row) != len(r.Columns) {
		return fmt.Errorf("relation %s: row has %d cells, want %d", r.Name, len(row), len(r.Columns))
	}
	for i, col := range r.Columns {
		if col.Node == nil {
			continue
		}
		env.Bind(col.Node.Name, row[i])
	}
	return nil
}

// CellXPath expands the row pattern for the given 1-based row index and
// appends the column suffix.
func (r *Relation) CellXPath(row int, col Column) string {
	base := strings.Replace(r.RowXPath, "[*]", fmt.Sprintf("[%d]", row), 1)
	if col.Suffix == "" {
		return base
	}
	return base + "/" + strings.TrimPrefix(col.Suffix, "/")
}
