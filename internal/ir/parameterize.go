package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ParameterizeForRelation rewrites stmts so that whatever was recorded
// against the first row of rel is driven by the row being visited:
//
//   - a node recorded at a column's first-row xpath becomes the column node
//   - typed text containing a column's first-row text becomes a
//     concatenation around a use of the column
//   - a loaded url equal to a column's first-row link becomes a use of
//     the column's link
//
// It returns the names of the columns that were used.
func ParameterizeForRelation(stmts []Statement, rel *Relation) []string {
	used := map[string]bool{}
	var order []string
	mark := func(c *Column) {
		if !used[c.Name] {
			used[c.Name] = true
			order = append(order, c.Name)
		}
	}
	rebind := func(n **NodeVariable) {
		if *n == nil || (*n).Source != SourceRecorded {
			return
		}
		for i := range rel.Columns {
			c := &rel.Columns[i]
			if c.Node != nil && c.FirstRow.XPath != "" && c.FirstRow.XPath == (*n).Recorded.XPath {
				*n = c.Node
				mark(c)
				return
			}
		}
	}

	Walk(stmts, func(s Statement) bool {
		switch st := s.(type) {
		case *Click:
			rebind(&st.Node)
		case *Scrape:
			rebind(&st.Node)
		case *PulldownInteraction:
			rebind(&st.Node)
		case *Type:
			rebind(&st.Node)
			if lit, ok := st.Text.(Literal); ok {
				for i := range rel.Columns {
					c := &rel.Columns[i]
					if e, ok := composeAround(string(lit), c); ok {
						st.Text = e
						mark(c)
						break
					}
				}
			}
		case *Load:
			if lit, ok := st.URL.(Literal); ok {
				for i := range rel.Columns {
					c := &rel.Columns[i]
					if c.Node != nil && c.FirstRow.Link != "" && c.FirstRow.Link == string(lit) {
						st.URL = NodeVariableUse{Node: c.Node, Attr: AttrLink}
						mark(c)
						break
					}
				}
			}
		}
		return true
	})
	return order
}

func composeAround(text string, c *Column) (Expr, bool) {
	if c.Node == nil || c.FirstRow.Text == "" {
		return nil, false
	}
	text = norm.NFC.String(text)
	needle := norm.NFC.String(c.FirstRow.Text)
	idx := strings.Index(text, needle)
	if idx < 0 {
		return nil, false
	}
	var e Expr = NodeVariableUse{Node: c.Node}
	if prefix := text[:idx]; prefix != "" {
		e = Concatenate{Left: Literal(prefix), Right: e}
	}
	if suffix := text[idx+len(needle):]; suffix != "" {
		e = Concatenate{Left: e, Right: Literal(suffix)}
	}
	return e, true
}
