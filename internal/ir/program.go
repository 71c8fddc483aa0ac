package ir

// Program is a demonstrated script. It owns its statement tree; relations,
// page variables and node variables are shared with the editing session.
type Program struct {
	ID         string
	Name       string
	Statements []Statement
	Relations  []*Relation
	PageVars   []*PageVariable
	// Parameters are default bindings for parameter nodes.
	Parameters      map[string]string
	RestartOnFinish bool
	Nodes           *NodeRegistry
}

// Link sets parent references across the whole tree.
func (p *Program) Link() { Link(nil, p.Statements) }

// Reset clears per-run state: statement state, tab bindings and cursors.
func (p *Program) Reset() {
	Walk(p.Statements, func(s Statement) bool {
		s.Reset()
		return true
	})
	for _, pv := range p.PageVars {
		pv.ClearTab()
	}
}

// RootEnv returns the run's root frame with parameters bound.
func (p *Program) RootEnv(overrides map[string]string) *Env {
	env := NewEnv()
	for k, v := range p.Parameters {
		env.Bind(k, NodeRep{Text: v})
	}
	for k, v := range overrides {
		env.Bind(k, NodeRep{Text: v})
	}
	return env
}

// Relation finds a relation by id.
func (p *Program) Relation(id string) (*Relation, bool) {
	for _, r := range p.Relations {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// PageVar finds a page variable by name.
func (p *Program) PageVar(name string) (*PageVariable, bool) {
	for _, pv := range p.PageVars {
		if pv.Name == name {
			return pv, true
		}
	}
	return nil, false
}

// SkipBlocks lists the program's skip blocks in tree order.
func (p *Program) SkipBlocks() []*SkipBlock {
	var out []*SkipBlock
	Walk(p.Statements, func(s Statement) bool {
		if b, ok := s.(*SkipBlock); ok {
			out = append(out, b)
		}
		return true
	})
	return out
}

// EnsureOutput synthesizes an Output statement when the program has none.
// The row holds every relation column of the enclosing loops followed by
// every scraped node, and is appended to the innermost loop body (or the
// top level when there is no loop). It reports whether a statement was
// added.
func (p *Program) EnsureOutput() bool {
	hasOutput := false
	Walk(p.Statements, func(s Statement) bool {
		if _, ok := s.(*Output); ok {
			hasOutput = true
		}
		return !hasOutput
	})
	if hasOutput {
		return false
	}

	var (
		cells   []Expr
		headers []string
		seen    = map[*NodeVariable]bool{}
		target  = &p.Statements
	)
	add := func(n *NodeVariable) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		cells = append(cells, NodeVariableUse{Node: n})
		headers = append(headers, n.Name)
	}
	var visit func(stmts *[]Statement)
	visit = func(stmts *[]Statement) {
		for _, s := range *stmts {
			switch st := s.(type) {
			case *Loop:
				for _, c := range st.Relation.Columns {
					add(c.Node)
				}
				target = &st.Body
				visit(&st.Body)
			case *Scrape:
				add(st.Node)
			case *If:
				visit(&st.Body)
			case *While:
				visit(&st.Body)
			case *SkipBlock:
				visit(&st.Body)
			}
		}
	}
	visit(&p.Statements)
	if len(cells) == 0 {
		return false
	}
	*target = append(*target, &Output{Headers: headers, Cells: cells})
	p.Link()
	return true
}
