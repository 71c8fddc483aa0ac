package compiler

import (
	"fmt"
	"sort"
	"time"

	"cuelang.org/go/cue"

	"github.com/roach88/harvest/internal/ir"
)

// scope is what encloses the statements being compiled.
type scope struct {
	inLoop bool
}

// statementKinds are the keys a statement entry may use.
var statementKinds = []string{
	"load", "click", "scrape", "type", "pulldown",
	"loop", "if", "while", "skip_block", "output",
	"back", "close_page", "continue", "wait", "wait_until_ready", "say",
}

func isStatementKind(k string) bool {
	for _, s := range statementKinds {
		if s == k {
			return true
		}
	}
	return false
}

func (c *compilation) statements(v cue.Value, sc scope) []ir.Statement {
	if !v.Exists() {
		return nil
	}
	var out []ir.Statement
	it, err := v.List()
	if err != nil {
		c.cueErr(err)
		return nil
	}
	for it.Next() {
		if s := c.statement(it.Value(), sc); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// statement compiles one entry: a single-key mapping such as
// {click: {...}}, or the bare string "continue".
func (c *compilation) statement(v cue.Value, sc scope) ir.Statement {
	if s, err := v.String(); err == nil {
		if s == "continue" {
			return c.continueStmt(v, sc)
		}
		c.errorf(v, "statement", "unknown statement %q", s)
		return nil
	}
	it, err := v.Fields()
	if err != nil {
		c.errorf(v, "statement", "want a mapping with one statement key")
		return nil
	}
	var keys []string
	var body cue.Value
	for it.Next() {
		keys = append(keys, it.Selector().Unquoted())
		body = it.Value()
	}
	if len(keys) != 1 {
		sort.Strings(keys)
		c.errorf(v, "statement", "want exactly one statement key, got %v", keys)
		return nil
	}
	kind := keys[0]
	if !isStatementKind(kind) {
		c.errorf(v, "statement", "unknown statement %q", kind)
		return nil
	}

	switch kind {
	case "load":
		return c.load(body)
	case "click":
		return c.click(body)
	case "scrape":
		return c.scrape(body)
	case "type":
		return c.typeStmt(body)
	case "pulldown":
		return c.pulldown(body)
	case "loop":
		return c.loop(body)
	case "if":
		return &ir.If{
			Cond: c.cond(body.LookupPath(cue.ParsePath("cond"))),
			Body: c.statements(body.LookupPath(cue.ParsePath("then")), sc),
			Else: c.statements(body.LookupPath(cue.ParsePath("else")), sc),
		}
	case "while":
		return &ir.While{
			Cond:          c.cond(body.LookupPath(cue.ParsePath("cond"))),
			Body:          c.statements(body.LookupPath(cue.ParsePath("body")), sc),
			MaxIterations: c.integer(body, "max_iterations"),
		}
	case "skip_block":
		return c.skipBlock(body, sc)
	case "output":
		return c.output(body)
	case "back":
		if pv := c.pageRef(body, true); pv != nil {
			return &ir.Back{PageVar: pv}
		}
		return nil
	case "close_page":
		if pv := c.pageRef(body, true); pv != nil {
			return &ir.ClosePage{PageVar: pv}
		}
		return nil
	case "continue":
		return c.continueStmt(v, sc)
	case "wait":
		return c.wait(body)
	case "wait_until_ready":
		msg := c.scalarOr(body, "message")
		if msg == "" {
			msg = "Continue when the page is ready."
		}
		return &ir.WaitUntilReady{Message: msg}
	case "say":
		if s, err := body.String(); err == nil {
			return &ir.Say{Text: ir.Literal(s)}
		}
		return &ir.Say{Text: c.expr(body.LookupPath(cue.ParsePath("text")))}
	}
	return nil
}

// scalarOr reads v itself when it is a string, else its field.
func (c *compilation) scalarOr(v cue.Value, field string) string {
	if s, err := v.String(); err == nil {
		return s
	}
	return c.str(v, field)
}

func (c *compilation) continueStmt(v cue.Value, sc scope) ir.Statement {
	if !sc.inLoop {
		c.errorf(v, "continue", "continue outside a loop")
		return nil
	}
	return &ir.Continue{}
}

func (c *compilation) wait(v cue.Value) ir.Statement {
	raw := c.scalarOr(v, "duration")
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		c.errorf(v, "wait", "invalid duration %q", raw)
		return nil
	}
	return &ir.Wait{Duration: d}
}

// pageRef resolves the statement's page field. When the field is absent
// and the program declares exactly one page, that page is used.
func (c *compilation) pageRef(v cue.Value, required bool) *ir.PageVariable {
	name := c.scalarOr(v, "page")
	if name == "" {
		if len(c.pageOrder) == 1 {
			return c.pageOrder[0]
		}
		if required {
			c.errorf(v, "page", "page is required when the program declares %d pages", len(c.pageOrder))
		}
		return nil
	}
	pv, ok := c.pages[name]
	if !ok {
		c.errorf(v, "page", "unknown page %q", name)
		return nil
	}
	return pv
}

func (c *compilation) optionalPage(v cue.Value, field string) *ir.PageVariable {
	name := c.str(v, field)
	if name == "" {
		return nil
	}
	pv, ok := c.pages[name]
	if !ok {
		c.errorf(v.LookupPath(cue.ParsePath(field)), field, "unknown page %q", name)
		return nil
	}
	return pv
}

func (c *compilation) nodeRef(v cue.Value, field string) *ir.NodeVariable {
	f := v.LookupPath(cue.ParsePath(field))
	name := c.str(v, field)
	if name == "" {
		c.errorf(v, field, "%s is required", field)
		return nil
	}
	n, ok := c.byName[name]
	if !ok {
		c.errorf(f, field, "unknown node %q", name)
		return nil
	}
	return n
}

// recordedTrace decodes an explicit trace field.
func (c *compilation) recordedTrace(v cue.Value) ([]ir.Event, bool) {
	f := v.LookupPath(cue.ParsePath("trace"))
	if !f.Exists() {
		return nil, false
	}
	var events []ir.Event
	if err := f.Decode(&events); err != nil {
		c.cueErr(err)
		return nil, true
	}
	return events, true
}

func (c *compilation) load(v cue.Value) ir.Statement {
	opens := c.pageRef(v, true)
	urlVal := v.LookupPath(cue.ParsePath("url"))
	if !urlVal.Exists() {
		c.errorf(v, "url", "load needs a url")
		return nil
	}
	s := &ir.Load{URL: c.expr(urlVal), RecordedURL: c.str(v, "recorded_url")}
	if lit, ok := s.URL.(ir.Literal); ok && s.RecordedURL == "" {
		s.RecordedURL = string(lit)
	}
	if s.RecordedURL == "" && opens != nil {
		s.RecordedURL = opens.RecordURL
	}
	if s.RecordedURL == "" {
		c.errorf(v, "recorded_url", "a load with a computed url needs recorded_url")
	}
	s.Opens = opens
	if ev, ok := c.recordedTrace(v); ok {
		s.Trace = ev
	} else if opens != nil {
		s.Trace = synthLoad(opens, s.RecordedURL)
	}
	return s
}

func (c *compilation) click(v cue.Value) ir.Statement {
	s := &ir.Click{Node: c.nodeRef(v, "node")}
	s.PageVar = c.pageRef(v, true)
	s.Opens = c.optionalPage(v, "opens")
	if ev, ok := c.recordedTrace(v); ok {
		s.Trace = ev
		return s
	}
	if s.Node != nil && s.PageVar != nil {
		if s.Node.Recorded.XPath == "" {
			c.errorf(v, "node", "node %q has no recorded xpath to click", s.Node.Name)
			return nil
		}
		s.Trace = synthClick(s.PageVar, s.Node, s.Opens)
	}
	return s
}

func (c *compilation) scrape(v cue.Value) ir.Statement {
	s := &ir.Scrape{Node: c.nodeRef(v, "node")}
	s.PageVar = c.pageRef(v, true)
	if ev, ok := c.recordedTrace(v); ok {
		s.Trace = ev
		return s
	}
	if s.Node != nil && s.PageVar != nil {
		s.Trace = synthScrape(s.PageVar, s.Node)
	}
	return s
}

func (c *compilation) typeStmt(v cue.Value) ir.Statement {
	s := &ir.Type{Node: c.nodeRef(v, "node"), Recorded: c.str(v, "recorded")}
	s.PageVar = c.pageRef(v, true)
	s.Text = c.expr(v.LookupPath(cue.ParsePath("text")))
	if lit, ok := s.Text.(ir.Literal); ok && s.Recorded == "" {
		s.Recorded = string(lit)
	}
	if ev, ok := c.recordedTrace(v); ok {
		s.Trace = ev
		return s
	}
	if s.Recorded == "" {
		c.errorf(v, "recorded", "typing computed text needs the recorded text")
		return nil
	}
	if s.Node != nil && s.PageVar != nil {
		s.Trace = synthType(s.PageVar, s.Node, s.Recorded)
	}
	return s
}

func (c *compilation) pulldown(v cue.Value) ir.Statement {
	s := &ir.PulldownInteraction{Node: c.nodeRef(v, "node"), Recorded: c.str(v, "recorded")}
	s.PageVar = c.pageRef(v, true)
	s.Option = c.expr(v.LookupPath(cue.ParsePath("option")))
	if lit, ok := s.Option.(ir.Literal); ok && s.Recorded == "" {
		s.Recorded = string(lit)
	}
	if ev, ok := c.recordedTrace(v); ok {
		s.Trace = ev
		return s
	}
	if s.Node != nil && s.PageVar != nil {
		s.Trace = synthPulldown(s.PageVar, s.Node, s.Recorded)
	}
	return s
}

func (c *compilation) loop(v cue.Value) ir.Statement {
	relID := c.str(v, "relation")
	rel, ok := c.relations[relID]
	if !ok {
		c.errorf(v, "relation", "unknown relation %q", relID)
		return nil
	}
	c.loops++
	inner := scope{inLoop: true}
	l := &ir.Loop{
		Relation:         rel,
		PageVar:          c.pageRef(v, true),
		MaxRows:          c.integer(v, "max_rows"),
		Body:             c.statements(v.LookupPath(cue.ParsePath("body")), inner),
		IterationCleanup: c.statements(v.LookupPath(cue.ParsePath("iteration_cleanup")), scope{}),
		Cleanup:          c.statements(v.LookupPath(cue.ParsePath("cleanup")), scope{}),
	}
	ir.ParameterizeForRelation(l.Body, rel)
	return l
}

var strategies = map[string]ir.SkipStrategy{
	string(ir.SkipNever):        ir.SkipNever,
	string(ir.SkipAlways):       ir.SkipAlways,
	string(ir.SkipOneRun):       ir.SkipOneRun,
	string(ir.SkipLogicalTime):  ir.SkipLogicalTime,
	string(ir.SkipPhysicalTime): ir.SkipPhysicalTime,
}

func (c *compilation) skipBlock(v cue.Value, sc scope) ir.Statement {
	b := &ir.SkipBlock{
		ID:                   c.str(v, "id"),
		Name:                 c.str(v, "name"),
		Strategy:             ir.SkipAlways,
		LogicalWindow:        c.integer(v, "logical_window"),
		BreakAfterDuplicates: c.integer(v, "break_after_duplicates"),
	}
	if b.ID == "" {
		b.ID = fmt.Sprintf("sb%d", len(c.blockIDs)+1)
	}
	if c.blockIDs[b.ID] {
		c.errorf(v, "id", "duplicate skip block id %q", b.ID)
		return nil
	}
	c.blockIDs[b.ID] = true
	if b.Name == "" {
		b.Name = b.ID
	}
	if s := c.str(v, "strategy"); s != "" {
		st, ok := strategies[s]
		if !ok {
			c.errorf(v, "strategy", "unknown strategy %q", s)
			return nil
		}
		b.Strategy = st
	}
	if raw := c.str(v, "physical_window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.errorf(v, "physical_window", "invalid duration %q", raw)
			return nil
		}
		b.PhysicalWindow = d
	}
	switch {
	case b.Strategy == ir.SkipLogicalTime && b.LogicalWindow == 0:
		c.errorf(v, "logical_window", "logical-time strategy needs logical_window")
	case b.Strategy == ir.SkipPhysicalTime && b.PhysicalWindow == 0:
		c.errorf(v, "physical_window", "physical-time strategy needs physical_window")
	}
	c.list(v, "items", func(_ int, iv cue.Value) {
		item := ir.SkipItem{Attribute: c.str(iv, "attribute")}
		if item.Attribute == "" {
			c.errorf(iv, "attribute", "skip item needs an attribute")
			return
		}
		item.Value = c.expr(iv.LookupPath(cue.ParsePath("value")))
		b.Items = append(b.Items, item)
	})
	if len(b.Items) == 0 {
		c.errorf(v, "items", "skip block %q needs at least one item", b.ID)
	}
	b.Body = c.statements(v.LookupPath(cue.ParsePath("body")), sc)
	return b
}

func (c *compilation) output(v cue.Value) ir.Statement {
	o := &ir.Output{}
	c.list(v, "cells", func(_ int, cv cue.Value) {
		o.Cells = append(o.Cells, c.expr(cv))
	})
	c.list(v, "headers", func(_ int, hv cue.Value) {
		h, err := hv.String()
		if err != nil {
			c.cueErr(err)
			return
		}
		o.Headers = append(o.Headers, h)
	})
	if len(o.Cells) == 0 {
		c.errorf(v, "cells", "output needs at least one cell")
		return nil
	}
	switch {
	case len(o.Headers) == 0:
		for i, e := range o.Cells {
			o.Headers = append(o.Headers, headerFor(e, i))
		}
	case len(o.Headers) != len(o.Cells):
		c.errorf(v, "headers", "%d headers for %d cells", len(o.Headers), len(o.Cells))
	}
	return o
}

func headerFor(e ir.Expr, i int) string {
	if u, ok := e.(ir.NodeVariableUse); ok && u.Node != nil {
		if u.Attr == "" || u.Attr == ir.AttrText {
			return u.Node.Name
		}
		return u.Node.Name + "_" + string(u.Attr)
	}
	return fmt.Sprintf("column_%d", i+1)
}
