package compiler

import (
	"cuelang.org/go/cue"

	"github.com/roach88/harvest/internal/ir"
)

var nodeAttrs = map[string]ir.NodeAttr{
	"":                       ir.AttrText,
	string(ir.AttrText):      ir.AttrText,
	string(ir.AttrLink):      ir.AttrLink,
	string(ir.AttrXPath):     ir.AttrXPath,
	string(ir.AttrSourceURL): ir.AttrSourceURL,
}

// expr compiles an expression:
//
//	"literal"
//	{node: name, attr: link}
//	{param: name}
//	{concat: [expr, expr, ...]}
func (c *compilation) expr(v cue.Value) ir.Expr {
	if !v.Exists() {
		c.errorf(v, "expr", "missing expression")
		return ir.Literal("")
	}
	if s, err := v.String(); err == nil {
		return ir.Literal(s)
	}
	switch {
	case v.LookupPath(cue.ParsePath("node")).Exists():
		n := c.nodeRef(v, "node")
		if n == nil {
			return ir.Literal("")
		}
		attr, ok := nodeAttrs[c.str(v, "attr")]
		if !ok {
			c.errorf(v, "attr", "unknown node attribute %q", c.str(v, "attr"))
		}
		return ir.NodeVariableUse{Node: n, Attr: attr}
	case v.LookupPath(cue.ParsePath("param")).Exists():
		return ir.NodeVariableUse{Node: c.param(v, c.str(v, "param"))}
	case v.LookupPath(cue.ParsePath("concat")).Exists():
		var out ir.Expr
		c.list(v, "concat", func(_ int, ev cue.Value) {
			e := c.expr(ev)
			if out == nil {
				out = e
				return
			}
			out = ir.Concatenate{Left: out, Right: e}
		})
		if out == nil {
			return ir.Literal("")
		}
		return out
	}
	c.errorf(v, "expr", "want a string, node, param or concat expression")
	return ir.Literal("")
}

// param returns the parameter node called name, declaring it on first use.
func (c *compilation) param(v cue.Value, name string) *ir.NodeVariable {
	if n, ok := c.byName[name]; ok {
		if n.Source != ir.SourceParameter {
			c.errorf(v, "param", "%q is a %s node, not a parameter", name, n.Source)
		}
		return n
	}
	return c.declare(v, name, ir.NodeRep{}, ir.SourceParameter)
}

var compareOps = map[string]ir.CompareOp{
	string(ir.OpEq):       ir.OpEq,
	string(ir.OpNe):       ir.OpNe,
	string(ir.OpContains): ir.OpContains,
	string(ir.OpLt):       ir.OpLt,
	string(ir.OpGt):       ir.OpGt,
}

// cond compiles a condition:
//
//	{op: eq, left: expr, right: expr}
//	{not: cond}
//	{all: [cond, ...]}
//	{any: [cond, ...]}
func (c *compilation) cond(v cue.Value) ir.Cond {
	if !v.Exists() {
		c.errorf(v, "cond", "missing condition")
		return ir.All{}
	}
	switch {
	case v.LookupPath(cue.ParsePath("op")).Exists():
		op, ok := compareOps[c.str(v, "op")]
		if !ok {
			c.errorf(v, "op", "unknown operator %q", c.str(v, "op"))
		}
		return ir.Compare{
			Op:    op,
			Left:  c.expr(v.LookupPath(cue.ParsePath("left"))),
			Right: c.expr(v.LookupPath(cue.ParsePath("right"))),
		}
	case v.LookupPath(cue.ParsePath("not")).Exists():
		return ir.Not{Cond: c.cond(v.LookupPath(cue.ParsePath("not")))}
	case v.LookupPath(cue.ParsePath("all")).Exists():
		var out ir.All
		c.list(v, "all", func(_ int, cv cue.Value) { out = append(out, c.cond(cv)) })
		return out
	case v.LookupPath(cue.ParsePath("any")).Exists():
		var out ir.Any
		c.list(v, "any", func(_ int, cv cue.Value) { out = append(out, c.cond(cv)) })
		return out
	}
	c.errorf(v, "cond", "want an op, not, all or any condition")
	return ir.All{}
}
