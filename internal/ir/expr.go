package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a string-valued expression evaluated against the environment.
type Expr interface {
	Eval(env *Env) (string, error)
	String() string
}

// Literal is a constant string.
type Literal string

func (l Literal) Eval(*Env) (string, error) { return string(l), nil }
func (l Literal) String() string            { return strconv.Quote(string(l)) }

// NodeVariableUse reads one attribute of a node variable. The zero Attr
// reads text.
type NodeVariableUse struct {
	Node *NodeVariable
	Attr NodeAttr
}

func (u NodeVariableUse) Eval(env *Env) (string, error) {
	rep, err := u.Node.Current(env)
	if err != nil {
		return "", err
	}
	return u.Attr.Get(rep), nil
}

func (u NodeVariableUse) String() string {
	if u.Attr == "" || u.Attr == AttrText {
		return fmt.Sprintf("NodeVariableUse(%s)", u.Node.Name)
	}
	return fmt.Sprintf("NodeVariableUse(%s.%s)", u.Node.Name, u.Attr)
}

// Concatenate joins two expressions.
type Concatenate struct {
	Left, Right Expr
}

func (c Concatenate) Eval(env *Env) (string, error) {
	l, err := c.Left.Eval(env)
	if err != nil {
		return "", err
	}
	r, err := c.Right.Eval(env)
	if err != nil {
		return "", err
	}
	return l + r, nil
}

func (c Concatenate) String() string {
	return fmt.Sprintf("Concatenate(%s, %s)", c.Left, c.Right)
}

// CompareOp is a comparison operator usable in conditions.
type CompareOp string

const (
	OpEq       CompareOp = "eq"
	OpNe       CompareOp = "ne"
	OpContains CompareOp = "contains"
	OpLt       CompareOp = "lt"
	OpGt       CompareOp = "gt"
)

// Cond is a boolean condition for If and While.
type Cond interface {
	Holds(env *Env) (bool, error)
	String() string
}

// Compare compares two expressions. lt and gt compare numerically when
// both sides parse as integers and lexically otherwise.
type Compare struct {
	Op          CompareOp
	Left, Right Expr
}

func (c Compare) Holds(env *Env) (bool, error) {
	l, err := c.Left.Eval(env)
	if err != nil {
		return false, err
	}
	r, err := c.Right.Eval(env)
	if err != nil {
		return false, err
	}
	switch c.Op {
	case OpEq:
		return l == r, nil
	case OpNe:
		return l != r, nil
	case OpContains:
		return strings.Contains(l, r), nil
	case OpLt, OpGt:
		cmp := strings.Compare(l, r)
		li, lerr := strconv.ParseInt(strings.TrimSpace(l), 10, 64)
		ri, rerr := strconv.ParseInt(strings.TrimSpace(r), 10, 64)
		if lerr == nil && rerr == nil {
			cmp = 0
			if li < ri {
				cmp = -1
			} else if li > ri {
				cmp = 1
			}
		}
		if c.Op == OpLt {
			return cmp < 0, nil
		}
		return cmp > 0, nil
	default:
		return false, fmt.Errorf("unknown comparison %q", c.Op)
	}
}

func (c Compare) String() string {
	return fmt.Sprintf("%s(%s, %s)", c.Op, c.Left, c.Right)
}

// Not negates a condition.
type Not struct{ Cond Cond }

func (n Not) Holds(env *Env) (bool, error) {
	ok, err := n.Cond.Holds(env)
	return !ok, err
}

func (n Not) String() string { return fmt.Sprintf("not(%s)", n.Cond) }

// All holds when every condition holds. An empty All holds.
type All []Cond

func (a All) Holds(env *Env) (bool, error) {
	for _, c := range a {
		ok, err := c.Holds(env)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (a All) String() string { return joinConds("all", a) }

// Any holds when at least one condition holds.
type Any []Cond

func (a Any) Holds(env *Env) (bool, error) {
	for _, c := range a {
		ok, err := c.Holds(env)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (a Any) String() string { return joinConds("any", a) }

func joinConds(name string, cs []Cond) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}
