package ir

import "fmt"

// Env is one frame of the run's variable scope. Frames chain outward
// through their parent; a loop body runs in a frame pushed by Extend and
// popped when the iteration completes.
type Env struct {
	parent *Env
	vars   map[string]NodeRep
}

// NewEnv returns a root frame.
func NewEnv() *Env {
	return &Env{vars: make(map[string]NodeRep)}
}

// Extend pushes a child frame.
func (e *Env) Extend() *Env {
	return &Env{parent: e, vars: make(map[string]NodeRep)}
}

// Parent pops back to the enclosing frame. The root's parent is nil.
func (e *Env) Parent() *Env {
	return e.parent
}

// Bind sets name in this frame, shadowing any outer binding.
func (e *Env) Bind(name string, v NodeRep) {
	e.vars[name] = v
}

// Lookup walks outward from this frame.
func (e *Env) Lookup(name string) (NodeRep, error) {
	for f := e; f != nil; f = f.parent {
		if v, ok := f.vars[name]; ok {
			return v, nil
		}
	}
	return NodeRep{}, fmt.Errorf("%q: %w", name, ErrUnbound)
}

// Depth counts frames from the root (root is 1).
func (e *Env) Depth() int {
	n := 0
	for f := e; f != nil; f = f.parent {
		n++
	}
	return n
}
