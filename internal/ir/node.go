package ir

import (
	"errors"
	"fmt"
	"sync"
)

// NodeSource records where a node variable's value comes from.
type NodeSource int

const (
	// SourceRecorded nodes were interacted with during the demonstration.
	SourceRecorded NodeSource = iota + 1
	// SourceRelation nodes are bound from the current relation row.
	SourceRelation
	// SourceParameter nodes are bound from program parameters.
	SourceParameter
	// SourceTextUpload nodes are bound from uploaded text rows.
	SourceTextUpload
)

var nodeSourceNames = map[NodeSource]string{
	SourceRecorded:   "recorded",
	SourceRelation:   "relation",
	SourceParameter:  "parameter",
	SourceTextUpload: "text-upload",
}

func (s NodeSource) String() string {
	if n, ok := nodeSourceNames[s]; ok {
		return n
	}
	return fmt.Sprintf("NodeSource(%d)", int(s))
}

// ParseNodeSource maps a document spelling to a NodeSource.
func ParseNodeSource(s string) (NodeSource, error) {
	for k, v := range nodeSourceNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown node source %q", s)
}

// NodeRep is the DOM-shaped value of a node at one point in time.
type NodeRep struct {
	Text      string `json:"text,omitempty" yaml:"text,omitempty"`
	Link      string `json:"link,omitempty" yaml:"link,omitempty"`
	XPath     string `json:"xpath,omitempty" yaml:"xpath,omitempty"`
	SourceURL string `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	Frame     string `json:"frame,omitempty" yaml:"frame,omitempty"`
}

// NodeAttr selects one attribute of a NodeRep.
type NodeAttr string

const (
	AttrText      NodeAttr = "text"
	AttrLink      NodeAttr = "link"
	AttrXPath     NodeAttr = "xpath"
	AttrSourceURL NodeAttr = "source_url"
)

// Get returns the attribute's value. Unknown attributes read as text.
func (a NodeAttr) Get(n NodeRep) string {
	switch a {
	case AttrLink:
		return n.Link
	case AttrXPath:
		return n.XPath
	case AttrSourceURL:
		return n.SourceURL
	default:
		return n.Text
	}
}

// ErrUnbound is returned when a name resolves in no environment frame.
var ErrUnbound = errors.New("unbound variable")

// NodeVariable is a named node. Statements hold pointers to node variables
// so a rename through the registry is visible everywhere the node is used.
type NodeVariable struct {
	Name     string
	Recorded NodeRep
	Source   NodeSource
}

// Current resolves the node's value for this point of the run. Bindings in
// env take precedence. A recorded node with no binding falls back to its
// demonstration value; any other unbound node is an error.
func (v *NodeVariable) Current(env *Env) (NodeRep, error) {
	if env != nil {
		if rep, err := env.Lookup(v.Name); err == nil {
			return rep, nil
		}
	}
	if v.Source == SourceRecorded {
		return v.Recorded, nil
	}
	return NodeRep{}, fmt.Errorf("node %q (%s): %w", v.Name, v.Source, ErrUnbound)
}

type nodeKey struct {
	xpath     string
	sourceURL string
}

// NodeRegistry is the session-owned arena of node variables. Nodes that
// were recorded with the same xpath on the same page share one instance.
//
// Thread-safety: all methods are safe for concurrent use.
type NodeRegistry struct {
	mu     sync.Mutex
	byKey  map[nodeKey]*NodeVariable
	byName map[string]*NodeVariable
	next   int
}

// NewNodeRegistry returns an empty registry.
func NewNodeRegistry() *NodeRegistry {
	r := &NodeRegistry{}
	r.Reset()
	return r
}

// Intern returns the node variable for rep, creating it if no node with
// the same (xpath, source url) exists yet. An empty name is replaced with
// a generated one. Nodes without an xpath are never coalesced.
func (r *NodeRegistry) Intern(name string, rep NodeRep, source NodeSource) *NodeVariable {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nodeKey{xpath: rep.XPath, sourceURL: rep.SourceURL}
	if rep.XPath != "" {
		if v, ok := r.byKey[key]; ok {
			return v
		}
	}
	if name == "" || r.byName[name] != nil {
		name = r.freshName()
	}
	v := &NodeVariable{Name: name, Recorded: rep, Source: source}
	if rep.XPath != "" {
		r.byKey[key] = v
	}
	r.byName[name] = v
	return v
}

func (r *NodeRegistry) freshName() string {
	for {
		r.next++
		name := fmt.Sprintf("thing_%d", r.next)
		if r.byName[name] == nil {
			return name
		}
	}
}

// Lookup finds a node variable by name.
func (r *NodeRegistry) Lookup(name string) (*NodeVariable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byName[name]
	return v, ok
}

// Rename changes a node's name. Fails if another node already uses it.
func (r *NodeRegistry) Rename(v *NodeVariable, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.byName[name]; ok && other != v {
		return fmt.Errorf("rename %q: name %q already in use", v.Name, name)
	}
	delete(r.byName, v.Name)
	v.Name = name
	r.byName[name] = v
	return nil
}

// Len reports how many distinct node variables are registered.
func (r *NodeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// Reset forgets every node. Called when a new session begins.
func (r *NodeRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey = make(map[nodeKey]*NodeVariable)
	r.byName = make(map[string]*NodeVariable)
	r.next = 0
}
