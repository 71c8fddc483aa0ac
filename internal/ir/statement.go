package ir

import (
	"errors"
	"fmt"
	"time"
)

// Kind tags a statement variant.
type Kind int

const (
	KindLoad Kind = iota + 1
	KindClick
	KindScrape
	KindType
	KindPulldown
	KindLoop
	KindIf
	KindWhile
	KindSkipBlock
	KindOutput
	KindBack
	KindClosePage
	KindContinue
	KindWait
	KindWaitUntilReady
	KindSay
)

var kindNames = [...]string{
	KindLoad:           "load",
	KindClick:          "click",
	KindScrape:         "scrape",
	KindType:           "type",
	KindPulldown:       "pulldown",
	KindLoop:           "loop",
	KindIf:             "if",
	KindWhile:          "while",
	KindSkipBlock:      "skip_block",
	KindOutput:         "output",
	KindBack:           "back",
	KindClosePage:      "close_page",
	KindContinue:       "continue",
	KindWait:           "wait",
	KindWaitUntilReady: "wait_until_ready",
	KindSay:            "say",
}

func (k Kind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Statement is the closed set of program tree nodes. Only types in this
// package implement it.
type Statement interface {
	Kind() Kind
	// Parent is a non-owning back reference, nil at top level.
	Parent() Statement
	// Children returns every statement this one owns, in run order.
	Children() []Statement
	// Reset clears per-run state.
	Reset()
	base() *stmtBase
}

type stmtBase struct {
	parent Statement
}

func (b *stmtBase) Parent() Statement     { return b.parent }
func (b *stmtBase) Children() []Statement { return nil }
func (b *stmtBase) Reset()                {}
func (b *stmtBase) base() *stmtBase       { return b }

// Link sets the parent back reference of stmts and all their descendants.
func Link(parent Statement, stmts []Statement) {
	for _, s := range stmts {
		s.base().parent = parent
		Link(s, s.Children())
	}
}

// Walk visits stmts depth first. Returning false from fn skips the
// statement's children.
func Walk(stmts []Statement, fn func(Statement) bool) {
	for _, s := range stmts {
		if fn(s) {
			Walk(s.Children(), fn)
		}
	}
}

// Ancestors returns the enclosing statements of s, innermost first.
func Ancestors(s Statement) []Statement {
	var out []Statement
	for p := s.Parent(); p != nil; p = p.Parent() {
		out = append(out, p)
	}
	return out
}

// ParamKind is the kind of recorded constant a trace parameter replaces.
type ParamKind string

const (
	ParamURL         ParamKind = "url"
	ParamXPath       ParamKind = "xpath"
	ParamTypedString ParamKind = "typedstring"
	ParamTab         ParamKind = "tab"
	ParamFrame       ParamKind = "frame"
	ParamProperty    ParamKind = "property"
)

// PBV asks for the recorded constant Value to become a parameter.
// Property names the DOM property for ParamProperty.
type PBV struct {
	Kind     ParamKind
	Property string
	Value    string
}

// Arg is the live value for a parameter declared by a PBV.
type Arg struct {
	Kind     ParamKind
	Property string
	Value    string
}

// Replayable statements are driven through the trace executor.
type Replayable interface {
	Statement
	// Replays reports whether this instance needs the executor. A scrape
	// of a relation cell reads the row instead.
	Replays() bool
	CleanTrace() []Event
	// Page is the page the statement acts on, nil for a load.
	Page() *PageVariable
	// OutputPage is the page the statement opens, if any.
	OutputPage() *PageVariable
	// Resolvable reports whether a page-opening statement has a target.
	Resolvable(env *Env) bool
	PBVs() []PBV
	Args(env *Env) ([]Arg, error)
	// PostReplay receives the realized events of this statement's slice of
	// the trace.
	PostReplay(env *Env, realized []Event) error
}

// traced is shared by the replayable statements.
type traced struct {
	Trace   []Event
	PageVar *PageVariable
	Opens   *PageVariable
}

func (t *traced) CleanTrace() []Event       { return t.Trace }
func (t *traced) Page() *PageVariable       { return t.PageVar }
func (t *traced) OutputPage() *PageVariable { return t.Opens }

func (t *traced) tabParameterized() bool {
	return t.PageVar != nil && t.PageVar.Tab() != "" && t.PageVar.Tab() != t.PageVar.RecordTab
}

func (t *traced) tabPBVs() []PBV {
	if !t.tabParameterized() {
		return nil
	}
	return []PBV{{Kind: ParamTab, Value: t.PageVar.RecordTab}}
}

func (t *traced) tabArgs() []Arg {
	if !t.tabParameterized() {
		return nil
	}
	return []Arg{{Kind: ParamTab, Value: t.PageVar.Tab()}}
}

func nodePBVs(n *NodeVariable) []PBV {
	if n == nil || n.Source == SourceRecorded {
		return nil
	}
	pbvs := []PBV{{Kind: ParamXPath, Value: n.Recorded.XPath}}
	if n.Recorded.Frame != "" {
		pbvs = append(pbvs, PBV{Kind: ParamFrame, Value: n.Recorded.Frame})
	}
	return pbvs
}

func nodeArgs(n *NodeVariable, env *Env) ([]Arg, error) {
	if n == nil || n.Source == SourceRecorded {
		return nil, nil
	}
	rep, err := n.Current(env)
	if err != nil {
		return nil, err
	}
	args := []Arg{{Kind: ParamXPath, Value: rep.XPath}}
	if n.Recorded.Frame != "" {
		args = append(args, Arg{Kind: ParamFrame, Value: rep.Frame})
	}
	return args, nil
}

func nodeResolvable(n *NodeVariable, env *Env) bool {
	if n == nil {
		return false
	}
	rep, err := n.Current(env)
	return err == nil && rep.XPath != ""
}

// Load opens a url in a new tab bound to Into.
type Load struct {
	stmtBase
	traced
	URL         Expr
	RecordedURL string
}

func (*Load) Kind() Kind            { return KindLoad }
func (*Load) Replays() bool         { return true }
func (l *Load) Page() *PageVariable { return nil }

func (l *Load) urlParameterized() bool {
	lit, ok := l.URL.(Literal)
	return !ok || string(lit) != l.RecordedURL
}

func (l *Load) Resolvable(env *Env) bool {
	u, err := l.URL.Eval(env)
	return err == nil && u != ""
}

func (l *Load) PBVs() []PBV {
	if !l.urlParameterized() {
		return nil
	}
	return []PBV{{Kind: ParamURL, Value: l.RecordedURL}}
}

func (l *Load) Args(env *Env) ([]Arg, error) {
	if !l.urlParameterized() {
		return nil, nil
	}
	u, err := l.URL.Eval(env)
	if err != nil {
		return nil, err
	}
	return []Arg{{Kind: ParamURL, Value: u}}, nil
}

func (*Load) PostReplay(*Env, []Event) error { return nil }

// Click clicks a node. If Opens is set the click opens that page.
type Click struct {
	stmtBase
	traced
	Node *NodeVariable
}

func (*Click) Kind() Kind    { return KindClick }
func (*Click) Replays() bool { return true }

func (c *Click) Resolvable(env *Env) bool {
	return c.Opens == nil || nodeResolvable(c.Node, env)
}

func (c *Click) PBVs() []PBV { return append(nodePBVs(c.Node), c.tabPBVs()...) }

func (c *Click) Args(env *Env) ([]Arg, error) {
	args, err := nodeArgs(c.Node, env)
	if err != nil {
		return nil, err
	}
	return append(args, c.tabArgs()...), nil
}

func (*Click) PostReplay(*Env, []Event) error { return nil }

// Scrape captures a node's value into the environment.
type Scrape struct {
	stmtBase
	traced
	Node *NodeVariable

	// Value is the last captured value of this run.
	Value    NodeRep
	Captured bool
}

func (*Scrape) Kind() Kind { return KindScrape }

// Replays is false for relation cells: the loop has already bound them.
func (s *Scrape) Replays() bool { return s.Node == nil || s.Node.Source != SourceRelation }

func (s *Scrape) Reset() {
	s.Value = NodeRep{}
	s.Captured = false
}

func (*Scrape) Resolvable(*Env) bool { return true }

func (s *Scrape) PBVs() []PBV { return append(nodePBVs(s.Node), s.tabPBVs()...) }

func (s *Scrape) Args(env *Env) ([]Arg, error) {
	args, err := nodeArgs(s.Node, env)
	if err != nil {
		return nil, err
	}
	return append(args, s.tabArgs()...), nil
}

// Capture records a value and binds it for later statements.
func (s *Scrape) Capture(env *Env, rep NodeRep) {
	s.Value = rep
	s.Captured = true
	if s.Node != nil {
		env.Bind(s.Node.Name, rep)
	}
}

func (s *Scrape) PostReplay(env *Env, realized []Event) error {
	for i := len(realized) - 1; i >= 0; i-- {
		if realized[i].Type == EventCapture && realized[i].Node != nil {
			s.Capture(env, *realized[i].Node)
			return nil
		}
	}
	return errors.New("scrape: no capture in realized trace")
}

// Type types text into a node.
type Type struct {
	stmtBase
	traced
	Node     *NodeVariable
	Text     Expr
	Recorded string
}

func (*Type) Kind() Kind             { return KindType }
func (*Type) Replays() bool          { return true }
func (t *Type) Resolvable(*Env) bool { return true }

func (t *Type) textParameterized() bool {
	lit, ok := t.Text.(Literal)
	return !ok || string(lit) != t.Recorded
}

func (t *Type) PBVs() []PBV {
	pbvs := nodePBVs(t.Node)
	if t.textParameterized() {
		pbvs = append(pbvs, PBV{Kind: ParamTypedString, Value: t.Recorded})
	}
	return append(pbvs, t.tabPBVs()...)
}

func (t *Type) Args(env *Env) ([]Arg, error) {
	args, err := nodeArgs(t.Node, env)
	if err != nil {
		return nil, err
	}
	if t.textParameterized() {
		s, err := t.Text.Eval(env)
		if err != nil {
			return nil, err
		}
		args = append(args, Arg{Kind: ParamTypedString, Value: s})
	}
	return append(args, t.tabArgs()...), nil
}

func (*Type) PostReplay(*Env, []Event) error { return nil }

// SelectedProperty is the change-event property holding the option text a
// pulldown selects.
const SelectedProperty = "selected"

// PulldownInteraction selects an option of a select element.
type PulldownInteraction struct {
	stmtBase
	traced
	Node     *NodeVariable
	Option   Expr
	Recorded string
}

func (*PulldownInteraction) Kind() Kind             { return KindPulldown }
func (*PulldownInteraction) Replays() bool          { return true }
func (p *PulldownInteraction) Resolvable(*Env) bool { return true }

func (p *PulldownInteraction) optionParameterized() bool {
	lit, ok := p.Option.(Literal)
	return !ok || string(lit) != p.Recorded
}

func (p *PulldownInteraction) PBVs() []PBV {
	pbvs := nodePBVs(p.Node)
	if p.optionParameterized() {
		pbvs = append(pbvs, PBV{Kind: ParamProperty, Property: SelectedProperty, Value: p.Recorded})
	}
	return append(pbvs, p.tabPBVs()...)
}

func (p *PulldownInteraction) Args(env *Env) ([]Arg, error) {
	args, err := nodeArgs(p.Node, env)
	if err != nil {
		return nil, err
	}
	if p.optionParameterized() {
		s, err := p.Option.Eval(env)
		if err != nil {
			return nil, err
		}
		args = append(args, Arg{Kind: ParamProperty, Property: SelectedProperty, Value: s})
	}
	return append(args, p.tabArgs()...), nil
}

func (*PulldownInteraction) PostReplay(*Env, []Event) error { return nil }

// Loop runs Body once per row of Relation on PageVar.
type Loop struct {
	stmtBase
	Relation         *Relation
	PageVar          *PageVariable
	Body             []Statement
	Cleanup          []Statement
	IterationCleanup []Statement
	// MaxRows bounds the iterations; 0 means no bound.
	MaxRows int

	Iterations int
}

func (*Loop) Kind() Kind { return KindLoop }
func (l *Loop) Reset()   { l.Iterations = 0 }

func (l *Loop) Children() []Statement {
	out := make([]Statement, 0, len(l.Body)+len(l.IterationCleanup)+len(l.Cleanup))
	out = append(out, l.Body...)
	out = append(out, l.IterationCleanup...)
	return append(out, l.Cleanup...)
}

// If runs Body when Cond holds and Else otherwise.
type If struct {
	stmtBase
	Cond Cond
	Body []Statement
	Else []Statement
}

func (*If) Kind() Kind { return KindIf }

func (i *If) Children() []Statement {
	return append(append([]Statement(nil), i.Body...), i.Else...)
}

// While repeats Body while Cond holds. MaxIterations bounds it when set.
type While struct {
	stmtBase
	Cond          Cond
	Body          []Statement
	MaxIterations int

	Iterations int
}

func (*While) Kind() Kind              { return KindWhile }
func (w *While) Children() []Statement { return w.Body }
func (w *While) Reset()                { w.Iterations = 0 }

// SkipStrategy selects the duplicate lookback window of a skip block.
type SkipStrategy string

const (
	SkipNever        SkipStrategy = "never"
	SkipAlways       SkipStrategy = "always"
	SkipOneRun       SkipStrategy = "one-run"
	SkipLogicalTime  SkipStrategy = "logical-time"
	SkipPhysicalTime SkipStrategy = "physical-time"
)

// SkipItem is one (attribute, value) pair of a fingerprint.
type SkipItem struct {
	Attribute string
	Value     Expr
}

// SkipBlock runs Body at most once per fingerprint within its window.
type SkipBlock struct {
	stmtBase
	ID       string
	Name     string
	Items    []SkipItem
	Strategy SkipStrategy
	// LogicalWindow is the run count for SkipLogicalTime.
	LogicalWindow int
	// PhysicalWindow is the age limit for SkipPhysicalTime.
	PhysicalWindow time.Duration
	// BreakAfterDuplicates overrides the run option when positive.
	BreakAfterDuplicates int
	Body                 []Statement

	// DescendIntoLocked lets this run enter blocks other workers claimed.
	DescendIntoLocked bool
}

func (*SkipBlock) Kind() Kind              { return KindSkipBlock }
func (b *SkipBlock) Children() []Statement { return b.Body }
func (b *SkipBlock) Reset()                { b.DescendIntoLocked = false }

// Output appends one row to the dataset.
type Output struct {
	stmtBase
	Headers []string
	Cells   []Expr

	Rows int
}

func (*Output) Kind() Kind { return KindOutput }
func (o *Output) Reset()   { o.Rows = 0 }

// Row evaluates every cell.
func (o *Output) Row(env *Env) ([]string, error) {
	row := make([]string, len(o.Cells))
	for i, c := range o.Cells {
		v, err := c.Eval(env)
		if err != nil {
			return nil, fmt.Errorf("output cell %d: %w", i, err)
		}
		row[i] = v
	}
	return row, nil
}

// Back navigates the page's tab back one entry.
type Back struct {
	stmtBase
	PageVar *PageVariable
}

func (*Back) Kind() Kind { return KindBack }

// ClosePage closes the page's tab.
type ClosePage struct {
	stmtBase
	PageVar *PageVariable
}

func (*ClosePage) Kind() Kind { return KindClosePage }

// Continue skips the rest of the current iteration.
type Continue struct {
	stmtBase
}

func (*Continue) Kind() Kind { return KindContinue }

// Wait pauses the run.
type Wait struct {
	stmtBase
	Duration time.Duration
}

func (*Wait) Kind() Kind { return KindWait }

// WaitUntilReady blocks until the user confirms the dialog.
type WaitUntilReady struct {
	stmtBase
	Message string
}

func (*WaitUntilReady) Kind() Kind { return KindWaitUntilReady }

// Say reports text to the user.
type Say struct {
	stmtBase
	Text Expr
}

func (*Say) Kind() Kind { return KindSay }
