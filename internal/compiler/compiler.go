// Package compiler turns program documents into ir.Program trees.
//
// A program document is CUE, JSON or YAML; all three are read through
// CUE so errors carry file positions. The document is checked against
// the embedded #Program schema, then walked statement by statement.
// Statements declared without a recorded trace get a synthesized one.
package compiler

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"cuelang.org/go/encoding/yaml"

	"github.com/roach88/harvest/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileErrors is every error found in one document, in document order.
type CompileErrors []*CompileError

func (e CompileErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "\n")
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &CompileError{Field: "cue", Message: err.Error()}
	}
	out := make(CompileErrors, 0, len(errs))
	for _, e := range errs {
		ce := &CompileError{Field: "cue", Message: e.Error()}
		if path := errors.Path(e); len(path) > 0 {
			ce.Field = strings.Join(path, ".")
		}
		if positions := errors.Positions(e); len(positions) > 0 {
			ce.Pos = positions[0]
		}
		out = append(out, ce)
	}
	return out
}

// LoadFile reads and compiles a program document. The format follows the
// extension: .cue, .json, .yaml or .yml.
func LoadFile(path string) (*ir.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	return Load(path, data)
}

// Load compiles a program document held in memory; filename selects the
// format and labels error positions.
func Load(filename string, data []byte) (*ir.Program, error) {
	v, err := Parse(filename, data)
	if err != nil {
		return nil, err
	}
	return Compile(v)
}

// Parse reads a document into a CUE value without compiling it.
func Parse(filename string, data []byte) (cue.Value, error) {
	ctx := cuecontext.New()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		f, err := yaml.Extract(filename, data)
		if err != nil {
			return cue.Value{}, formatCUEError(err)
		}
		v := ctx.BuildFile(f)
		if err := v.Err(); err != nil {
			return cue.Value{}, formatCUEError(err)
		}
		return v, nil
	case ".cue", ".json":
		v := ctx.CompileBytes(data, cue.Filename(filename))
		if err := v.Err(); err != nil {
			return cue.Value{}, formatCUEError(err)
		}
		return v, nil
	default:
		return cue.Value{}, &CompileError{
			Field:   "file",
			Message: fmt.Sprintf("unsupported program format %q (want .cue, .json, .yaml or .yml)", filepath.Ext(filename)),
		}
	}
}

// CheckSchema unifies v with #Program and reports every violation.
func CheckSchema(v cue.Value) error {
	schema := v.Context().CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("program schema: %w", err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Program")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// Compile checks v against the schema and builds the program. All
// statement errors found are returned together as CompileErrors.
func Compile(v cue.Value) (*ir.Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := CheckSchema(v); err != nil {
		return nil, err
	}

	c := newCompilation()
	prog := c.program(v)
	if len(c.errs) > 0 {
		return nil, c.errs
	}
	prog.Link()
	prog.EnsureOutput()
	return prog, nil
}

// compilation holds the symbol tables of one document.
type compilation struct {
	nodes     *ir.NodeRegistry
	byName    map[string]*ir.NodeVariable
	pages     map[string]*ir.PageVariable
	pageOrder []*ir.PageVariable
	relations map[string]*ir.Relation
	blockIDs  map[string]bool
	loops     int
	errs      CompileErrors
}

func newCompilation() *compilation {
	return &compilation{
		nodes:     ir.NewNodeRegistry(),
		byName:    make(map[string]*ir.NodeVariable),
		pages:     make(map[string]*ir.PageVariable),
		relations: make(map[string]*ir.Relation),
		blockIDs:  make(map[string]bool),
	}
}

func (c *compilation) errorf(v cue.Value, field, format string, args ...any) {
	c.errs = append(c.errs, &CompileError{Field: field, Message: fmt.Sprintf(format, args...), Pos: v.Pos()})
}

func (c *compilation) cueErr(err error) {
	switch e := formatCUEError(err).(type) {
	case CompileErrors:
		c.errs = append(c.errs, e...)
	case *CompileError:
		c.errs = append(c.errs, e)
	}
}

// str reads an optional string field.
func (c *compilation) str(v cue.Value, path string) string {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return ""
	}
	s, err := f.String()
	if err != nil {
		c.cueErr(err)
		return ""
	}
	return s
}

func (c *compilation) integer(v cue.Value, path string) int {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return 0
	}
	n, err := f.Int64()
	if err != nil {
		c.cueErr(err)
		return 0
	}
	if n < 0 {
		c.errorf(f, path, "must not be negative")
		return 0
	}
	return int(n)
}

func (c *compilation) boolean(v cue.Value, path string) bool {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return false
	}
	b, err := f.Bool()
	if err != nil {
		c.cueErr(err)
		return false
	}
	return b
}

// list iterates an optional list field.
func (c *compilation) list(v cue.Value, path string, fn func(i int, elem cue.Value)) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return
	}
	it, err := f.List()
	if err != nil {
		c.cueErr(err)
		return
	}
	for i := 0; it.Next(); i++ {
		fn(i, it.Value())
	}
}

func (c *compilation) program(v cue.Value) *ir.Program {
	prog := &ir.Program{
		ID:              c.str(v, "id"),
		Name:            c.str(v, "name"),
		RestartOnFinish: c.boolean(v, "restart_on_finish"),
		Nodes:           c.nodes,
	}
	if prog.Name == "" {
		prog.Name = prog.ID
	}
	if params := v.LookupPath(cue.ParsePath("parameters")); params.Exists() {
		prog.Parameters = map[string]string{}
		if err := params.Decode(&prog.Parameters); err != nil {
			c.cueErr(err)
		}
	}

	c.list(v, "pages", func(i int, pv cue.Value) { c.page(pv, i) })
	prog.PageVars = c.pageOrder
	c.list(v, "relations", func(_ int, rv cue.Value) {
		if rel := c.relation(rv); rel != nil {
			prog.Relations = append(prog.Relations, rel)
		}
	})
	c.list(v, "nodes", func(_ int, nv cue.Value) { c.node(nv) })

	prog.Statements = c.statements(v.LookupPath(cue.ParsePath("statements")), scope{})
	return prog
}

func (c *compilation) page(v cue.Value, i int) {
	name := c.str(v, "name")
	if _, dup := c.pages[name]; dup {
		c.errorf(v, "pages", "duplicate page %q", name)
		return
	}
	tab := c.str(v, "tab")
	if tab == "" {
		tab = fmt.Sprintf("t%d", i+1)
	}
	pv := &ir.PageVariable{ID: name, Name: name, RecordTab: tab, RecordURL: c.str(v, "url")}
	c.pages[name] = pv
	c.pageOrder = append(c.pageOrder, pv)
}

func (c *compilation) nodeRep(v cue.Value) ir.NodeRep {
	if !v.Exists() {
		return ir.NodeRep{}
	}
	return ir.NodeRep{
		Text:      c.str(v, "text"),
		Link:      c.str(v, "link"),
		XPath:     c.str(v, "xpath"),
		SourceURL: c.str(v, "source_url"),
		Frame:     c.str(v, "frame"),
	}
}

// declare registers a node under name. Nodes recorded at the same
// position coalesce; name then becomes an alias.
func (c *compilation) declare(v cue.Value, name string, rep ir.NodeRep, source ir.NodeSource) *ir.NodeVariable {
	if _, dup := c.byName[name]; dup {
		c.errorf(v, "name", "duplicate node %q", name)
		return nil
	}
	n := c.nodes.Intern(name, rep, source)
	c.byName[name] = n
	return n
}

func (c *compilation) node(v cue.Value) {
	name := c.str(v, "name")
	source := ir.SourceRecorded
	if s := c.str(v, "source"); s != "" {
		parsed, err := ir.ParseNodeSource(s)
		if err != nil {
			c.errorf(v, "source", "%v", err)
			return
		}
		source = parsed
	}
	c.declare(v, name, c.nodeRep(v), source)
}

func (c *compilation) relation(v cue.Value) *ir.Relation {
	rel := &ir.Relation{
		ID:       c.str(v, "id"),
		Name:     c.str(v, "name"),
		URL:      c.str(v, "url"),
		RowXPath: c.str(v, "row_xpath"),
		DemoRows: c.integer(v, "demo_rows"),
		Frame:    c.str(v, "frame"),
		Next:     ir.NextControl{Type: ir.NextNone},
	}
	if rel.Name == "" {
		rel.Name = rel.ID
	}
	if _, dup := c.relations[rel.ID]; dup {
		c.errorf(v, "relations", "duplicate relation %q", rel.ID)
		return nil
	}
	if next := v.LookupPath(cue.ParsePath("next")); next.Exists() {
		rel.Next = ir.NextControl{
			Type:  ir.NextType(c.str(next, "type")),
			XPath: c.str(next, "xpath"),
			Text:  c.str(next, "text"),
		}
	}
	c.list(v, "columns", func(_ int, cv cue.Value) {
		col := ir.Column{
			Name:     c.str(cv, "name"),
			Suffix:   c.str(cv, "suffix"),
			FirstRow: c.nodeRep(cv.LookupPath(cue.ParsePath("first_row"))),
		}
		nodeName := c.str(cv, "node")
		if nodeName == "" {
			nodeName = col.Name
		}
		col.Node = c.declare(cv, nodeName, col.FirstRow, ir.SourceRelation)
		rel.Columns = append(rel.Columns, col)
	})
	c.relations[rel.ID] = rel
	return rel
}
