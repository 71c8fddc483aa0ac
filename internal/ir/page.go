package ir

import "time"

// CursorKey identifies a pagination cursor.
type CursorKey struct {
	RelationID string
	PageVarID  string
}

// CursorState is the position of a cursor in the pager state machine.
type CursorState int

const (
	CursorNeedRows CursorState = iota
	CursorAwaitingFrames
	CursorHaveRows
	CursorNoMoreRows
	CursorAwaitingNextInteraction
)

func (s CursorState) String() string {
	switch s {
	case CursorNeedRows:
		return "need_rows"
	case CursorAwaitingFrames:
		return "awaiting_frames"
	case CursorHaveRows:
		return "have_rows"
	case CursorNoMoreRows:
		return "no_more_rows"
	case CursorAwaitingNextInteraction:
		return "awaiting_next_interaction"
	default:
		return "unknown"
	}
}

// Cursor is the pagination state of one relation on one page variable.
type Cursor struct {
	State CursorState
	// Rows is the current page of rows. Index is the row last delivered,
	// -1 before the first.
	Rows  [][]NodeRep
	Index int
	// NextAttempts counts next interactions that have not yet produced rows.
	NextAttempts int
	// Seen holds row keys delivered on this cursor.
	Seen map[string]bool
	// TopFrameOnly is set once the top frame alone has answered.
	TopFrameOnly bool
	// Frame that produced the current rows.
	Frame string
	// Pages counts accepted extractions.
	Pages int
	// Reloaded is set after the reload fallback has been used.
	Reloaded bool
	// NextStarted is when the current streak of next interactions began.
	NextStarted time.Time
}

// NewCursor returns a cursor in the NeedRows state.
func NewCursor() *Cursor {
	return &Cursor{State: CursorNeedRows, Index: -1, Seen: make(map[string]bool)}
}

// Current returns the row last delivered, or nil.
func (c *Cursor) Current() []NodeRep {
	if c.Index < 0 || c.Index >= len(c.Rows) {
		return nil
	}
	return c.Rows[c.Index]
}

// Buffered reports whether rows remain past Index.
func (c *Cursor) Buffered() bool {
	return c.Index+1 < len(c.Rows)
}

// PageVariable binds a script variable to the page open in some tab.
type PageVariable struct {
	ID        string
	Name      string
	RecordTab string
	RecordURL string

	tab     string
	cursors map[CursorKey]*Cursor
}

// Tab is the live tab id, empty when no tab is assigned.
func (p *PageVariable) Tab() string { return p.tab }

// SetTab binds the page variable to a live tab. Binding a different tab
// means a different page, so every cursor is dropped.
func (p *PageVariable) SetTab(tab string) {
	if tab != p.tab {
		p.cursors = nil
	}
	p.tab = tab
}

// ClearTab marks the page closed.
func (p *PageVariable) ClearTab() { p.SetTab("") }

// Cursor returns the cursor for rel, creating it in NeedRows if absent.
func (p *PageVariable) Cursor(rel *Relation) *Cursor {
	key := CursorKey{RelationID: rel.ID, PageVarID: p.ID}
	if p.cursors == nil {
		p.cursors = make(map[CursorKey]*Cursor)
	}
	c, ok := p.cursors[key]
	if !ok {
		c = NewCursor()
		p.cursors[key] = c
	}
	return c
}

// HasCursor reports whether a cursor exists for rel.
func (p *PageVariable) HasCursor(rel *Relation) bool {
	_, ok := p.cursors[CursorKey{RelationID: rel.ID, PageVarID: p.ID}]
	return ok
}

// ClearCursor destroys the cursor for rel.
func (p *PageVariable) ClearCursor(rel *Relation) {
	delete(p.cursors, CursorKey{RelationID: rel.ID, PageVarID: p.ID})
}

// DropCursors destroys every cursor while keeping the tab binding. Used
// when the page in the tab changes underneath the variable.
func (p *PageVariable) DropCursors() { p.cursors = nil }
