// Package sim is an in-memory website that programs can run against
// without a browser. A Site holds pages addressed by url; each page has
// plain nodes and paginated lists. Site implements the engine's Executor
// and Browser interfaces.
package sim

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/ir"
)

// TopFrame is the frame id of a page's main document.
const TopFrame = "top"

var (
	_ engine.Executor = (*Site)(nil)
	_ engine.Browser  = (*Site)(nil)
)

// Page is one document of the site.
type Page struct {
	URL   string `yaml:"url" json:"url"`
	Nodes []Node `yaml:"nodes,omitempty" json:"nodes,omitempty"`
	Lists []List `yaml:"lists,omitempty" json:"lists,omitempty"`
	// Unreachable pages fail to load with a transport error.
	Unreachable bool `yaml:"unreachable,omitempty" json:"unreachable,omitempty"`
}

// Node is a single addressable element.
type Node struct {
	XPath string `yaml:"xpath" json:"xpath"`
	Text  string `yaml:"text,omitempty" json:"text,omitempty"`
	Link  string `yaml:"link,omitempty" json:"link,omitempty"`
	Frame string `yaml:"frame,omitempty" json:"frame,omitempty"`
}

// Cell is one cell of a list row, located by its suffix under the row.
type Cell struct {
	Suffix string `yaml:"suffix" json:"suffix"`
	Text   string `yaml:"text,omitempty" json:"text,omitempty"`
	Link   string `yaml:"link,omitempty" json:"link,omitempty"`
}

// List is a table of rows revealed PageSize at a time.
type List struct {
	// RowXPath is the row pattern; "[*]" is replaced by the row's position.
	RowXPath string   `yaml:"row_xpath" json:"row_xpath"`
	Frame    string   `yaml:"frame,omitempty" json:"frame,omitempty"`
	Rows     [][]Cell `yaml:"rows" json:"rows"`
	// PageSize is the number of rows revealed per interaction; 0 shows all.
	PageSize int `yaml:"page_size,omitempty" json:"page_size,omitempty"`
	// Next is how further rows are revealed. next_button replaces the
	// visible rows; more_button and scroll_for_more append to them.
	Next ir.NextType `yaml:"next,omitempty" json:"next,omitempty"`
	// LoadingRounds is how many extractions answer "not yet" after the
	// page loads before rows appear.
	LoadingRounds int `yaml:"loading_rounds,omitempty" json:"loading_rounds,omitempty"`
}

func (l *List) frame() string {
	if l.Frame == "" {
		return TopFrame
	}
	return l.Frame
}

func (l *List) pages() int {
	if l.PageSize <= 0 || len(l.Rows) == 0 {
		return 1
	}
	return (len(l.Rows) + l.PageSize - 1) / l.PageSize
}

// visible returns the rows shown after shown pages, with the position
// each row is rendered at.
func (l *List) visible(shown int) (rows [][]Cell, positions []int) {
	if l.PageSize <= 0 {
		for i, r := range l.Rows {
			rows = append(rows, r)
			positions = append(positions, i+1)
		}
		return rows, positions
	}
	start := 0
	if l.Next == ir.NextButton {
		start = (shown - 1) * l.PageSize
	}
	end := min(shown*l.PageSize, len(l.Rows))
	for i := start; i < end; i++ {
		rows = append(rows, l.Rows[i])
		positions = append(positions, i-start+1)
	}
	return rows, positions
}

func (l *List) cellXPath(pos int, suffix string) string {
	return strings.Replace(l.RowXPath, "[*]", fmt.Sprintf("[%d]", pos), 1) + suffix
}

// visit is one entry of a tab's history.
type visit struct {
	page     *Page
	shown    map[int]int
	rounds   map[int]int
	inputs   map[string]string
	selected map[string]string
}

func newVisit(p *Page) *visit {
	return &visit{
		page:     p,
		shown:    make(map[int]int),
		rounds:   make(map[int]int),
		inputs:   make(map[string]string),
		selected: make(map[string]string),
	}
}

func (v *visit) shownPages(list int) int {
	if n := v.shown[list]; n > 0 {
		return n
	}
	return 1
}

// node finds the element at xpath, including visible list cells.
func (v *visit) node(xpath string) (ir.NodeRep, bool) {
	for _, n := range v.page.Nodes {
		if n.XPath == xpath {
			return ir.NodeRep{Text: n.Text, Link: n.Link, XPath: n.XPath, Frame: n.Frame, SourceURL: v.page.URL}, true
		}
	}
	for i := range v.page.Lists {
		l := &v.page.Lists[i]
		rows, positions := l.visible(v.shownPages(i))
		for j, row := range rows {
			for _, c := range row {
				if x := l.cellXPath(positions[j], c.Suffix); x == xpath {
					return ir.NodeRep{Text: c.Text, Link: c.Link, XPath: x, Frame: l.Frame, SourceURL: v.page.URL}, true
				}
			}
		}
	}
	return ir.NodeRep{}, false
}

type tab struct {
	id      string
	window  string
	history []*visit
}

func (t *tab) current() *visit {
	if len(t.history) == 0 {
		return nil
	}
	return t.history[len(t.history)-1]
}

// ErrUnknownTab is returned for operations on tabs the site never opened
// or already closed.
var ErrUnknownTab = errors.New("unknown tab")

// Site is a simulated website with its own windows and tabs.
//
// Thread-safety: all methods are safe for concurrent use.
type Site struct {
	mu      sync.Mutex
	pages   map[string]*Page
	tabs    map[string]*tab
	windows map[string]bool
	next    int
	journal []string
}

// NewSite creates a site serving pages.
func NewSite(pages ...Page) *Site {
	s := &Site{
		pages:   make(map[string]*Page, len(pages)),
		tabs:    make(map[string]*tab),
		windows: make(map[string]bool),
	}
	for i := range pages {
		p := pages[i]
		s.pages[p.URL] = &p
	}
	return s
}

// Journal lists the navigations and interactions performed so far, one
// line each, e.g. "load tab-2 https://shop.test/items".
func (s *Site) Journal() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.journal...)
}

// OpenTabs returns the ids of the tabs that are open.
func (s *Site) OpenTabs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.tabs {
		out = append(out, id)
	}
	return out
}

func (s *Site) note(format string, args ...any) {
	s.journal = append(s.journal, fmt.Sprintf(format, args...))
}

func (s *Site) newID(prefix string) string {
	s.next++
	return fmt.Sprintf("%s-%d", prefix, s.next)
}

func (s *Site) tab(id string) (*tab, error) {
	t, ok := s.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTab, id)
	}
	return t, nil
}

// navigate pushes url onto t's history.
func (s *Site) navigate(t *tab, url string) error {
	p, ok := s.pages[url]
	if !ok {
		return fmt.Errorf("%w: no page at %s", engine.ErrTransport, url)
	}
	if p.Unreachable {
		return fmt.Errorf("%w: %s unreachable", engine.ErrTransport, url)
	}
	t.history = append(t.history, newVisit(p))
	s.note("load %s %s", t.id, url)
	return nil
}
