package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/pager"
)

// ErrNoNextControl is returned when a list has no further rows to reveal.
var ErrNoNextControl = errors.New("no next control")

// Frames lists the top frame followed by every other frame on the page.
func (s *Site) Frames(ctx context.Context, tabID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tab(tabID)
	if err != nil {
		return nil, err
	}
	frames := []string{TopFrame}
	v := t.current()
	if v == nil {
		return frames, nil
	}
	seen := map[string]bool{TopFrame: true}
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			frames = append(frames, f)
		}
	}
	for _, n := range v.page.Nodes {
		add(n.Frame)
	}
	for _, l := range v.page.Lists {
		add(l.Frame)
	}
	return frames, nil
}

func (v *visit) list(rowXPath string) (int, *List) {
	for i := range v.page.Lists {
		if v.page.Lists[i].RowXPath == rowXPath {
			return i, &v.page.Lists[i]
		}
	}
	return -1, nil
}

// Extract answers for the list in frame whose row pattern matches rel.
func (s *Site) Extract(ctx context.Context, tabID, frame string, rel *ir.Relation) (pager.Extraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tab(tabID)
	if err != nil {
		return pager.Extraction{}, err
	}
	v := t.current()
	if v == nil {
		return pager.Extraction{Frame: frame, Status: pager.NoMoreItems}, nil
	}
	idx, l := v.list(rel.RowXPath)
	if l == nil || l.frame() != frame {
		return pager.Extraction{Frame: frame, Status: pager.NoMoreItems}, nil
	}
	if v.rounds[idx] < l.LoadingRounds {
		v.rounds[idx]++
		return pager.Extraction{Frame: frame, Status: pager.NoNewItemsYet}, nil
	}

	rows, positions := l.visible(v.shownPages(idx))
	out := make([][]ir.NodeRep, 0, len(rows))
	for i, row := range rows {
		cells := make([]ir.NodeRep, len(rel.Columns))
		for j, col := range rel.Columns {
			for _, c := range row {
				if c.Suffix == col.Suffix {
					cells[j] = ir.NodeRep{
						Text:      c.Text,
						Link:      c.Link,
						XPath:     l.cellXPath(positions[i], c.Suffix),
						Frame:     l.Frame,
						SourceURL: v.page.URL,
					}
					break
				}
			}
		}
		out = append(out, cells)
	}
	return pager.Extraction{Frame: frame, Status: pager.NewItems, Rows: out}, nil
}

// RunNextInteraction reveals the next page of rel's list.
func (s *Site) RunNextInteraction(ctx context.Context, tabID string, rel *ir.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tab(tabID)
	if err != nil {
		return err
	}
	v := t.current()
	if v == nil {
		return ErrNoNextControl
	}
	idx, l := v.list(rel.RowXPath)
	if l == nil {
		return fmt.Errorf("%w: no list %s", ErrNoNextControl, rel.RowXPath)
	}
	shown := v.shownPages(idx)
	if shown >= l.pages() {
		return ErrNoNextControl
	}
	v.shown[idx] = shown + 1
	s.note("next %s %s page %d", t.id, rel.Name, shown+1)
	return nil
}

// Reload reloads the tab's page, losing revealed pages and typed input.
func (s *Site) Reload(ctx context.Context, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tab(tabID)
	if err != nil {
		return err
	}
	v := t.current()
	if v == nil {
		return nil
	}
	t.history[len(t.history)-1] = newVisit(v.page)
	s.note("reload %s", t.id)
	return nil
}

// OpenWindow opens an empty window.
func (s *Site) OpenWindow(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID("win")
	s.windows[id] = true
	return id, nil
}

// CloseWindow closes a window and every tab in it.
func (s *Site) CloseWindow(ctx context.Context, window string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.windows[window] {
		return fmt.Errorf("unknown window %q", window)
	}
	delete(s.windows, window)
	for id, t := range s.tabs {
		if t.window == window {
			delete(s.tabs, id)
		}
	}
	return nil
}

// CloseTab closes one tab.
func (s *Site) CloseTab(ctx context.Context, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.tab(tabID); err != nil {
		return err
	}
	delete(s.tabs, tabID)
	s.note("close %s", tabID)
	return nil
}

// Back returns the tab to its previous page. The previous page keeps the
// list pages it had revealed.
func (s *Site) Back(ctx context.Context, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tab(tabID)
	if err != nil {
		return err
	}
	if len(t.history) < 2 {
		return errors.New("no history")
	}
	t.history = t.history[:len(t.history)-1]
	s.note("back %s", t.id)
	return nil
}
