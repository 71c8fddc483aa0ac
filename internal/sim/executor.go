package sim

import (
	"context"
	"fmt"

	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/trace"
)

// replayState tracks one replay.
type replayState struct {
	window string
	tabs   map[string]string
	// clicked is the node the previous click hit; a completed event on
	// a tab right after it is the navigation the click caused.
	clicked *ir.NodeRep
}

// Replay performs the trace's events in order. Tabs named in events are
// either live tabs of this site or record-time ids, which are mapped to
// new tabs the first time a load or a navigation opens them.
func (s *Site) Replay(ctx context.Context, rp trace.Replay) (engine.ReplayResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &replayState{window: rp.Config.Window, tabs: make(map[string]string)}
	res := engine.ReplayResult{Tabs: st.tabs}
	for _, ev := range rp.Events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := s.apply(st, ev)
		if err != nil {
			return res, err
		}
		res.Events = append(res.Events, out)
	}
	return res, nil
}

// liveTab resolves an event's tab, opening a new one for an unmapped
// record-time id when open is set.
func (s *Site) liveTab(st *replayState, id string, open bool) (*tab, error) {
	if t, ok := s.tabs[id]; ok {
		return t, nil
	}
	if live, ok := st.tabs[id]; ok {
		return s.tab(live)
	}
	if !open {
		return nil, fmt.Errorf("%w: tab %q is not open", engine.ErrNodeNotFound, id)
	}
	t := &tab{id: s.newID("tab"), window: st.window}
	s.tabs[t.id] = t
	st.tabs[id] = t.id
	return t, nil
}

func (s *Site) apply(st *replayState, ev ir.Event) (ir.Event, error) {
	out := ev.Clone()
	clicked := st.clicked
	st.clicked = nil

	switch ev.Type {
	case ir.EventLoad:
		t, err := s.liveTab(st, ev.Tab, true)
		if err != nil {
			return out, err
		}
		if err := s.navigate(t, ev.URL); err != nil {
			return out, err
		}
		out.Tab = t.id
		return out, nil

	case ir.EventCompleted:
		if clicked == nil {
			t, err := s.liveTab(st, ev.Tab, false)
			if err != nil {
				return out, err
			}
			out.Tab = t.id
			return out, nil
		}
		// The click navigated, in its own tab or a new one.
		t, err := s.liveTab(st, ev.Tab, true)
		if err != nil {
			return out, err
		}
		url := clicked.Link
		if url == "" {
			url = ev.URL
		}
		if err := s.navigate(t, url); err != nil {
			return out, err
		}
		out.Tab = t.id
		out.URL = url
		return out, nil
	}

	t, err := s.liveTab(st, ev.Tab, false)
	if err != nil {
		return out, err
	}
	out.Tab = t.id
	v := t.current()
	if v == nil {
		return out, fmt.Errorf("%w: tab %s has no page", engine.ErrNodeNotFound, t.id)
	}
	node, ok := v.node(ev.XPath)
	if !ok {
		return out, fmt.Errorf("%w: %s on %s", engine.ErrNodeNotFound, ev.XPath, v.page.URL)
	}

	switch ev.Type {
	case ir.EventClick:
		st.clicked = &node
		s.note("click %s %s", t.id, ev.XPath)
	case ir.EventKeypress:
		v.inputs[ev.XPath] += ev.Key
	case ir.EventInput:
		v.inputs[ev.XPath] = ev.Text
		s.note("type %s %s %q", t.id, ev.XPath, ev.Text)
	case ir.EventChange:
		if sel, ok := ev.Props[ir.SelectedProperty]; ok {
			v.selected[ev.XPath] = sel
			s.note("select %s %s %q", t.id, ev.XPath, sel)
		}
	case ir.EventCapture:
		out.Node = &node
	}
	return out, nil
}

// Input returns the text typed into xpath on the tab's current page.
func (s *Site) Input(tabID, xpath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[tabID]
	if !ok || t.current() == nil {
		return ""
	}
	return t.current().inputs[xpath]
}
