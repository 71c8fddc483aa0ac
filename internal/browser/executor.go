package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/trace"
)

// newTabWait is how long a click that should open a page is given to
// open a new tab before it is taken as a same-tab navigation.
const newTabWait = 2 * time.Second

type replayState struct {
	window string
	tabs   map[string]string
	// before is the set of targets open when the previous event was a
	// click; nil otherwise.
	before  map[proto.TargetTargetID]bool
	clickOn string
}

// Replay performs the trace's events in order against live tabs.
func (b *Browser) Replay(ctx context.Context, rp trace.Replay) (engine.ReplayResult, error) {
	st := &replayState{window: rp.Config.Window, tabs: make(map[string]string)}
	res := engine.ReplayResult{Tabs: st.tabs}
	for i, ev := range rp.Events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := b.apply(ctx, st, ev)
		if err != nil {
			b.logger.Debug("replay stopped", "event", i, "type", ev.Type, "error", err)
			return res, err
		}
		res.Events = append(res.Events, out)
	}
	return res, nil
}

// resolve maps an event's tab id to a live tab: either an id this
// browser issued or a record-time id mapped earlier in the replay.
func (b *Browser) resolve(st *replayState, id string) (*liveTab, string, bool) {
	if t, err := b.tab(id); err == nil {
		return t, id, true
	}
	if live, ok := st.tabs[id]; ok {
		if t, err := b.tab(live); err == nil {
			return t, live, true
		}
	}
	return nil, "", false
}

func (b *Browser) apply(ctx context.Context, st *replayState, ev ir.Event) (ir.Event, error) {
	out := ev.Clone()
	before, clickOn := st.before, st.clickOn
	st.before, st.clickOn = nil, ""

	switch ev.Type {
	case ir.EventLoad:
		t, id, ok := b.resolve(st, ev.Tab)
		if !ok {
			var err error
			if t, id, err = b.newTab(ctx, st.window); err != nil {
				return out, err
			}
			st.tabs[ev.Tab] = id
		}
		if err := b.navigate(ctx, t.page, ev.URL); err != nil {
			return out, err
		}
		out.Tab = id
		return out, nil

	case ir.EventCompleted:
		if t, id, ok := b.resolve(st, ev.Tab); ok {
			if err := b.waitLoad(ctx, t.page); err != nil {
				return out, err
			}
			out.Tab = id
			return out, nil
		}
		if before == nil {
			return out, fmt.Errorf("%w: tab %q is not open", engine.ErrNodeNotFound, ev.Tab)
		}
		t, id, err := b.followClick(ctx, st, before, clickOn)
		if err != nil {
			return out, err
		}
		st.tabs[ev.Tab] = id
		if err := b.waitLoad(ctx, t.page); err != nil {
			return out, err
		}
		out.Tab = id
		if info, err := t.page.Context(ctx).Info(); err == nil {
			out.URL = info.URL
		}
		return out, nil
	}

	t, id, ok := b.resolve(st, ev.Tab)
	if !ok {
		return out, fmt.Errorf("%w: tab %q is not open", engine.ErrNodeNotFound, ev.Tab)
	}
	out.Tab = id
	page, err := b.frame(ctx, t.page, ev.Frame)
	if err != nil {
		return out, err
	}
	el, err := find(page, ev.XPath)
	if err != nil {
		return out, err
	}

	switch ev.Type {
	case ir.EventClick:
		known, err := b.known(ctx)
		if err != nil {
			return out, fmt.Errorf("%w: list tabs: %v", engine.ErrTransport, err)
		}
		if err := el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
			return out, fmt.Errorf("%w: click %s: %v", engine.ErrNodeNotFound, ev.XPath, err)
		}
		st.before, st.clickOn = known, id
	case ir.EventKeypress:
		// The input event that follows carries the whole value.
	case ir.EventInput:
		if err := el.Context(ctx).SelectAllText(); err != nil {
			return out, fmt.Errorf("%w: focus %s: %v", engine.ErrNodeNotFound, ev.XPath, err)
		}
		if err := el.Context(ctx).Input(ev.Text); err != nil {
			return out, fmt.Errorf("%w: type into %s: %v", engine.ErrNodeNotFound, ev.XPath, err)
		}
	case ir.EventChange:
		if sel, ok := ev.Props[ir.SelectedProperty]; ok {
			if err := el.Context(ctx).Select([]string{sel}, true, rod.SelectorTypeText); err != nil {
				return out, fmt.Errorf("%w: select %q in %s: %v", engine.ErrNodeNotFound, sel, ev.XPath, err)
			}
		}
	case ir.EventCapture:
		rep, err := nodeRep(ctx, page, el, ev.XPath, ev.Frame)
		if err != nil {
			return out, err
		}
		out.Node = &rep
	}
	return out, nil
}

// followClick finds the page a click opened: a new target when one
// appears in time, else the tab that was clicked.
func (b *Browser) followClick(ctx context.Context, st *replayState, before map[proto.TargetTargetID]bool, clickOn string) (*liveTab, string, error) {
	deadline := time.Now().Add(newTabWait)
	for time.Now().Before(deadline) {
		now, err := b.known(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("%w: list tabs: %v", engine.ErrTransport, err)
		}
		for id := range now {
			if before[id] {
				continue
			}
			p, err := b.root.Context(ctx).PageFromTarget(id)
			if err != nil {
				return nil, "", fmt.Errorf("%w: attach new tab: %v", engine.ErrTransport, err)
			}
			return b.track(p, st.window), string(id), nil
		}
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	t, err := b.tab(clickOn)
	if err != nil {
		return nil, "", err
	}
	return t, clickOn, nil
}
