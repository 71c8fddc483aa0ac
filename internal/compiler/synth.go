package compiler

import (
	"github.com/roach88/harvest/internal/ir"
)

// Synthesized traces stand in for a recording: the smallest event
// sequence a demonstration of the statement would have produced.

func synthLoad(pv *ir.PageVariable, url string) []ir.Event {
	return []ir.Event{
		{Type: ir.EventLoad, Tab: pv.RecordTab, URL: url},
		{Type: ir.EventCompleted, Tab: pv.RecordTab, URL: url},
	}
}

func target(typ ir.EventType, pv *ir.PageVariable, n *ir.NodeVariable) ir.Event {
	return ir.Event{Type: typ, Tab: pv.RecordTab, Frame: n.Recorded.Frame, XPath: n.Recorded.XPath}
}

func synthClick(pv *ir.PageVariable, n *ir.NodeVariable, opens *ir.PageVariable) []ir.Event {
	events := []ir.Event{target(ir.EventClick, pv, n)}
	if opens != nil {
		url := opens.RecordURL
		if url == "" {
			url = n.Recorded.Link
		}
		events = append(events, ir.Event{Type: ir.EventCompleted, Tab: opens.RecordTab, URL: url})
	}
	return events
}

func synthScrape(pv *ir.PageVariable, n *ir.NodeVariable) []ir.Event {
	return []ir.Event{target(ir.EventCapture, pv, n)}
}

// synthType types text one key at a time and finishes with the input
// event carrying the whole value.
func synthType(pv *ir.PageVariable, n *ir.NodeVariable, text string) []ir.Event {
	var events []ir.Event
	for _, r := range text {
		ev := target(ir.EventKeypress, pv, n)
		ev.Key = string(r)
		events = append(events, ev)
	}
	in := target(ir.EventInput, pv, n)
	in.Text = text
	return append(events, in)
}

func synthPulldown(pv *ir.PageVariable, n *ir.NodeVariable, option string) []ir.Event {
	ev := target(ir.EventChange, pv, n)
	ev.Props = map[string]string{ir.SelectedProperty: option}
	return []ir.Event{ev}
}
