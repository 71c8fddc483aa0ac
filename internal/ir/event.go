package ir

// EventType names a trace event kind.
type EventType string

const (
	EventLoad      EventType = "load"
	EventCompleted EventType = "completed"
	EventClick     EventType = "click"
	EventKeypress  EventType = "keypress"
	EventInput     EventType = "input"
	EventChange    EventType = "change"
	EventCapture   EventType = "capture"
)

// Event is one entry of a recorded or realized trace.
//
// Tab and Frame carry record-time identifiers in a recorded trace and live
// identifiers in a realized one. Wrappers lists the xpaths of the target's
// container elements, outermost first, as seen when the event was
// recorded; the executor uses them to disambiguate the target.
type Event struct {
	Type             EventType         `json:"type" yaml:"type"`
	Tab              string            `json:"tab,omitempty" yaml:"tab,omitempty"`
	Frame            string            `json:"frame,omitempty" yaml:"frame,omitempty"`
	URL              string            `json:"url,omitempty" yaml:"url,omitempty"`
	XPath            string            `json:"xpath,omitempty" yaml:"xpath,omitempty"`
	Wrappers         []string          `json:"wrappers,omitempty" yaml:"wrappers,omitempty"`
	Key              string            `json:"key,omitempty" yaml:"key,omitempty"`
	Text             string            `json:"text,omitempty" yaml:"text,omitempty"`
	Props            map[string]string `json:"props,omitempty" yaml:"props,omitempty"`
	RequiredFeatures []string          `json:"required_features,omitempty" yaml:"required_features,omitempty"`
	Node             *NodeRep          `json:"node,omitempty" yaml:"node,omitempty"`
}

// Clone deep-copies the event.
func (e Event) Clone() Event {
	c := e
	if e.Wrappers != nil {
		c.Wrappers = append([]string(nil), e.Wrappers...)
	}
	if e.RequiredFeatures != nil {
		c.RequiredFeatures = append([]string(nil), e.RequiredFeatures...)
	}
	if e.Props != nil {
		c.Props = make(map[string]string, len(e.Props))
		for k, v := range e.Props {
			c.Props[k] = v
		}
	}
	if e.Node != nil {
		n := *e.Node
		c.Node = &n
	}
	return c
}

// CloneEvents deep-copies a trace.
func CloneEvents(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}
