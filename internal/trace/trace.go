// Package trace turns recorded statement traces into replayable ones.
//
// Parameterization runs in two passes over a basic block. Pass one asks
// each statement which recorded constants must become parameters (its
// PBVs) and declares a named slot for each. Pass two asks each statement
// for the live value of each declared slot (its Args) and substitutes the
// values into a fresh copy of the combined trace. The template built by
// pass one is never modified, so instantiating it twice with the same
// values yields identical traces.
package trace

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/roach88/harvest/internal/ir"
)

// LargeTraceThreshold is the event count above which building a replay
// asks the user to confirm.
const LargeTraceThreshold = 5000

// Param is a declared parameter slot.
type Param struct {
	Name     string
	Kind     ir.ParamKind
	Property string
	// Recorded is the constant the slot replaces.
	Recorded string
	// Owner is the index of the declaring statement within the block.
	Owner int
}

// ParamName derives a slot name from the statement index and the kind.
func ParamName(index int, kind ir.ParamKind, property string) string {
	if property != "" {
		return fmt.Sprintf("s%d_%s_%s", index, kind, property)
	}
	return fmt.Sprintf("s%d_%s", index, kind)
}

// Parameterized is the output of pass one.
type Parameterized struct {
	events []ir.Event
	owners []int
	params map[string]Param
	order  []string
}

// Parameterize concatenates the clean traces of stmts and declares the
// parameters each statement asks for.
func Parameterize(stmts []ir.Replayable) *Parameterized {
	p := &Parameterized{params: make(map[string]Param)}
	for i, s := range stmts {
		for _, ev := range s.CleanTrace() {
			p.events = append(p.events, ev.Clone())
			p.owners = append(p.owners, i)
		}
		for _, pbv := range s.PBVs() {
			name := ParamName(i, pbv.Kind, pbv.Property)
			if _, dup := p.params[name]; dup {
				continue
			}
			p.params[name] = Param{Name: name, Kind: pbv.Kind, Property: pbv.Property, Recorded: pbv.Value, Owner: i}
			p.order = append(p.order, name)
		}
	}
	return p
}

// Len is the number of template events.
func (p *Parameterized) Len() int { return len(p.events) }

// Params lists the declared slots in declaration order.
func (p *Parameterized) Params() []Param {
	out := make([]Param, len(p.order))
	for i, n := range p.order {
		out[i] = p.params[n]
	}
	return out
}

// Arguments runs pass two's value collection: it asks every statement for
// its live arguments and keeps those naming a declared slot.
func (p *Parameterized) Arguments(stmts []ir.Replayable, env *ir.Env) (map[string]string, error) {
	values := make(map[string]string, len(p.params))
	for i, s := range stmts {
		args, err := s.Args(env)
		if err != nil {
			return nil, fmt.Errorf("statement %d (%s) arguments: %w", i, s.Kind(), err)
		}
		for _, a := range args {
			name := ParamName(i, a.Kind, a.Property)
			if _, ok := p.params[name]; ok {
				values[name] = a.Value
			}
		}
	}
	return values, nil
}

// Instantiate substitutes values into a copy of the template. Every
// declared slot needs a value. The returned bindings include the derived
// wrapper-node slots.
func (p *Parameterized) Instantiate(values map[string]string) ([]ir.Event, map[string]string, error) {
	events, _, bindings, err := p.instantiate(values)
	return events, bindings, err
}

func (p *Parameterized) instantiate(values map[string]string) ([]ir.Event, []int, map[string]string, error) {
	bindings := make(map[string]string, len(values))
	for _, name := range p.order {
		v, ok := values[name]
		if !ok {
			return nil, nil, nil, fmt.Errorf("parameter %s has no value", name)
		}
		bindings[name] = v
	}

	events := ir.CloneEvents(p.events)
	owners := append([]int(nil), p.owners...)

	for _, name := range p.order {
		param := p.params[name]
		v := bindings[name]
		switch param.Kind {
		case ir.ParamURL:
			forOwner(events, owners, param.Owner, func(e *ir.Event) {
				if e.URL == param.Recorded {
					e.URL = v
				}
			})
		case ir.ParamXPath:
			pairs := append([][2]string{{param.Recorded, v}}, WrapperPairs(param.Recorded, v)...)
			for k, pair := range pairs {
				if k > 0 {
					bindings[fmt.Sprintf("%s_wrapper%d", name, k)] = pair[1]
				}
				substituteXPath(events, owners, param.Owner, pair[0], pair[1])
			}
		case ir.ParamTab:
			forOwner(events, owners, param.Owner, func(e *ir.Event) {
				if e.Tab == param.Recorded {
					e.Tab = v
				}
			})
		case ir.ParamFrame:
			forOwner(events, owners, param.Owner, func(e *ir.Event) {
				if e.Frame == param.Recorded {
					e.Frame = v
				}
			})
		case ir.ParamProperty:
			forOwner(events, owners, param.Owner, func(e *ir.Event) {
				if cur, ok := e.Props[param.Property]; ok && cur == param.Recorded {
					e.Props[param.Property] = v
				}
			})
		case ir.ParamTypedString:
			events, owners = retype(events, owners, param, v)
		default:
			return nil, nil, nil, fmt.Errorf("parameter %s: unknown kind %q", name, param.Kind)
		}
	}
	return events, owners, bindings, nil
}

func forOwner(events []ir.Event, owners []int, owner int, fn func(*ir.Event)) {
	for i := range events {
		if owners[i] == owner {
			fn(&events[i])
		}
	}
}

func substituteXPath(events []ir.Event, owners []int, owner int, from, to string) {
	forOwner(events, owners, owner, func(e *ir.Event) {
		if e.XPath == from {
			e.XPath = to
		}
		for j, w := range e.Wrappers {
			if w == from {
				e.Wrappers[j] = to
			}
		}
	})
}

func isTyping(e ir.Event) bool {
	return e.Type == ir.EventKeypress && utf8.RuneCountInString(e.Key) == 1
}

// retype replaces the owner's single-character keypresses with one per
// rune of v, placed where the first recorded keypress was, and rewrites
// input and change events that carried the recorded text.
func retype(events []ir.Event, owners []int, param Param, v string) ([]ir.Event, []int) {
	outEvents := make([]ir.Event, 0, len(events)+utf8.RuneCountInString(v))
	outOwners := make([]int, 0, cap(outEvents))
	emitted := false
	for i, e := range events {
		if owners[i] != param.Owner {
			outEvents = append(outEvents, e)
			outOwners = append(outOwners, owners[i])
			continue
		}
		if isTyping(e) {
			if !emitted {
				for _, r := range v {
					k := e.Clone()
					k.Key = string(r)
					outEvents = append(outEvents, k)
					outOwners = append(outOwners, owners[i])
				}
				emitted = true
			}
			continue
		}
		if (e.Type == ir.EventInput || e.Type == ir.EventChange) && e.Text == param.Recorded {
			e.Text = v
		}
		outEvents = append(outEvents, e)
		outOwners = append(outOwners, owners[i])
	}
	return outEvents, outOwners
}

// Config tells the executor where and with what bindings to replay.
type Config struct {
	Window   string            `json:"window,omitempty"`
	Bindings map[string]string `json:"bindings,omitempty"`
}

// Replay is a concrete trace ready for the executor.
type Replay struct {
	Events []ir.Event `json:"events"`
	// Owners maps each event to the index of its statement in the block.
	Owners []int  `json:"owners"`
	Config Config `json:"config"`
}

// Large reports whether the replay exceeds LargeTraceThreshold events.
func (r Replay) Large() bool { return len(r.Events) > LargeTraceThreshold }

// Slice returns the events owned by statement i, taken from realized,
// which the executor returns aligned with r.Events. A short realized trace
// yields a short slice.
func (r Replay) Slice(realized []ir.Event, i int) []ir.Event {
	var out []ir.Event
	for j, owner := range r.Owners {
		if j >= len(realized) {
			break
		}
		if owner == i {
			out = append(out, realized[j])
		}
	}
	return out
}

// Build runs both passes for a basic block.
func Build(stmts []ir.Replayable, env *ir.Env, window string) (Replay, error) {
	p := Parameterize(stmts)
	values, err := p.Arguments(stmts, env)
	if err != nil {
		return Replay{}, err
	}
	events, owners, bindings, err := p.instantiate(values)
	if err != nil {
		return Replay{}, err
	}
	return Replay{Events: events, Owners: owners, Config: Config{Window: window, Bindings: bindings}}, nil
}

// BindingNames lists binding names in sorted order.
func (c Config) BindingNames() []string {
	names := make([]string, 0, len(c.Bindings))
	for k := range c.Bindings {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
