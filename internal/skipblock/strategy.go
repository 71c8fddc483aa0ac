package skipblock

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/harvest/internal/ir"
)

var strategies = map[string]ir.SkipStrategy{
	"never":         ir.SkipNever,
	"always":        ir.SkipAlways,
	"ever":          ir.SkipAlways,
	"one-run":       ir.SkipOneRun,
	"this-run":      ir.SkipOneRun,
	"logical-time":  ir.SkipLogicalTime,
	"physical-time": ir.SkipPhysicalTime,
}

// ParseStrategy accepts the canonical strategy names and a few aliases.
// The empty string means SkipAlways.
func ParseStrategy(s string) (ir.SkipStrategy, error) {
	if s == "" {
		return ir.SkipAlways, nil
	}
	st, ok := strategies[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown skip strategy %q", s)
	}
	return st, nil
}

// Window is the lookback of a strategy, resolved for one check.
type Window struct {
	Strategy ir.SkipStrategy `json:"strategy"`
	// Runs is the number of most recent runs for SkipLogicalTime.
	Runs int `json:"runs,omitempty"`
	// Since is the oldest commit time that counts for SkipPhysicalTime.
	Since time.Time `json:"since,omitempty"`
}

// WindowFor resolves a block's window at now.
func WindowFor(b *ir.SkipBlock, now time.Time) Window {
	w := Window{Strategy: b.Strategy}
	switch b.Strategy {
	case ir.SkipLogicalTime:
		w.Runs = b.LogicalWindow
		if w.Runs <= 0 {
			w.Runs = 1
		}
	case ir.SkipPhysicalTime:
		w.Since = now.Add(-b.PhysicalWindow)
	}
	return w
}
