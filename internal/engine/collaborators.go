package engine

import (
	"context"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/pager"
	"github.com/roach88/harvest/internal/store"
	"github.com/roach88/harvest/internal/trace"
)

// ReplayResult is what an executor reports after a replay.
type ReplayResult struct {
	// Events is the realized trace, aligned with the replayed events. It is
	// shorter than the input when replay stopped early.
	Events []ir.Event
	// Tabs maps record-time tab ids to the live tabs they became.
	Tabs map[string]string
}

// Executor replays concrete traces against live pages. Failures it can
// classify wrap ErrNodeNotFound or ErrTransport; the result may still
// carry the events and tabs realized before the failure.
type Executor interface {
	Replay(ctx context.Context, r trace.Replay) (ReplayResult, error)
}

// Browser is the browser control surface. The pager part serves relation
// extraction; the rest serves page-level control statements.
type Browser interface {
	pager.Browser
	OpenWindow(ctx context.Context) (string, error)
	CloseWindow(ctx context.Context, window string) error
	CloseTab(ctx context.Context, tab string) error
	Back(ctx context.Context, tab string) error
}

// Sink receives dataset rows.
type Sink interface {
	AddRow(ctx context.Context, datasetID, runID string, cells []string) error
}

// RunRegistry records runs with the coordination backend so logical-time
// windows can count them.
type RunRegistry interface {
	BeginRun(ctx context.Context, info store.RunInfo) (int64, error)
	FinishRun(ctx context.Context, runID, status string) error
}

// Observer is told what a run does. It never steers the run except by
// the answers to its two dialogs.
type Observer interface {
	RowAdded(row []string)
	LoopProgress(loop string, iterations int)
	Say(text string)
	// WaitUntilReady blocks until the user confirms.
	WaitUntilReady(ctx context.Context, message string) error
	// ConfirmLargeTrace asks whether a trace of the given length should be
	// replayed.
	ConfirmLargeTrace(ctx context.Context, events int) (bool, error)
}

// nopObserver confirms everything and reports nowhere.
type nopObserver struct{}

func (nopObserver) RowAdded([]string)                                  {}
func (nopObserver) LoopProgress(string, int)                           {}
func (nopObserver) Say(string)                                         {}
func (nopObserver) WaitUntilReady(ctx context.Context, _ string) error { return ctx.Err() }
func (nopObserver) ConfirmLargeTrace(ctx context.Context, _ int) (bool, error) {
	return true, ctx.Err()
}
