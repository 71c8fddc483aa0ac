package testutil

import (
	"context"
	"sync"
)

// RecordingObserver remembers everything a run reports. Dialogs are
// answered immediately; ConfirmLarge decides large-trace confirmations.
type RecordingObserver struct {
	mu sync.Mutex

	Rows      [][]string
	Progress  map[string]int
	Said      []string
	Dialogs   []string
	LargeAsks []int

	ConfirmLarge bool
}

// NewRecordingObserver returns an observer that confirms large traces.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{Progress: make(map[string]int), ConfirmLarge: true}
}

func (o *RecordingObserver) RowAdded(row []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Rows = append(o.Rows, append([]string(nil), row...))
}

func (o *RecordingObserver) LoopProgress(loop string, iterations int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Progress[loop] = iterations
}

func (o *RecordingObserver) Say(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Said = append(o.Said, text)
}

func (o *RecordingObserver) WaitUntilReady(ctx context.Context, message string) error {
	o.mu.Lock()
	o.Dialogs = append(o.Dialogs, message)
	o.mu.Unlock()
	return ctx.Err()
}

func (o *RecordingObserver) ConfirmLargeTrace(ctx context.Context, events int) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.LargeAsks = append(o.LargeAsks, events)
	return o.ConfirmLarge, ctx.Err()
}

// RowCount returns how many rows were reported.
func (o *RecordingObserver) RowCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Rows)
}
