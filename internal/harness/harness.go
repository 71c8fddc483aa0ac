package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/harvest/internal/compiler"
	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/pager"
	"github.com/roach88/harvest/internal/sim"
	"github.com/roach88/harvest/internal/skipblock"
	"github.com/roach88/harvest/internal/store"
	"github.com/roach88/harvest/internal/testutil"
)

// Harness runs one scenario's program against its simulated site.
type Harness struct {
	store    *store.Store
	site     *sim.Site
	engine   *engine.Engine
	clock    *testutil.FakeClock
	observer *testutil.RecordingObserver
	logger   *slog.Logger
}

// Option configures a scenario execution.
type Option func(*Harness)

// WithLogger sends engine logs to l instead of discarding them.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a fake clock and
// sequential run ids (run-1, run-2, ...). Run failures are reported in the
// result, not as errors; the error return is for scenarios that cannot be
// executed at all.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	ctx := context.Background()

	prog, err := compiler.LoadFile(scenario.Program)
	if err != nil {
		return nil, fmt.Errorf("failed to compile program: %w", err)
	}
	runOpts, err := engine.ParseRunOptions(scenario.Options)
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		site:     sim.NewSite(scenario.Site...),
		clock:    testutil.NewFakeClock(),
		observer: testutil.NewRecordingObserver(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	st.SetClock(h.clock.Now)
	h.engine = engine.New(h.site, h.site, st, st,
		engine.WithRunRegistry(st),
		engine.WithObserver(h.observer),
		engine.WithIDGenerator(testutil.NewSequenceIDGenerator("run")),
		engine.WithClock(h.clock),
		engine.WithLogger(h.logger),
		engine.WithPagerOptions(pager.WithClock(h.clock), pager.WithLogger(h.logger)),
		engine.WithDetectorOptions(skipblock.WithClock(h.clock), skipblock.WithLogger(h.logger)),
	)

	result := NewResult()
	for i := 0; i < scenario.runCount(); i++ {
		if i > 0 {
			h.clock.Advance(scenario.Advance)
		}
		result.Runs = append(result.Runs, h.execute(ctx, prog, runOpts))
	}

	datasetID := runOpts.DatasetID
	if datasetID == "" {
		datasetID = prog.ID
	}
	records, err := st.Rows(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	for _, rec := range records {
		result.Rows = append(result.Rows, rec.Cells)
	}
	result.Journal = append(result.Journal, h.site.Journal()...)
	result.Said = h.observer.Said

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute performs one run. A run that fails or stops still yields a
// summary; its error is recorded alongside the status.
func (h *Harness) execute(ctx context.Context, prog *ir.Program, opts engine.RunOptions) RunSummary {
	res, err := h.engine.Execute(ctx, prog, opts)
	summary := RunSummary{RunID: res.RunID, Status: res.Status, Rows: res.Rows}
	if err != nil {
		summary.Error = err.Error()
		if summary.Status == "" {
			summary.Status = store.RunFailed
		}
	}
	h.logger.Info("scenario run completed",
		"run_id", summary.RunID,
		"status", summary.Status,
		"rows", summary.Rows,
		"steps", res.Steps,
	)
	return summary
}
