package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/pager"
	"github.com/roach88/harvest/internal/skipblock"
)

// Engine runs programs against a browser. One Engine may start many runs;
// each run owns its own loop goroutine and state.
type Engine struct {
	executor Executor
	browser  Browser
	backend  skipblock.Backend
	sink     Sink
	registry RunRegistry
	observer Observer
	ids      RunIDGenerator
	clock    Clock
	logger   *slog.Logger
	worker   string

	// commitDrain bounds how long a finishing run waits for skip block
	// commits still retrying against the backend.
	commitDrain time.Duration

	pagerOpts    []pager.Option
	detectorOpts []skipblock.Option
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRunRegistry registers runs with the coordination backend.
func WithRunRegistry(r RunRegistry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// WithObserver sets the observer told about rows, progress and dialogs.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithIDGenerator sets the run id generator. Default: UUIDv7Generator.
func WithIDGenerator(g RunIDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithClock replaces the wall clock used by Wait statements.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithWorker names this worker in run records.
func WithWorker(id string) EngineOption {
	return func(e *Engine) { e.worker = id }
}

// WithPagerOptions passes options to each run's relation pager.
func WithPagerOptions(opts ...pager.Option) EngineOption {
	return func(e *Engine) { e.pagerOpts = append(e.pagerOpts, opts...) }
}

// WithDetectorOptions passes options to each run's duplicate detector.
func WithDetectorOptions(opts ...skipblock.Option) EngineOption {
	return func(e *Engine) { e.detectorOpts = append(e.detectorOpts, opts...) }
}

// WithCommitDrain sets how long a finishing run waits for pending skip
// block commits before abandoning them. Default: 10s.
func WithCommitDrain(d time.Duration) EngineOption {
	return func(e *Engine) { e.commitDrain = d }
}

// New creates an Engine. The executor replays traces, the browser serves
// relation extraction and page control, the backend coordinates skip
// blocks and the sink receives rows.
func New(exec Executor, browser Browser, backend skipblock.Backend, sink Sink, opts ...EngineOption) *Engine {
	e := &Engine{
		executor: exec,
		browser:  browser,
		backend:  backend,
		sink:     sink,
		observer: nopObserver{},
		ids:      UUIDv7Generator{},
		clock:    realClock{},
		logger:   slog.Default(),

		commitDrain: finishTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start validates opts and starts a run of prog. Option errors are
// returned before anything touches the browser or the backend.
//
// The program is mutated in place by the run (statement state, tab
// bindings, cursors); a program must not be run by two runs at once.
func (e *Engine) Start(ctx context.Context, prog *ir.Program, opts RunOptions) (*Run, error) {
	if prog == nil {
		return nil, errors.New("start: nil program")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	r := newRun(ctx, e, prog, opts)
	r.logger.Info("run starting",
		"program", prog.Name,
		"dataset", r.datasetID,
		"parallel", opts.Parallel,
		"partition", fmt.Sprintf("%d/%d", opts.HashPartition.Index, opts.HashPartition.Workers))
	go r.loop()
	r.next(r.begin)
	return r, nil
}

// Execute starts a run and waits for it.
func (e *Engine) Execute(ctx context.Context, prog *ir.Program, opts RunOptions) (Result, error) {
	r, err := e.Start(ctx, prog, opts)
	if err != nil {
		return Result{}, err
	}
	res := r.Wait()
	return res, res.Err
}
