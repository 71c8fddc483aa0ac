package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/pager"
	"github.com/roach88/harvest/internal/skipblock"
	"github.com/roach88/harvest/internal/store"
)

// finishTimeout bounds the cleanup calls made after a run ends.
const finishTimeout = 10 * time.Second

// Result describes a finished run.
type Result struct {
	RunID  string
	Status string
	Rows   int
	Steps  int64
	// Passes counts how many times the program ran to completion or was
	// restarted, including descend passes.
	Passes int
	Err    error
}

// Run is one execution of a program.
//
// All run state is owned by the loop goroutine. Pause, Resume and Stop
// may be called from any goroutine; they only touch the control flags.
type Run struct {
	ID string

	eng       *Engine
	prog      *ir.Program
	opts      RunOptions
	datasetID string
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  *taskQueue
	done   chan struct{}

	// Skip block commits retry off the loop and outlive cancellation of
	// ctx until the run drains them.
	commitCtx    context.Context
	commitCancel context.CancelFunc
	commits      sync.WaitGroup
	pending      atomic.Int64

	mu      sync.Mutex
	paused  bool
	stopReq bool
	stashed []task

	// Loop goroutine state.
	pager        *pager.Pager
	detector     *skipblock.Detector
	quota        *QuotaEnforcer
	inflight     int
	completed    bool
	registered   bool
	window       string
	fingerprints map[*ir.SkipBlock]skipblock.Fingerprint
	collectors   []*rowCollector
	descended    map[*ir.SkipBlock]bool
	rows         int
	passes       int
	result       Result
}

// rowCollector gathers the rows produced inside a running skip block body.
type rowCollector struct {
	block *ir.SkipBlock
	rows  [][]string
}

func newRun(ctx context.Context, e *Engine, prog *ir.Program, opts RunOptions) *Run {
	id := e.ids.Generate()
	ctx, cancel := context.WithCancel(ctx)
	logger := e.logger.With("run_id", id)
	datasetID := opts.DatasetID
	if datasetID == "" {
		datasetID = prog.ID
	}
	detectorOpts := append([]skipblock.Option{
		skipblock.WithLogger(logger),
		skipblock.WithDataset(datasetID),
	}, e.detectorOpts...)
	pagerOpts := append([]pager.Option{pager.WithLogger(logger)}, e.pagerOpts...)
	commitCtx, commitCancel := context.WithCancel(context.WithoutCancel(ctx))

	return &Run{
		ID:           id,
		eng:          e,
		prog:         prog,
		opts:         opts,
		datasetID:    datasetID,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		queue:        newTaskQueue(),
		done:         make(chan struct{}),
		commitCtx:    commitCtx,
		commitCancel: commitCancel,
		pager:        pager.New(e.browser, pagerOpts...),
		detector:     skipblock.NewDetector(e.backend, id, detectorOpts...),
		quota:        NewQuotaEnforcer(opts.MaxSteps),
		fingerprints: make(map[*ir.SkipBlock]skipblock.Fingerprint),
		descended:    make(map[*ir.SkipBlock]bool),
	}
}

// Wait blocks until the run ends.
func (r *Run) Wait() Result {
	<-r.done
	return r.result
}

// Done is closed when the run ends.
func (r *Run) Done() <-chan struct{} { return r.done }

// Steps returns how many scheduler steps have run so far.
func (r *Run) Steps() int64 { return r.quota.Current() }

// Pause suspends the run at the next step boundary. The pending step is
// kept and resumed verbatim.
func (r *Run) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume continues a paused run.
func (r *Run) Resume() {
	r.mu.Lock()
	stashed := r.stashed
	r.stashed = nil
	r.paused = false
	r.mu.Unlock()
	for _, t := range stashed {
		r.enqueue(t)
	}
}

// Stop ends the run at the next step boundary. A paused run is resumed
// so the stop can take effect.
func (r *Run) Stop() {
	r.mu.Lock()
	r.stopReq = true
	r.mu.Unlock()
	r.Resume()
}

func (r *Run) loop() {
	defer close(r.done)
	ctxDone := r.ctx.Done()
	for {
		if t, ok := r.queue.TryDequeue(); ok {
			t()
			continue
		}
		select {
		case <-ctxDone:
			ctxDone = nil
			if r.inflight == 0 && !r.completed {
				r.complete(store.RunStopped, r.cancelled())
			}
		case _, ok := <-r.queue.Wait():
			if !ok && r.queue.Len() == 0 {
				return
			}
		}
	}
}

// next schedules a step.
func (r *Run) next(t task) { r.enqueue(t) }

func (r *Run) enqueue(t task) {
	r.queue.Enqueue(func() { r.step(t) })
}

// step runs t unless the run is stopped, paused, cancelled or over quota.
func (r *Run) step(t task) {
	if r.completed {
		return
	}
	r.mu.Lock()
	if r.stopReq {
		r.stopReq = false
		r.mu.Unlock()
		r.logger.Info("run stopped by request")
		r.complete(store.RunStopped, nil)
		return
	}
	if r.paused {
		r.stashed = append(r.stashed, t)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if r.ctx.Err() != nil {
		r.complete(store.RunStopped, r.cancelled())
		return
	}
	if err := r.quota.Check(r.ID); err != nil {
		r.fail(ErrCodeQuotaExceeded, nil, "step quota exceeded", err)
		return
	}
	t()
}

// await runs call off the loop and schedules then with its result.
func await[T any](r *Run, call func(ctx context.Context) (T, error), then func(T, error)) {
	r.inflight++
	ctx := r.ctx
	go func() {
		v, err := call(ctx)
		r.queue.Enqueue(func() {
			r.inflight--
			r.step(func() { then(v, err) })
		})
	}()
}

// awaitErr is await for calls without a result.
func awaitErr(r *Run, call func(ctx context.Context) error, then func(error)) {
	await(r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	}, func(_ struct{}, err error) { then(err) })
}

func (r *Run) cancelled() error {
	return &RuntimeError{
		Code:    ErrCodeCancelled,
		Message: "run cancelled",
		RunID:   r.ID,
		Err:     r.ctx.Err(),
	}
}

// fail ends the run with a RuntimeError. A failure caused by
// cancellation ends it as stopped instead.
func (r *Run) fail(code RuntimeErrorCode, s ir.Statement, msg string, err error) {
	if r.ctx.Err() != nil {
		r.complete(store.RunStopped, r.cancelled())
		return
	}
	re := &RuntimeError{Code: code, Message: msg, RunID: r.ID, Err: err}
	if s != nil {
		re.Statement = s.Kind().String()
	}
	r.logger.Error("run failed", "error", re)
	r.complete(store.RunFailed, re)
}

// begin registers the run and opens its window.
func (r *Run) begin() {
	openWindow := func() {
		if r.opts.KeepWindow {
			r.pass()
			return
		}
		await(r, r.eng.browser.OpenWindow, func(w string, err error) {
			if err != nil {
				r.fail(ErrCodeReplay, nil, "open window", err)
				return
			}
			r.window = w
			r.pass()
		})
	}
	if r.eng.registry == nil {
		openWindow()
		return
	}
	info := store.RunInfo{ID: r.ID, Program: r.prog.Name, DatasetID: r.datasetID, Worker: r.eng.worker}
	await(r, func(ctx context.Context) (int64, error) {
		return r.eng.registry.BeginRun(ctx, info)
	}, func(seq int64, err error) {
		if err != nil {
			r.fail(ErrCodeBackend, nil, "register run", err)
			return
		}
		r.registered = true
		r.logger.Debug("run registered", "seq", seq)
		openWindow()
	})
}

// pass runs the whole program once.
func (r *Run) pass() {
	r.passes++
	r.prog.Reset()
	for b := range r.descended {
		b.DescendIntoLocked = true
	}
	clear(r.fingerprints)
	r.collectors = nil

	env := r.prog.RootEnv(r.opts.Parameters)
	fl := flags{skip: r.opts.SkipMode, brk: r.opts.BreakMode, skipCommit: r.opts.SkipCommitInThisIteration}
	r.runBasicBlock(r.prog.Statements, env, fl, func(flags) { r.afterPass() })
}

func (r *Run) afterPass() {
	if r.opts.Parallel {
		if b := r.nextDescent(); b != nil {
			r.descended[b] = true
			r.logger.Info("descending into locked scopes", "block", b.Name, "pass", r.passes+1)
			r.next(r.pass)
			return
		}
	}
	if r.prog.RestartOnFinish {
		r.logger.Info("restarting program", "pass", r.passes+1)
		r.next(r.pass)
		return
	}
	r.complete(store.RunFinished, nil)
}

// nextDescent picks, in tree order, the first skip block not yet entered
// in descend mode that still contains a nested skip block.
func (r *Run) nextDescent() *ir.SkipBlock {
	var found *ir.SkipBlock
	ir.Walk(r.prog.Statements, func(s ir.Statement) bool {
		if found != nil {
			return false
		}
		b, ok := s.(*ir.SkipBlock)
		if !ok || r.descended[b] {
			return true
		}
		nested := false
		ir.Walk(b.Body, func(c ir.Statement) bool {
			if _, ok := c.(*ir.SkipBlock); ok {
				nested = true
			}
			return !nested
		})
		if nested {
			found = b
		}
		return true
	})
	return found
}

// complete ends the run. It runs on the loop goroutine.
func (r *Run) complete(status string, err error) {
	if r.completed {
		return
	}
	r.completed = true

	r.drainCommits()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), finishTimeout)
	defer cancel()
	if r.window != "" {
		if cerr := r.eng.browser.CloseWindow(ctx, r.window); cerr != nil {
			r.logger.Warn("close window failed", "window", r.window, "error", cerr)
		}
	}
	if r.registered {
		if ferr := r.eng.registry.FinishRun(ctx, r.ID, status); ferr != nil {
			r.logger.Warn("finish run failed", "error", ferr)
		}
	}

	r.result = Result{
		RunID:  r.ID,
		Status: status,
		Rows:   r.rows,
		Steps:  r.quota.Current(),
		Passes: r.passes,
		Err:    err,
	}
	r.logger.Info("run finished",
		"status", status,
		"rows", r.rows,
		"steps", r.quota.Current(),
		"passes", r.passes)
	r.queue.Close()
	r.cancel()
}

// commit sends a skip block commit without holding up the run. The
// backend is retried until it accepts the commit or the run drains.
func (r *Run) commit(b *ir.SkipBlock, c skipblock.Commit) {
	r.commits.Add(1)
	r.pending.Add(1)
	go func() {
		defer r.commits.Done()
		defer r.pending.Add(-1)
		if err := r.detector.Send(r.commitCtx, b, c); err != nil {
			r.logger.Warn("commit abandoned", "block", b.Name, "key", c.Key, "error", err)
		}
	}()
}

// drainCommits waits for pending commits, up to the engine's drain
// timeout, then abandons the rest. Commits land before the run's claims
// are released.
func (r *Run) drainCommits() {
	drained := make(chan struct{})
	go func() {
		r.commits.Wait()
		close(drained)
	}()
	t := time.NewTimer(r.eng.commitDrain)
	defer t.Stop()
	select {
	case <-drained:
	case <-t.C:
		r.logger.Warn("abandoning pending commits", "pending", r.pending.Load())
	}
	r.commitCancel()
	<-drained
}
