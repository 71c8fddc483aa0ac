package engine

import (
	"context"
	"errors"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/skipblock"
)

// flags travel with the continuation chain.
type flags struct {
	// skip suppresses the rest of the current iteration.
	skip bool
	// brk suppresses the rest of the iteration and ends the enclosing loop.
	brk bool
	// skipCommit keeps skip blocks of this iteration from committing.
	skipCommit bool
}

// skipIteration is what a recovered failure does to the flags: the rest
// of the iteration is abandoned and nothing in it is committed.
func (f flags) skipIteration() flags {
	f.skip = true
	f.skipCommit = true
	return f
}

// cont is what runs after a statement sequence.
type cont func(flags)

// runBasicBlock runs stmts and then k. Each call is one scheduler step.
func (r *Run) runBasicBlock(stmts []ir.Statement, env *ir.Env, fl flags, k cont) {
	r.next(func() {
		if len(stmts) == 0 || fl.skip || fl.brk {
			k(fl)
			return
		}
		head, rest := stmts[0], stmts[1:]
		then := func(f flags) { r.runBasicBlock(rest, env, f, k) }

		switch s := head.(type) {
		case *ir.Loop:
			r.runLoop(s, env, fl, then)
		case *ir.If:
			r.runIf(s, env, fl, then)
		case *ir.While:
			r.runWhile(s, env, fl, then)
		case *ir.SkipBlock:
			r.runSkipBlock(s, env, fl, then)
		case *ir.Output:
			r.runOutput(s, env, fl, then)
		case *ir.Back:
			r.runBack(s, fl, then)
		case *ir.ClosePage:
			r.runClosePage(s, fl, then)
		case *ir.Continue:
			fl.skip = true
			k(fl)
		case *ir.Wait:
			awaitErr(r, func(ctx context.Context) error {
				return r.eng.clock.Sleep(ctx, s.Duration)
			}, func(err error) {
				if err != nil {
					r.fail(ErrCodeCancelled, s, "wait interrupted", err)
					return
				}
				then(fl)
			})
		case *ir.WaitUntilReady:
			awaitErr(r, func(ctx context.Context) error {
				return r.eng.observer.WaitUntilReady(ctx, s.Message)
			}, func(err error) {
				if err != nil {
					r.fail(ErrCodeCancelled, s, "dialog interrupted", err)
					return
				}
				then(fl)
			})
		case *ir.Say:
			text, err := s.Text.Eval(env)
			if err != nil {
				r.failEval(s, err)
				return
			}
			r.eng.observer.Say(text)
			then(fl)
		case ir.Replayable:
			if !s.Replays() {
				r.runCellScrape(s, env, fl, then)
				return
			}
			block := replayBlock(stmts)
			r.runReplayBlock(block, env, fl, func(f flags) {
				r.runBasicBlock(stmts[len(block):], env, f, k)
			})
		default:
			r.logger.Warn("unknown statement, ignoring", "statement", head.Kind().String())
			then(fl)
		}
	})
}

// replayBlock is the longest prefix of stmts that replays as one trace.
func replayBlock(stmts []ir.Statement) []ir.Replayable {
	var block []ir.Replayable
	for _, s := range stmts {
		rp, ok := s.(ir.Replayable)
		if !ok || !rp.Replays() {
			break
		}
		block = append(block, rp)
	}
	return block
}

func (r *Run) failEval(s ir.Statement, err error) {
	if errors.Is(err, ir.ErrUnbound) {
		r.fail(ErrCodeUnbound, s, "reference to unbound variable", err)
		return
	}
	r.fail(ErrCodeReplay, s, "evaluate expression", err)
}

type nextRow struct {
	row []ir.NodeRep
	ok  bool
}

// runLoop runs one iteration of l and re-enters l, or ends it.
func (r *Run) runLoop(l *ir.Loop, env *ir.Env, fl flags, k cont) {
	if l.MaxRows > 0 && l.Iterations >= l.MaxRows {
		r.logger.Debug("loop reached max rows", "relation", l.Relation.Name, "max_rows", l.MaxRows)
		r.endLoop(l, env, fl, k)
		return
	}
	await(r, func(ctx context.Context) (nextRow, error) {
		row, ok, err := r.pager.NextRow(ctx, l.Relation, l.PageVar)
		return nextRow{row: row, ok: ok}, err
	}, func(nr nextRow, err error) {
		if err != nil {
			r.fail(ErrCodeCancelled, l, "next row", err)
			return
		}
		if !nr.ok {
			r.endLoop(l, env, fl, k)
			return
		}
		l.Iterations++
		r.eng.observer.LoopProgress(l.Relation.Name, l.Iterations)

		inner := env.Extend()
		for i, col := range l.Relation.Columns {
			if col.Node != nil && i < len(nr.row) {
				inner.Bind(col.Node.Name, nr.row[i])
			}
		}
		body := flags{}
		if n := r.opts.SimulateErrorAtIteration; n > 0 && l.Iterations == n {
			r.logger.Warn("simulating replay failure", "relation", l.Relation.Name, "iteration", n)
			body = body.skipIteration()
		}
		r.runBasicBlock(l.Body, inner, body, func(after flags) {
			// inner is dropped here; cleanup runs in the loop's own frame.
			r.runBasicBlock(l.IterationCleanup, env, flags{}, func(flags) {
				if after.brk {
					r.logger.Debug("loop broken", "relation", l.Relation.Name, "iteration", l.Iterations)
					r.endLoop(l, env, fl, k)
					return
				}
				r.runLoop(l, env, fl, k)
			})
		})
	})
}

// endLoop runs the loop cleanup and forgets the loop's cursor so the next
// entry starts from the first row.
func (r *Run) endLoop(l *ir.Loop, env *ir.Env, fl flags, k cont) {
	r.runBasicBlock(l.Cleanup, env, flags{}, func(flags) {
		if l.PageVar != nil {
			l.PageVar.ClearCursor(l.Relation)
		}
		ir.Walk(l.Body, func(s ir.Statement) bool {
			if b, ok := s.(*ir.SkipBlock); ok {
				r.detector.ResetStreak(b.ID)
			}
			return true
		})
		r.logger.Debug("loop finished", "relation", l.Relation.Name, "iterations", l.Iterations)
		l.Iterations = 0
		k(fl)
	})
}

func (r *Run) runIf(s *ir.If, env *ir.Env, fl flags, k cont) {
	holds, err := s.Cond.Holds(env)
	if err != nil {
		r.failEval(s, err)
		return
	}
	branch := s.Else
	if holds {
		branch = s.Body
	}
	r.runBasicBlock(branch, env, fl, k)
}

func (r *Run) runWhile(w *ir.While, env *ir.Env, fl flags, k cont) {
	if w.MaxIterations > 0 && w.Iterations >= w.MaxIterations {
		w.Iterations = 0
		k(fl)
		return
	}
	holds, err := w.Cond.Holds(env)
	if err != nil {
		r.failEval(w, err)
		return
	}
	if !holds {
		w.Iterations = 0
		k(fl)
		return
	}
	w.Iterations++
	r.runBasicBlock(w.Body, env, fl, func(after flags) {
		if after.skip || after.brk {
			w.Iterations = 0
			k(after)
			return
		}
		r.next(func() { r.runWhile(w, env, after, k) })
	})
}

// enclosingFingerprint is the fingerprint of the innermost running skip
// block around b, which already includes its own ancestors.
func (r *Run) enclosingFingerprint(b *ir.SkipBlock) skipblock.Fingerprint {
	for _, a := range ir.Ancestors(b) {
		if sb, ok := a.(*ir.SkipBlock); ok {
			return r.fingerprints[sb]
		}
	}
	return nil
}

func (r *Run) runSkipBlock(b *ir.SkipBlock, env *ir.Env, fl flags, k cont) {
	fp, err := skipblock.Compute(b, env, r.enclosingFingerprint(b))
	if err != nil {
		r.failEval(b, err)
		return
	}
	mode := skipblock.Mode{
		Parallel:                   r.opts.Parallel,
		Partition:                  r.opts.HashPartition,
		IgnoreScope:                r.opts.IgnoreEntityScope,
		BreakAfterDuplicatesInARow: r.opts.BreakAfterDuplicatesInARow,
	}
	await(r, func(ctx context.Context) (skipblock.Decision, error) {
		return r.detector.Check(ctx, b, fp, mode)
	}, func(dec skipblock.Decision, err error) {
		if err != nil {
			r.fail(ErrCodeBackend, b, "check fingerprint", err)
			return
		}
		if !dec.Run {
			r.logger.Debug("skipping block body",
				"block", b.Name,
				"reason", dec.Reason,
				"streak", r.detector.Streak(b.ID))
			if dec.Break {
				fl.brk = true
			}
			k(fl)
			return
		}

		r.fingerprints[b] = fp
		col := &rowCollector{block: b}
		r.collectors = append(r.collectors, col)
		r.runBasicBlock(b.Body, env, fl, func(after flags) {
			r.popCollector(col)
			delete(r.fingerprints, b)
			if !dec.NeedsCommit() {
				k(after)
				return
			}
			if after.skipCommit {
				r.logger.Debug("not committing block", "block", b.Name, "key", dec.Key)
				k(after)
				return
			}
			r.commit(b, r.detector.Record(b, dec, col.rows))
			k(after)
		})
	})
}

func (r *Run) popCollector(col *rowCollector) {
	for i := len(r.collectors) - 1; i >= 0; i-- {
		if r.collectors[i] == col {
			r.collectors = append(r.collectors[:i], r.collectors[i+1:]...)
			return
		}
	}
}

func (r *Run) runOutput(o *ir.Output, env *ir.Env, fl flags, k cont) {
	row, err := o.Row(env)
	if err != nil {
		r.failEval(o, err)
		return
	}
	awaitErr(r, func(ctx context.Context) error {
		return r.eng.sink.AddRow(ctx, r.datasetID, r.ID, row)
	}, func(err error) {
		if err != nil {
			r.fail(ErrCodeSink, o, "add row", err)
			return
		}
		o.Rows++
		r.rows++
		for _, c := range r.collectors {
			c.rows = append(c.rows, row)
		}
		r.eng.observer.RowAdded(row)
		k(fl)
	})
}

func (r *Run) runBack(s *ir.Back, fl flags, k cont) {
	tab := s.PageVar.Tab()
	if tab == "" {
		r.logger.Warn("back on a page that is not open", "page", s.PageVar.Name)
		k(fl)
		return
	}
	awaitErr(r, func(ctx context.Context) error {
		return r.eng.browser.Back(ctx, tab)
	}, func(err error) {
		if err != nil {
			r.logger.Warn("back failed", "page", s.PageVar.Name, "error", err)
		}
		k(fl)
	})
}

func (r *Run) runClosePage(s *ir.ClosePage, fl flags, k cont) {
	tab := s.PageVar.Tab()
	if tab == "" {
		k(fl)
		return
	}
	awaitErr(r, func(ctx context.Context) error {
		return r.eng.browser.CloseTab(ctx, tab)
	}, func(err error) {
		if err != nil {
			r.logger.Warn("close tab failed", "page", s.PageVar.Name, "error", err)
		}
		s.PageVar.ClearTab()
		k(fl)
	})
}

// runCellScrape reads a relation cell the loop has already bound.
func (r *Run) runCellScrape(s ir.Replayable, env *ir.Env, fl flags, k cont) {
	sc, ok := s.(*ir.Scrape)
	if !ok || sc.Node == nil {
		k(fl)
		return
	}
	rep, err := sc.Node.Current(env)
	if err != nil {
		r.failEval(sc, err)
		return
	}
	sc.Capture(env, rep)
	k(fl)
}
