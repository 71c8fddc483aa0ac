package engine

import (
	"context"
	"errors"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/trace"
)

// runReplayBlock builds one trace for block, replays it and hands each
// statement its share of the realized events.
func (r *Run) runReplayBlock(block []ir.Replayable, env *ir.Env, fl flags, k cont) {
	for _, s := range block {
		if s.OutputPage() != nil && !s.Resolvable(env) {
			r.logger.Warn("no navigation target, skipping iteration",
				"statement", s.Kind().String(),
				"page", s.OutputPage().Name)
			k(fl.skipIteration())
			return
		}
	}

	rp, err := trace.Build(block, env, r.window)
	if err != nil {
		r.failEval(block[0], err)
		return
	}
	if !rp.Large() {
		r.replay(block, rp, env, fl, k)
		return
	}
	r.logger.Warn("large trace", "events", len(rp.Events), "threshold", trace.LargeTraceThreshold)
	await(r, func(ctx context.Context) (bool, error) {
		return r.eng.observer.ConfirmLargeTrace(ctx, len(rp.Events))
	}, func(ok bool, err error) {
		if err != nil {
			r.fail(ErrCodeCancelled, block[0], "large trace confirmation", err)
			return
		}
		if !ok {
			r.logger.Warn("large trace declined, skipping iteration", "events", len(rp.Events))
			k(fl.skipIteration())
			return
		}
		r.replay(block, rp, env, fl, k)
	})
}

func (r *Run) replay(block []ir.Replayable, rp trace.Replay, env *ir.Env, fl flags, k cont) {
	r.logger.Debug("replaying block",
		"statements", len(block),
		"events", len(rp.Events),
		"bindings", rp.Config.BindingNames())

	await(r, func(ctx context.Context) (ReplayResult, error) {
		return r.eng.executor.Replay(ctx, rp)
	}, func(res ReplayResult, err error) {
		// Tabs opened before a failure are real; keep them.
		r.commitTabs(res.Tabs)
		if err != nil {
			switch {
			case IsRecoverableReplayError(err):
				r.logger.Warn("replay failed, skipping iteration",
					"statement", block[0].Kind().String(),
					"realized", len(res.Events),
					"error", err)
				k(fl.skipIteration())
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				r.fail(ErrCodeCancelled, block[0], "replay interrupted", err)
			default:
				r.fail(ErrCodeReplay, block[0], "replay", err)
			}
			return
		}
		r.inheritTabs(block)
		for i, s := range block {
			if err := s.PostReplay(env, rp.Slice(res.Events, i)); err != nil {
				r.logger.Warn("post-replay failed, skipping iteration",
					"statement", s.Kind().String(),
					"error", err)
				k(fl.skipIteration())
				return
			}
		}
		k(fl)
	})
}

// commitTabs binds page variables to the live tabs their record-time
// tabs became.
func (r *Run) commitTabs(tabs map[string]string) {
	if len(tabs) == 0 {
		return
	}
	for _, pv := range r.prog.PageVars {
		live, ok := tabs[pv.RecordTab]
		if !ok || live == "" {
			continue
		}
		if live != pv.Tab() {
			r.logger.Debug("page bound to tab", "page", pv.Name, "tab", live)
		}
		pv.SetTab(live)
	}
}

// inheritTabs binds pages that a statement opened by navigating its own
// tab. The executor only sees the live tab id for those, so it cannot
// report them in ReplayResult.Tabs. The navigation loaded a fresh page,
// so cursors left from an earlier binding to the same tab are dropped.
func (r *Run) inheritTabs(block []ir.Replayable) {
	for _, s := range block {
		out, in := s.OutputPage(), s.Page()
		if out == nil || in == nil || out == in || in.Tab() == "" || out.RecordTab != in.RecordTab {
			continue
		}
		out.SetTab(in.Tab())
		out.DropCursors()
	}
}
