package pager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/harvest/internal/ir"
)

// Status is a frame's answer to an extraction request.
type Status int

const (
	// NoMoreItems means the frame has no rows for the relation.
	NoMoreItems Status = iota + 1
	// NoNewItemsYet means rows may still appear; ask again.
	NoNewItemsYet
	// NewItems carries rows.
	NewItems
)

func (s Status) String() string {
	switch s {
	case NoMoreItems:
		return "no_more_items"
	case NoNewItemsYet:
		return "no_new_items_yet"
	case NewItems:
		return "new_items"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Extraction is one frame's answer.
type Extraction struct {
	Frame  string
	Status Status
	Rows   [][]ir.NodeRep
}

// Browser is the part of the browser control surface the pager needs.
// Frames returns the tab's frames with the top frame first.
type Browser interface {
	Frames(ctx context.Context, tab string) ([]string, error)
	Extract(ctx context.Context, tab, frame string, rel *ir.Relation) (Extraction, error)
	RunNextInteraction(ctx context.Context, tab string, rel *ir.Relation) error
	Reload(ctx context.Context, tab string) error
}

// Clock abstracts time so tests can drive timeouts.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acceptance thresholds. A candidate wins at once at or above the strict
// pair; after every frame has answered or the timeout passed, the best
// candidate above the loose pair is taken.
const (
	StrictLocatorFraction = 0.9
	StrictCountRatio      = 0.9
	LooseLocatorFraction  = 0.5
	LooseCountRatio       = 0.7
)

// Config holds pager timing and retry limits.
type Config struct {
	// RelationTimeout bounds how long one extraction waits for frames
	// that report rows are still loading.
	RelationTimeout time.Duration
	// PollInterval separates extraction rounds.
	PollInterval time.Duration
	// NextButtonAttempts is how many next interactions may fail to
	// produce rows before the relation is exhausted.
	NextButtonAttempts int
	// NextInteractionTimeout is how long next interactions may go without
	// producing rows before the tab is reloaded once. It must stay below
	// NextButtonAttempts times RelationTimeout, or slow frames exhaust the
	// attempts before the reload can fire.
	NextInteractionTimeout time.Duration
}

// Validate reports settings under which the reload fallback cannot fire.
func (c Config) Validate() error {
	if c.NextButtonAttempts < 1 {
		return fmt.Errorf("next button attempts must be at least 1, got %d", c.NextButtonAttempts)
	}
	budget := time.Duration(c.NextButtonAttempts) * c.RelationTimeout
	if c.RelationTimeout > 0 && c.NextInteractionTimeout >= budget {
		return fmt.Errorf("next interaction timeout %s must be below %d attempts of relation timeout %s",
			c.NextInteractionTimeout, c.NextButtonAttempts, c.RelationTimeout)
	}
	return nil
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RelationTimeout:        15 * time.Second,
		PollInterval:           500 * time.Millisecond,
		NextButtonAttempts:     3,
		NextInteractionTimeout: 30 * time.Second,
	}
}

// Pager hands out relation rows. It is driven by one run at a time.
type Pager struct {
	browser Browser
	cfg     Config
	clock   Clock
	logger  *slog.Logger
}

// Option configures a Pager.
type Option func(*Pager)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(p *Pager) { p.cfg = cfg }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Pager) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pager) { p.logger = l }
}

// New creates a pager over b.
func New(b Browser, opts ...Option) *Pager {
	p := &Pager{
		browser: b,
		cfg:     DefaultConfig(),
		clock:   realClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NextRow advances rel's cursor on pv. It returns false once the relation
// is exhausted, and keeps returning false until the cursor is cleared.
// The only error is context cancellation.
func (p *Pager) NextRow(ctx context.Context, rel *ir.Relation, pv *ir.PageVariable) ([]ir.NodeRep, bool, error) {
	tab := pv.Tab()
	if tab == "" {
		p.logger.Warn("relation page not open", "relation", rel.Name, "page", pv.Name)
		return nil, false, nil
	}
	c := pv.Cursor(rel)

	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		switch c.State {
		case ir.CursorHaveRows:
			if c.Buffered() {
				c.Index++
				row := c.Current()
				if key, err := ir.RowKey(row); err == nil {
					c.Seen[key] = true
				}
				return row, true, nil
			}
			if rel.Next.Type == "" || rel.Next.Type == ir.NextNone {
				c.State = ir.CursorNoMoreRows
				continue
			}
			c.State = ir.CursorAwaitingNextInteraction

		case ir.CursorNoMoreRows:
			return nil, false, nil

		case ir.CursorNeedRows:
			c.State = ir.CursorAwaitingFrames

		case ir.CursorAwaitingFrames:
			got, err := p.extract(ctx, tab, rel, c)
			if err != nil {
				return nil, false, err
			}
			if got {
				continue
			}
			c.State = p.afterEmptyExtraction(ctx, tab, rel, c)

		case ir.CursorAwaitingNextInteraction:
			if c.NextStarted.IsZero() {
				c.NextStarted = p.clock.Now()
			}
			c.NextAttempts++
			p.logger.Debug("running next interaction",
				"relation", rel.Name,
				"attempt", c.NextAttempts,
				"type", string(rel.Next.Type),
			)
			if err := p.browser.RunNextInteraction(ctx, tab, rel); err != nil {
				if ctx.Err() != nil {
					return nil, false, ctx.Err()
				}
				p.logger.Warn("next interaction failed", "relation", rel.Name, "attempt", c.NextAttempts, "error", err)
				c.State = p.afterEmptyExtraction(ctx, tab, rel, c)
				continue
			}
			c.State = ir.CursorAwaitingFrames
		}
	}
}

// afterEmptyExtraction decides what follows an extraction that found no
// new rows.
func (p *Pager) afterEmptyExtraction(ctx context.Context, tab string, rel *ir.Relation, c *ir.Cursor) ir.CursorState {
	if c.Pages == 0 || rel.Next.Type == "" || rel.Next.Type == ir.NextNone {
		return ir.CursorNoMoreRows
	}
	if c.NextStarted.IsZero() {
		return ir.CursorNoMoreRows
	}
	if p.clock.Now().Sub(c.NextStarted) > p.cfg.NextInteractionTimeout {
		if c.Reloaded {
			return ir.CursorNoMoreRows
		}
		p.logger.Warn("next interaction timed out, reloading", "relation", rel.Name, "tab", tab)
		c.Reloaded = true
		if err := p.browser.Reload(ctx, tab); err != nil {
			p.logger.Warn("reload failed", "relation", rel.Name, "error", err)
			return ir.CursorNoMoreRows
		}
		c.NextAttempts = p.cfg.NextButtonAttempts
		return ir.CursorAwaitingFrames
	}
	if c.NextAttempts < p.cfg.NextButtonAttempts {
		return ir.CursorAwaitingNextInteraction
	}
	p.logger.Info("relation exhausted", "relation", rel.Name, "pages", c.Pages, "attempts", c.NextAttempts)
	return ir.CursorNoMoreRows
}

type candidate struct {
	frame    string
	rows     [][]ir.NodeRep
	fraction float64
	ratio    float64
}

func (c candidate) strict() bool {
	return c.fraction >= StrictLocatorFraction && c.ratio >= StrictCountRatio
}

func (c candidate) loose() bool {
	return c.fraction > LooseLocatorFraction && c.ratio >= LooseCountRatio
}

func (c candidate) better(o candidate) bool {
	if c.fraction != o.fraction {
		return c.fraction > o.fraction
	}
	if c.ratio != o.ratio {
		return c.ratio > o.ratio
	}
	return len(c.rows) > len(o.rows)
}

// extract runs extraction rounds until a candidate is accepted, nothing
// is pending, or the relation timeout passes. It reports whether rows
// were accepted into c.
func (p *Pager) extract(ctx context.Context, tab string, rel *ir.Relation, c *ir.Cursor) (bool, error) {
	deadline := p.clock.Now().Add(p.cfg.RelationTimeout)
	for round := 1; ; round++ {
		frames, err := p.frames(ctx, tab, c)
		if err != nil {
			return false, err
		}
		answers, err := p.ask(ctx, tab, frames, rel)
		if err != nil {
			return false, err
		}

		var (
			cands     []candidate
			pending   bool
			answering int
		)
		for _, a := range answers {
			if a == nil {
				continue
			}
			answering++
			switch a.Status {
			case NoNewItemsYet:
				pending = true
			case NewItems:
				fresh := unseen(c, a.Rows)
				if len(fresh) == 0 {
					pending = true
					continue
				}
				cands = append(cands, candidate{
					frame:    a.Frame,
					rows:     fresh,
					fraction: locatorFraction(fresh),
					ratio:    countRatio(len(a.Rows), rel.DemoRows),
				})
			}
		}

		if len(cands) == 1 && answering == 1 {
			p.accept(rel, c, cands[0], frames, "sole frame")
			return true, nil
		}
		if best, ok := pick(cands, candidate.strict); ok {
			p.accept(rel, c, best, frames, "strict")
			return true, nil
		}

		timedOut := !p.clock.Now().Before(deadline)
		if pending && !timedOut {
			p.logger.Debug("waiting for frames", "relation", rel.Name, "round", round, "candidates", len(cands))
			if err := p.clock.Sleep(ctx, p.cfg.PollInterval); err != nil {
				return false, err
			}
			continue
		}

		if best, ok := pick(cands, candidate.loose); ok {
			p.accept(rel, c, best, frames, "loose")
			return true, nil
		}
		p.logger.Debug("no acceptable frame", "relation", rel.Name, "candidates", len(cands), "timed_out", timedOut)
		return false, nil
	}
}

func (p *Pager) frames(ctx context.Context, tab string, c *ir.Cursor) ([]string, error) {
	frames, err := p.browser.Frames(ctx, tab)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("listing frames failed", "tab", tab, "error", err)
		return nil, nil
	}
	if c.TopFrameOnly && len(frames) > 0 {
		return frames[:1], nil
	}
	return frames, nil
}

// ask fans the extraction out to every frame. A frame that fails to
// answer leaves a nil slot.
func (p *Pager) ask(ctx context.Context, tab string, frames []string, rel *ir.Relation) ([]*Extraction, error) {
	answers := make([]*Extraction, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	for i, frame := range frames {
		g.Go(func() error {
			ex, err := p.browser.Extract(gctx, tab, frame, rel)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Debug("frame did not answer", "frame", frame, "error", err)
				return nil
			}
			ex.Frame = frame
			answers[i] = &ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return answers, nil
}

func (p *Pager) accept(rel *ir.Relation, c *ir.Cursor, cand candidate, frames []string, why string) {
	c.Rows = cand.rows
	c.Index = -1
	c.Frame = cand.frame
	c.Pages++
	c.NextAttempts = 0
	c.State = ir.CursorHaveRows
	if len(frames) > 0 && cand.frame == frames[0] {
		c.TopFrameOnly = true
	}
	c.NextStarted = time.Time{}
	p.logger.Debug("relation rows accepted",
		"relation", rel.Name,
		"frame", cand.frame,
		"rows", len(cand.rows),
		"reason", why,
	)
}

func pick(cands []candidate, ok func(candidate) bool) (candidate, bool) {
	var (
		best  candidate
		found bool
	)
	for _, c := range cands {
		if ok(c) && (!found || c.better(best)) {
			best, found = c, true
		}
	}
	return best, found
}

func unseen(c *ir.Cursor, rows [][]ir.NodeRep) [][]ir.NodeRep {
	var out [][]ir.NodeRep
	for _, row := range rows {
		key, err := ir.RowKey(row)
		if err == nil && c.Seen[key] {
			continue
		}
		out = append(out, row)
	}
	return out
}

// locatorFraction is the share of rows whose every cell has an xpath.
func locatorFraction(rows [][]ir.NodeRep) float64 {
	if len(rows) == 0 {
		return 0
	}
	n := 0
	for _, row := range rows {
		ok := len(row) > 0
		for _, cell := range row {
			if cell.XPath == "" {
				ok = false
				break
			}
		}
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(rows))
}

// countRatio compares a row count with the demonstrated one as min/max.
func countRatio(n, demo int) float64 {
	if demo <= 0 {
		return 1
	}
	lo, hi := n, demo
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi == 0 {
		return 0
	}
	return float64(lo) / float64(hi)
}
