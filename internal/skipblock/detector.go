package skipblock

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/harvest/internal/ir"
)

// LockRequest asks the backend about one fingerprint.
type LockRequest struct {
	Key         string `json:"key"`
	Fingerprint string `json:"fingerprint"`
	BlockID     string `json:"block_id"`
	Window      Window `json:"window"`
	RunID       string `json:"run_id"`
	DatasetID   string `json:"dataset_id,omitempty"`
	// Lock asks for a claim as well as the duplicate check.
	Lock bool `json:"lock"`
}

// LockResult is the backend's answer.
type LockResult struct {
	// Exists means the fingerprint was committed within the window.
	Exists bool `json:"exists"`
	// Claimed means some run holds an uncommitted claim.
	Claimed bool `json:"claimed"`
	// Yours means the claim belongs to the asking run.
	Yours bool `json:"yours"`
}

// Commit records that a fingerprint's body completed.
type Commit struct {
	Key         string     `json:"key"`
	Fingerprint string     `json:"fingerprint"`
	BlockID     string     `json:"block_id"`
	RunID       string     `json:"run_id"`
	DatasetID   string     `json:"dataset_id,omitempty"`
	Time        time.Time  `json:"time"`
	Rows        [][]string `json:"rows,omitempty"`
}

// Backend is the coordination service shared by workers.
type Backend interface {
	CheckOrLock(ctx context.Context, req LockRequest) (LockResult, error)
	Commit(ctx context.Context, c Commit) error
}

// Clock abstracts time for retries and physical windows.
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

// DefaultRetryDelay separates backend retries.
const DefaultRetryDelay = 5 * time.Second

// Mode carries the run options that affect a check.
type Mode struct {
	Parallel bool
	// Partition, when it names more than one worker, skips fingerprints
	// owned by other workers before the backend is asked.
	Partition Partition
	// IgnoreScope runs every body without asking the backend.
	IgnoreScope bool
	// BreakAfterDuplicatesInARow is the streak that breaks the enclosing
	// loop; 0 disables it. A block's own threshold wins when set.
	BreakAfterDuplicatesInARow int
}

// Decision reasons.
const (
	ReasonUnchecked   = "unchecked"
	ReasonOtherWorker = "other worker"
	ReasonFresh       = "fresh"
	ReasonDuplicate   = "duplicate"
	ReasonClaimed     = "claimed"
)

// Decision is the outcome of a check.
type Decision struct {
	Run         bool
	Break       bool
	Reason      string
	Fingerprint Fingerprint
	Key         string
}

// NeedsCommit reports whether a body that ran for this decision must be
// committed. Unchecked bodies never reach the backend.
func (d Decision) NeedsCommit() bool { return d.Run && d.Reason != ReasonUnchecked }

// Detector checks and commits fingerprints for one run.
type Detector struct {
	backend    Backend
	runID      string
	datasetID  string
	retryDelay time.Duration
	clock      Clock
	logger     *slog.Logger

	streaks map[string]int
	// recorded holds keys committed by this run; their commits may still
	// be on the way to the backend.
	recorded map[string]bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithRetryDelay sets the fixed delay between backend retries.
func WithRetryDelay(d time.Duration) Option {
	return func(det *Detector) { det.retryDelay = d }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(det *Detector) { det.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(det *Detector) { det.logger = l }
}

// WithDataset scopes commits to a dataset.
func WithDataset(id string) Option {
	return func(det *Detector) { det.datasetID = id }
}

// NewDetector creates a detector for runID.
func NewDetector(b Backend, runID string, opts ...Option) *Detector {
	d := &Detector{
		backend:    b,
		runID:      runID,
		retryDelay: DefaultRetryDelay,
		clock:      realClock{},
		logger:     slog.Default(),
		streaks:    make(map[string]int),
		recorded:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check decides whether b's body runs for fingerprint fp.
//
// Backend failures are retried with a fixed delay until they succeed or
// ctx is done; only then is an error returned.
func (d *Detector) Check(ctx context.Context, b *ir.SkipBlock, fp Fingerprint, mode Mode) (Decision, error) {
	dec := Decision{Fingerprint: fp, Key: fp.Key(b.ID)}

	if mode.IgnoreScope || b.Strategy == ir.SkipNever {
		dec.Run = true
		dec.Reason = ReasonUnchecked
		return dec, nil
	}
	if mode.Partition.Workers > 1 && !IsThisMyWorkBasedOnHash(fp.String(), mode.Partition) {
		dec.Reason = ReasonOtherWorker
		return dec, nil
	}

	var res LockResult
	if d.recorded[dec.Key] {
		res.Exists = true
	} else {
		req := LockRequest{
			Key:         dec.Key,
			Fingerprint: fp.String(),
			BlockID:     b.ID,
			Window:      WindowFor(b, d.clock.Now()),
			RunID:       d.runID,
			DatasetID:   d.datasetID,
			Lock:        mode.Parallel,
		}
		err := d.retry(ctx, "check", b, func() error {
			var err error
			res, err = d.backend.CheckOrLock(ctx, req)
			return err
		})
		if err != nil {
			return Decision{}, err
		}
	}

	skip := res.Exists
	if mode.Parallel && res.Claimed && !res.Yours && !b.DescendIntoLocked {
		skip = true
	}
	if !skip {
		d.streaks[b.ID] = 0
		dec.Run = true
		dec.Reason = ReasonFresh
		return dec, nil
	}

	d.streaks[b.ID]++
	threshold := mode.BreakAfterDuplicatesInARow
	if b.BreakAfterDuplicates > 0 {
		threshold = b.BreakAfterDuplicates
	}
	dec.Reason = ReasonDuplicate
	if res.Claimed && !res.Exists {
		dec.Reason = ReasonClaimed
	}
	if threshold > 0 && d.streaks[b.ID] >= threshold {
		dec.Break = true
		d.logger.Info("duplicate streak reached, breaking loop",
			"block", b.Name,
			"streak", d.streaks[b.ID],
		)
	}
	return dec, nil
}

// Streak returns the current consecutive-duplicate count of a block.
func (d *Detector) Streak(blockID string) int { return d.streaks[blockID] }

// ResetStreak clears a block's streak, e.g. when its loop restarts.
func (d *Detector) ResetStreak(blockID string) { delete(d.streaks, blockID) }

// Record stamps the commit for a body that ran for dec. Rows produced
// inside the body travel with the commit. Later checks by this run see
// the key as committed before the backend does.
func (d *Detector) Record(b *ir.SkipBlock, dec Decision, rows [][]string) Commit {
	d.recorded[dec.Key] = true
	return Commit{
		Key:         dec.Key,
		Fingerprint: dec.Fingerprint.String(),
		BlockID:     b.ID,
		RunID:       d.runID,
		DatasetID:   d.datasetID,
		Time:        d.clock.Now(),
		Rows:        rows,
	}
}

// Send delivers c to the backend, retrying like Check.
func (d *Detector) Send(ctx context.Context, b *ir.SkipBlock, c Commit) error {
	return d.retry(ctx, "commit", b, func() error {
		return d.backend.Commit(ctx, c)
	})
}

// Commit records that the body ran for dec and waits for the backend.
func (d *Detector) Commit(ctx context.Context, b *ir.SkipBlock, dec Decision, rows [][]string) error {
	return d.Send(ctx, b, d.Record(b, dec, rows))
}

func (d *Detector) retry(ctx context.Context, op string, b *ir.SkipBlock, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Warn("backend call failed, retrying",
			"op", op,
			"block", b.Name,
			"attempt", attempt,
			"delay", d.retryDelay,
			"error", err,
		)
		if err := d.clock.Sleep(ctx, d.retryDelay); err != nil {
			return err
		}
	}
}
