package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// QuotaEnforcer counts scheduler steps of a run and enforces a limit.
// A program whose While condition never turns false, or a relation that
// keeps producing rows, is stopped here instead of running forever.
//
// A limit of zero disables the quota. Steps are admitted on the run loop,
// but Current may be read from any goroutine.
type QuotaEnforcer struct {
	maxSteps int
	current  atomic.Int64
}

// NewQuotaEnforcer creates a quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check admits one more step. A step that would exceed the limit is
// refused and not counted.
func (q *QuotaEnforcer) Check(runID string) error {
	next := q.current.Load() + 1
	if q.maxSteps > 0 && next > int64(q.maxSteps) {
		return &StepsExceededError{
			RunID: runID,
			Steps: int(next),
			Limit: q.maxSteps,
		}
	}
	q.current.Store(next)
	return nil
}

// Reset resets the step counter to 0.
func (q *QuotaEnforcer) Reset() {
	q.current.Store(0)
}

// Current returns the number of admitted steps.
func (q *QuotaEnforcer) Current() int64 {
	return q.current.Load()
}

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a run exceeds its step quota.
type StepsExceededError struct {
	RunID string
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("run %s exceeded max steps quota: %d steps > %d limit",
		e.RunID, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
