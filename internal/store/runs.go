package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
	RunStopped  = "stopped"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunInfo describes a run being started.
type RunInfo struct {
	ID        string
	Program   string
	DatasetID string
	Worker    string
}

// RunRecord is a stored run.
type RunRecord struct {
	Seq        int64
	ID         string
	Program    string
	DatasetID  string
	Worker     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}

// BeginRun registers a run and returns its sequence number. Registering
// the same id twice returns the existing sequence number.
func (s *Store) BeginRun(ctx context.Context, info RunInfo) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, program, dataset_id, worker, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, info.ID, info.Program, info.DatasetID, info.Worker, formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM runs WHERE id = ?`, info.ID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("begin run: read seq: %w", err)
	}
	return seq, nil
}

// FinishRun records how a run ended.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ? WHERE id = ?
	`, formatTime(s.now()), status, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("finish run: release claims: %w", err)
	}
	return nil
}

// ReadRun returns one run.
func (s *Store) ReadRun(ctx context.Context, runID string) (RunRecord, error) {
	var (
		r        RunRecord
		started  string
		finished sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, id, program, dataset_id, worker, started_at, finished_at, status
		FROM runs WHERE id = ?
	`, runID).Scan(&r.Seq, &r.ID, &r.Program, &r.DatasetID, &r.Worker, &started, &finished, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("read run: %w", err)
	}
	if r.StartedAt, err = parseTime(started); err != nil {
		return RunRecord{}, fmt.Errorf("read run: started_at: %w", err)
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return RunRecord{}, fmt.Errorf("read run: finished_at: %w", err)
		}
		r.FinishedAt = &t
	}
	return r, nil
}
