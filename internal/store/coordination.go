package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/skipblock"
)

// CheckOrLock reports whether a fingerprint was committed within the
// request's window and, when asked, claims it for the requesting run.
func (s *Store) CheckOrLock(ctx context.Context, req skipblock.LockRequest) (skipblock.LockResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return skipblock.LockResult{}, fmt.Errorf("check or lock: begin tx: %w", err)
	}
	defer tx.Rollback()

	exists, err := committedWithin(ctx, tx, req)
	if err != nil {
		return skipblock.LockResult{}, fmt.Errorf("check or lock: %w", err)
	}

	var res skipblock.LockResult
	res.Exists = exists

	if req.Lock && !exists {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO locks (key, dataset_id, run_id, claimed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key, dataset_id) DO NOTHING
		`, req.Key, req.DatasetID, req.RunID, formatTime(s.now()))
		if err != nil {
			return skipblock.LockResult{}, fmt.Errorf("check or lock: claim: %w", err)
		}
	}

	var owner string
	err = tx.QueryRowContext(ctx, `
		SELECT run_id FROM locks WHERE key = ? AND dataset_id = ?
	`, req.Key, req.DatasetID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return skipblock.LockResult{}, fmt.Errorf("check or lock: read claim: %w", err)
	default:
		res.Claimed = true
		res.Yours = owner == req.RunID
	}

	if err := tx.Commit(); err != nil {
		return skipblock.LockResult{}, fmt.Errorf("check or lock: commit: %w", err)
	}
	return res, nil
}

// committedWithin only counts commits made for the requesting dataset;
// fingerprint keys are not unique across programs.
func committedWithin(ctx context.Context, tx *sql.Tx, req skipblock.LockRequest) (bool, error) {
	var (
		query string
		args  []any
	)
	switch req.Window.Strategy {
	case ir.SkipNever:
		return false, nil
	case ir.SkipOneRun:
		query = `SELECT COUNT(*) FROM transactions WHERE key = ? AND dataset_id = ? AND run_id = ?`
		args = []any{req.Key, req.DatasetID, req.RunID}
	case ir.SkipLogicalTime:
		query = `
			SELECT COUNT(*) FROM transactions
			WHERE key = ? AND dataset_id = ? AND run_seq > COALESCE(
				(SELECT seq FROM runs WHERE id = ?),
				(SELECT COALESCE(MAX(seq), 0) + 1 FROM runs)
			) - ?`
		args = []any{req.Key, req.DatasetID, req.RunID, req.Window.Runs}
	case ir.SkipPhysicalTime:
		query = `SELECT COUNT(*) FROM transactions WHERE key = ? AND dataset_id = ? AND committed_at >= ?`
		args = []any{req.Key, req.DatasetID, formatTime(req.Window.Since)}
	default:
		query = `SELECT COUNT(*) FROM transactions WHERE key = ? AND dataset_id = ?`
		args = []any{req.Key, req.DatasetID}
	}
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("query transactions: %w", err)
	}
	return n > 0, nil
}

// Commit records a completed skip block body. Committing the same key
// twice in one run is a no-op.
func (s *Store) Commit(ctx context.Context, c skipblock.Commit) error {
	rows, err := marshalRows(c.Rows)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (key, run_id, block_id, fingerprint, dataset_id, run_seq, committed_at, rows)
		VALUES (?, ?, ?, ?, ?, COALESCE((SELECT seq FROM runs WHERE id = ?), 0), ?, ?)
		ON CONFLICT(key, run_id) DO NOTHING
	`, c.Key, c.RunID, c.BlockID, c.Fingerprint, c.DatasetID, c.RunID, formatTime(c.Time), rows)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	// The claim has served its purpose once the body is recorded.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM locks WHERE key = ? AND dataset_id = ?
	`, c.Key, c.DatasetID); err != nil {
		return fmt.Errorf("commit: release claim: %w", err)
	}
	return tx.Commit()
}

// TransactionRecord is a committed fingerprint.
type TransactionRecord struct {
	Key         string
	RunID       string
	BlockID     string
	Fingerprint string
	Rows        [][]string
}

// Transactions lists a run's commits in commit order.
func (s *Store) Transactions(ctx context.Context, runID string) ([]TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, run_id, block_id, fingerprint, rows
		FROM transactions
		WHERE run_id = ?
		ORDER BY committed_at ASC, key COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := []TransactionRecord{}
	for rows.Next() {
		var (
			r    TransactionRecord
			data string
		)
		if err := rows.Scan(&r.Key, &r.RunID, &r.BlockID, &r.Fingerprint, &data); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if r.Rows, err = unmarshalRows(data); err != nil {
			return nil, fmt.Errorf("transaction %s rows: %w", r.Key, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}
