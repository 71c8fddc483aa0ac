package store

import (
	"context"
	"fmt"
	"time"
)

// AddRow appends a row to a dataset.
func (s *Store) AddRow(ctx context.Context, datasetID, runID string, cells []string) error {
	data, err := marshalCells(cells)
	if err != nil {
		return fmt.Errorf("add row: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO output_rows (dataset_id, run_id, cells, created_at)
		VALUES (?, ?, ?, ?)
	`, datasetID, runID, data, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("add row: %w", err)
	}
	return nil
}

// RowRecord is a stored dataset row.
type RowRecord struct {
	ID        int64
	DatasetID string
	RunID     string
	Cells     []string
	CreatedAt time.Time
}

// Rows returns a dataset's rows in insertion order.
func (s *Store) Rows(ctx context.Context, datasetID string) ([]RowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dataset_id, run_id, cells, created_at
		FROM output_rows
		WHERE dataset_id = ?
		ORDER BY id ASC
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	out := []RowRecord{}
	for rows.Next() {
		var (
			r       RowRecord
			cells   string
			created string
		)
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.RunID, &cells, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if r.Cells, err = unmarshalCells(cells); err != nil {
			return nil, fmt.Errorf("row %d: %w", r.ID, err)
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("row %d created_at: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// DatasetSummary counts a dataset's rows and runs.
type DatasetSummary struct {
	ID   string `json:"id"`
	Rows int    `json:"rows"`
	Runs int    `json:"runs"`
}

// Datasets lists every dataset with rows, by id.
func (s *Store) Datasets(ctx context.Context) ([]DatasetSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset_id, COUNT(*), COUNT(DISTINCT run_id)
		FROM output_rows
		GROUP BY dataset_id
		ORDER BY dataset_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	out := []DatasetSummary{}
	for rows.Next() {
		var d DatasetSummary
		if err := rows.Scan(&d.ID, &d.Rows, &d.Runs); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
