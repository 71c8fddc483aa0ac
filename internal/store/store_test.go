package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"runs", "transactions", "locks", "output_rows", "relations"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s, _ := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	assert.Error(t, err)
}

func TestClose_Nil(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestTimeLayout_SortsLexically(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 5, time.UTC)
	b := time.Date(2024, 1, 1, 0, 0, 0, 40, time.UTC)
	assert.Less(t, formatTime(a), formatTime(b))

	back, err := parseTime(formatTime(b))
	require.NoError(t, err)
	assert.True(t, back.Equal(b))
}

func TestRuns_BeginAndFinish(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	seq1 := beginTestRun(t, s, "run-1")
	seq2 := beginTestRun(t, s, "run-2")
	assert.Less(t, seq1, seq2)

	again := beginTestRun(t, s, "run-1")
	assert.Equal(t, seq1, again, "re-registering keeps the sequence number")

	clock.Advance(time.Minute)
	require.NoError(t, s.FinishRun(ctx, "run-1", RunFinished))

	rec, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunFinished, rec.Status)
	assert.Equal(t, "ds", rec.DatasetID)
	require.NotNil(t, rec.FinishedAt)
	assert.Equal(t, time.Minute, rec.FinishedAt.Sub(rec.StartedAt))

	rec2, err := s.ReadRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, rec2.Status)
	assert.Nil(t, rec2.FinishedAt)
}

func TestRuns_FinishUnknown(t *testing.T) {
	s, _ := createTestStore(t)
	err := s.FinishRun(context.Background(), "nope", RunFinished)
	assert.ErrorContains(t, err, "unknown run")

	_, err = s.ReadRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRows_AddAndRead(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddRow(ctx, "ds", "run-1", []string{"a", "b"}))
	require.NoError(t, s.AddRow(ctx, "ds", "run-1", []string{"c", "d"}))
	require.NoError(t, s.AddRow(ctx, "other", "run-2", nil))

	rows, err := s.Rows(ctx, "ds")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a", "b"}, rows[0].Cells)
	assert.Equal(t, []string{"c", "d"}, rows[1].Cells)
	assert.Equal(t, "run-1", rows[0].RunID)

	other, err := s.Rows(ctx, "other")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Empty(t, other[0].Cells)

	none, err := s.Rows(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)

	sets, err := s.Datasets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []DatasetSummary{{ID: "ds", Rows: 2, Runs: 1}, {ID: "other", Rows: 1, Runs: 1}}, sets)
}
