package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/harvest/internal/testutil"
)

// createTestStore opens a fresh store on a fake clock.
func createTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	clock := testutil.NewFakeClock()
	s.SetClock(clock.Now)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func beginTestRun(t *testing.T, s *Store, id string) int64 {
	t.Helper()
	seq, err := s.BeginRun(context.Background(), RunInfo{ID: id, Program: "prog", DatasetID: "ds"})
	if err != nil {
		t.Fatalf("BeginRun(%s) failed: %v", id, err)
	}
	return seq
}
