package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/harvest/internal/ir"
)

// Snapshot is the reproducible part of a scenario result: the runs and
// the rows they stored.
type Snapshot struct {
	ScenarioName string
	Runs         []RunSummary
	Rows         [][]string
}

// toCanonicalMap converts the snapshot for ir.MarshalCanonical, which only
// takes IR values and plain strings, ints, bools, lists and maps.
func (s *Snapshot) toCanonicalMap() map[string]any {
	runs := make([]any, len(s.Runs))
	for i, r := range s.Runs {
		m := map[string]any{
			"run_id": r.RunID,
			"status": r.Status,
			"rows":   r.Rows,
		}
		if r.Error != "" {
			m["error"] = r.Error
		}
		runs[i] = m
	}
	rows := make([]any, len(s.Rows))
	for i, r := range s.Rows {
		rows[i] = r
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"runs":          runs,
		"rows":          rows,
	}
}

// MarshalSnapshot returns the canonical JSON of a result's snapshot.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	s := Snapshot{ScenarioName: name, Runs: result.Runs, Rows: result.Rows}
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
