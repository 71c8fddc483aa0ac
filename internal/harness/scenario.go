package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/sim"
)

// Scenario is a conformance scenario: a program, the site it runs
// against, and what its runs must produce.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Program is the path of the program file. Relative paths are
	// resolved against the scenario file's directory.
	Program string `yaml:"program"`

	// Site lists the pages of the simulated site.
	Site []sim.Page `yaml:"site"`

	// Options are run options, in the same form as the config file's run
	// section. They apply to every run.
	Options map[string]any `yaml:"options,omitempty"`

	// Runs is how many times the program is run. Zero means once.
	Runs int `yaml:"runs,omitempty"`

	// Advance moves the clock forward between runs.
	Advance time.Duration `yaml:"advance,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// Assertion checks the result of a scenario.
type Assertion struct {
	Type string `yaml:"type"`

	// Count is the expected number of rows (row_count).
	Count int `yaml:"count,omitempty"`

	// Row is a row that must be present (rows_contain).
	Row []string `yaml:"row,omitempty"`

	// Rows are the exact expected rows (rows_equal).
	Rows [][]string `yaml:"rows,omitempty"`

	// Entry is a journal line (journal_contains).
	Entry string `yaml:"entry,omitempty"`

	// Entries are journal lines in expected order (journal_order).
	Entries []string `yaml:"entries,omitempty"`

	// Run is the 1-based run number and Status its expected status
	// (run_status).
	Run    int    `yaml:"run,omitempty"`
	Status string `yaml:"status,omitempty"`

	// Table, Where and Expect describe a store query (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertRowCount        = "row_count"
	AssertRowsContain     = "rows_contain"
	AssertRowsEqual       = "rows_equal"
	AssertJournalContains = "journal_contains"
	AssertJournalOrder    = "journal_order"
	AssertRunStatus       = "run_status"
	AssertFinalState      = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected, and the program path is resolved relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Program != "" && !filepath.IsAbs(scenario.Program) {
		scenario.Program = filepath.Join(filepath.Dir(path), scenario.Program)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Program == "" {
		return fmt.Errorf("program is required")
	}
	if _, err := os.Stat(s.Program); os.IsNotExist(err) {
		return fmt.Errorf("program file not found: %s", s.Program)
	}
	if len(s.Site) == 0 {
		return fmt.Errorf("site must have at least one page")
	}
	seen := make(map[string]bool, len(s.Site))
	for i, p := range s.Site {
		if p.URL == "" {
			return fmt.Errorf("site[%d]: url is required", i)
		}
		if seen[p.URL] {
			return fmt.Errorf("site[%d]: duplicate url %s", i, p.URL)
		}
		seen[p.URL] = true
	}
	if s.Runs < 0 {
		return fmt.Errorf("runs must be non-negative")
	}
	if s.Advance < 0 {
		return fmt.Errorf("advance must be non-negative")
	}
	if _, err := engine.ParseRunOptions(s.Options); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], s.runCount()); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, runs int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRowCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertRowsContain:
		if len(a.Row) == 0 {
			return fmt.Errorf("assertions[%d]: row is required for rows_contain", index)
		}
	case AssertRowsEqual:
		// An empty rows list asserts that nothing was stored.
	case AssertJournalContains:
		if a.Entry == "" {
			return fmt.Errorf("assertions[%d]: entry is required for journal_contains", index)
		}
	case AssertJournalOrder:
		if len(a.Entries) < 2 {
			return fmt.Errorf("assertions[%d]: journal_order needs at least two entries", index)
		}
	case AssertRunStatus:
		if a.Run < 1 || a.Run > runs {
			return fmt.Errorf("assertions[%d]: run must be between 1 and %d", index, runs)
		}
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for run_status", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func (s *Scenario) runCount() int {
	if s.Runs == 0 {
		return 1
	}
	return s.Runs
}
