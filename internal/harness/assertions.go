package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/harvest/internal/store"
)

// validIdentifier guards table and column names interpolated into
// final_state queries.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError describes a failed assertion. Journal carries the site
// journal for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Journal  []string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Journal) > 0 {
		fmt.Fprintf(&buf, "\nJournal:\n")
		for i, line := range e.Journal {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}
	return buf.String()
}

func assertRowCount(result *Result, a Assertion) error {
	if len(result.Rows) != a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows", a.Count),
			Actual:   fmt.Sprintf("%d rows: %v", len(result.Rows), result.Rows),
			Journal:  result.Journal,
		}
	}
	return nil
}

func assertRowsContain(result *Result, a Assertion) error {
	for _, row := range result.Rows {
		if slices.Equal(row, a.Row) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertRowsContain,
		Expected: fmt.Sprintf("row %q", a.Row),
		Actual:   fmt.Sprintf("not among %d rows: %v", len(result.Rows), result.Rows),
		Journal:  result.Journal,
	}
}

func assertRowsEqual(result *Result, a Assertion) error {
	if len(result.Rows) == len(a.Rows) {
		equal := true
		for i := range a.Rows {
			if !slices.Equal(result.Rows[i], a.Rows[i]) {
				equal = false
				break
			}
		}
		if equal {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertRowsEqual,
		Expected: fmt.Sprintf("rows %v", a.Rows),
		Actual:   fmt.Sprintf("rows %v", result.Rows),
		Journal:  result.Journal,
	}
}

func assertJournalContains(result *Result, a Assertion) error {
	if slices.Contains(result.Journal, a.Entry) {
		return nil
	}
	return &AssertionError{
		Type:     AssertJournalContains,
		Expected: fmt.Sprintf("journal entry %q", a.Entry),
		Actual:   "not found in journal",
		Journal:  result.Journal,
	}
}

// assertJournalOrder checks that the entries occur in order. Each entry is
// matched at its first occurrence after the previous match.
func assertJournalOrder(result *Result, a Assertion) error {
	pos := 0
	for _, entry := range a.Entries {
		i := slices.Index(result.Journal[pos:], entry)
		if i < 0 {
			actual := fmt.Sprintf("missing entry: %s", entry)
			if slices.Contains(result.Journal, entry) {
				actual = fmt.Sprintf("%s occurs before the preceding entries", entry)
			}
			return &AssertionError{
				Type:     AssertJournalOrder,
				Expected: fmt.Sprintf("entries in order: %v", a.Entries),
				Actual:   actual,
				Journal:  result.Journal,
			}
		}
		pos += i + 1
	}
	return nil
}

func assertRunStatus(result *Result, a Assertion) error {
	if a.Run < 1 || a.Run > len(result.Runs) {
		return &AssertionError{
			Type:     AssertRunStatus,
			Expected: fmt.Sprintf("run %d", a.Run),
			Actual:   fmt.Sprintf("%d runs executed", len(result.Runs)),
		}
	}
	run := result.Runs[a.Run-1]
	if run.Status != a.Status {
		actual := fmt.Sprintf("run %d (%s) status %s", a.Run, run.RunID, run.Status)
		if run.Error != "" {
			actual += ": " + run.Error
		}
		return &AssertionError{
			Type:     AssertRunStatus,
			Expected: fmt.Sprintf("run %d status %s", a.Run, a.Status),
			Actual:   actual,
			Journal:  result.Journal,
		}
	}
	return nil
}

// assertFinalState queries a store table and checks that exactly one row
// matches where and carries the expect values.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", a.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", a.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actual := make(map[string]any, len(columns))
	for i, col := range columns {
		actual[col] = values[i]
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		want := a.Expect[key]
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, want, want),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// buildWhereClause builds an AND of equality tests with keys in sorted
// order, so the generated SQL is deterministic.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML value with a value scanned from
// SQLite. Integers scan as int64, text as string or []byte, and booleans
// are stored as integers.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		s, ok := actual.(string)
		return ok && exp == s
	case int:
		n, ok := actual.(int64)
		return ok && int64(exp) == n
	case int64:
		n, ok := actual.(int64)
		return ok && exp == n
	case bool:
		if b, ok := actual.(bool); ok {
			return exp == b
		}
		n, ok := actual.(int64)
		return ok && exp == (n != 0)
	}
	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides the store for final_state assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRowCount:
			err = assertRowCount(result, a)
		case AssertRowsContain:
			err = assertRowsContain(result, a)
		case AssertRowsEqual:
			err = assertRowsEqual(result, a)
		case AssertJournalContains:
			err = assertJournalContains(result, a)
		case AssertJournalOrder:
			err = assertJournalOrder(result, a)
		case AssertRunStatus:
			err = assertRunStatus(result, a)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
