package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	harnessScenarios = filepath.Join("..", "harness", "testdata", "scenarios")
	harnessGolden    = filepath.Join("..", "harness", "testdata", "golden")
)

// writeFailingScenario writes a scenario whose row count assertion cannot
// hold.
func writeFailingScenario(t *testing.T, dir string) string {
	t.Helper()
	program, err := filepath.Abs(filepath.Join("testdata", "shop.yaml"))
	require.NoError(t, err)
	body := `name: too_many
program: ` + program + `
site:
  - url: https://shop.test/items
    lists:
      - row_xpath: /html/body/ul/li[*]
        rows:
          - [{suffix: /a, text: Lamp, link: "https://shop.test/items/1"}]
  - url: https://shop.test/items/1
    nodes:
      - {xpath: //h1, text: Brass lamp}
assertions:
  - type: row_count
    count: 5
`
	path := filepath.Join(dir, "too_many.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, _, err := execute(NewTestCommand(testRoot(t, "text")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestTestCommandPathNotFound(t *testing.T) {
	out, _, err := execute(NewTestCommand(testRoot(t, "text")), "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "scenario path not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, _, err := execute(NewTestCommand(testRoot(t, "text")), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyDirJSON(t *testing.T) {
	out, _, err := execute(NewTestCommand(testRoot(t, "json")), t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Total)
}

func TestTestCommandPassesWithGolden(t *testing.T) {
	out, _, err := execute(NewTestCommand(testRoot(t, "text")), harnessScenarios, "--golden-dir", harnessGolden)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ list_detail")
	assert.Contains(t, out, "✓ skip_rerun")
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandJSON(t *testing.T) {
	out, _, err := execute(NewTestCommand(testRoot(t, "json")), harnessScenarios, "--golden-dir", harnessGolden)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Passed)
	for _, sr := range resp.Data.Scenarios {
		assert.Equal(t, "matched", sr.Golden, sr.Name)
	}
}

func TestTestCommandFilter(t *testing.T) {
	out, _, err := execute(NewTestCommand(testRoot(t, "text")), harnessScenarios,
		"--golden-dir", harnessGolden, "--filter", "skip_*")
	require.NoError(t, err)
	assert.NotContains(t, out, "list_detail")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandBadFilter(t *testing.T) {
	_, _, err := execute(NewTestCommand(testRoot(t, "text")), harnessScenarios, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandMissingGoldenStillPasses(t *testing.T) {
	file := filepath.Join(harnessScenarios, "list_detail.yaml")
	out, _, err := execute(NewTestCommand(testRoot(t, "json")), file, "--golden-dir", t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Scenarios, 1)
	assert.True(t, resp.Data.Scenarios[0].Pass)
	assert.Equal(t, "missing", resp.Data.Scenarios[0].Golden)
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(harnessScenarios, "list_detail.yaml")
	out, _, err := execute(NewTestCommand(testRoot(t, "text")), file, "--golden-dir", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ list_detail (golden updated)")

	got, err := os.ReadFile(filepath.Join(dir, "list_detail.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(harnessGolden, "list_detail.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "list_detail.golden"), []byte(`{"rows":[]}`), 0644))

	out, _, err := execute(NewTestCommand(testRoot(t, "text")),
		filepath.Join(harnessScenarios, "list_detail.yaml"), "--golden-dir", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ list_detail")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandAssertionFailure(t *testing.T) {
	dir := t.TempDir()
	writeFailingScenario(t, dir)

	out, _, err := execute(NewTestCommand(testRoot(t, "json")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "too_many", resp.Data.Scenarios[0].Name)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommandReportsLoadErrors(t *testing.T) {
	invalid := filepath.Join("..", "harness", "testdata", "invalid", "unknown_field.yaml")
	out, _, err := execute(NewTestCommand(testRoot(t, "text")), invalid)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "failed to load scenario")
}

func TestFilterScenarios(t *testing.T) {
	files := []string{"a/shop-list.yaml", "a/shop-detail.yml", "b/blog.yaml"}
	assert.Equal(t, files, filterScenarios(files, ""))
	assert.Equal(t, []string{"a/shop-list.yaml", "a/shop-detail.yml"}, filterScenarios(files, "shop-*"))
	assert.Empty(t, filterScenarios(files, "nothing"))
}
