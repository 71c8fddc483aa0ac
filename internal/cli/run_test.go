package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harvest/internal/config"
	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/store"
	"github.com/roach88/harvest/internal/testutil"
)

func simRun(root *RootOptions, names ...string) *RunOptions {
	site := shopSite(names...)
	return &RunOptions{
		RootOptions: root,
		Executor:    site,
		Browser:     site,
		IDGenerator: testutil.NewSequenceIDGenerator("run"),
	}
}

func storedRows(t *testing.T, path, dataset string) [][]string {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	records, err := st.Rows(context.Background(), dataset)
	require.NoError(t, err)
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = r.Cells
	}
	return rows
}

func TestRunProgramStoresRows(t *testing.T) {
	root := testRoot(t, "text")
	out, errOut, err := execute(newRunCommand(simRun(root, "Lamp", "Chair")), shopProgram())
	require.NoError(t, err)

	assert.Equal(t, "Lamp\tLAMP\nChair\tCHAIR\n", out)
	assert.Contains(t, errOut, "run run-1 finished: 2 rows into shop")
	assert.Equal(t, [][]string{{"Lamp", "LAMP"}, {"Chair", "CHAIR"}}, storedRows(t, root.Config.Database, "shop"))
}

func TestRunProgramJSON(t *testing.T) {
	root := testRoot(t, "json")
	out, _, err := execute(newRunCommand(simRun(root, "Lamp")), shopProgram(), "--dataset", "lamps")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.Data.RunID)
	assert.Equal(t, store.RunFinished, resp.Data.Status)
	assert.Equal(t, "lamps", resp.Data.Dataset)
	assert.Equal(t, 1, resp.Data.Rows)
	assert.Len(t, storedRows(t, root.Config.Database, "lamps"), 1)
}

func TestRerunSkipsCommittedRows(t *testing.T) {
	root := testRoot(t, "text")
	_, _, err := execute(newRunCommand(simRun(root, "Lamp", "Chair")), shopProgram())
	require.NoError(t, err)

	second := simRun(root, "Lamp", "Chair")
	second.IDGenerator = testutil.NewSequenceIDGenerator("again")
	out, errOut, err := execute(newRunCommand(second), shopProgram())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "run again-1 finished: 0 rows")
	assert.Len(t, storedRows(t, root.Config.Database, "shop"), 2)
}

func TestRunDatabaseFlagOverridesConfig(t *testing.T) {
	root := testRoot(t, "text")
	root.Config.BackendURL = "http://unused.test"
	db := root.Config.Database + ".flag"

	_, _, err := execute(newRunCommand(simRun(root, "Lamp")), shopProgram(), "--db", db)
	require.NoError(t, err)
	assert.Len(t, storedRows(t, db, "shop"), 1)
}

func TestRunCompileError(t *testing.T) {
	root := testRoot(t, "text")
	out, _, err := execute(newRunCommand(simRun(root)), "testdata/broken.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
}

func TestRunRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown option", []string{"--set", "turbo=true"}},
		{"malformed set", []string{"--set", "parallel"}},
		{"malformed param", []string{"--param", "genre"}},
		{"bad partition", []string{"--partition", "5/2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := testRoot(t, "text")
			out, _, err := execute(newRunCommand(simRun(root, "Lamp")), append([]string{shopProgram()}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "invalid run options")
		})
	}
}

func TestBuildRunOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Run = map[string]any{
		"parallel":   true,
		"parameters": map[string]any{"genre": "fiction", "lang": "en"},
	}
	opts := &RunOptions{
		Dataset:   "books",
		Params:    []string{"genre=history"},
		Set:       []string{"break_after_duplicates_in_a_row = 4"},
		Partition: "1/3",
		MaxSteps:  500,
	}

	got, err := buildRunOptions(cfg, opts)
	require.NoError(t, err)
	assert.True(t, got.Parallel)
	assert.Equal(t, "books", got.DatasetID)
	assert.Equal(t, map[string]string{"genre": "history", "lang": "en"}, got.Parameters)
	assert.Equal(t, 4, got.BreakAfterDuplicatesInARow)
	assert.Equal(t, 1, got.HashPartition.Index)
	assert.Equal(t, 3, got.HashPartition.Workers)
	assert.Equal(t, 500, got.MaxSteps)
	assert.Equal(t, map[string]any{"genre": "fiction", "lang": "en"}, cfg.Run["parameters"], "config is not modified")
}

func TestBuildRunOptionsUnknownKey(t *testing.T) {
	_, err := buildRunOptions(config.Default(), &RunOptions{Set: []string{"turbo=1"}})
	require.Error(t, err)
	assert.True(t, engine.IsUnknownOptionError(err))
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{})
	for _, name := range []string{"db", "backend", "dataset", "param", "set", "partition", "max-steps", "headless", "yes"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "p", cmd.Flags().Lookup("param").Shorthand)
	assert.Equal(t, "true", cmd.Flags().Lookup("headless").DefValue)
}
