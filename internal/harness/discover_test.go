package harness

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverScenarios(t *testing.T) {
	paths, err := DiscoverScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "scenarios", "list_detail.yaml"),
		filepath.Join("testdata", "scenarios", "skip_rerun.yaml"),
	}, paths)
}

func TestDiscoverSingleFile(t *testing.T) {
	path := filepath.Join("testdata", "scenarios", "list_detail.yaml")
	paths, err := DiscoverScenarios(path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)
}

func TestDiscoverIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	for _, name := range []string{"b.yml", "a.yaml", "notes.txt", "nested/c.YAML"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	paths, err := DiscoverScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "b.yml"),
		filepath.Join(dir, "nested", "c.YAML"),
	}, paths)
}

func TestDiscoverMissingPath(t *testing.T) {
	_, err := DiscoverScenarios(filepath.Join("testdata", "nowhere"))
	var nf *ScenarioNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Contains(t, nf.Error(), "nowhere")
}

func TestRunAll(t *testing.T) {
	paths := []string{
		filepath.Join("testdata", "scenarios", "list_detail.yaml"),
		filepath.Join("testdata", "invalid", "unknown_field.yaml"),
	}
	summary := RunAll(paths)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, paths[1], summary.Failures[0].Path)
	assert.Contains(t, summary.Failures[0].Errors[0], "failed to load scenario")
}
