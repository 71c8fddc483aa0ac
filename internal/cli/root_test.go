package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harvest/internal/config"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "harvest", cmd.Use)
	assert.Contains(t, cmd.Long, "Skip blocks")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"run", "validate", "test", "serve", "export", "relations", "trace"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, config.DefaultPath, configFlag.DefValue)
}

func TestSubcommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flags   []string
	}{
		{"test", []string{"update", "filter", "golden-dir"}},
		{"serve", []string{"db", "addr"}},
		{"export", []string{"db", "backend", "dataset", "output"}},
		{"relations", []string{"db", "backend", "limit"}},
		{"trace", []string{"db", "block"}},
	}
	root := NewRootCommand()
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			sub, _, err := root.Find([]string{tt.command})
			require.NoError(t, err)
			for _, name := range tt.flags {
				assert.NotNil(t, sub.Flags().Lookup(name), "--%s", name)
			}
		})
	}
}

func TestFormatValidationIntegration(t *testing.T) {
	_, _, err := execute(NewRootCommand(), "--format", "xml", "validate", shopProgram())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootLoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "from-config.db")
	cfgPath := filepath.Join(dir, "harvest.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database: "+db+"\n"), 0644))
	seedRows(t, db)

	out, _, err := execute(NewRootCommand(), "--config", cfgPath, "export", "--dataset", "blog")
	require.NoError(t, err)
	assert.Equal(t, "Hello\n", out)
}

func TestRootEnvironmentOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "from-env.db")
	seedRows(t, db)
	t.Setenv(config.EnvDatabase, db)

	out, _, err := execute(NewRootCommand(), "--config", filepath.Join(dir, "missing.yaml"), "export")
	require.NoError(t, err)
	assert.Contains(t, out, "shop\t2 rows")
}

func TestRootRejectsBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "harvest.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("pager:\n  poll_interval: -1s\n"), 0644))

	_, _, err := execute(NewRootCommand(), "--config", cfgPath, "validate", shopProgram())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRootValidateThroughRoot(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "none.yaml")
	out, _, err := execute(NewRootCommand(), "--config", cfgPath, "--format", "json", "validate", shopProgram())
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
}
