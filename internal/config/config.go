// Package config loads harvest.yaml.
//
// Every field has a default, so a missing file is not an error. The
// environment overrides the file (HARVEST_DB, HARVEST_BACKEND_URL); the
// CLI's flags override both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/pager"
	"github.com/roach88/harvest/internal/skipblock"
)

// DefaultPath is where the CLI looks when --config is not given.
const DefaultPath = "harvest.yaml"

// Environment variables read by Load.
const (
	EnvDatabase   = "HARVEST_DB"
	EnvBackendURL = "HARVEST_BACKEND_URL"
)

// Config is the contents of harvest.yaml.
type Config struct {
	// Database is the SQLite file used when BackendURL is empty.
	Database string `yaml:"database"`
	// BackendURL points at a `harvest serve` instance shared by workers.
	BackendURL string `yaml:"backend_url,omitempty"`
	WorkerID   string `yaml:"worker_id,omitempty"`

	Browser BrowserConfig `yaml:"browser"`
	Pager   PagerConfig   `yaml:"pager"`
	Skip    SkipConfig    `yaml:"skip"`
	// Run holds default run options, keyed as engine.ParseRunOptions
	// expects.
	Run map[string]any `yaml:"run,omitempty"`
}

// BrowserConfig controls the go-rod browser.
type BrowserConfig struct {
	Headless bool `yaml:"headless"`
	// DebuggerURL connects to a running browser instead of launching one.
	DebuggerURL string `yaml:"debugger_url,omitempty"`
	// Launch is the browser binary. Empty lets rod find or fetch one.
	Launch            string        `yaml:"launch,omitempty"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

// PagerConfig mirrors pager.Config.
type PagerConfig struct {
	RelationTimeout        time.Duration `yaml:"relation_timeout"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	NextButtonAttempts     int           `yaml:"next_button_attempts"`
	NextInteractionTimeout time.Duration `yaml:"next_interaction_timeout"`
}

// SkipConfig tunes the duplicate detector.
type SkipConfig struct {
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	pc := pager.DefaultConfig()
	return &Config{
		Database: "harvest.db",
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: 30 * time.Second,
		},
		Pager: PagerConfig{
			RelationTimeout:        pc.RelationTimeout,
			PollInterval:           pc.PollInterval,
			NextButtonAttempts:     pc.NextButtonAttempts,
			NextInteractionTimeout: pc.NextInteractionTimeout,
		},
		Skip: SkipConfig{RetryDelay: skipblock.DefaultRetryDelay},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if path := os.Getenv(EnvDatabase); path != "" {
		c.Database = path
	}
	if url := os.Getenv(EnvBackendURL); url != "" {
		c.BackendURL = url
	}
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	if c.Database == "" && c.BackendURL == "" {
		return fmt.Errorf("one of database or backend_url is required")
	}
	for name, d := range map[string]time.Duration{
		"pager.relation_timeout":         c.Pager.RelationTimeout,
		"pager.poll_interval":            c.Pager.PollInterval,
		"pager.next_interaction_timeout": c.Pager.NextInteractionTimeout,
		"browser.navigation_timeout":     c.Browser.NavigationTimeout,
		"skip.retry_delay":               c.Skip.RetryDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s: negative duration %s", name, d)
		}
	}
	if c.Pager.NextButtonAttempts < 1 {
		return fmt.Errorf("pager.next_button_attempts: must be at least 1, got %d", c.Pager.NextButtonAttempts)
	}
	if err := c.PagerConfig().Validate(); err != nil {
		return fmt.Errorf("pager: %w", err)
	}
	if _, err := c.RunOptions(); err != nil {
		return err
	}
	return nil
}

// Worker returns the configured worker id, generating one if unset.
func (c *Config) Worker() string {
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	return c.WorkerID
}

// PagerConfig converts the pager section.
func (c *Config) PagerConfig() pager.Config {
	return pager.Config{
		RelationTimeout:        c.Pager.RelationTimeout,
		PollInterval:           c.Pager.PollInterval,
		NextButtonAttempts:     c.Pager.NextButtonAttempts,
		NextInteractionTimeout: c.Pager.NextInteractionTimeout,
	}
}

// RunOptions parses the run section.
func (c *Config) RunOptions() (engine.RunOptions, error) {
	return engine.ParseRunOptions(c.Run)
}
