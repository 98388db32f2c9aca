package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// validStrategies are the accepted spellings for sync.strategy. Parsing into
// the typed enum happens in the sync package; config only validates spelling.
var validStrategies = []string{"skip", "pull", "push", "auto"}

// defaultDebounce is the quiet period for coalescing watch events.
const defaultDebounce = time.Second

// Config represents the complete flowsyncd configuration
type Config struct {
	Remote RemoteConfig `yaml:"remote"`
	Paths  PathsConfig  `yaml:"paths"`
	Sync   SyncConfig   `yaml:"sync"`
	Watch  WatchConfig  `yaml:"watch"`
}

// RemoteConfig configures the workflow server connection
type RemoteConfig struct {
	BaseURL   string `yaml:"base_url"`
	TokenFile string `yaml:"token_file"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	WorkflowsDir string `yaml:"workflows_dir"`
	StateDir     string `yaml:"state_dir"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	Strategy    string `yaml:"strategy"`     // conflict strategy: skip, pull, push or auto
	ValidateCmd string `yaml:"validate_cmd"` // optional command run before remote-facing actions
}

// WatchConfig configures watch mode
type WatchConfig struct {
	Debounce string `yaml:"debounce"` // quiet period, e.g. "1s" or "500ms"
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Remote.BaseURL = os.ExpandEnv(c.Remote.BaseURL)
	c.Remote.TokenFile = os.ExpandEnv(c.Remote.TokenFile)
	c.Paths.WorkflowsDir = os.ExpandEnv(c.Paths.WorkflowsDir)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Sync.ValidateCmd = os.ExpandEnv(c.Sync.ValidateCmd)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Sync.Strategy == "" {
		c.Sync.Strategy = "skip"
	}
	if c.Watch.Debounce == "" {
		c.Watch.Debounce = defaultDebounce.String()
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate remote config
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("remote.base_url must be an http(s) URL: %s", c.Remote.BaseURL)
	}

	// Validate paths
	if c.Paths.WorkflowsDir == "" {
		return fmt.Errorf("paths.workflows_dir is required")
	}
	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir is required")
	}

	// Ensure paths are absolute
	if !filepath.IsAbs(c.Paths.WorkflowsDir) {
		return fmt.Errorf("paths.workflows_dir must be an absolute path: %s", c.Paths.WorkflowsDir)
	}
	if !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}

	// Validate conflict strategy
	valid := false
	for _, s := range validStrategies {
		if c.Sync.Strategy == s {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid sync.strategy: %s (must be skip, pull, push or auto)", c.Sync.Strategy)
	}

	// Validate watch debounce
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return fmt.Errorf("invalid watch.debounce: %s: %w", c.Watch.Debounce, err)
	}
	if d <= 0 {
		return fmt.Errorf("watch.debounce must be positive: %s", c.Watch.Debounce)
	}

	return nil
}

// BaselinePath returns the path to the persisted baseline file
func (c *Config) BaselinePath() string {
	return filepath.Join(c.Paths.StateDir, "baseline.json")
}

// DebounceInterval returns the parsed watch debounce duration
func (c *Config) DebounceInterval() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return defaultDebounce
	}
	return d
}
