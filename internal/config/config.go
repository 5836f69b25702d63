// Package config handles reading and writing .quill/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for .quill/config.yaml.
type Config struct {
	Version   int             `yaml:"version"`
	Stages    []StageConfig   `yaml:"stages"`
	Execution ExecutionConfig `yaml:"execution"`
	Retention RetentionConfig `yaml:"retention"`
}

// StageConfig defines one pipeline stage and the agent that runs it.
type StageConfig struct {
	Name           string `yaml:"name"`
	Agent          string `yaml:"agent"`
	Goal           string `yaml:"goal"`
	ExpectedOutput string `yaml:"expected_output"`
}

// ExecutionConfig controls stage execution behaviour.
type ExecutionConfig struct {
	TimeoutPerStage int `yaml:"timeout_per_stage"` // seconds
	MaxRetries      int `yaml:"max_retries"`       // transient retries per stage
	BackoffMs       int `yaml:"backoff_ms"`        // base delay between retries
	MaxBackoffMs    int `yaml:"max_backoff_ms"`    // backoff cap
}

// RetentionConfig controls garbage collection of finished sessions.
type RetentionConfig struct {
	MaxAgeDays int `yaml:"max_age_days"`
	KeepRecent int `yaml:"keep_recent"`
}

// configFileName is the path relative to the workspace root.
const configDir = ".quill"
const configFile = "config.yaml"

// Dir returns the .quill directory under root.
func Dir(root string) string {
	return filepath.Join(root, configDir)
}

// ReadConfig reads .quill/config.yaml from the given workspace directory.
// dir is the workspace root (not .quill/ itself).
// Returns an error if the file is not found, the YAML is malformed, or the
// config fails validation.
func ReadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configDir, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// WriteConfig writes cfg to .quill/config.yaml in the given workspace directory.
// Creates the .quill/ directory if it does not exist.
func WriteConfig(dir string, cfg *Config) error {
	dirPath := filepath.Join(dir, configDir)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(dirPath, configFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Validate checks the config once at startup. A validated Config is treated
// as immutable afterwards.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return fmt.Errorf("no stages defined")
	}

	seen := make(map[string]bool, len(c.Stages))
	for i, st := range c.Stages {
		if st.Name == "" {
			return fmt.Errorf("stage %d: name is empty", i)
		}
		if seen[st.Name] {
			return fmt.Errorf("stage %q: duplicate name", st.Name)
		}
		seen[st.Name] = true
		if st.Agent == "" {
			return fmt.Errorf("stage %q: agent is empty", st.Name)
		}
	}

	if c.Execution.TimeoutPerStage <= 0 {
		return fmt.Errorf("execution.timeout_per_stage must be positive")
	}
	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("execution.max_retries must not be negative")
	}
	if c.Execution.BackoffMs < 0 || c.Execution.MaxBackoffMs < 0 {
		return fmt.Errorf("execution backoff values must not be negative")
	}

	return nil
}

// StageNames returns the stage names in pipeline order.
func (c *Config) StageNames() []string {
	names := make([]string, len(c.Stages))
	for i, st := range c.Stages {
		names[i] = st.Name
	}
	return names
}

// StageTimeout returns the per-stage timeout as a duration.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Execution.TimeoutPerStage) * time.Second
}

// DefaultConfig returns a Config populated with the standard
// research -> writing -> editing pipeline.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Stages: []StageConfig{
			{
				Name:           "research",
				Agent:          "researcher",
				Goal:           "Gather sources and citations on the session topic",
				ExpectedOutput: "A markdown digest of sources with titles, snippets and links",
			},
			{
				Name:           "writing",
				Agent:          "writer",
				Goal:           "Write an article grounded in the research digest",
				ExpectedOutput: "A markdown article citing the research sources",
			},
			{
				Name:           "editing",
				Agent:          "editor",
				Goal:           "Review the article for accuracy and approve it",
				ExpectedOutput: "An edited final article with a review verdict",
			},
		},
		Execution: ExecutionConfig{
			TimeoutPerStage: 600,
			MaxRetries:      3,
			BackoffMs:       500,
			MaxBackoffMs:    8000,
		},
		Retention: RetentionConfig{
			MaxAgeDays: 30,
			KeepRecent: 10,
		},
	}
}
