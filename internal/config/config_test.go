package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	if err := WriteConfig(dir, cfg); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	got, err := ReadConfig(dir)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}

	if len(got.Stages) != 3 {
		t.Errorf("expected 3 stages, got %d", len(got.Stages))
	}
	want := []string{"research", "writing", "editing"}
	for i, name := range got.StageNames() {
		if name != want[i] {
			t.Errorf("stage %d: expected %s, got %s", i, want[i], name)
		}
	}
	if got.Execution.MaxRetries != cfg.Execution.MaxRetries {
		t.Errorf("expected max_retries %d, got %d", cfg.Execution.MaxRetries, got.Execution.MaxRetries)
	}
}

func TestReadConfigMissingFile(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadConfig(dir); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestReadConfigMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".quill"), 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, ".quill", "config.yaml")
	if err := os.WriteFile(path, []byte("stages: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadConfig(dir); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid default",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "no stages",
			mutate:  func(c *Config) { c.Stages = nil },
			wantErr: "no stages",
		},
		{
			name: "duplicate stage name",
			mutate: func(c *Config) {
				c.Stages[1].Name = c.Stages[0].Name
			},
			wantErr: "duplicate",
		},
		{
			name: "empty agent",
			mutate: func(c *Config) {
				c.Stages[0].Agent = ""
			},
			wantErr: "agent is empty",
		},
		{
			name: "zero timeout",
			mutate: func(c *Config) {
				c.Execution.TimeoutPerStage = 0
			},
			wantErr: "timeout_per_stage",
		},
		{
			name: "negative retries",
			mutate: func(c *Config) {
				c.Execution.MaxRetries = -1
			},
			wantErr: "max_retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
