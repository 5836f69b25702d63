// Package testutil provides test helper utilities for quill tests.
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/quill-dev/quill/internal/artifact"
	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/stage"
)

// StageResult is one canned outcome for a scripted capability call.
type StageResult struct {
	Content string
	Sources []artifact.Source
	Err     error
	Delay   time.Duration // simulated provider latency
}

// ScriptedCapability implements stage.Capability with canned per-stage
// results, consumed in order. The last result repeats once the script is
// exhausted. Call counts are recorded per stage.
type ScriptedCapability struct {
	mu      sync.Mutex
	Results map[string][]StageResult
	calls   map[string]int
}

// NewScriptedCapability creates a capability from a per-stage script.
func NewScriptedCapability(results map[string][]StageResult) *ScriptedCapability {
	return &ScriptedCapability{
		Results: results,
		calls:   make(map[string]int),
	}
}

// Execute returns the next scripted result for the stage.
func (c *ScriptedCapability) Execute(ctx context.Context, st config.StageConfig, input stage.Input) (*stage.Output, error) {
	c.mu.Lock()
	script := c.Results[st.Name]
	idx := c.calls[st.Name]
	c.calls[st.Name]++
	c.mu.Unlock()

	if len(script) == 0 {
		return &stage.Output{Content: st.Name + " output for " + input.Topic}, nil
	}
	if idx >= len(script) {
		idx = len(script) - 1
	}
	res := script[idx]

	if res.Delay > 0 {
		timer := time.NewTimer(res.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if res.Err != nil {
		return nil, res.Err
	}
	return &stage.Output{Content: res.Content, Sources: res.Sources}, nil
}

// Calls returns how many times the stage was executed.
func (c *ScriptedCapability) Calls(stageName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[stageName]
}

// CorruptArtifact truncates the stored content of the artifact file at
// path without updating its checksum, simulating a crash mid-write.
func CorruptArtifact(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact %s: %v", path, err)
	}
	var art artifact.Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		t.Fatalf("parsing artifact %s: %v", path, err)
	}
	art.Content = art.Content[:len(art.Content)/2]
	broken, err := json.Marshal(art)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, broken, 0644); err != nil {
		t.Fatalf("writing corrupted artifact: %v", err)
	}
}

// FastExecution returns execution settings tuned for tests: short timeout,
// minimal backoff.
func FastExecution() config.ExecutionConfig {
	return config.ExecutionConfig{
		TimeoutPerStage: 5,
		MaxRetries:      2,
		BackoffMs:       1,
		MaxBackoffMs:    4,
	}
}

// TestPipeline returns a validated config with the standard three stages
// and fast execution settings.
func TestPipeline(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Execution = FastExecution()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test pipeline config invalid: %v", err)
	}
	return cfg
}
