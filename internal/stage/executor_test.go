package stage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quill-dev/quill/internal/artifact"
	"github.com/quill-dev/quill/internal/progress"
	"github.com/quill-dev/quill/internal/stage"
	"github.com/quill-dev/quill/internal/testutil"
)

func newHarness(t *testing.T, results map[string][]testutil.StageResult) (*stage.Executor, *progress.Log, *artifact.Store, *testutil.ScriptedCapability) {
	t.Helper()
	root := t.TempDir()
	store := artifact.NewStore(root)
	log, err := progress.Open(root+"/sess-1", "sess-1")
	if err != nil {
		t.Fatalf("opening progress log: %v", err)
	}
	cap := testutil.NewScriptedCapability(results)
	exec := stage.NewExecutor(cap, store, testutil.FastExecution())
	return exec, log, store, cap
}

func researchStage(t *testing.T) testutil.StageResult {
	t.Helper()
	return testutil.StageResult{Content: "digest", Sources: []artifact.Source{{Title: "S1"}}}
}

func TestRunSuccessPersistsArtifactAndEvents(t *testing.T) {
	exec, log, store, cap := newHarness(t, map[string][]testutil.StageResult{
		"research": {researchStage(t)},
	})
	cfg := testutil.TestPipeline(t)

	ref, attempts, err := exec.Run(context.Background(), log, "sess-1", cfg.Stages[0], stage.Input{Topic: "solar energy"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ref.Version != 1 {
		t.Errorf("expected artifact version 1, got %d", ref.Version)
	}
	if attempts != 1 {
		t.Errorf("expected 1 reported attempt, got %d", attempts)
	}
	if cap.Calls("research") != 1 {
		t.Errorf("expected exactly one capability call, got %d", cap.Calls("research"))
	}

	got, err := store.Get("sess-1", "research")
	if err != nil {
		t.Fatalf("artifact not readable: %v", err)
	}
	if got.Content != "digest" {
		t.Errorf("unexpected artifact content %q", got.Content)
	}

	events, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	kinds := eventKinds(events)
	want := []string{progress.KindStarted, progress.KindCompleted}
	if !equalStrings(kinds, want) {
		t.Errorf("expected events %v, got %v", want, kinds)
	}
}

func TestRunRetriesTransientErrors(t *testing.T) {
	exec, log, _, cap := newHarness(t, map[string][]testutil.StageResult{
		"research": {
			{Err: &stage.TransientError{Err: errors.New("provider unavailable")}},
			{Err: &stage.TransientError{Err: errors.New("provider unavailable")}},
			{Content: "digest"},
		},
	})
	cfg := testutil.TestPipeline(t)

	_, attempts, err := exec.Run(context.Background(), log, "sess-1", cfg.Stages[0], stage.Input{Topic: "solar energy"})
	if err != nil {
		t.Fatalf("Run failed after retries: %v", err)
	}
	if cap.Calls("research") != 3 {
		t.Errorf("expected 3 attempts, got %d", cap.Calls("research"))
	}
	if attempts != 3 {
		t.Errorf("expected Run to report 3 attempts, got %d", attempts)
	}

	events, _ := log.ReadAll()
	kinds := eventKinds(events)
	want := []string{progress.KindStarted, progress.KindRetried, progress.KindRetried, progress.KindCompleted}
	if !equalStrings(kinds, want) {
		t.Errorf("expected events %v, got %v", want, kinds)
	}
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	transient := &stage.TransientError{Err: errors.New("provider unavailable")}
	exec, log, _, cap := newHarness(t, map[string][]testutil.StageResult{
		"research": {{Err: transient}},
	})
	cfg := testutil.TestPipeline(t)

	_, attempts, err := exec.Run(context.Background(), log, "sess-1", cfg.Stages[0], stage.Input{Topic: "solar energy"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !stage.IsTransient(err) {
		t.Errorf("expected transient error to surface, got %v", err)
	}
	// MaxRetries=2 means three attempts total.
	if cap.Calls("research") != 3 {
		t.Errorf("expected 3 attempts, got %d", cap.Calls("research"))
	}
	if attempts != 3 {
		t.Errorf("expected Run to report 3 attempts, got %d", attempts)
	}

	events, _ := log.ReadAll()
	last := events[len(events)-1]
	if last.Kind != progress.KindFailed {
		t.Errorf("expected final failed event, got %s", last.Kind)
	}
}

func TestRunDoesNotRetryValidationErrors(t *testing.T) {
	exec, log, _, cap := newHarness(t, map[string][]testutil.StageResult{
		"research": {{Err: &stage.ValidationError{Reason: "empty topic"}}},
	})
	cfg := testutil.TestPipeline(t)

	_, _, err := exec.Run(context.Background(), log, "sess-1", cfg.Stages[0], stage.Input{})
	var validation *stage.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if cap.Calls("research") != 1 {
		t.Errorf("validation errors must not be retried, got %d attempts", cap.Calls("research"))
	}

	events, _ := log.ReadAll()
	kinds := eventKinds(events)
	want := []string{progress.KindStarted, progress.KindFailed}
	if !equalStrings(kinds, want) {
		t.Errorf("expected events %v, got %v", want, kinds)
	}
}

func TestRunTimeoutSurfacesAfterBudget(t *testing.T) {
	root := t.TempDir()
	store := artifact.NewStore(root)
	log, err := progress.Open(root+"/sess-1", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	cap := testutil.NewScriptedCapability(map[string][]testutil.StageResult{
		"research": {{Content: "late", Delay: 2 * time.Second}},
	})
	cfg := testutil.FastExecution()
	cfg.TimeoutPerStage = 1
	cfg.MaxRetries = 0
	exec := stage.NewExecutor(cap, store, cfg)

	pipeline := testutil.TestPipeline(t)
	_, _, err = exec.Run(context.Background(), log, "sess-1", pipeline.Stages[0], stage.Input{Topic: "solar energy"})
	var timeout *stage.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if store.Exists("sess-1", "research") {
		t.Error("timed-out stage must not persist an artifact")
	}
}

func TestRunCancelAbandonsRetries(t *testing.T) {
	exec, log, _, cap := newHarness(t, map[string][]testutil.StageResult{
		"research": {{Err: &stage.TransientError{Err: errors.New("flaky")}, Delay: 50 * time.Millisecond}},
	})
	cfg := testutil.TestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := exec.Run(ctx, log, "sess-1", cfg.Stages[0], stage.Input{Topic: "solar energy"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	// The in-flight attempt finishes; no further attempts start.
	if calls := cap.Calls("research"); calls != 1 {
		t.Errorf("expected 1 attempt before cancel took effect, got %d", calls)
	}

	events, _ := log.ReadAll()
	last := events[len(events)-1]
	if last.Kind != progress.KindFailed {
		t.Errorf("cancelled run must still record a failed event, got %s", last.Kind)
	}
}

func eventKinds(events []progress.Event) []string {
	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
