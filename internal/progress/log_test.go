package progress

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, "sess-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 1; i <= 5; i++ {
		seq, err := log.Append(Event{Stage: "research", Kind: KindStarted, Attempt: i})
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if seq != uint64(i) {
			t.Errorf("append %d: expected seq %d, got %d", i, i, seq)
		}
	}

	events, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, ev.Seq)
		}
		if ev.SessionID != "sess-1" {
			t.Errorf("event %d: expected session sess-1, got %s", i, ev.SessionID)
		}
		if ev.Time.IsZero() {
			t.Errorf("event %d: timestamp not set", i)
		}
	}
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, "sess-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := log.Append(Event{Stage: "research", Kind: KindStarted}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := log.Append(Event{Stage: "research", Kind: KindCompleted}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Simulate a second process attaching to the same session.
	reopened, err := Open(dir, "sess-1")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	seq, err := reopened.Append(Event{Stage: "writing", Kind: KindStarted})
	if err != nil {
		t.Fatalf("Append after reopen failed: %v", err)
	}
	if seq != 3 {
		t.Errorf("expected seq 3 after reopen, got %d", seq)
	}
}

func TestAppendSurfacesWriteErrorWithoutConsumingSeq(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, "sess-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := log.Append(Event{Stage: "research", Kind: KindStarted}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Make the log path unwritable by replacing the file with a directory.
	path := filepath.Join(dir, logFileName)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(path, 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := log.Append(Event{Stage: "research", Kind: KindCompleted}); err == nil {
		t.Fatal("expected error appending to unwritable log")
	}

	// The failed append must not burn a sequence number.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	seq, err := log.Append(Event{Stage: "research", Kind: KindCompleted})
	if err != nil {
		t.Fatalf("Append after recovery failed: %v", err)
	}
	if seq != 2 {
		t.Errorf("expected seq 2 after failed append, got %d", seq)
	}
}

func TestReadAllEmptyWhenNoFile(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, "sess-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	events, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestReadAllRejectsCorruptLine(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(dir, "sess-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := log.Append(Event{Stage: "research", Kind: KindStarted}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Corrupt the log by appending a truncated line.
	f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"seq":2,"sess`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := log.ReadAll(); err == nil {
		t.Fatal("expected error for corrupt log line")
	}
}
