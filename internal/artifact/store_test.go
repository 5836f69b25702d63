package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	sources := []Source{{Title: "Solar 101", Snippet: "Basics of PV", Link: "https://example.com/solar"}}
	ref, err := store.Put("sess-1", "research", "solar energy digest", sources)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ref.Version != 1 {
		t.Errorf("expected version 1, got %d", ref.Version)
	}

	got, err := store.Get("sess-1", "research")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "solar energy digest" {
		t.Errorf("unexpected content: %q", got.Content)
	}
	if len(got.Sources) != 1 || got.Sources[0].Title != "Solar 101" {
		t.Errorf("unexpected sources: %+v", got.Sources)
	}
	if got.Checksum != Checksum(got.Content) {
		t.Errorf("stored checksum does not match content")
	}
}

func TestPutWritesNewVersion(t *testing.T) {
	store := NewStore(t.TempDir())

	first, err := store.Put("sess-1", "writing", "draft one", nil)
	if err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	second, err := store.Put("sess-1", "writing", "draft two", nil)
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	if second.Version != first.Version+1 {
		t.Errorf("expected version %d, got %d", first.Version+1, second.Version)
	}

	// The first version must still be readable: completed artifacts are
	// never overwritten.
	if _, err := os.Stat(first.Path); err != nil {
		t.Errorf("first version no longer on disk: %v", err)
	}

	got, err := store.Get("sess-1", "writing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "draft two" {
		t.Errorf("expected latest version content, got %q", got.Content)
	}
}

func TestGetNotFound(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Get("sess-1", "research")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.Exists("sess-1", "research") {
		t.Error("Exists reported true for missing artifact")
	}
}

func TestVerifyDetectsTruncation(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	ref, err := store.Put("sess-1", "editing", "final article text", nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Simulate a crash mid-write: corrupt the content in place.
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		t.Fatal(err)
	}
	broken := strings.Replace(string(data), "final article text", "final arti", 1)
	if err := os.WriteFile(ref.Path, []byte(broken), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Verify("sess-1", "editing"); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
}

func TestPutLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	if _, err := store.Put("sess-1", "research", "content", nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "sess-1", "artifacts"))
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestRemoveSession(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	if _, err := store.Put("sess-1", "research", "content", nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.RemoveSession("sess-1"); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}
	if store.Exists("sess-1", "research") {
		t.Error("artifact still exists after RemoveSession")
	}
}
