package cleanup

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quill-dev/quill/internal/session"
)

type fixture struct {
	store       *session.Store
	dbPath      string
	sessionsDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	dbPath := filepath.Join(root, "sessions.db")
	store, err := session.NewStore(dbPath)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{store: store, dbPath: dbPath, sessionsDir: filepath.Join(root, "sessions")}
}

// createSession creates a session with a populated storage partition and
// backdates its updated_at to age days ago.
func (f *fixture) createSession(t *testing.T, topic string, age int) string {
	t.Helper()
	sess, err := f.store.CreateSession(topic)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	dir := filepath.Join(f.sessionsDir, sess.ID)
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "events.jsonl"), []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if age > 0 {
		db, err := sql.Open("sqlite3", f.dbPath)
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		when := time.Now().AddDate(0, 0, -age)
		if _, err := db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, when, sess.ID); err != nil {
			t.Fatalf("backdating session: %v", err)
		}
	}

	return sess.ID
}

func TestPruneByAgeRemovesOldSessions(t *testing.T) {
	f := newFixture(t)
	old := f.createSession(t, "stale topic", 60)
	recent := f.createSession(t, "fresh topic", 5)

	pruned, err := PruneByAge(f.store, f.sessionsDir, 30, false, nil)
	if err != nil {
		t.Fatalf("PruneByAge failed: %v", err)
	}
	if len(pruned) != 1 || pruned[0] != old {
		t.Errorf("expected pruned=[%s], got %v", old, pruned)
	}

	if _, err := os.Stat(filepath.Join(f.sessionsDir, old)); !os.IsNotExist(err) {
		t.Errorf("expected %s directory to be deleted", old)
	}
	if sess, _ := f.store.GetSession(old); sess != nil {
		t.Error("expected session record to be deleted")
	}

	if _, err := os.Stat(filepath.Join(f.sessionsDir, recent)); err != nil {
		t.Errorf("expected %s to still exist: %v", recent, err)
	}
}

func TestPruneByAgeDryRun(t *testing.T) {
	f := newFixture(t)
	old := f.createSession(t, "stale topic", 60)

	pruned, err := PruneByAge(f.store, f.sessionsDir, 30, true, nil)
	if err != nil {
		t.Fatalf("PruneByAge dry-run failed: %v", err)
	}
	if len(pruned) != 1 || pruned[0] != old {
		t.Errorf("expected pruned=[%s], got %v", old, pruned)
	}

	if _, err := os.Stat(filepath.Join(f.sessionsDir, old)); err != nil {
		t.Errorf("expected %s to survive dry-run: %v", old, err)
	}
	if sess, _ := f.store.GetSession(old); sess == nil {
		t.Error("expected session record to survive dry-run")
	}
}

func TestPruneByAgeNeverRemovesLiveSessions(t *testing.T) {
	f := newFixture(t)
	old := f.createSession(t, "stale but live", 60)

	pruned, err := PruneByAge(f.store, f.sessionsDir, 30, false, func(id string) bool {
		return id == old
	})
	if err != nil {
		t.Fatalf("PruneByAge failed: %v", err)
	}
	if len(pruned) != 0 {
		t.Errorf("expected no pruning of live session, got %v", pruned)
	}
	if _, err := os.Stat(filepath.Join(f.sessionsDir, old)); err != nil {
		t.Errorf("live session directory removed: %v", err)
	}
}

func TestPruneKeepRecent(t *testing.T) {
	f := newFixture(t)
	oldest := f.createSession(t, "first", 30)
	middle := f.createSession(t, "second", 20)
	newest := f.createSession(t, "third", 10)

	pruned, err := PruneKeepRecent(f.store, f.sessionsDir, 2, false, nil)
	if err != nil {
		t.Fatalf("PruneKeepRecent failed: %v", err)
	}
	if len(pruned) != 1 || pruned[0] != oldest {
		t.Errorf("expected pruned=[%s], got %v", oldest, pruned)
	}

	for _, id := range []string{middle, newest} {
		if _, err := os.Stat(filepath.Join(f.sessionsDir, id)); err != nil {
			t.Errorf("expected %s to be kept: %v", id, err)
		}
	}
}

func TestPruneKeepRecentZeroKeepIsNoop(t *testing.T) {
	f := newFixture(t)
	f.createSession(t, "only", 10)

	pruned, err := PruneKeepRecent(f.store, f.sessionsDir, 0, false, nil)
	if err != nil {
		t.Fatalf("PruneKeepRecent failed: %v", err)
	}
	if len(pruned) != 0 {
		t.Errorf("keep=0 must be a no-op, got %v", pruned)
	}
}
