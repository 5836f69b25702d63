// Package cleanup implements retention-based pruning of old sessions:
// their artifacts, progress logs and metadata records.
package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quill-dev/quill/internal/session"
)

// listLimit bounds how many sessions one prune pass considers.
const listLimit = 10000

// PruneByAge removes sessions whose last update is older than maxAgeDays.
// Sessions with a live controller are never pruned. If dryRun is true, no
// data is deleted; the function only returns the session IDs that would be
// removed.
func PruneByAge(store *session.Store, sessionsDir string, maxAgeDays int, dryRun bool, isLive func(string) bool) ([]string, error) {
	if maxAgeDays <= 0 {
		return nil, nil
	}

	summaries, err := store.ListSessions(listLimit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	var pruned []string

	for _, sum := range summaries {
		if !sum.UpdatedAt.Before(cutoff) {
			continue
		}
		if isLive != nil && isLive(sum.ID) {
			continue
		}
		if !dryRun {
			if err := remove(store, sessionsDir, sum.ID); err != nil {
				return pruned, err
			}
		}
		pruned = append(pruned, sum.ID)
	}

	return pruned, nil
}

// PruneKeepRecent removes all sessions except the most recently updated
// keep sessions. Live sessions are always kept and do not count against
// the budget. If dryRun is true, no data is deleted.
func PruneKeepRecent(store *session.Store, sessionsDir string, keep int, dryRun bool, isLive func(string) bool) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	// ListSessions returns most recently updated first.
	summaries, err := store.ListSessions(listLimit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var pruned []string
	kept := 0
	for _, sum := range summaries {
		if isLive != nil && isLive(sum.ID) {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		if !dryRun {
			if err := remove(store, sessionsDir, sum.ID); err != nil {
				return pruned, err
			}
		}
		pruned = append(pruned, sum.ID)
	}

	return pruned, nil
}

// remove deletes one session's storage partition and metadata.
func remove(store *session.Store, sessionsDir, id string) error {
	if err := os.RemoveAll(filepath.Join(sessionsDir, id)); err != nil {
		return fmt.Errorf("removing session directory %s: %w", id, err)
	}
	if err := store.DeleteSession(id); err != nil {
		return fmt.Errorf("removing session record %s: %w", id, err)
	}
	return nil
}
