// env.go wires the shared runtime environment used by every command:
// config, session store, and the session manager.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quill-dev/quill/internal/agents"
	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/session"
)

// env bundles everything a command needs to operate on sessions.
type env struct {
	root    string
	cfg     *config.Config
	store   *session.Store
	manager *session.Manager
}

// openEnv locates the workspace, reads config, and opens the session store.
// Commands must call close() when done.
func openEnv() (*env, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	if _, err := os.Stat(config.Dir(root)); os.IsNotExist(err) {
		return nil, fmt.Errorf(".quill/ not found. Run 'quill init' first")
	}

	cfg, err := config.ReadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	store, err := session.NewStore(filepath.Join(config.Dir(root), "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	sessionsDir := filepath.Join(config.Dir(root), "sessions")
	manager := session.NewManager(cfg, sessionsDir, store, agents.NewCrew())

	return &env{root: root, cfg: cfg, store: store, manager: manager}, nil
}

// close releases the environment's resources.
func (e *env) close() {
	_ = e.store.Close()
}

// sessionsDir returns the per-session storage root.
func (e *env) sessionsDir() string {
	return filepath.Join(config.Dir(e.root), "sessions")
}

// resolveSession expands a session ID or unique ID prefix to a full ID.
func (e *env) resolveSession(idOrPrefix string) (string, error) {
	if idOrPrefix == "" {
		return "", fmt.Errorf("session ID required")
	}

	sess, err := e.store.GetSession(idOrPrefix)
	if err != nil {
		return "", err
	}
	if sess != nil {
		return sess.ID, nil
	}

	// Fall back to prefix matching over recent sessions.
	summaries, err := e.store.ListSessions(0)
	if err != nil {
		return "", err
	}

	var match string
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, idOrPrefix) {
			if match != "" {
				return "", fmt.Errorf("session ID prefix %q is ambiguous", idOrPrefix)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no session matching %q", idOrPrefix)
	}
	return match, nil
}
