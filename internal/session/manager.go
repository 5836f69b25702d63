package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/quill-dev/quill/internal/artifact"
	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/progress"
	"github.com/quill-dev/quill/internal/recovery"
	"github.com/quill-dev/quill/internal/stage"
)

// ErrNotFound is returned when no session with the given ID exists.
var ErrNotFound = errors.New("session not found")

// ErrQuarantined is returned when attaching to a session whose persisted
// state could not be reconciled. Quarantined sessions are never
// auto-resumed.
var ErrQuarantined = errors.New("session is quarantined")

// Manager maintains the process-wide registry of live session controllers.
// It is the only component holding process-wide state; the registry lock is
// held only for map access, never across a stage call.
type Manager struct {
	cfg         *config.Config
	sessionsDir string
	store       *Store
	artifacts   *artifact.Store
	capability  stage.Capability

	mu        sync.Mutex
	live      map[string]*Controller
	attaching map[string]*sync.Mutex
}

// NewManager creates a Manager. sessionsDir is the root under which each
// session keeps its artifacts and progress log.
func NewManager(cfg *config.Config, sessionsDir string, store *Store, capability stage.Capability) *Manager {
	return &Manager{
		cfg:         cfg,
		sessionsDir: sessionsDir,
		store:       store,
		artifacts:   artifact.NewStore(sessionsDir),
		capability:  capability,
		live:        make(map[string]*Controller),
		attaching:   make(map[string]*sync.Mutex),
	}
}

// Artifacts exposes the artifact store for read-only consumers (the
// artifact command and the dashboard).
func (m *Manager) Artifacts() *artifact.Store {
	return m.artifacts
}

// Create allocates a new session with an empty progress log.
func (m *Manager) Create(topic string) (*Session, error) {
	if topic == "" {
		return nil, fmt.Errorf("session topic is empty")
	}

	sess, err := m.store.CreateSession(topic)
	if err != nil {
		return nil, err
	}

	// Creating the log eagerly reserves the session's storage partition.
	if _, err := progress.Open(m.sessionDir(sess.ID), sess.ID); err != nil {
		return nil, fmt.Errorf("initializing progress log: %w", err)
	}

	return sess, nil
}

// Attach returns the controller for a session, creating it after a
// recovery pass if no live controller exists. Two concurrent attaches to
// the same ID receive the same controller; they never both own an active
// pipeline because the controller itself rejects a second Start. The
// recovery pass is serialized per session ID: a second attach waits for
// the first to finish, then joins its controller, so the reconcile step
// never runs twice against the same progress log.
func (m *Manager) Attach(id string) (*Controller, error) {
	lock := m.attachLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if c, ok := m.live[id]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if sess.State == StateQuarantined {
		return nil, fmt.Errorf("%w: %s: %s", ErrQuarantined, id, sess.LastError)
	}

	log, err := progress.Open(m.sessionDir(id), id)
	if err != nil {
		return nil, fmt.Errorf("opening progress log: %w", err)
	}

	plan, err := recovery.Reconcile(log, m.artifacts, id, m.cfg.StageNames())
	if err != nil {
		var corrupt *recovery.CorruptStateError
		if errors.As(err, &corrupt) {
			sess.State = StateQuarantined
			sess.LastError = corrupt.Error()
			_ = m.store.UpdateSession(sess)
			return nil, fmt.Errorf("%w: %s: %s", ErrQuarantined, id, corrupt.Reason)
		}
		return nil, err
	}

	// Fold the recovery outcome into the persisted session state.
	switch {
	case plan.Completed && sess.State != StateAborted:
		sess.State = StateCompleted
		sess.CurrentStage = ""
	case plan.Failed != "" && !sess.State.Terminal():
		sess.State = StateFailed
		sess.CurrentStage = plan.Failed
	case !sess.State.Terminal() && sess.State != StateFailed:
		sess.CurrentStage = plan.Resume
	}
	if err := m.store.UpdateSession(sess); err != nil {
		return nil, fmt.Errorf("persisting recovered state: %w", err)
	}

	exec := stage.NewExecutor(m.capability, m.artifacts, m.cfg.Execution)
	c := newController(m.cfg, m.store, m.artifacts, log, exec, sess, plan.Resume)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[id] = c
	return c, nil
}

// attachLock returns the per-session mutex serializing attach passes.
// Entries persist for the life of the manager; the set of session IDs a
// process touches is small.
func (m *Manager) attachLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.attaching[id]
	if !ok {
		l = &sync.Mutex{}
		m.attaching[id] = l
	}
	return l
}

// Release drops the live controller for a session. Callers release after
// the pipeline returns so a later attach runs recovery afresh.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, id)
}

// IsLive reports whether a live controller exists for the session. Used by
// garbage collection to avoid pruning active sessions.
func (m *Manager) IsLive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[id]
	return ok
}

// List returns summaries of the most recent sessions.
func (m *Manager) List(limit int) ([]Summary, error) {
	return m.store.ListSessions(limit)
}

// Status returns the status snapshot for a session, preferring the live
// controller when one exists.
func (m *Manager) Status(id string) (Snapshot, error) {
	m.mu.Lock()
	c, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		return c.Status(), nil
	}

	sess, err := m.store.GetSession(id)
	if err != nil {
		return Snapshot{}, err
	}
	if sess == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return Snapshot{State: sess.State, Stage: sess.CurrentStage, LastError: sess.LastError}, nil
}

// Cancel requests cooperative cancellation. A running pipeline finishes
// its in-flight attempt first; an idle non-terminal session is marked
// aborted directly.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	c, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		return c.Cancel()
	}

	sess, err := m.store.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if sess.State.Terminal() {
		return fmt.Errorf("session %s is already %s", id, sess.State)
	}
	sess.State = StateAborted
	return m.store.UpdateSession(sess)
}

// sessionDir returns the storage partition for one session.
func (m *Manager) sessionDir(id string) string {
	return filepath.Join(m.sessionsDir, id)
}
