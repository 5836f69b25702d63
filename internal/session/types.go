// Package session owns the per-session state machine and the process-wide
// registry of live sessions. Session metadata lives in SQLite; artifacts
// and the progress log live on the filesystem under the session directory.
package session

import "time"

// State is a session's lifecycle state.
type State string

const (
	StateCreated     State = "created"
	StateRunning     State = "running"
	StateFailed      State = "failed"
	StateCompleted   State = "completed"
	StateAborted     State = "aborted"
	StateQuarantined State = "quarantined"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateAborted, StateQuarantined:
		return true
	}
	return false
}

// Session is one end-to-end run of the content pipeline.
type Session struct {
	ID           string
	Topic        string
	State        State
	CurrentStage string
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StageRecord tracks one (session, stage) pair. At most one record per
// session is in status "running" at any instant.
type StageRecord struct {
	ID              int
	SessionID       string
	Stage           string
	Status          string // pending, running, completed, failed
	Attempts        int
	ArtifactVersion int
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Summary provides a high-level view of a session for listing.
type Summary struct {
	ID          string
	Topic       string
	State       State
	StagesDone  int
	StagesTotal int
	UpdatedAt   time.Time
}

// Snapshot is the status view exposed to the CLI and dashboard.
type Snapshot struct {
	State     State
	Stage     string
	LastError string
}
