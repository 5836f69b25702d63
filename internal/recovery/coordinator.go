// Package recovery reconciles a session's progress log against its artifact
// store on attach, determining the safe resumption point or quarantining
// state that cannot be trusted.
package recovery

import (
	"errors"
	"fmt"

	"github.com/quill-dev/quill/internal/artifact"
	"github.com/quill-dev/quill/internal/progress"
)

// CorruptStateError marks a session whose persisted state is unreadable or
// internally contradictory. Such a session is quarantined and never
// auto-resumed.
type CorruptStateError struct {
	SessionID string
	Reason    string
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("session %s has corrupt state: %s", e.SessionID, e.Reason)
}

// Stage statuses derived from the progress log.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StageState is the reduced status of one stage after a recovery pass.
type StageState struct {
	Stage    string
	Status   string
	Attempts int
	Repaired bool // promoted to completed from a valid orphaned artifact
}

// Plan is the outcome of reconciling one session.
type Plan struct {
	SessionID string
	Stages    []StageState // pipeline order
	Resume    string       // first non-completed stage; empty when done
	Failed    string       // stage whose latest event is failed, if any
	Completed bool
}

// Reconcile runs the recovery algorithm for one session: read the full
// progress log, reduce it to the latest status per stage, verify artifacts
// for interrupted stages, and compute the resume point.
//
// An interrupted stage (started or retried with no matching completion) is
// re-executed unless a checksum-valid artifact already exists, in which
// case it is promoted to completed and a closing event is appended. A
// completed stage whose artifact is missing or fails its checksum is a
// contradiction: the session is surfaced as corrupt.
func Reconcile(log *progress.Log, store *artifact.Store, sessionID string, pipeline []string) (*Plan, error) {
	events, err := log.ReadAll()
	if err != nil {
		return nil, &CorruptStateError{SessionID: sessionID, Reason: fmt.Sprintf("unreadable progress log: %v", err)}
	}

	// The log must be a strictly increasing sequence with no gaps.
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			return nil, &CorruptStateError{
				SessionID: sessionID,
				Reason:    fmt.Sprintf("progress sequence broken at index %d: seq %d", i, ev.Seq),
			}
		}
	}

	known := make(map[string]bool, len(pipeline))
	for _, name := range pipeline {
		known[name] = true
	}

	latest := make(map[string]progress.Event)
	attempts := make(map[string]int)
	for _, ev := range events {
		if !known[ev.Stage] {
			return nil, &CorruptStateError{
				SessionID: sessionID,
				Reason:    fmt.Sprintf("event for unknown stage %q", ev.Stage),
			}
		}
		latest[ev.Stage] = ev
		if ev.Attempt > attempts[ev.Stage] {
			attempts[ev.Stage] = ev.Attempt
		}
	}

	plan := &Plan{SessionID: sessionID}
	for _, name := range pipeline {
		state := StageState{Stage: name, Status: StatusPending, Attempts: attempts[name]}

		ev, seen := latest[name]
		if seen {
			switch ev.Kind {
			case progress.KindCompleted:
				// The log says completed; the artifact must exist and
				// verify. Anything else is a contradiction.
				if _, verifyErr := store.Verify(sessionID, name); verifyErr != nil {
					return nil, &CorruptStateError{
						SessionID: sessionID,
						Reason:    fmt.Sprintf("stage %s recorded completed but artifact invalid: %v", name, verifyErr),
					}
				}
				state.Status = StatusCompleted

			case progress.KindFailed:
				state.Status = StatusFailed

			case progress.KindStarted, progress.KindRetried:
				// Interrupted: the process died between started and
				// completed/failed.
				if _, verifyErr := store.Verify(sessionID, name); verifyErr == nil {
					// The artifact landed before the crash. Promote the
					// stage and close the gap in the log.
					if _, appendErr := log.Append(progress.Event{
						Stage:   name,
						Kind:    progress.KindCompleted,
						Attempt: attempts[name],
						Message: "recovered: valid artifact found for interrupted stage",
					}); appendErr != nil {
						return nil, fmt.Errorf("closing interrupted stage %s: %w", name, appendErr)
					}
					state.Status = StatusCompleted
					state.Repaired = true
				} else if errors.Is(verifyErr, artifact.ErrNotFound) || errors.Is(verifyErr, artifact.ErrChecksum) {
					// Absent or truncated artifact: re-execute from
					// scratch. Stage execution is safely repeatable.
					state.Status = StatusPending
				} else {
					return nil, fmt.Errorf("verifying interrupted stage %s: %w", name, verifyErr)
				}

			default:
				return nil, &CorruptStateError{
					SessionID: sessionID,
					Reason:    fmt.Sprintf("unknown event kind %q for stage %s", ev.Kind, name),
				}
			}
		}

		if state.Status == StatusFailed && plan.Failed == "" {
			plan.Failed = name
		}
		if state.Status != StatusCompleted && plan.Resume == "" {
			plan.Resume = name
		}
		plan.Stages = append(plan.Stages, state)
	}

	plan.Completed = plan.Resume == ""
	return plan, nil
}
