// Package stage runs individual pipeline stages against an external
// capability with a timeout and a bounded retry policy, persisting the
// result as an artifact and every attempt as a progress event.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quill-dev/quill/internal/artifact"
	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/progress"
)

// Input carries a stage's input: the session topic and the completed
// artifact of the immediately preceding stage, if any.
type Input struct {
	Topic string
	Prior *artifact.Artifact
}

// Output is the raw result of one capability call.
type Output struct {
	Content string
	Sources []artifact.Source
}

// Capability is the external stage execution boundary. The executor treats
// it as an opaque synchronous call and never interprets payload contents.
type Capability interface {
	Execute(ctx context.Context, st config.StageConfig, input Input) (*Output, error)
}

// Executor runs one stage at a time with timeout and bounded retry.
type Executor struct {
	cap   Capability
	store *artifact.Store
	cfg   config.ExecutionConfig
}

// NewExecutor creates an Executor backed by the given capability and store.
func NewExecutor(cap Capability, store *artifact.Store, cfg config.ExecutionConfig) *Executor {
	return &Executor{cap: cap, store: store, cfg: cfg}
}

// Run executes one stage for a session. Transient failures are retried up
// to cfg.MaxRetries times with capped exponential backoff; validation and
// storage failures propagate immediately. Every attempt is recorded in the
// progress log before control returns, so recovery can always distinguish
// "never attempted" from "attempted and lost". The returned count is the
// number of capability attempts actually made, on success and failure
// alike.
//
// Cancelling ctx is cooperative: the in-flight attempt runs to completion
// or to its own timeout, and remaining retries are abandoned. A cancelled
// run returns an error satisfying errors.Is(err, context.Canceled).
func (e *Executor) Run(ctx context.Context, log *progress.Log, sessionID string, st config.StageConfig, input Input) (*artifact.Ref, int, error) {
	if _, err := log.Append(progress.Event{Stage: st.Name, Kind: progress.KindStarted, Attempt: 1}); err != nil {
		return nil, 0, &StorageError{Op: "progress append", Err: err}
	}

	timeout := time.Duration(e.cfg.TimeoutPerStage) * time.Second

	for attempt := 1; ; attempt++ {
		out, err := e.attempt(ctx, st, input, timeout)
		if err == nil {
			ref, putErr := e.store.Put(sessionID, st.Name, out.Content, out.Sources)
			if putErr != nil {
				storageErr := &StorageError{Op: "artifact put", Err: putErr}
				e.logFailed(log, st.Name, attempt, storageErr.Error())
				return nil, attempt, storageErr
			}
			if _, appendErr := log.Append(progress.Event{Stage: st.Name, Kind: progress.KindCompleted, Attempt: attempt}); appendErr != nil {
				// The artifact is durable but the completion is not
				// recorded. The stage counts as failed; recovery will
				// find the valid artifact and close the gap.
				return nil, attempt, &StorageError{Op: "progress append", Err: appendErr}
			}
			return ref, attempt, nil
		}

		if !IsTransient(err) {
			e.logFailed(log, st.Name, attempt, err.Error())
			return nil, attempt, err
		}
		if attempt > e.cfg.MaxRetries {
			e.logFailed(log, st.Name, attempt, fmt.Sprintf("retries exhausted: %v", err))
			return nil, attempt, err
		}
		if ctx.Err() != nil {
			e.logFailed(log, st.Name, attempt, "cancelled")
			return nil, attempt, fmt.Errorf("stage %s: %w", st.Name, context.Cause(ctx))
		}

		if _, appendErr := log.Append(progress.Event{
			Stage:   st.Name,
			Kind:    progress.KindRetried,
			Attempt: attempt,
			Message: err.Error(),
		}); appendErr != nil {
			return nil, attempt, &StorageError{Op: "progress append", Err: appendErr}
		}

		if waitErr := e.backoff(ctx, attempt); waitErr != nil {
			e.logFailed(log, st.Name, attempt, "cancelled during backoff")
			return nil, attempt, fmt.Errorf("stage %s: %w", st.Name, waitErr)
		}
	}
}

// attempt makes exactly one capability call bounded by timeout. The attempt
// context is detached from the caller's cancellation so a cooperative
// cancel cannot kill a call already in flight.
func (e *Executor) attempt(ctx context.Context, st config.StageConfig, input Input, timeout time.Duration) (*Output, error) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	out, err := e.cap.Execute(attemptCtx, st, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Stage: st.Name, Timeout: timeout}
		}
		return nil, err
	}
	if out == nil || out.Content == "" {
		return nil, &ValidationError{Reason: fmt.Sprintf("stage %s produced empty output", st.Name)}
	}
	return out, nil
}

// backoff sleeps between attempts with capped exponential delay. Returns
// early with the cancellation cause if ctx is cancelled during the wait.
func (e *Executor) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(e.cfg.BackoffMs) * time.Millisecond
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if maxDelay := time.Duration(e.cfg.MaxBackoffMs) * time.Millisecond; maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}

// logFailed appends a failed event. An append failure here cannot change
// the outcome (the stage already failed), so it is not propagated.
func (e *Executor) logFailed(log *progress.Log, stageName string, attempt int, msg string) {
	_, _ = log.Append(progress.Event{
		Stage:   stageName,
		Kind:    progress.KindFailed,
		Attempt: attempt,
		Message: msg,
	})
}
