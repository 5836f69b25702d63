package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quill-dev/quill/internal/artifact"
	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/progress"
	"github.com/quill-dev/quill/internal/recovery"
	"github.com/quill-dev/quill/internal/stage"
)

// StageNotify is an optional observer for stage transitions, used by the
// CLI progress display. It must not block.
type StageNotify func(stageName, status string, attempt int)

// Controller owns one session: it sequences stage execution, enforces the
// single-writer rule for the session's storage partition, and exposes
// status, cancel and resume.
type Controller struct {
	cfg       *config.Config
	store     *Store
	artifacts *artifact.Store
	log       *progress.Log
	exec      *stage.Executor

	mu        sync.Mutex
	sess      *Session
	resume    string // stage name to resume from; empty means first stage
	running   bool
	cancelRun context.CancelFunc
	notify    StageNotify
}

// ErrNotResumable is returned by Resume when the session is not in the
// failed state.
var ErrNotResumable = errors.New("session is not in a resumable state")

// ErrAlreadyRunning is returned when Start or Resume is called while the
// pipeline is already executing.
var ErrAlreadyRunning = errors.New("session pipeline is already running")

// ErrAborted is returned by Start or Resume when the session was cancelled
// while the pipeline was running.
var ErrAborted = errors.New("session aborted")

func newController(cfg *config.Config, store *Store, artifacts *artifact.Store, log *progress.Log, exec *stage.Executor, sess *Session, resume string) *Controller {
	return &Controller{
		cfg:       cfg,
		store:     store,
		artifacts: artifacts,
		log:       log,
		exec:      exec,
		sess:      sess,
		resume:    resume,
	}
}

// SetNotify installs a stage transition observer. Call before Start.
func (c *Controller) SetNotify(fn StageNotify) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
}

// Session returns a copy of the session metadata.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.sess
}

// Status returns the current status snapshot.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.sess.State, Stage: c.sess.CurrentStage, LastError: c.sess.LastError}
}

// Start drives the pipeline from the session's resume point. Valid for a
// new session or one recovered mid-run; terminal and failed sessions are
// rejected (failed sessions go through Resume). Start blocks until the
// pipeline completes, fails, or is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.running:
		c.mu.Unlock()
		return ErrAlreadyRunning
	case c.sess.State.Terminal():
		st := c.sess.State
		c.mu.Unlock()
		return fmt.Errorf("session %s is %s", c.sess.ID, st)
	case c.sess.State == StateFailed:
		c.mu.Unlock()
		return fmt.Errorf("session %s has failed; use resume", c.sess.ID)
	}
	from := c.resume
	c.mu.Unlock()

	return c.runPipeline(ctx, from)
}

// Resume restarts a failed session at its failed stage after external
// remediation. Only valid from the failed state.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.sess.State != StateFailed {
		st := c.sess.State
		c.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", ErrNotResumable, c.sess.ID, st)
	}
	c.mu.Unlock()

	// Reconcile again: remediation may have changed what is on disk.
	plan, err := recovery.Reconcile(c.log, c.artifacts, c.sess.ID, c.cfg.StageNames())
	if err != nil {
		var corrupt *recovery.CorruptStateError
		if errors.As(err, &corrupt) {
			c.quarantine(corrupt)
		}
		return err
	}
	if plan.Completed {
		return c.finish()
	}

	return c.runPipeline(ctx, plan.Resume)
}

// Cancel requests cooperative cancellation. With a pipeline running, the
// in-flight stage attempt is allowed to finish or hit its timeout and
// remaining stages never start. An idle non-terminal session is marked
// aborted directly.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.cancelRun != nil {
		cancel := c.cancelRun
		c.mu.Unlock()
		cancel()
		return nil
	}
	if c.sess.State.Terminal() {
		id, st := c.sess.ID, c.sess.State
		c.mu.Unlock()
		return fmt.Errorf("session %s is already %s", id, st)
	}
	c.sess.State = StateAborted
	sess := *c.sess
	c.mu.Unlock()

	if err := c.store.UpdateSession(&sess); err != nil {
		return fmt.Errorf("persisting aborted state: %w", err)
	}
	return nil
}

// runPipeline executes the remaining stages in fixed pipeline order,
// chaining each stage's artifact into the next stage's input.
func (c *Controller) runPipeline(ctx context.Context, from string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.running = true
	c.cancelRun = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.cancelRun = nil
		c.mu.Unlock()
	}()

	stages := c.cfg.Stages
	start := 0
	if from != "" {
		for i, st := range stages {
			if st.Name == from {
				start = i
				break
			}
		}
	}

	for i := start; i < len(stages); i++ {
		st := stages[i]

		if err := runCtx.Err(); err != nil {
			return c.abort(st.Name)
		}

		input, err := c.stageInput(i)
		if err != nil {
			return c.fail(st.Name, err)
		}

		if err := c.markRunning(st.Name); err != nil {
			return c.fail(st.Name, err)
		}

		ref, attempts, runErr := c.exec.Run(runCtx, c.log, c.sess.ID, st, input)
		if runErr != nil {
			if errors.Is(runErr, context.Canceled) {
				c.recordStage(st.Name, recovery.StatusFailed, attempts, 0, "cancelled")
				return c.abort(st.Name)
			}
			c.recordStage(st.Name, recovery.StatusFailed, attempts, 0, runErr.Error())
			return c.fail(st.Name, runErr)
		}

		c.recordStage(st.Name, recovery.StatusCompleted, attempts, ref.Version, "")

		// A cancel that arrived while the attempt was in flight takes
		// effect now: the finished stage stands, later stages never run.
		if runCtx.Err() != nil {
			return c.abort(st.Name)
		}
	}

	return c.finish()
}

// stageInput builds the input for stage index i: the session topic plus
// the completed artifact of the immediately preceding stage. The chaining
// is a required contract; a missing prior artifact fails the stage.
func (c *Controller) stageInput(i int) (stage.Input, error) {
	c.mu.Lock()
	topic := c.sess.Topic
	id := c.sess.ID
	c.mu.Unlock()

	input := stage.Input{Topic: topic}
	if i == 0 {
		return input, nil
	}

	prev := c.cfg.Stages[i-1].Name
	prior, err := c.artifacts.Get(id, prev)
	if err != nil {
		return input, fmt.Errorf("loading %s artifact for %s input: %w", prev, c.cfg.Stages[i].Name, err)
	}
	input.Prior = prior
	return input, nil
}

// markRunning transitions the session to running on the given stage and
// upserts its stage record.
func (c *Controller) markRunning(stageName string) error {
	c.mu.Lock()
	c.sess.State = StateRunning
	c.sess.CurrentStage = stageName
	c.sess.LastError = ""
	sess := *c.sess
	c.mu.Unlock()

	if err := c.store.UpdateSession(&sess); err != nil {
		return fmt.Errorf("persisting session state: %w", err)
	}
	if err := c.store.UpsertStageRecord(&StageRecord{
		SessionID: sess.ID,
		Stage:     stageName,
		Status:    recovery.StatusRunning,
		Attempts:  1,
		StartedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("persisting stage record: %w", err)
	}

	c.emit(stageName, recovery.StatusRunning, 1)
	return nil
}

// recordStage upserts the terminal stage record state with the attempt
// count the executor actually made. Persistence errors here do not change
// the pipeline outcome.
func (c *Controller) recordStage(stageName, status string, attempts, artifactVersion int, errMsg string) {
	recs, _ := c.store.GetStageRecords(c.sess.ID)
	var started time.Time
	for _, r := range recs {
		if r.Stage == stageName {
			started = r.StartedAt
		}
	}
	if attempts < 1 {
		attempts = 1
	}

	_ = c.store.UpsertStageRecord(&StageRecord{
		SessionID:       c.sess.ID,
		Stage:           stageName,
		Status:          status,
		Attempts:        attempts,
		ArtifactVersion: artifactVersion,
		Error:           errMsg,
		StartedAt:       started,
		FinishedAt:      time.Now(),
	})

	c.emit(stageName, status, attempts)
}

func (c *Controller) fail(stageName string, err error) error {
	c.mu.Lock()
	c.sess.State = StateFailed
	c.sess.CurrentStage = stageName
	c.sess.LastError = err.Error()
	sess := *c.sess
	c.mu.Unlock()

	if updateErr := c.store.UpdateSession(&sess); updateErr != nil {
		return errors.Join(err, fmt.Errorf("persisting failed state: %w", updateErr))
	}
	return fmt.Errorf("stage %s: %w", stageName, err)
}

func (c *Controller) abort(stageName string) error {
	c.mu.Lock()
	c.sess.State = StateAborted
	c.sess.CurrentStage = stageName
	sess := *c.sess
	c.mu.Unlock()

	if err := c.store.UpdateSession(&sess); err != nil {
		return fmt.Errorf("persisting aborted state: %w", err)
	}
	return ErrAborted
}

func (c *Controller) finish() error {
	c.mu.Lock()
	c.sess.State = StateCompleted
	c.sess.CurrentStage = ""
	c.sess.LastError = ""
	sess := *c.sess
	c.mu.Unlock()

	if err := c.store.UpdateSession(&sess); err != nil {
		return fmt.Errorf("persisting completed state: %w", err)
	}
	return nil
}

func (c *Controller) quarantine(corrupt *recovery.CorruptStateError) {
	c.mu.Lock()
	c.sess.State = StateQuarantined
	c.sess.LastError = corrupt.Error()
	sess := *c.sess
	c.mu.Unlock()
	_ = c.store.UpdateSession(&sess)
}

func (c *Controller) emit(stageName, status string, attempt int) {
	c.mu.Lock()
	fn := c.notify
	c.mu.Unlock()
	if fn != nil {
		fn(stageName, status, attempt)
	}
}
