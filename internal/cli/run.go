// run.go implements the "quill run" command which drives the full
// research -> writing -> editing pipeline for a session.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quill-dev/quill/internal/cleanup"
	"github.com/quill-dev/quill/internal/session"
	"github.com/quill-dev/quill/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run [session-id]",
	Short: "Run a session's pipeline to completion",
	Long: `Run the pipeline for an existing session, or create and run one in
a single step with --topic. An interrupted session is reconciled against
its progress log before execution resumes. Ctrl-C cancels cooperatively:
the in-flight stage finishes, later stages never start.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var topicFlag string

func init() {
	runCmd.Flags().StringVar(&topicFlag, "topic", "", "Create a new session for this topic and run it")
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && topicFlag == "" {
		return fmt.Errorf("provide a session ID or use --topic to start a new one")
	}
	if len(args) > 0 && topicFlag != "" {
		return fmt.Errorf("--topic cannot be combined with a session ID")
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	var id string
	if topicFlag != "" {
		sess, createErr := e.manager.Create(topicFlag)
		if createErr != nil {
			return fmt.Errorf("creating session: %w", createErr)
		}
		id = sess.ID
		fmt.Printf("Created session %s\n\n", id)
	} else {
		id, err = e.resolveSession(args[0])
		if err != nil {
			return err
		}
	}

	// Auto-prune old sessions before starting a new run.
	if e.cfg.Retention.MaxAgeDays > 0 {
		pruned, pruneErr := cleanup.PruneByAge(e.store, e.sessionsDir(), e.cfg.Retention.MaxAgeDays, false, e.manager.IsLive)
		if pruneErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: cleanup failed: %v\n", pruneErr)
		} else if len(pruned) > 0 {
			fmt.Fprintf(os.Stderr, "Cleaned up %d old session(s)\n", len(pruned))
		}
	}

	return driveSession(e, id, func(ctx context.Context, c *session.Controller) error {
		return c.Start(ctx)
	})
}

// driveSession attaches to a session, wires the progress display and
// signal handling, and runs the given pipeline entry point.
func driveSession(e *env, id string, entry func(context.Context, *session.Controller) error) error {
	c, err := e.manager.Attach(id)
	if err != nil {
		return err
	}
	defer e.manager.Release(id)

	sess := c.Session()

	display := ui.NewProgressDisplay(sess.Topic, e.cfg.StageNames())
	if Verbose() {
		c.SetNotify(func(stageName, status string, attempt int) {
			fmt.Printf("[%s] %s (attempt %d)\n", status, stageName, attempt)
		})
	} else {
		c.SetNotify(func(stageName, status string, attempt int) {
			display.Update(stageName, displayStatus(status), attempt)
		})
		display.Start()
		defer display.Finish()
	}

	// Ctrl-C requests cooperative cancellation. A second Ctrl-C kills the
	// process the usual way.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = entry(ctx, c)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrAborted):
		fmt.Fprintf(os.Stderr, "\nSession %s cancelled. Completed stages are preserved.\n", shortID(id))
		return nil
	default:
		fmt.Fprintf(os.Stderr, "\nResume after fixing the cause with: quill resume %s\n", shortID(id))
		return fmt.Errorf("session %s: %w", shortID(id), err)
	}
}

// displayStatus maps stage record statuses onto display statuses.
func displayStatus(status string) ui.StageStatus {
	switch status {
	case "running":
		return ui.StatusRunning
	case "completed":
		return ui.StatusCompleted
	case "failed":
		return ui.StatusFailed
	default:
		return ui.StatusPending
	}
}
