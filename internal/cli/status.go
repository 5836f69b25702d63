// status.go implements the "quill status" command showing one session's
// per-stage progress.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quill-dev/quill/internal/recovery"
	"github.com/quill-dev/quill/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's stage progress",
	Long: `Display a session's state, current stage, and the status of every
pipeline stage including retry counts and artifact versions.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	id, err := e.resolveSession(args[0])
	if err != nil {
		return err
	}

	sess, err := e.store.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", id)
	}

	recs, err := e.store.GetStageRecords(id)
	if err != nil {
		return fmt.Errorf("loading stage records: %w", err)
	}
	byStage := make(map[string]session.StageRecord, len(recs))
	for _, r := range recs {
		byStage[r.Stage] = r
	}

	fmt.Printf("Session: %s\n", sess.ID)
	fmt.Printf("Topic:   %s\n", sess.Topic)
	fmt.Printf("State:   %s\n", sess.State)
	if sess.CurrentStage != "" {
		fmt.Printf("Stage:   %s\n", sess.CurrentStage)
	}
	if sess.LastError != "" {
		fmt.Printf("Error:   %s\n", sess.LastError)
	}
	fmt.Println()

	done := 0
	for _, name := range e.cfg.StageNames() {
		rec, ok := byStage[name]
		status := recovery.StatusPending
		if ok {
			status = rec.Status
		}

		fmt.Printf("  %-10s  %-10s  %s\n", name, status, stageExtra(rec, ok))
		if status == recovery.StatusCompleted {
			done++
		}
	}

	fmt.Println()
	fmt.Printf("Progress: %d/%d stages complete\n", done, len(e.cfg.Stages))
	return nil
}

// stageExtra returns additional context for one stage's display line.
func stageExtra(rec session.StageRecord, ok bool) string {
	if !ok {
		return ""
	}

	var parts []string
	if rec.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("[%d attempts]", rec.Attempts))
	}
	if rec.ArtifactVersion > 0 {
		parts = append(parts, fmt.Sprintf("[artifact v%d]", rec.ArtifactVersion))
	}
	if rec.Error != "" {
		parts = append(parts, rec.Error)
	}
	return strings.Join(parts, " ")
}
