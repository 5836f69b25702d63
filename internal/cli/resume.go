// resume.go implements the "quill resume" command for failed sessions.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quill-dev/quill/internal/session"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a failed session",
	Long: `Resume a session that failed, restarting at the failed stage.
Completed stages keep their artifacts and are not re-run. The progress
log is reconciled first, so artifacts repaired or removed on disk since
the failure are picked up.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	id, err := e.resolveSession(args[0])
	if err != nil {
		return err
	}

	return driveSession(e, id, func(ctx context.Context, c *session.Controller) error {
		return c.Resume(ctx)
	})
}
