// cancel.go implements the "quill cancel" command.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a running session",
	Long: `Request cooperative cancellation of a running session in this
process. The in-flight stage finishes or times out; later stages never
start and the session ends as aborted.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	id, err := e.resolveSession(args[0])
	if err != nil {
		return err
	}

	if err := e.manager.Cancel(id); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for session %s\n", shortID(id))
	return nil
}
