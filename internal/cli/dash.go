// dash.go implements the "quill dash" command, a live session dashboard.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quill-dev/quill/internal/tui"
)

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Open the live session dashboard",
	Long: `Open a read-only terminal dashboard showing recent sessions and
their per-stage progress. Refreshes automatically while sessions run
in other quill processes.`,
	Args: cobra.NoArgs,
	RunE: runDash,
}

func runDash(cmd *cobra.Command, args []string) error {
	if !tui.IsTTY() {
		return fmt.Errorf("dash requires a terminal; use 'quill list' instead")
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	return tui.Run(tui.New(e.cfg, e.store))
}
