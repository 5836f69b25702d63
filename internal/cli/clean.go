// clean.go implements the "quill clean" command for session retention.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quill-dev/quill/internal/cleanup"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old sessions",
	Long: `Remove old sessions and their artifacts.

By default, removes sessions older than the configured max_age_days
(default 30). Use --keep to keep only the N most recent sessions
instead. Use --dry-run to preview what would be removed. Sessions with
a live controller in this process are never removed.`,
	RunE: runClean,
}

var (
	keepFlag   int
	dryRunFlag bool
)

func init() {
	cleanCmd.Flags().IntVar(&keepFlag, "keep", 0, "Keep only the last N sessions (0 = use age-based cleanup)")
	cleanCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Preview what would be removed without deleting")
}

func runClean(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	var pruned []string
	if keepFlag > 0 {
		pruned, err = cleanup.PruneKeepRecent(e.store, e.sessionsDir(), keepFlag, dryRunFlag, e.manager.IsLive)
	} else {
		maxAge := e.cfg.Retention.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 30
		}
		pruned, err = cleanup.PruneByAge(e.store, e.sessionsDir(), maxAge, dryRunFlag, e.manager.IsLive)
	}
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	if len(pruned) == 0 {
		fmt.Println("No sessions to clean up.")
		return nil
	}

	verb := "Removed"
	if dryRunFlag {
		verb = "Would remove"
	}
	for _, id := range pruned {
		fmt.Printf("  %s %s\n", verb, shortID(id))
	}
	fmt.Printf("%s %d session(s).\n", verb, len(pruned))
	return nil
}
