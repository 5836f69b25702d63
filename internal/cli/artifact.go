// artifact.go implements the "quill artifact" command which prints a
// session's stage output.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quill-dev/quill/internal/artifact"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact <session-id> [stage]",
	Short: "Print a session's artifact",
	Long: `Print the latest artifact for a stage. Defaults to the final
pipeline stage, so "quill artifact <id>" prints the finished article.
The artifact's checksum is verified before printing.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runArtifact,
}

var sourcesFlag bool

func init() {
	artifactCmd.Flags().BoolVar(&sourcesFlag, "sources", false, "Also print the artifact's source references")
}

func runArtifact(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	id, err := e.resolveSession(args[0])
	if err != nil {
		return err
	}

	names := e.cfg.StageNames()
	stageName := names[len(names)-1]
	if len(args) > 1 {
		stageName = args[1]
		found := false
		for _, n := range names {
			if n == stageName {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown stage %q; pipeline stages are %v", stageName, names)
		}
	}

	a, err := e.manager.Artifacts().Verify(id, stageName)
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		return fmt.Errorf("no %s artifact for session %s yet", stageName, shortID(id))
	case errors.Is(err, artifact.ErrChecksum):
		return fmt.Errorf("%s artifact for session %s failed checksum verification; the session needs recovery", stageName, shortID(id))
	case err != nil:
		return err
	}

	fmt.Print(a.Content)
	if len(a.Content) > 0 && a.Content[len(a.Content)-1] != '\n' {
		fmt.Println()
	}

	if sourcesFlag && len(a.Sources) > 0 {
		fmt.Println("\n---")
		for _, src := range a.Sources {
			fmt.Printf("- %s (%s)\n", src.Title, src.Link)
		}
	}
	return nil
}
