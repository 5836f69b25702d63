// new.go implements the "quill new" command which creates a session
// without starting it.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new <topic>",
	Short: "Create a new session",
	Long: `Create a session for a topic without starting the pipeline.
Start it later with: quill run <session-id>`,
	Args: cobra.ExactArgs(1),
	RunE: runNew,
}

func runNew(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	sess, err := e.manager.Create(args[0])
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	fmt.Printf("Created session %s\n", sess.ID)
	fmt.Printf("Topic: %s\n", sess.Topic)
	fmt.Printf("Run it with: quill run %s\n", shortID(sess.ID))
	return nil
}

// shortID returns the first ID segment, enough to address a session.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
