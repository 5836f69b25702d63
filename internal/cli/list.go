// list.go implements the "quill list" command.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var limitFlag int

func init() {
	listCmd.Flags().IntVar(&limitFlag, "limit", 20, "Maximum number of sessions to show (0 = all)")
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	summaries, err := e.manager.List(limitFlag)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions. Start one with: quill run --topic \"<topic>\"")
		return nil
	}

	fmt.Printf("%-10s  %-11s  %-7s  %-16s  %s\n", "ID", "STATE", "STAGES", "UPDATED", "TOPIC")
	for _, s := range summaries {
		topic := s.Topic
		if len(topic) > 48 {
			topic = topic[:45] + "..."
		}
		stages := fmt.Sprintf("%d/%d", s.StagesDone, s.StagesTotal)
		fmt.Printf("%-10s  %-11s  %-7s  %-16s  %s\n",
			shortID(s.ID), s.State, stages,
			s.UpdatedAt.Format("2006-01-02 15:04"), topic)
	}
	return nil
}
