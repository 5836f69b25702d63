// init.go implements the "quill init" command which sets up .quill/.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quill-dev/quill/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize quill in the current directory",
	Long: `Initialize the .quill/ directory with a default pipeline
configuration (research, writing, editing) and the session database.`,
	RunE: runInit,
}

var forceFlag bool

func init() {
	initCmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite an existing config")
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	cfgPath := filepath.Join(config.Dir(root), "config.yaml")
	if _, statErr := os.Stat(cfgPath); statErr == nil && !forceFlag {
		return fmt.Errorf("%s already exists; use --force to overwrite", cfgPath)
	}

	cfg := config.DefaultConfig()
	if err := config.WriteConfig(root, cfg); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(config.Dir(root), "sessions"), 0755); err != nil {
		return fmt.Errorf("creating sessions directory: %w", err)
	}

	fmt.Printf("Initialized %s\n", config.Dir(root))
	fmt.Printf("Pipeline: %v\n", cfg.StageNames())
	fmt.Println("Start a session with: quill run --topic \"<topic>\"")
	return nil
}
