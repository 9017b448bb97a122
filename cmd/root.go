package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/resolve-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "resolve-cli",
	Short: "Participant identity resolution for meeting intelligence",
	Long:  "Matches meeting participants against CRM leads through a tiered confidence cascade, provisions leads for unknowns, and queues uncertain matches for human verification.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
