package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medreg-data/regsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "regsync",
	Short: "Medical device registration reconciliation engine",
	Long:  "Ingests device registration feeds from regulatory portals and UDI databases, normalizes registration numbers, and merges them into golden records with per-field provenance.",
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
