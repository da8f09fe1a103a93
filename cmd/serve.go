package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medreg-data/regsync/internal/ingest"
	"github.com/medreg-data/regsync/internal/monitoring"
	"github.com/medreg-data/regsync/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin HTTP API",
	Long:  "Serves run history, the reconciliation backlog, the conflict queue, the change-log feed, and Prometheus metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := regsyncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		checker := monitoring.NewChecker(
			monitoring.NewCollector(pool),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		return server.New(pool).Listen(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
