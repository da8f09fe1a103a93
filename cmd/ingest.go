package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/medreg-data/regsync/internal/fetcher"
	"github.com/medreg-data/regsync/internal/ingest"
	"github.com/medreg-data/regsync/internal/source"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [source-key...]",
	Short: "Run ingest for configured sources",
	Long: `Run the ingest pipeline for sources from the catalog file.

With no arguments all configured sources run. Sources run concurrently up to
ingest.concurrency; each source gets its own run record and transaction.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "ingest"))

		pool, err := regsyncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		// Ensure migrations are current.
		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "ingest: migrate")
		}

		catalog, err := source.LoadCatalog(cfg.Ingest.SourcesFile)
		if err != nil {
			return err
		}

		configs, err := selectSources(catalog, args)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Ingest.TempDir, 0o755); err != nil {
			return eris.Wrapf(err, "ingest: create temp dir %s", cfg.Ingest.TempDir)
		}

		deps := source.Deps{
			HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				UserAgent:    cfg.Ingest.UserAgent,
				RateLimiters: fetcher.DefaultRateLimiters(),
			}),
			FTP:     fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
			TempDir: cfg.Ingest.TempDir,
		}

		runner := ingest.NewRunner(pool)
		log.Info("starting ingest",
			zap.Int("sources", len(configs)),
			zap.Int("concurrency", cfg.Ingest.Concurrency),
		)

		var mu sync.Mutex
		reports := make(map[string]*ingest.RunReport, len(configs))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Ingest.Concurrency)
		for _, sc := range configs {
			g.Go(func() error {
				conn, err := source.New(&sc, deps)
				if err != nil {
					return err
				}

				params := sc.Params()
				if params.BatchSize == 0 {
					params.BatchSize = cfg.Ingest.BatchSize
				}

				report, err := runner.Run(gctx, params, conn)
				mu.Lock()
				reports[sc.Key] = report
				mu.Unlock()
				return err
			})
		}
		runErr := g.Wait()

		for _, sc := range configs {
			printRunReport(sc.Key, reports[sc.Key])
		}

		if runErr != nil {
			return eris.Wrap(runErr, "ingest")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

// selectSources resolves positional source keys against the catalog. No
// arguments means every configured source.
func selectSources(catalog *source.Catalog, keys []string) ([]source.Config, error) {
	if len(keys) == 0 {
		return catalog.Sources, nil
	}

	configs := make([]source.Config, 0, len(keys))
	for _, key := range keys {
		cfg := catalog.Get(key)
		if cfg == nil {
			return nil, eris.Errorf("ingest: source %q not in catalog", key)
		}
		configs = append(configs, *cfg)
	}
	return configs, nil
}

func printRunReport(key string, report *ingest.RunReport) {
	if report == nil {
		fmt.Printf("%s %s: no run record\n", color.RedString("✗"), key)
		return
	}

	c := report.Counters
	switch report.Status {
	case ingest.RunSuccess:
		fmt.Printf("%s %s: %d fetched, %d parsed, %d skipped, %d missing key, %d new, %d conflicts\n",
			color.GreenString("✓"), key,
			c.Fetched, c.Parsed, c.Skipped, c.MissingKey, c.RegistrationsCreated, c.Conflicts)
	default:
		fmt.Printf("%s %s: failed after %d rows (run %s)\n",
			color.RedString("✗"), key, c.Fetched, report.RunID)
	}
}
