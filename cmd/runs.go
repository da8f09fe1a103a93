package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/medreg-data/regsync/internal/ingest"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingest runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := regsyncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := ingest.NewRunLog(pool).List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum runs to list")
	rootCmd.AddCommand(runsCmd)
}

func formatRunsList(w io.Writer, runs []ingest.SourceRun) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSOURCE\tSTATUS\tSTARTED\tDURATION\tFETCHED\tPARSED\tMISSING\tCONFLICTS")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			shortID(r.ID), r.SourceKey, colorStatus(r.Status),
			r.StartedAt.Format("2006-01-02 15:04"), duration,
			r.Counters.Fetched, r.Counters.Parsed, r.Counters.MissingKey, r.Counters.Conflicts,
		)
	}
	tw.Flush() //nolint:errcheck
}

func colorStatus(s ingest.RunStatus) string {
	switch s {
	case ingest.RunSuccess:
		return color.GreenString(string(s))
	case ingest.RunFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
