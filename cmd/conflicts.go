package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/medreg-data/regsync/internal/registry"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List open field conflicts",
	Long:  "Lists conflict-queue entries where equally-graded sources disagree on a tracked field value.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := regsyncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := registry.NewPostgresStore(pool).ListOpenConflicts(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "conflicts")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No open conflicts.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tREGISTRATION\tFIELD\tVALUES\tUPDATED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
				e.ID, e.RegistrationNo, color.YellowString(string(e.Field)),
				candidateValues(e.Candidates),
				e.UpdatedAt.Format("2006-01-02 15:04"),
			)
		}
		tw.Flush() //nolint:errcheck
		return nil
	},
}

func init() {
	conflictsCmd.Flags().Int("limit", 50, "maximum conflicts to list")
	rootCmd.AddCommand(conflictsCmd)
}

func candidateValues(cands []registry.Candidate) string {
	out := ""
	for _, c := range cands {
		if out != "" {
			out += " | "
		}
		out += fmt.Sprintf("%s=%q", c.SourceKey, c.Value)
	}
	if out == "" {
		return "-"
	}
	return out
}
