package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/medreg-data/regsync/internal/ingest"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect and resolve the reconciliation backlog",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending records awaiting manual reconciliation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := regsyncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		records, err := ingest.NewPendingStore(pool).List(ctx, ingest.PendingStatus(status), limit)
		if err != nil {
			return eris.Wrap(err, "pending list")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No pending records.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSOURCE\tERROR\tCANDIDATES\tFIRST SEEN")
		for _, p := range records {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
				p.ID, p.SourceKey, color.YellowString(string(p.ErrorCode)),
				summarizeCandidates(p.Candidates),
				p.CreatedAt.Format("2006-01-02 15:04"),
			)
		}
		tw.Flush() //nolint:errcheck
		return nil
	},
}

var pendingResolveCmd = &cobra.Command{
	Use:   "resolve <pending-id> <registration-no>",
	Short: "Resolve a pending record with a manually verified registration number",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("pending resolve: invalid id %q", args[0])
		}

		pool, err := regsyncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		result, err := ingest.NewResolver(pool).ResolvePending(ctx, id, args[1])
		if err != nil {
			return eris.Wrap(err, "pending resolve")
		}

		if result.Idempotent {
			fmt.Printf("%s pending %d already resolved to %s\n",
				color.YellowString("•"), result.PendingID, result.RegistrationNo)
			return nil
		}
		fmt.Printf("%s pending %d resolved to %s (registration %d)\n",
			color.GreenString("✓"), result.PendingID, result.RegistrationNo, result.RegistrationID)
		return nil
	},
}

func init() {
	pendingListCmd.Flags().String("status", "open", "filter by status: open, resolved, ignored")
	pendingListCmd.Flags().Int("limit", 50, "maximum records to list")
	pendingCmd.AddCommand(pendingListCmd)
	pendingCmd.AddCommand(pendingResolveCmd)
	rootCmd.AddCommand(pendingCmd)
}

// summarizeCandidates renders the triage hints captured at rejection time.
func summarizeCandidates(cands map[string]string) string {
	if len(cands) == 0 {
		return "-"
	}
	out := ""
	for _, key := range []string{"registration_no", "udi_di", "product_name", "manufacturer"} {
		if v, ok := cands[key]; ok && v != "" {
			if out != "" {
				out += " "
			}
			out += fmt.Sprintf("%s=%s", key, v)
		}
	}
	if out == "" {
		return fmt.Sprintf("%d fields", len(cands))
	}
	return out
}
