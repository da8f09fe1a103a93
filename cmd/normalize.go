package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/medreg-data/regsync/internal/regno"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <registration-no>",
	Short: "Normalize a registration number and show the classification",
	Long:  "Debugging aid: runs a raw registration number through the normalizer and prints the canonical form, era, origin, class, and confidence.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result := regno.Normalize(args[0])

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
}
