package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var refreshBalance bool

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the provider account balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := newClient().Balance(cmd.Context(), refreshBalance)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if isJSONOutput() {
			return writeJSON(out, snap)
		}
		fmt.Fprintf(out, "Balance: %.2f", snap.Amount)
		if !snap.UpdatedAt.IsZero() {
			fmt.Fprintf(out, " (as of %s)", snap.UpdatedAt.Format(time.RFC3339))
		}
		if snap.Stale {
			fmt.Fprintf(out, " [stale: %s]", snap.Error)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().BoolVar(&refreshBalance, "refresh", false, "ask the server to fetch a fresh balance")
}
