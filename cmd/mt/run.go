package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailtriage/internal/display"
	"github.com/daviddao/mailtriage/internal/types"
)

var (
	runAccounts []string
	runID       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Triage unprocessed inbox mail for the configured accounts",
	Long: `Fetches unprocessed inbox messages, asks the model for a decision per
message, applies the resulting mutations, and records each one in the
ledger under a fresh run ID. A run that fails partway stays rollback-able.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		accounts, err := cfg.SelectAccounts(runAccounts)
		if err != nil {
			return err
		}
		if runID != "" && len(accounts) > 1 {
			return fmt.Errorf("--run-id needs a single account (use -a)")
		}

		runner, err := newRunner()
		if err != nil {
			return err
		}

		var reports []*types.RunReport
		failed := false
		for _, account := range accounts {
			if !quietFlag && !jsonOutput {
				display.Header(account.Email)
			}
			report, err := runner.Run(cmd.Context(), account, runID)
			if report != nil {
				reports = append(reports, report)
				if report.Failures > 0 {
					failed = true
				}
				if !jsonOutput {
					for _, out := range report.Messages {
						if !quietFlag {
							display.MessageLine(out)
						}
					}
					display.RunSummary(report)
				}
			}
			if err != nil {
				failed = true
				display.ErrorMsg("%s: %v", account.Email, err)
			}
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(reports); err != nil {
				return err
			}
		}
		if failed {
			return fmt.Errorf("triage completed with failures")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSliceVarP(&runAccounts, "account", "a", nil, "Limit to these account emails (repeatable)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Use a caller-supplied run ID instead of generating one")
	rootCmd.AddCommand(runCmd)
}
