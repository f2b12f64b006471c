package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailtriage/internal/display"
	"github.com/daviddao/mailtriage/internal/ledger"
)

var runsAccounts []string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		emails := runsAccounts
		if len(emails) == 0 {
			emails = store.Accounts()
		}
		if len(emails) == 0 {
			if !quietFlag && !jsonOutput {
				fmt.Println("no runs recorded yet")
			}
			return nil
		}

		var all []ledger.RunInfo
		for _, email := range emails {
			runs, err := store.Runs(email)
			if err != nil {
				return err
			}
			all = append(all, runs...)
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		}

		for _, info := range all {
			status := ""
			switch {
			case info.RolledBackAt != "":
				status = display.Dim.Render("rolled back " + display.TimeAgo(info.RolledBackAt))
			case info.FinalizedAt == "":
				status = display.Warn.Render("unfinalized")
			}
			fmt.Printf("%-26s %-30s %-12s %3d records  %s %s\n",
				info.RunID, info.Account, display.TimeAgo(info.StartedAt),
				info.Records, display.Dim.Render(info.Summary), status)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().StringSliceVarP(&runsAccounts, "account", "a", nil, "Limit to these account emails (repeatable)")
	rootCmd.AddCommand(runsCmd)
}
