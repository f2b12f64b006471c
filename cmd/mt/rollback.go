package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailtriage/internal/config"
	"github.com/daviddao/mailtriage/internal/display"
	"github.com/daviddao/mailtriage/internal/ledger"
)

var rollbackAccount string

var rollbackCmd = &cobra.Command{
	Use:   "rollback [RUN_ID]",
	Short: "Reverse a run's recorded mutations",
	Long: `Replays the run's ledger newest-first, applying each record's
compensating action. Without a RUN_ID the account's most recent run is
rolled back; that form needs -a unless only one account is configured.
A run can be rolled back once; later attempts are rejected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var target string
		if len(args) == 1 {
			target = args[0]
		}

		account, err := resolveAccount(target, rollbackAccount)
		if err != nil {
			return err
		}

		runner, err := newRunner()
		if err != nil {
			return err
		}

		report, err := runner.Rollback(cmd.Context(), account, target)
		if err != nil {
			if errors.Is(err, ledger.ErrAlreadyRolledBack) {
				display.WarnMsg("%v", err)
				return nil
			}
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		if !quietFlag {
			display.Header(fmt.Sprintf("rollback %s (%s)", report.RunID, report.Account))
			for _, res := range report.Results {
				display.RollbackLine(res)
			}
		}
		if report.Failed() {
			display.ErrorMsg("%d reversed, %d conflicts, %d remote errors, %d not reversible",
				report.Reversed, report.Conflicts, report.RemoteErrors, report.NotReversible)
			return fmt.Errorf("rollback completed with failures")
		}
		display.SuccessMsg("%d reversed, %d not reversible", report.Reversed, report.NotReversible)
		return nil
	},
}

// resolveAccount picks the account a rollback applies to: explicit -a wins,
// then the run's own account, then a single-account config.
func resolveAccount(runID, selected string) (config.Account, error) {
	if selected != "" {
		accounts, err := cfg.SelectAccounts([]string{selected})
		if err != nil {
			return config.Account{}, err
		}
		return accounts[0], nil
	}
	if runID != "" {
		info, err := store.Run(runID)
		if err != nil {
			return config.Account{}, fmt.Errorf("look up run %s: %w", runID, err)
		}
		accounts, err := cfg.SelectAccounts([]string{info.Account})
		if err != nil {
			return config.Account{}, fmt.Errorf("run %s belongs to unconfigured account %s", runID, info.Account)
		}
		return accounts[0], nil
	}
	if len(cfg.Accounts) == 1 {
		return cfg.Accounts[0], nil
	}
	return config.Account{}, fmt.Errorf("multiple accounts configured; pick one with -a")
}

func init() {
	rollbackCmd.Flags().StringVarP(&rollbackAccount, "account", "a", "", "Account email the rollback applies to")
	rootCmd.AddCommand(rollbackCmd)
}
