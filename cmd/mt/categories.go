package main

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailtriage/internal/display"
	"github.com/daviddao/mailtriage/internal/types"
)

var categoriesAccounts []string

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Create or recolour the triage categories in each account",
	Long: `Aligns each account's category set (Outlook master categories, Gmail
labels) with the triage palette so applied categories render consistently.
Safe to re-run; existing matching categories are left alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		accounts, err := cfg.SelectAccounts(categoriesAccounts)
		if err != nil {
			return err
		}

		all := make(map[string]map[string]string, len(accounts))
		for _, account := range accounts {
			mbox, err := newMailbox(cmd.Context(), account)
			if err != nil {
				return err
			}
			actions, err := mbox.EnsureCategories(cmd.Context(), types.CategoryColors)
			if err != nil {
				return err
			}
			all[account.Email] = actions

			if !jsonOutput && !quietFlag {
				display.Header(account.Email)
				names := make([]string, 0, len(actions))
				for name := range actions {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					switch actions[name] {
					case "created":
						display.SuccessMsg("%s created", name)
					case "updated":
						display.SuccessMsg("%s recoloured", name)
					default:
						display.SubHeader(name + " unchanged")
					}
				}
			}
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		}
		return nil
	},
}

func init() {
	categoriesCmd.Flags().StringSliceVarP(&categoriesAccounts, "account", "a", nil, "Limit to these account emails (repeatable)")
	rootCmd.AddCommand(categoriesCmd)
}
