package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailtriage/internal/auth"
	"github.com/daviddao/mailtriage/internal/config"
	"github.com/daviddao/mailtriage/internal/ledger"
	"github.com/daviddao/mailtriage/internal/llm"
	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/mailbox/gmail"
	"github.com/daviddao/mailtriage/internal/mailbox/outlook"
	"github.com/daviddao/mailtriage/internal/triage"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	configPath string
	jsonOutput bool
	quietFlag  bool

	cfg   *config.Config
	store *ledger.Store
)

var rootCmd = &cobra.Command{
	Use:          "mt",
	Short:        "mt - LLM-driven inbox triage with a rollback ledger",
	Long:         "Mailtriage: categorize, flag, and file inbox mail via an LLM, recording every mutation so any run can be rolled back.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "help", "version":
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		store, err = ledger.Open(cfg.LedgerPath())
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mt version %s\n", Version)
	},
}

// newMailbox builds the provider client for one account.
func newMailbox(ctx context.Context, account config.Account) (mailbox.Client, error) {
	dir, err := cfg.AccountDir(account.Email)
	if err != nil {
		return nil, err
	}
	switch account.Provider {
	case "gmail":
		svc, err := auth.LoadGmailService(ctx, dir)
		if err != nil {
			return nil, err
		}
		return gmail.New(ctx, svc, account.Email)
	default:
		cred, err := auth.GraphCredential(ctx, cfg.Azure, account, dir)
		if err != nil {
			return nil, err
		}
		return outlook.New(cred, account.Email, cfg.Azure.Scopes)
	}
}

// newRunner wires the triage pipeline for the loaded config.
func newRunner() (*triage.Runner, error) {
	decider, err := llm.New(cfg.LLM, cfg.APIKey())
	if err != nil {
		return nil, err
	}
	return &triage.Runner{
		Config:     cfg,
		Ledger:     store,
		Decider:    decider,
		NewMailbox: newMailbox,
		Quiet:      quietFlag,
	}, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./mailtriage.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
