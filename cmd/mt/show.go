package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailtriage/internal/display"
)

var showCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show a run's metadata and its mutation records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		info, err := store.Run(runID)
		if err != nil {
			return err
		}
		records, err := store.Read(runID)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Run     any `json:"run"`
				Records any `json:"records"`
			}{info, records})
		}

		display.Header(fmt.Sprintf("run %s (%s)", info.RunID, info.Account))
		display.SubHeader(fmt.Sprintf("started %s", display.TimeAgo(info.StartedAt)))
		if info.Summary != "" {
			display.SubHeader(info.Summary)
		}
		if info.RolledBackAt != "" {
			display.WarnMsg("rolled back %s", display.TimeAgo(info.RolledBackAt))
		}
		for _, rec := range records {
			line := fmt.Sprintf("  #%-4d %-17s", rec.ID, rec.Kind)
			if rec.MessageID != "" {
				line += " " + display.Dim.Render(display.Truncate(rec.MessageID, 40))
			}
			fmt.Println(line)
			if len(rec.After) > 0 {
				fmt.Printf("        %s\n", display.Dim.Render(display.Truncate(string(rec.After), 100)))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
