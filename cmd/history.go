package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vhalberd/tracegraph/internal/observability"
	"github.com/vhalberd/tracegraph/internal/service"
)

var historyCmd = &cobra.Command{
	Use:   "history <workitem-id>",
	Short: "Print the version history of a work item.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		svc, cleanup, err := service.NewServices(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		entries, err := svc.Ledger.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, entry := range entries {
			marker := " "
			if entry.Current {
				marker = "*"
			}
			line := fmt.Sprintf("%s %-8s %s", marker, entry.Version, entry.CreatedAt.Format("2006-01-02 15:04:05"))
			if entry.CreatedBy != "" {
				line += " by " + entry.CreatedBy
			}
			if entry.ChangeDescription != "" {
				line += " : " + entry.ChangeDescription
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
