package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vhalberd/tracegraph/api/schemas"
	"github.com/vhalberd/tracegraph/internal/observability"
	"github.com/vhalberd/tracegraph/internal/service"
)

var risksCmd = &cobra.Command{
	Use:   "risks <node-id>",
	Short: "Print the FMEA assessment and failure chains for a risk node.",
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

		out := cmd.OutOrStdout()
		nodeID := args[0]

		assessment, err := svc.Risks.Assess(cmd.Context(), nodeID)
		switch {
		case err == nil:
			fmt.Fprintf(out, "RPN: %d (%s)\n", assessment.RPN, assessment.Level)
		case errors.Is(err, schemas.ErrInvalidQuery):
			// Failure nodes have chains but no FMEA factors.
			fmt.Fprintln(out, "RPN: not scorable")
		default:
			return err
		}

		chains, err := svc.Risks.Chains(cmd.Context(), nodeID)
		if err != nil {
			return err
		}
		if len(chains) == 0 {
			fmt.Fprintln(out, "No failure chains.")
			return nil
		}
		for i, chain := range chains {
			fmt.Fprintf(out, "Chain %d (p=%.4f):", i+1, chain.TotalProbability)
			fmt.Fprintf(out, " %s", describeNode(chain.Origin))
			for _, step := range chain.Steps {
				fmt.Fprintf(out, " -> %s", describeNode(step.Node))
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func describeNode(node schemas.Node) string {
	if name, ok := node.Properties.GetString(schemas.PropName); ok {
		return fmt.Sprintf("%s(%s)", node.Label, name)
	}
	return fmt.Sprintf("%s(%s)", node.Label, node.ID)
}

func init() {
	rootCmd.AddCommand(risksCmd)
}
