package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a visit",
		Long:  "Remove a visit session together with all of its events. The cancellation is kept in the audit log.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient().CancelSession(cmd.Context(), args[0], reason); err != nil {
				return fmt.Errorf("cancelling session: %w", err)
			}
			if isJSON() {
				return printJSON(map[string]any{"id": args[0], "cancelled": true})
			}
			fmt.Printf("Session %s cancelled.\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the visit is cancelled")

	return cmd
}
