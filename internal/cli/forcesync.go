package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evcraddock/field-visits/internal/forcesync"
)

func newForceSyncCmd() *cobra.Command {
	var direction, message string
	var all bool

	cmd := &cobra.Command{
		Use:   "force-sync [rep-id]",
		Short: "Ask a device to sync",
		Long:  "Flag a representative's device to pull, push or fully re-sync on its next check. With --all every active representative is flagged.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := forcesync.ParseDirection(direction)
			if err != nil {
				return err
			}
			c := newAPIClient()

			if all {
				if len(args) > 0 {
					return fmt.Errorf("--all does not take a representative ID")
				}
				n, err := c.ForceSyncAll(cmd.Context(), d, message)
				if err != nil {
					return err
				}
				if isJSON() {
					return printJSON(map[string]any{"direction": d, "representatives": n})
				}
				fmt.Printf("Flagged %d representatives for %s.\n", n, d)
				return nil
			}

			repID, err := repFromArgsOrConfig(args)
			if err != nil {
				return err
			}
			f, err := c.ForceSync(cmd.Context(), repID, d, message)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(f)
			}
			printFlag(f)
			return nil
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "both", "pull, push or both")
	cmd.Flags().StringVar(&message, "message", "", "message shown on the device")
	cmd.Flags().BoolVar(&all, "all", false, "flag every active representative")

	return cmd
}

func newSyncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-status [rep-id]",
		Short: "Show pending forced syncs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repID, err := repFromArgsOrConfig(args)
			if err != nil {
				return err
			}
			f, err := newAPIClient().CheckForceSync(cmd.Context(), repID)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(f)
			}
			printFlag(f)
			return nil
		},
	}
}

func newSyncClearCmd() *cobra.Command {
	var direction string

	cmd := &cobra.Command{
		Use:   "sync-clear [rep-id]",
		Short: "Mark a forced sync as done",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := forcesync.ParseDirection(direction)
			if err != nil {
				return err
			}
			repID, err := repFromArgsOrConfig(args)
			if err != nil {
				return err
			}
			f, err := newAPIClient().ClearForceSync(cmd.Context(), repID, d)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(f)
			}
			printFlag(f)
			return nil
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "both", "pull, push or both")

	return cmd
}
