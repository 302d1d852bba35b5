package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newActivitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activities <session-id>",
		Short: "Count the work recorded in a visit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPIClient().Activities(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(a)
			}
			fmt.Printf("Activities: %d\n", a.Total)
			fmt.Printf("  Campaigns: %d\n", a.CampaignCount)
			fmt.Printf("  Services:  %t\n", a.HasServiceFlags)
			return nil
		},
	}
}
