package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show session details",
		Long:  "Show a visit session with its check-in, checkout and activity events.",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	resp, err := newAPIClient().GetSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(resp)
	}

	printSessionSummary(resp.Session)
	fmt.Println()
	fmt.Printf("Events (%d):\n", len(resp.Events))
	printEvents(resp.Events)
	return nil
}
