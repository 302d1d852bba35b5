package cli

import (
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	var rep int64
	var all bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List open sessions",
		Long:  "List open visit sessions of the configured representative, or of everyone with --all.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var repID int64
			if !all {
				var err error
				if repID, err = requireRepID(rep); err != nil {
					return err
				}
			}

			sessions, err := newAPIClient().ListSessions(cmd.Context(), repID)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(sessions)
			}
			return printSessionTable(sessions)
		},
	}

	cmd.Flags().Int64Var(&rep, "rep", 0, "representative ID (default: from config)")
	cmd.Flags().BoolVar(&all, "all", false, "list sessions of every representative")

	return cmd
}
