package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evcraddock/field-visits/internal/roster"
)

func newRepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rep",
		Short: "Manage representatives",
		Long:  "Manage the representative roster in the local database. Only active representatives are flagged by force-sync --all.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <id> <name>",
			Short: "Add or reactivate a representative",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseRepID(args[0])
				if err != nil {
					return err
				}
				database, err := openDB()
				if err != nil {
					return err
				}
				defer closeDB(database)

				r, err := roster.NewStore(database).Add(cmd.Context(), id, strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				if isJSON() {
					return printJSON(r)
				}
				fmt.Printf("Representative %d (%s) added.\n", r.ID, r.Name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List representatives",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				database, err := openDB()
				if err != nil {
					return err
				}
				defer closeDB(database)

				reps, err := roster.NewStore(database).List(cmd.Context())
				if err != nil {
					return err
				}
				if isJSON() {
					return printJSON(reps)
				}
				return printRepTable(reps)
			},
		},
		&cobra.Command{
			Use:   "deactivate <id>",
			Short: "Deactivate a representative",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseRepID(args[0])
				if err != nil {
					return err
				}
				database, err := openDB()
				if err != nil {
					return err
				}
				defer closeDB(database)

				if err := roster.NewStore(database).SetActive(cmd.Context(), id, false); err != nil {
					return err
				}
				if isJSON() {
					return printJSON(map[string]any{"id": id, "active": false})
				}
				fmt.Printf("Representative %d deactivated.\n", id)
				return nil
			},
		},
	)

	return cmd
}
