package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evcraddock/field-visits/internal/config"
	"github.com/evcraddock/field-visits/internal/settings"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change server settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "min-gap [duration]",
		Short: "Show or set the minimum time between visits",
		Long:  "Show or set how long a representative must wait after a checkout before the next check-in, e.g. 5m or 90s.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(database)
			store := settings.NewStore(database)

			if len(args) == 1 {
				d, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration: %s", args[0])
				}
				if err := store.SetMinTimeBetweenVisits(cmd.Context(), d); err != nil {
					return err
				}
			}

			fallback := settings.DefaultMinTimeBetweenVisits
			if cfg, err := config.Load(); err == nil {
				fallback = cfg.MinVisitGap
			}
			gap, err := store.MinTimeBetweenVisits(cmd.Context(), fallback)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(map[string]any{"min_time_between_visits": gap.String(), "seconds": int64(gap.Seconds())})
			}
			fmt.Printf("Minimum time between visits: %s\n", gap)
			return nil
		},
	})

	return cmd
}
