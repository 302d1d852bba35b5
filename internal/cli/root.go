// Package cli defines the cobra command tree for fv, the field visit tool.
package cli

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/evcraddock/field-visits/internal/client"
	"github.com/evcraddock/field-visits/internal/config"
	"github.com/evcraddock/field-visits/internal/db"
)

var (
	flagFormat string
	flagDB     string
)

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fv",
		Short:         "Track field sales visits",
		Long:          "Check representatives in and out of client visits, sync offline devices and manage forced re-syncs, from the CLI or through the API server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format (text|json)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "database path or postgres:// URL (default: from config)")

	root.AddCommand(
		newServeCmd(),
		newCheckinCmd(),
		newCheckoutCmd(),
		newCancelCmd(),
		newSessionsCmd(),
		newShowCmd(),
		newActivitiesCmd(),
		newSyncCmd(),
		newForceSyncCmd(),
		newSyncStatusCmd(),
		newSyncClearCmd(),
		newRepCmd(),
		newSettingsCmd(),
		newConfigureCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

// databaseTarget returns the --db flag or the configured database.
func databaseTarget() (string, error) {
	if flagDB != "" {
		return flagDB, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.Database, nil
}

// openDB opens the database named by --db or the server configuration.
// Used by commands that administer the store directly.
func openDB() (*sql.DB, error) {
	target, err := databaseTarget()
	if err != nil {
		return nil, err
	}
	return db.Open(target)
}

// newAPIClient creates an HTTP client for the field visit API.
func newAPIClient() *client.Client {
	return client.New(getServerURL())
}

// isJSON returns true if the --format flag is set to json.
func isJSON() bool {
	return flagFormat == "json"
}

// closeDB closes the database, logging any error to stderr.
func closeDB(database *sql.DB) {
	if err := database.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing database: %v\n", err)
	}
}

// parseRepID parses a representative id argument.
func parseRepID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid representative ID: %s", s)
	}
	return id, nil
}

// repFromArgsOrConfig returns the representative named in args, or the
// configured one.
func repFromArgsOrConfig(args []string) (int64, error) {
	if len(args) > 0 {
		return parseRepID(args[0])
	}
	return requireRepID(0)
}
