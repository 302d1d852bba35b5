package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func newConfigureCmd() *cobra.Command {
	var server string
	var rep int64

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Store the server URL and representative",
		Long:  "Save the API server URL and the representative this CLI acts as to ~/.config/fv/config.yaml.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(server, rep)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "API server URL")
	cmd.Flags().Int64Var(&rep, "rep", 0, "representative ID")

	return cmd
}

func runConfigure(server string, rep int64) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if server != "" {
		u, err := url.Parse(server)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid server URL: %s", server)
		}
		cfg.ServerURL = strings.TrimRight(server, "/")
	}
	if rep < 0 {
		return fmt.Errorf("invalid representative ID: %d", rep)
	}
	if rep > 0 {
		cfg.RepID = rep
	}

	if err := saveConfig(cfg); err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cfg)
	}
	fmt.Printf("Server:         %s\n", getServerURL())
	if cfg.RepID > 0 {
		fmt.Printf("Representative: %d\n", cfg.RepID)
	}
	return nil
}
