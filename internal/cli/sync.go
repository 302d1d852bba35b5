package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/evcraddock/field-visits/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "sync <batch.json>",
		Short: "Upload an offline batch",
		Long: "Send a batch of sessions captured offline to the server. Use - to read the batch from stdin. " +
			"Sessions that break visit rules are reported individually; sending the same batch again is safe.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readBatch(args[0])
			if err != nil {
				return err
			}

			// Validate locally first so a malformed file never reaches the server.
			if _, err := syncer.DecodeBatch(data); err != nil {
				return err
			}
			if check {
				if !isJSON() {
					fmt.Println("Batch is valid.")
				}
				return nil
			}

			resp, err := newAPIClient().Sync(cmd.Context(), data)
			if err != nil {
				return fmt.Errorf("syncing: %w", err)
			}
			if isJSON() {
				return printJSON(resp)
			}
			printSyncResult(&resp.Result)
			if resp.ForceSync != nil && resp.ForceSync.Pending() {
				fmt.Println()
				printFlag(resp.ForceSync)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "only validate the batch")

	return cmd
}

func readBatch(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading batch: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch: %w", err)
	}
	return data, nil
}
