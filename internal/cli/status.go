package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the connection to the server",
		Long:  "Shows the configured server and representative and checks that the server answers.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	serverURL := getServerURL()
	fmt.Printf("Server:         %s\n", serverURL)
	if rep := getRepID(); rep > 0 {
		fmt.Printf("Representative: %d\n", rep)
	} else {
		fmt.Println("Representative: not configured")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		fmt.Printf("Status:         ✗ cannot reach server (%v)\n", err)
		return nil
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			fmt.Printf("warning: closing response body: %v\n", cerr)
		}
	}()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("Status:         ✓ connected")
	} else {
		fmt.Printf("Status:         ✗ unexpected response (%d)\n", resp.StatusCode)
	}
	return nil
}
