package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evcraddock/field-visits/internal/client"
)

func newCheckoutCmd() *cobra.Command {
	var at, address string
	var elapsed int

	cmd := &cobra.Command{
		Use:   "checkout <session-id>",
		Short: "Check out of a visit",
		Long:  "Close an open visit session. Checking out of a session that is already closed changes nothing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.CheckoutRequest{CheckoutAddress: address}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at time: %w", err)
				}
				req.CheckoutAt = &t
			}
			if cmd.Flags().Changed("elapsed") {
				if elapsed < 0 {
					return fmt.Errorf("--elapsed must not be negative")
				}
				req.ElapsedMinutes = &elapsed
			}
			return runCheckout(cmd.Context(), args[0], req)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "checkout time, RFC 3339 (default: now)")
	cmd.Flags().StringVar(&address, "address", "", "checkout address")
	cmd.Flags().IntVar(&elapsed, "elapsed", 0, "minutes spent at the client (default: derived from the times)")

	return cmd
}

func runCheckout(ctx context.Context, id string, req client.CheckoutRequest) error {
	resp, err := newAPIClient().Checkout(ctx, id, req)
	if err != nil {
		return fmt.Errorf("checking out: %w", err)
	}

	if isJSON() {
		return printJSON(resp)
	}
	if resp.AlreadyClosed {
		fmt.Printf("Session %s is not open; nothing changed.\n", id)
		return nil
	}
	fmt.Println("Checked out.")
	printSessionSummary(resp.Session)
	return nil
}
