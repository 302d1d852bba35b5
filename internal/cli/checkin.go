package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/evcraddock/field-visits/internal/client"
	"github.com/evcraddock/field-visits/internal/visit"
)

type checkinOptions struct {
	rep        int64
	id         string
	name       string
	address    string
	planned    string
	at         string
	route      string
	photo      string
	evidenceID string
	lat, lng   float64
	hasCoords  bool
}

func newCheckinCmd() *cobra.Command {
	var opts checkinOptions

	cmd := &cobra.Command{
		Use:   "checkin <client-id>",
		Short: "Check in at a client",
		Long: "Open a visit session at a client. Checking in again at a client with an open session returns that session. " +
			"A check-in photo is required: pass --photo to upload one or --evidence with a file already uploaded.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.hasCoords = cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng")
			return runCheckin(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().Int64Var(&opts.rep, "rep", 0, "representative ID (default: from config)")
	cmd.Flags().StringVar(&opts.id, "id", "", "session ID to use (default: generated by the server)")
	cmd.Flags().StringVar(&opts.name, "name", "", "client name")
	cmd.Flags().StringVar(&opts.address, "address", "", "check-in address")
	cmd.Flags().StringVar(&opts.planned, "planned", "", "planned date YYYY-MM-DD (default: check-in day)")
	cmd.Flags().StringVar(&opts.at, "at", "", "check-in time, RFC 3339 (default: now)")
	cmd.Flags().StringVar(&opts.route, "route", "", "route reference")
	cmd.Flags().StringVar(&opts.photo, "photo", "", "path to the check-in photo")
	cmd.Flags().StringVar(&opts.evidenceID, "evidence", "", "file ID of an already uploaded check-in photo")
	cmd.Flags().Float64Var(&opts.lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&opts.lng, "lng", 0, "longitude")

	return cmd
}

func runCheckin(ctx context.Context, clientID string, opts checkinOptions) error {
	repID, err := requireRepID(opts.rep)
	if err != nil {
		return err
	}
	if opts.photo == "" && opts.evidenceID == "" {
		return fmt.Errorf("a check-in photo is required: pass --photo or --evidence")
	}

	var photo []byte
	if opts.photo != "" {
		if photo, err = os.ReadFile(opts.photo); err != nil {
			return fmt.Errorf("reading photo: %w", err)
		}
	}

	req := client.OpenRequest{
		ID:             opts.id,
		RepID:          repID,
		ClientID:       clientID,
		ClientName:     opts.name,
		PlannedDate:    opts.planned,
		CheckinAddress: opts.address,
		RouteRef:       opts.route,
	}
	if opts.at != "" {
		at, err := time.Parse(time.RFC3339, opts.at)
		if err != nil {
			return fmt.Errorf("invalid --at time: %w", err)
		}
		req.CheckinAt = &at
	}
	if opts.hasCoords {
		req.Latitude, req.Longitude = &opts.lat, &opts.lng
	}
	if opts.evidenceID != "" {
		req.Evidence = &visit.Evidence{FileID: opts.evidenceID}
	}

	c := newAPIClient()
	s, err := c.OpenSession(ctx, req)
	if err != nil {
		return fmt.Errorf("checking in: %w", err)
	}

	var upload *client.UploadResponse
	if photo != nil {
		upload, err = c.UploadEvidence(ctx, repID, s.ID, filepath.Base(opts.photo), photo)
		if err != nil {
			return fmt.Errorf("uploading photo: %w", err)
		}
	}

	if isJSON() {
		return printJSON(map[string]any{"session": s, "upload": upload})
	}

	fmt.Println("Checked in.")
	printSessionSummary(s)
	if upload != nil && upload.Pending {
		fmt.Printf("\nPhoto not stored (%s). Retry within %ds or the visit will be discarded.\n",
			upload.Error, upload.RetryAfterSeconds)
	}
	return nil
}
