package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/evcraddock/field-visits/internal/forcesync"
	"github.com/evcraddock/field-visits/internal/roster"
	"github.com/evcraddock/field-visits/internal/session"
	"github.com/evcraddock/field-visits/internal/syncer"
	"github.com/evcraddock/field-visits/internal/visit"
)

// printJSON marshals v as indented JSON and writes it to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSessionSummary prints a single session in text format.
func printSessionSummary(s *session.Session) {
	fmt.Printf("Session %s\n", s.ID)
	fmt.Printf("  Rep:       %d\n", s.RepID)
	client := s.ClientID
	if s.ClientName != "" {
		client += " (" + s.ClientName + ")"
	}
	fmt.Printf("  Client:    %s\n", client)
	if s.ClientAddress != "" {
		fmt.Printf("  Address:   %s\n", s.ClientAddress)
	}
	fmt.Printf("  Planned:   %s %s\n", s.PlannedDate, s.DayCode)
	fmt.Printf("  Status:    %s\n", s.State())
	fmt.Printf("  Check-in:  %s\n", formatTime(s.CheckinAt))
	if s.CheckoutAt != nil {
		fmt.Printf("  Checkout:  %s\n", formatTime(*s.CheckoutAt))
	}
	if s.ElapsedMinutes != nil {
		fmt.Printf("  Elapsed:   %s\n", formatElapsed(*s.ElapsedMinutes))
	}
	if s.Services.Any() {
		fmt.Printf("  Services:  %s\n", formatServices(s.Services))
	}
	if s.Activities != nil {
		fmt.Printf("  Activity:  %d (%d campaigns)\n", s.Activities.Total, s.Activities.CampaignCount)
	}
}

// printSessionTable prints sessions as a formatted table.
func printSessionTable(sessions []*session.Session) error {
	if len(sessions) == 0 {
		fmt.Println("No open sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "ID\tREP\tCLIENT\tCHECK-IN\tACTIVITY"); err != nil {
		return fmt.Errorf("writing table header: %w", err)
	}
	if _, err := fmt.Fprintln(w, "--\t---\t------\t--------\t--------"); err != nil {
		return fmt.Errorf("writing table separator: %w", err)
	}

	for _, s := range sessions {
		activity := "-"
		if s.Activities != nil {
			activity = fmt.Sprintf("%d", s.Activities.Total)
		}
		client := s.ClientID
		if s.ClientName != "" {
			client += " " + s.ClientName
		}
		if _, err := fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			s.ID, s.RepID, truncate(client, 32), formatTime(s.CheckinAt), activity); err != nil {
			return fmt.Errorf("writing table row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}

	fmt.Printf("\nTotal: %d sessions\n", len(sessions))
	return nil
}

// printEvents prints visit events in text format.
func printEvents(events []*visit.Event) {
	if len(events) == 0 {
		fmt.Println("No events recorded.")
		return
	}

	for _, e := range events {
		fmt.Printf("[%s] %s %s\n", formatTime(e.OccurredAt), e.Kind, e.ID)
		if e.Address != "" {
			fmt.Printf("  %s\n", e.Address)
		}
		if ev := e.Evidence(); ev.Present() {
			fmt.Printf("  evidence: %s\n", ev.FileID)
		}
	}
}

// printSyncResult prints a reconciled batch in text format.
func printSyncResult(res *syncer.Result) {
	for _, a := range res.Accepted {
		verb := "updated"
		if a.Created {
			verb = "created"
		}
		fmt.Printf("✓ %s %s (%s, %d new events)", a.SessionID, verb, a.State, a.EventsAdded)
		if a.LocalSessionID != "" {
			fmt.Printf(" [device id %s]", a.LocalSessionID)
		}
		fmt.Println()
	}
	for _, r := range res.Rejected {
		fmt.Printf("✗ %s %s: %s", r.SessionID, r.Code, r.Reason)
		if r.RetryAfterSeconds > 0 {
			fmt.Printf(" (retry in %ds)", r.RetryAfterSeconds)
		}
		fmt.Println()
	}
	fmt.Printf("\nAccepted: %d  Rejected: %d\n", len(res.Accepted), len(res.Rejected))
}

// printFlag prints a force-sync flag in text format.
func printFlag(f *forcesync.Flag) {
	if !f.Pending() {
		fmt.Printf("Rep %d: nothing pending\n", f.RepID)
		return
	}
	var dirs []string
	if f.PullPending {
		dirs = append(dirs, "pull")
	}
	if f.PushPending {
		dirs = append(dirs, "push")
	}
	fmt.Printf("Rep %d: %s pending\n", f.RepID, strings.Join(dirs, " and "))
	if f.Message != "" {
		fmt.Printf("  %s\n", f.Message)
	}
}

// printRepTable prints representatives as a formatted table.
func printRepTable(reps []*roster.Representative) error {
	if len(reps) == 0 {
		fmt.Println("No representatives.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "ID\tNAME\tACTIVE"); err != nil {
		return fmt.Errorf("writing table header: %w", err)
	}
	for _, r := range reps {
		active := "yes"
		if !r.Active {
			active = "no"
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", r.ID, r.Name, active); err != nil {
			return fmt.Errorf("writing table row: %w", err)
		}
	}
	return w.Flush()
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}

// formatElapsed renders minutes as 1h05m or 40m.
func formatElapsed(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%02dm", minutes/60, minutes%60)
}

// formatServices lists the services performed, e.g. "restock, fronts=3".
func formatServices(f session.ServiceFlags) string {
	var parts []string
	for _, s := range []struct {
		name string
		on   bool
	}{
		{"restock", f.Restock},
		{"pricing", f.Pricing},
		{"shelf", f.Shelf},
		{"display", f.Display},
	} {
		if s.on {
			parts = append(parts, s.name)
		}
	}
	if f.Fronts != nil {
		parts = append(parts, fmt.Sprintf("fronts=%d", *f.Fronts))
	}
	if f.Points != nil {
		parts = append(parts, fmt.Sprintf("points=%d", *f.Points))
	}
	return strings.Join(parts, ", ")
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
