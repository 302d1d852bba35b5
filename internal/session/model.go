// Package session implements the visit session registry and its lifecycle:
// opening with duplicate protection, closing, cancellation and the check-in
// evidence gate applied on every read of an open session.
package session

import (
	"errors"
	"time"
)

// ErrNotFound is returned for unknown sessions and for open sessions removed
// by the evidence gate. Callers cannot tell the two apart.
var ErrNotFound = errors.New("session not found")

// ErrInvalid wraps rejected input.
var ErrInvalid = errors.New("invalid session request")

// State is the lifecycle state of a session.
type State string

const (
	StateOpen      State = "open"
	StateClosed    State = "closed"
	StateCancelled State = "cancelled"
)

// ServiceFlags records merchandising work done during a visit.
type ServiceFlags struct {
	Restock bool `json:"restock"`
	Pricing bool `json:"pricing"`
	Shelf   bool `json:"shelf"`
	Display bool `json:"display"`
	Fronts  *int `json:"fronts,omitempty"`
	Points  *int `json:"points,omitempty"`
}

// Any reports whether any service was performed.
func (f ServiceFlags) Any() bool {
	if f.Restock || f.Pricing || f.Shelf || f.Display {
		return true
	}
	return (f.Fronts != nil && *f.Fronts > 0) || (f.Points != nil && *f.Points > 0)
}

// Merge folds in later flags without undoing earlier work: booleans are OR-ed
// and quantities are replaced only when the update carries them.
func (f ServiceFlags) Merge(update ServiceFlags) ServiceFlags {
	out := ServiceFlags{
		Restock: f.Restock || update.Restock,
		Pricing: f.Pricing || update.Pricing,
		Shelf:   f.Shelf || update.Shelf,
		Display: f.Display || update.Display,
		Fronts:  f.Fronts,
		Points:  f.Points,
	}
	if update.Fronts != nil {
		out.Fronts = update.Fronts
	}
	if update.Points != nil {
		out.Points = update.Points
	}
	return out
}

// Activity summarizes the work recorded against a session.
type Activity struct {
	Total           int  `json:"total"`
	CampaignCount   int  `json:"campaign_count"`
	HasServiceFlags bool `json:"has_service_flags"`
}

// Session is one visit occurrence by a representative to a client.
type Session struct {
	ID              string       `json:"id"`
	RepID           int64        `json:"rep_id"`
	ClientID        string       `json:"client_id"`
	ClientName      string       `json:"client_name"`
	ClientAddress   string       `json:"client_address"`
	PlannedDate     string       `json:"planned_date"` // YYYY-MM-DD
	CheckinAt       time.Time    `json:"checkin_at"`
	CheckoutAt      *time.Time   `json:"checkout_at,omitempty"`
	ElapsedMinutes  *int         `json:"elapsed_minutes,omitempty"`
	Status          State        `json:"status"`
	CheckinAddress  string       `json:"checkin_address"`
	CheckoutAddress string       `json:"checkout_address,omitempty"`
	DayCode         string       `json:"day_code"`
	RouteRef        string       `json:"route_ref,omitempty"`
	Services        ServiceFlags `json:"services"`
	CancelledAt     *time.Time   `json:"cancelled_at,omitempty"`
	CancelReason    string       `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`

	Activities *Activity `json:"activities,omitempty"`
}

// State derives the lifecycle state from the stored columns.
func (s *Session) State() State {
	switch {
	case s.CancelledAt != nil:
		return StateCancelled
	case s.CheckoutAt != nil:
		return StateClosed
	default:
		return StateOpen
	}
}

// dayCode returns the short weekday code used by route planning.
func dayCode(d time.Time) string {
	return [...]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}[d.Weekday()]
}
