// Package syncer folds batches captured offline by representative devices into
// the session registry, enforcing the minimum gap between visits.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/evcraddock/field-visits/internal/session"
	"github.com/evcraddock/field-visits/internal/settings"
	"github.com/evcraddock/field-visits/internal/visit"
)

// Rejection codes reported per mutation.
const (
	CodeTimeGap      = "time_gap"
	CodePreviousOpen = "previous_session_open"
	CodeInvalid      = "invalid"
)

// TimeGapViolation reports a check-in that came too soon after the
// representative's previous checkout.
type TimeGapViolation struct {
	ConflictingSessionID string
	CheckoutAt           time.Time
	MinGap               time.Duration
	Wait                 time.Duration
}

func (e *TimeGapViolation) Error() string {
	return fmt.Sprintf("check-in less than %s after session %s closed; wait %s",
		e.MinGap, e.ConflictingSessionID, e.Wait.Round(time.Second))
}

// PreviousSessionOpenError reports a check-in while another session of the
// same representative is still open.
type PreviousSessionOpenError struct {
	SessionID string
	ClientID  string
}

func (e *PreviousSessionOpenError) Error() string {
	return fmt.Sprintf("session %s for client %s is still open; check it out first", e.SessionID, e.ClientID)
}

type invalidMutation struct{ reason string }

func (e *invalidMutation) Error() string { return e.reason }

// Accepted describes a mutation that was applied or was already applied.
type Accepted struct {
	SessionID string `json:"session_id"`
	// LocalSessionID is the device's id when the server resolved the mutation
	// to a different session.
	LocalSessionID string        `json:"local_session_id,omitempty"`
	State          session.State `json:"state"`
	Created        bool          `json:"created"`
	EventsAdded    int           `json:"events_added"`
}

// Rejected describes a mutation that was not applied.
type Rejected struct {
	SessionID            string `json:"session_id"`
	Code                 string `json:"code"`
	Reason               string `json:"reason"`
	ConflictingSessionID string `json:"conflicting_session_id,omitempty"`
	RetryAfterSeconds    int64  `json:"retry_after_seconds,omitempty"`
}

// Result is the outcome of a batch.
type Result struct {
	Accepted []Accepted `json:"accepted"`
	Rejected []Rejected `json:"rejected"`
}

// Reconciler merges offline batches through the session manager.
type Reconciler struct {
	sessions    *session.Manager
	settings    *settings.Store
	fallbackGap time.Duration
}

// NewReconciler creates a reconciler. fallbackGap applies when no gap is stored
// in settings; zero means the built-in default.
func NewReconciler(m *session.Manager, s *settings.Store, fallbackGap time.Duration) *Reconciler {
	return &Reconciler{sessions: m, settings: s, fallbackGap: fallbackGap}
}

// ReconcileBatch applies each mutation in check-in order. Rule violations are
// reported per mutation; a store failure aborts the batch and is returned with
// the partial result. Replaying a batch is safe.
func (r *Reconciler) ReconcileBatch(ctx context.Context, b *Batch) (*Result, error) {
	res := &Result{Accepted: []Accepted{}, Rejected: []Rejected{}}

	mutations := make([]Mutation, len(b.Sessions))
	copy(mutations, b.Sessions)
	sort.SliceStable(mutations, func(i, j int) bool {
		return mutations[i].CheckinAt.Before(mutations[j].CheckinAt)
	})

	for _, m := range mutations {
		acc, err := r.apply(ctx, b.RepID, m)
		if err == nil {
			res.Accepted = append(res.Accepted, *acc)
			continue
		}

		rej := Rejected{SessionID: m.ID, Reason: err.Error()}
		var gap *TimeGapViolation
		var open *PreviousSessionOpenError
		var invalid *invalidMutation
		switch {
		case errors.As(err, &gap):
			rej.Code = CodeTimeGap
			rej.ConflictingSessionID = gap.ConflictingSessionID
			rej.RetryAfterSeconds = int64((gap.Wait + time.Second - 1) / time.Second)
		case errors.As(err, &open):
			rej.Code = CodePreviousOpen
			rej.ConflictingSessionID = open.SessionID
		case errors.As(err, &invalid), errors.Is(err, session.ErrInvalid):
			rej.Code = CodeInvalid
		default:
			return res, fmt.Errorf("reconciling session %s: %w", m.ID, err)
		}
		slog.Warn("sync mutation rejected", "rep_id", b.RepID, "session_id", m.ID, "code", rej.Code, "reason", rej.Reason)
		res.Rejected = append(res.Rejected, rej)
	}

	slog.Info("sync batch reconciled", "rep_id", b.RepID, "device_id", b.DeviceID,
		"accepted", len(res.Accepted), "rejected", len(res.Rejected))
	return res, nil
}

// ValidateTimeGap checks that a new check-in for the representative at
// checkinAt is allowed: no other session may be open, and the session that
// precedes checkinAt must have been checked out at least the configured gap
// earlier. Later sessions are not considered, so an offline visit from earlier
// in the day can still be synced.
func (r *Reconciler) ValidateTimeGap(ctx context.Context, repID int64, checkinAt time.Time) error {
	open, err := r.sessions.OpenSessionsForRep(ctx, repID)
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return &PreviousSessionOpenError{SessionID: open[0].ID, ClientID: open[0].ClientID}
	}

	last, err := r.sessions.LastClosedSession(ctx, repID, checkinAt)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	gap, err := r.settings.MinTimeBetweenVisits(ctx, r.fallbackGap)
	if err != nil {
		return err
	}

	earliest := last.CheckoutAt.Add(gap)
	if checkinAt.Before(earliest) {
		return &TimeGapViolation{
			ConflictingSessionID: last.ID,
			CheckoutAt:           *last.CheckoutAt,
			MinGap:               gap,
			Wait:                 earliest.Sub(checkinAt),
		}
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, repID int64, m Mutation) (*Accepted, error) {
	if err := validate(m); err != nil {
		return nil, err
	}

	// Evidence goes on first so the gate does not sweep a session this batch completes.
	if m.Evidence != nil && m.Evidence.Present() {
		err := r.sessions.AttachCheckinEvidence(ctx, m.ID, *m.Evidence)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
	}

	s, err := r.sessions.GetSessionByID(ctx, m.ID)
	switch {
	case err == nil:
		if s.RepID != repID {
			return nil, &invalidMutation{reason: fmt.Sprintf("session %s belongs to another representative", m.ID)}
		}
		return r.advance(ctx, s, m, false)
	case !errors.Is(err, session.ErrNotFound):
		return nil, err
	}

	if err := r.ValidateTimeGap(ctx, repID, m.CheckinAt); err != nil {
		return nil, err
	}

	checkinLocalID := m.CheckinLocalID
	if checkinLocalID == "" {
		if checkinLocalID, err = derivedLocalID(m.ID, visit.CheckIn, m.CheckinAt.UTC()); err != nil {
			return nil, err
		}
	}
	var ev visit.Evidence
	if m.Evidence != nil {
		ev = *m.Evidence
	}

	s, err = r.sessions.OpenSession(ctx, session.OpenParams{
		ID:             m.ID,
		RepID:          repID,
		ClientID:       m.ClientID,
		ClientName:     m.ClientName,
		ClientAddress:  m.ClientAddress,
		PlannedDate:    m.PlannedDate,
		CheckinAt:      m.CheckinAt,
		CheckinAddress: m.CheckinAddress,
		DayCode:        m.DayCode,
		RouteRef:       m.RouteRef,
		Latitude:       m.Latitude,
		Longitude:      m.Longitude,
		LocalEventID:   checkinLocalID,
		Evidence:       ev,
	})
	if err != nil {
		return nil, err
	}
	return r.advance(ctx, s, m, s.ID == m.ID)
}

// advance applies the forward-progress parts of a mutation to a stored session.
func (r *Reconciler) advance(ctx context.Context, s *session.Session, m Mutation, created bool) (*Accepted, error) {
	acc := &Accepted{SessionID: s.ID, Created: created}
	if s.ID != m.ID {
		acc.LocalSessionID = m.ID
	}

	for _, e := range m.Events {
		localID := e.LocalID
		if localID == "" {
			var err error
			if localID, err = derivedLocalID(s.ID, e.Kind, e.identity()); err != nil {
				return nil, err
			}
		}
		var ev visit.Evidence
		if e.Evidence != nil {
			ev = *e.Evidence
		}
		_, added, err := r.sessions.RecordEvent(ctx, s.ID, session.EventParams{
			Kind:       e.Kind,
			OccurredAt: e.OccurredAt,
			Latitude:   e.Latitude,
			Longitude:  e.Longitude,
			Address:    e.Address,
			LocalID:    localID,
			Evidence:   ev,
		})
		if err != nil {
			return nil, err
		}
		if added {
			acc.EventsAdded++
		}
	}

	if m.Services != nil {
		merged := s.Services.Merge(*m.Services)
		if merged != s.Services {
			updated, err := r.sessions.UpdateServices(ctx, s.ID, merged)
			if err != nil {
				return nil, err
			}
			s = updated
		}
	}

	if m.CheckoutAt != nil && s.State() == session.StateOpen {
		checkoutLocalID := m.CheckoutLocalID
		if checkoutLocalID == "" {
			var err error
			if checkoutLocalID, err = derivedLocalID(s.ID, visit.CheckOut, m.CheckoutAt.UTC()); err != nil {
				return nil, err
			}
		}
		closed, err := r.sessions.CloseSession(ctx, s.ID, session.CloseParams{
			CheckoutAt:      *m.CheckoutAt,
			ElapsedMinutes:  m.ElapsedMinutes,
			CheckoutAddress: m.CheckoutAddress,
			LocalEventID:    checkoutLocalID,
		})
		if err != nil {
			return nil, err
		}
		if closed != nil {
			s = closed
		}
	}

	acc.State = s.State()
	return acc, nil
}

func validate(m Mutation) error {
	switch {
	case m.ID == "":
		return &invalidMutation{reason: "session id is required"}
	case visit.NormalizeClientID(m.ClientID) == "":
		return &invalidMutation{reason: "client id is required"}
	case m.CheckinAt.IsZero():
		return &invalidMutation{reason: "check-in time is required"}
	case m.CheckoutAt != nil && m.CheckoutAt.Before(m.CheckinAt):
		return &invalidMutation{reason: "checkout precedes check-in"}
	}
	for _, e := range m.Events {
		if e.Kind != visit.Campaign && e.Kind != visit.Activity {
			return &invalidMutation{reason: fmt.Sprintf("unsupported event kind %q", e.Kind)}
		}
	}
	return nil
}
