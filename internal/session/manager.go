package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evcraddock/field-visits/internal/db"
	"github.com/evcraddock/field-visits/internal/visit"
)

// SweepReason is recorded when an open session is removed for lacking check-in evidence.
const SweepReason = "missing check-in evidence"

// maxOpenAttempts bounds how many times OpenSession retries after losing an
// insert race whose winner was then swept by the evidence gate.
const maxOpenAttempts = 3

// Manager runs the session lifecycle on top of the session and visit event stores.
type Manager struct {
	db       *sql.DB
	sessions *Repository
	visits   *visit.Repository
	now      func() time.Time

	// beforeSweep runs between the evidence check and the sweep. Tests only.
	beforeSweep func(id string)
}

// NewManager creates a lifecycle manager backed by conn.
func NewManager(conn *sql.DB) *Manager {
	return &Manager{
		db:       conn,
		sessions: NewRepository(conn),
		visits:   visit.NewRepository(conn),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OpenParams describes a check-in.
type OpenParams struct {
	// ID is an optional caller-generated session id, used by offline devices.
	ID             string
	RepID          int64
	ClientID       string
	ClientName     string
	ClientAddress  string
	PlannedDate    string
	CheckinAt      time.Time
	CheckinAddress string
	DayCode        string
	RouteRef       string
	Latitude       *float64
	Longitude      *float64
	LocalEventID   string
	Evidence       visit.Evidence
}

// CloseParams describes a checkout.
type CloseParams struct {
	CheckoutAt      time.Time
	ElapsedMinutes  *int
	CheckoutAddress string
	Latitude        *float64
	Longitude       *float64
	LocalEventID    string
}

// EventParams describes a campaign capture or other activity recorded during a visit.
type EventParams struct {
	Kind       visit.Kind
	OccurredAt time.Time
	Latitude   *float64
	Longitude  *float64
	Address    string
	LocalID    string
	Evidence   visit.Evidence
}

// OpenSession returns the open session for the representative and client,
// creating it with its first check-in event when none exists. Duplicate
// submissions and concurrent creates all resolve to the same session.
func (m *Manager) OpenSession(ctx context.Context, p OpenParams) (*Session, error) {
	clientID := visit.NormalizeClientID(p.ClientID)
	if p.RepID <= 0 {
		return nil, fmt.Errorf("%w: rep id is required", ErrInvalid)
	}
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrInvalid)
	}
	if p.CheckinAt.IsZero() {
		return nil, fmt.Errorf("%w: check-in time is required", ErrInvalid)
	}

	checkinAt := p.CheckinAt.UTC()
	plannedDate := p.PlannedDate
	if plannedDate == "" {
		plannedDate = checkinAt.Format(time.DateOnly)
	}
	planned, err := time.Parse(time.DateOnly, plannedDate)
	if err != nil {
		return nil, fmt.Errorf("%w: planned date %q: %v", ErrInvalid, plannedDate, err)
	}
	code := strings.ToUpper(strings.TrimSpace(p.DayCode))
	if code == "" {
		code = dayCode(planned)
	}

	for attempt := 0; attempt < maxOpenAttempts; attempt++ {
		if p.ID != "" {
			existing, err := m.sessions.GetByID(ctx, p.ID)
			if err == nil {
				ok, err := m.gate(ctx, existing)
				if err != nil {
					return nil, err
				}
				if ok {
					return existing, nil
				}
			} else if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}

		existing, err := m.findOpen(ctx, p.RepID, clientID)
		if err == nil {
			slog.Debug("returning existing open session", "session_id", existing.ID, "rep_id", p.RepID, "client_id", clientID)
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		s := &Session{
			ID:             id,
			RepID:          p.RepID,
			ClientID:       clientID,
			ClientName:     strings.TrimSpace(p.ClientName),
			ClientAddress:  strings.TrimSpace(p.ClientAddress),
			PlannedDate:    plannedDate,
			CheckinAt:      checkinAt,
			CheckinAddress: strings.TrimSpace(p.CheckinAddress),
			DayCode:        code,
			RouteRef:       strings.TrimSpace(p.RouteRef),
		}
		ev := &visit.Event{
			LocalID:     p.LocalEventID,
			SessionID:   id,
			RepID:       p.RepID,
			ClientID:    clientID,
			Kind:        visit.CheckIn,
			PlannedDate: plannedDate,
			OccurredAt:  checkinAt,
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			Address:     s.CheckinAddress,
		}
		setEvidence(ev, p.Evidence)

		err = m.inTx(ctx, func(sessions *Repository, visits *visit.Repository) error {
			if err := sessions.Insert(ctx, s); err != nil {
				return err
			}
			_, _, err := visits.Insert(ctx, ev)
			return err
		})
		if err == nil {
			slog.Info("session opened", "session_id", id, "rep_id", p.RepID, "client_id", clientID)
			return m.sessions.GetByID(ctx, id)
		}
		if errors.Is(err, visit.ErrLocalIDConflict) {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if !db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("opening session: %w", err)
		}
		slog.Debug("concurrent open detected, re-fetching", "rep_id", p.RepID, "client_id", clientID, "attempt", attempt+1)
	}

	return nil, fmt.Errorf("opening session for rep %d client %s: still conflicting after %d attempts", p.RepID, clientID, maxOpenAttempts)
}

// CloseSession checks a session out. It returns nil without error when the
// session is unknown or already closed; fields set by an earlier checkout are
// never changed.
func (m *Manager) CloseSession(ctx context.Context, id string, p CloseParams) (*Session, error) {
	s, err := m.sessions.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.State() != StateOpen {
		return nil, nil
	}

	if p.CheckoutAt.IsZero() {
		return nil, fmt.Errorf("%w: checkout time is required", ErrInvalid)
	}
	checkoutAt := p.CheckoutAt.UTC()
	if checkoutAt.Before(s.CheckinAt) {
		return nil, fmt.Errorf("%w: checkout %s precedes check-in %s", ErrInvalid, checkoutAt.Format(time.RFC3339), s.CheckinAt.Format(time.RFC3339))
	}

	elapsed := int(checkoutAt.Sub(s.CheckinAt).Minutes())
	if p.ElapsedMinutes != nil {
		if *p.ElapsedMinutes < 0 {
			return nil, fmt.Errorf("%w: elapsed minutes must not be negative", ErrInvalid)
		}
		elapsed = *p.ElapsedMinutes
	}
	address := strings.TrimSpace(p.CheckoutAddress)

	closed := false
	err = m.inTx(ctx, func(sessions *Repository, visits *visit.Repository) error {
		ok, err := sessions.Close(ctx, id, checkoutAt, elapsed, address)
		if err != nil || !ok {
			return err
		}
		closed = true
		_, _, err = visits.Insert(ctx, &visit.Event{
			LocalID:     p.LocalEventID,
			SessionID:   id,
			RepID:       s.RepID,
			ClientID:    s.ClientID,
			Kind:        visit.CheckOut,
			PlannedDate: s.PlannedDate,
			OccurredAt:  checkoutAt,
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			Address:     address,
		})
		return err
	})
	if errors.Is(err, visit.ErrLocalIDConflict) {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err != nil {
		return nil, fmt.Errorf("closing session %s: %w", id, err)
	}
	if !closed {
		return nil, nil
	}

	slog.Info("session closed", "session_id", id, "elapsed_minutes", elapsed)
	return m.sessions.GetByID(ctx, id)
}

// CancelSession deletes a session together with every event that references it.
func (m *Manager) CancelSession(ctx context.Context, id, reason string) error {
	err := m.inTx(ctx, func(sessions *Repository, visits *visit.Repository) error {
		s, err := sessions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if _, err := visits.DeleteBySession(ctx, id); err != nil {
			return err
		}
		if err := sessions.RecordCancellation(ctx, s, reason, m.now()); err != nil {
			return err
		}
		return sessions.Delete(ctx, id)
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cancelling session %s: %w", id, err)
	}

	slog.Info("session cancelled", "session_id", id, "reason", reason)
	return nil
}

// ValidateCheckinEvidence reports whether a check-in event of the session
// carries a file reference or URL.
func (m *Manager) ValidateCheckinEvidence(ctx context.Context, id string) (bool, error) {
	return m.visits.HasCheckinEvidence(ctx, id)
}

// CountActivities summarizes the recorded work of a session. Any service flag
// counts as a single unit on top of the campaign captures.
func (m *Manager) CountActivities(ctx context.Context, id string) (*Activity, error) {
	s, err := m.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.countActivities(ctx, s)
}

func (m *Manager) countActivities(ctx context.Context, s *Session) (*Activity, error) {
	campaigns, err := m.visits.CountByKind(ctx, s.ID, visit.Campaign)
	if err != nil {
		return nil, err
	}
	a := &Activity{CampaignCount: campaigns, HasServiceFlags: s.Services.Any()}
	a.Total = a.CampaignCount
	if a.HasServiceFlags {
		a.Total++
	}
	return a, nil
}

// ListOpenSessions returns genuine open sessions with their activity counts,
// optionally restricted to one representative.
func (m *Manager) ListOpenSessions(ctx context.Context, repID *int64) ([]*Session, error) {
	candidates, err := m.sessions.ListOpen(ctx, repID)
	if err != nil {
		return nil, err
	}

	open := make([]*Session, 0, len(candidates))
	for _, s := range candidates {
		ok, err := m.gate(ctx, s)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if s.Activities, err = m.countActivities(ctx, s); err != nil {
			return nil, err
		}
		open = append(open, s)
	}
	return open, nil
}

// GetSessionByID returns a session with its activity counts.
func (m *Manager) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	s, err := m.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := m.gate(ctx, s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if s.Activities, err = m.countActivities(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetSessionForClientOnDate returns the latest genuine session planned for the
// client on date (YYYY-MM-DD).
func (m *Manager) GetSessionForClientOnDate(ctx context.Context, repID int64, clientID, date string) (*Session, error) {
	clientID = visit.NormalizeClientID(clientID)
	for {
		s, err := m.sessions.ForClientOnDate(ctx, repID, clientID, date)
		if err != nil {
			return nil, err
		}
		ok, err := m.gate(ctx, s)
		if err != nil {
			return nil, err
		}
		if ok {
			if s.Activities, err = m.countActivities(ctx, s); err != nil {
				return nil, err
			}
			return s, nil
		}
	}
}

// LastClosedSession returns the closed session that precedes a check-in at
// before: of the sessions checked in by then, the one checked out last.
func (m *Manager) LastClosedSession(ctx context.Context, repID int64, before time.Time) (*Session, error) {
	return m.sessions.LastClosed(ctx, repID, before)
}

// OpenSessionsForRep returns the representative's genuine open sessions.
func (m *Manager) OpenSessionsForRep(ctx context.Context, repID int64) ([]*Session, error) {
	return m.ListOpenSessions(ctx, &repID)
}

// AttachCheckinEvidence back-fills evidence on the session's check-in events
// that have none yet.
func (m *Manager) AttachCheckinEvidence(ctx context.Context, id string, ev visit.Evidence) error {
	if _, err := m.sessions.GetByID(ctx, id); err != nil {
		return err
	}
	n, err := m.visits.AttachEvidence(ctx, id, visit.CheckIn, ev)
	if err != nil {
		return fmt.Errorf("attaching evidence to session %s: %w", id, err)
	}
	slog.Debug("check-in evidence attached", "session_id", id, "events", n)
	return nil
}

// UpdateServices replaces the service flags of a session.
func (m *Manager) UpdateServices(ctx context.Context, id string, f ServiceFlags) (*Session, error) {
	if (f.Fronts != nil && *f.Fronts < 0) || (f.Points != nil && *f.Points < 0) {
		return nil, fmt.Errorf("%w: service quantities must not be negative", ErrInvalid)
	}
	if err := m.sessions.UpdateServices(ctx, id, f); err != nil {
		return nil, err
	}
	return m.sessions.GetByID(ctx, id)
}

// RecordEvent stores a campaign capture or generic activity against a session.
// An event whose local id was already recorded is returned with created=false.
func (m *Manager) RecordEvent(ctx context.Context, sessionID string, p EventParams) (ev *visit.Event, created bool, err error) {
	if p.Kind != visit.Campaign && p.Kind != visit.Activity {
		return nil, false, fmt.Errorf("%w: cannot record %q events directly", ErrInvalid, p.Kind)
	}
	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	occurredAt := p.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = m.now()
	}
	ev = &visit.Event{
		LocalID:     p.LocalID,
		SessionID:   s.ID,
		RepID:       s.RepID,
		ClientID:    s.ClientID,
		Kind:        p.Kind,
		PlannedDate: s.PlannedDate,
		OccurredAt:  occurredAt,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Address:     strings.TrimSpace(p.Address),
	}
	setEvidence(ev, p.Evidence)

	ev, created, err = m.visits.Insert(ctx, ev)
	if errors.Is(err, visit.ErrLocalIDConflict) {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return ev, created, err
}

// Events returns the events of a session, oldest first.
func (m *Manager) Events(ctx context.Context, sessionID string) ([]*visit.Event, error) {
	return m.visits.ListBySession(ctx, sessionID)
}

// findOpen returns the genuine open session for a representative and client.
func (m *Manager) findOpen(ctx context.Context, repID int64, clientID string) (*Session, error) {
	s, err := m.sessions.FindOpen(ctx, repID, clientID)
	if err != nil {
		return nil, err
	}
	ok, err := m.gate(ctx, s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// gate is the evidence check every read of an open session passes through.
// Open sessions without check-in evidence are cancelled and reported as not
// genuine. Closed sessions pass unchecked.
func (m *Manager) gate(ctx context.Context, s *Session) (bool, error) {
	if s.State() != StateOpen {
		return true, nil
	}

	ok, err := m.ValidateCheckinEvidence(ctx, s.ID)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	if m.beforeSweep != nil {
		m.beforeSweep(s.ID)
	}
	swept, err := m.sweep(ctx, s)
	if err != nil {
		return false, err
	}
	return !swept, nil
}

// errKept rolls back a sweep whose session gained evidence in the meantime.
var errKept = errors.New("session kept")

// sweep deletes an open session that still has no check-in evidence, checked
// again inside the deleting transaction. It reports false when the session
// gained evidence or is no longer open, in which case nothing changes. A
// session already gone counts as swept.
func (m *Manager) sweep(ctx context.Context, s *Session) (bool, error) {
	err := m.inTx(ctx, func(sessions *Repository, visits *visit.Repository) error {
		if _, err := sessions.GetByID(ctx, s.ID); err != nil {
			return err
		}
		ok, err := visits.HasCheckinEvidence(ctx, s.ID)
		if err != nil {
			return err
		}
		if ok {
			return errKept
		}
		if err := sessions.RecordCancellation(ctx, s, SweepReason, m.now()); err != nil {
			return err
		}
		deleted, err := sessions.DeleteUnevidenced(ctx, s.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return errKept
		}
		_, err = visits.DeleteBySession(ctx, s.ID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if errors.Is(err, errKept) {
		slog.Debug("session gained check-in evidence before sweep", "session_id", s.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sweeping session %s: %w", s.ID, err)
	}

	slog.Warn("swept open session without check-in evidence", "session_id", s.ID, "rep_id", s.RepID, "client_id", s.ClientID)
	return true, nil
}

// inTx runs fn against repositories bound to a single transaction.
func (m *Manager) inTx(ctx context.Context, fn func(*Repository, *visit.Repository) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(NewRepository(tx), visit.NewRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func setEvidence(ev *visit.Event, e visit.Evidence) {
	if id := strings.TrimSpace(e.FileID); id != "" {
		ev.EvidenceFileID = &id
	}
	if url := strings.TrimSpace(e.URL); url != "" {
		ev.EvidenceURL = &url
	}
}
