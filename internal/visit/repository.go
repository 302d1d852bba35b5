package visit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/evcraddock/field-visits/internal/db"
)

// ErrNotFound is returned when an event does not exist.
var ErrNotFound = errors.New("visit event not found")

// ErrLocalIDConflict is returned when a local id is already used by an event
// of another session.
var ErrLocalIDConflict = errors.New("local id already used by another session")

// Repository provides access to the visit_events table.
type Repository struct {
	db db.DBTX
}

// NewRepository creates a visit event repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const selectColumns = `id, local_id, session_id, rep_id, client_id, kind, planned_date, occurred_at,
	latitude, longitude, address, evidence_file_id, evidence_url, created_at`

// hasEvidence matches rows carrying a non-empty file reference or URL.
const hasEvidence = `(COALESCE(evidence_file_id, '') <> '' OR COALESCE(evidence_url, '') <> '')`

// Insert records a new event. Events sharing a local id with an existing row
// of the same session are not inserted again; the stored row is returned with
// created=false. A local id taken by another session fails with
// ErrLocalIDConflict.
func (r *Repository) Insert(ctx context.Context, e *Event) (ev *Event, created bool, err error) {
	if !e.Kind.IsValid() {
		return nil, false, fmt.Errorf("invalid event kind: %q", e.Kind)
	}
	if e.SessionID == "" {
		return nil, false, fmt.Errorf("session id is required")
	}
	if e.OccurredAt.IsZero() {
		return nil, false, fmt.Errorf("occurred_at is required")
	}

	id := e.ID
	if id == "" {
		id = ulid.Make().String()
	}

	var evidenceFileID, evidenceURL sql.NullString
	if e.EvidenceFileID != nil && strings.TrimSpace(*e.EvidenceFileID) != "" {
		evidenceFileID = sql.NullString{String: *e.EvidenceFileID, Valid: true}
	}
	if e.EvidenceURL != nil && strings.TrimSpace(*e.EvidenceURL) != "" {
		evidenceURL = sql.NullString{String: *e.EvidenceURL, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO visit_events
			(id, local_id, session_id, rep_id, client_id, kind, planned_date, occurred_at,
			 latitude, longitude, address, evidence_file_id, evidence_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (local_id) DO NOTHING`,
		id, nullString(e.LocalID), e.SessionID, e.RepID, NormalizeClientID(e.ClientID),
		string(e.Kind), e.PlannedDate, e.OccurredAt.UTC(),
		e.Latitude, e.Longitude, e.Address, evidenceFileID, evidenceURL,
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting visit event: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		existing, err := r.GetByLocalID(ctx, e.LocalID)
		if err != nil {
			return nil, false, fmt.Errorf("reading back duplicate event: %w", err)
		}
		if existing.SessionID != e.SessionID {
			return nil, false, fmt.Errorf("%w: %s belongs to session %s", ErrLocalIDConflict, e.LocalID, existing.SessionID)
		}
		return existing, false, nil
	}

	saved, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("reading back visit event: %w", err)
	}
	return saved, true, nil
}

// GetByID returns an event by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM visit_events WHERE id = $1", id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying visit event %s: %w", id, err)
	}
	return e, nil
}

// GetByLocalID returns the event recorded under a device-local id.
func (r *Repository) GetByLocalID(ctx context.Context, localID string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM visit_events WHERE local_id = $1", localID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying visit event by local id %s: %w", localID, err)
	}
	return e, nil
}

// ListBySession returns all events of a session, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) (events []*Event, err error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM visit_events WHERE session_id = $1 ORDER BY occurred_at, id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing visit events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning visit event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating visit events: %w", err)
	}

	return events, nil
}

// CountByKind returns how many events of the given kind reference a session.
func (r *Repository) CountByKind(ctx context.Context, sessionID string, kind Kind) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM visit_events WHERE session_id = $1 AND kind = $2",
		sessionID, string(kind),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s events: %w", kind, err)
	}
	return n, nil
}

// HasCheckinEvidence reports whether any check-in event of the session carries evidence.
func (r *Repository) HasCheckinEvidence(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM visit_events WHERE session_id = $1 AND kind = $2 AND "+hasEvidence,
		sessionID, string(CheckIn),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking check-in evidence: %w", err)
	}
	return n > 0, nil
}

// AttachEvidence back-fills evidence on the session's events of the given kind
// that have none yet. Events that already carry evidence are left untouched.
// Returns the number of events updated.
func (r *Repository) AttachEvidence(ctx context.Context, sessionID string, kind Kind, ev Evidence) (int64, error) {
	if !ev.Present() {
		return 0, fmt.Errorf("evidence reference is empty")
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE visit_events SET evidence_file_id = $1, evidence_url = $2
		 WHERE session_id = $3 AND kind = $4 AND NOT `+hasEvidence,
		nullString(ev.FileID), nullString(ev.URL), sessionID, string(kind),
	)
	if err != nil {
		return 0, fmt.Errorf("attaching evidence: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// DeleteBySession removes every event referencing a session.
func (r *Repository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM visit_events WHERE session_id = $1", sessionID)
	if err != nil {
		return 0, fmt.Errorf("deleting visit events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*Event, error) {
	var e Event
	var localID, fileID, url sql.NullString
	var lat, lng sql.NullFloat64
	var createdAt sql.NullTime

	if err := s.Scan(
		&e.ID, &localID, &e.SessionID, &e.RepID, &e.ClientID, &e.Kind, &e.PlannedDate, &e.OccurredAt,
		&lat, &lng, &e.Address, &fileID, &url, &createdAt,
	); err != nil {
		return nil, err
	}

	e.LocalID = localID.String
	e.OccurredAt = e.OccurredAt.UTC()
	if lat.Valid {
		e.Latitude = &lat.Float64
	}
	if lng.Valid {
		e.Longitude = &lng.Float64
	}
	if fileID.Valid {
		e.EvidenceFileID = &fileID.String
	}
	if url.Valid {
		e.EvidenceURL = &url.String
	}
	if createdAt.Valid {
		e.CreatedAt = createdAt.Time
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
