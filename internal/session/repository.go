package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evcraddock/field-visits/internal/db"
)

// Repository provides access to the visit_sessions table.
type Repository struct {
	db db.DBTX
}

// NewRepository creates a session repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const insertSQL = `INSERT INTO visit_sessions
	(id, rep_id, client_id, client_name, client_address, planned_date, checkin_at, status,
	 checkin_address, day_code, route_ref, svc_restock, svc_pricing, svc_shelf, svc_display,
	 qty_fronts, qty_points)
	VALUES ($1, $2, $3, $4, $5, $6, $7, 'open', $8, $9, $10, $11, $12, $13, $14, $15, $16)`

const selectColumns = `id, rep_id, client_id, client_name, client_address, planned_date,
	checkin_at, checkout_at, elapsed_minutes, status, checkin_address, checkout_address,
	day_code, route_ref, svc_restock, svc_pricing, svc_shelf, svc_display, qty_fronts,
	qty_points, cancelled_at, cancel_reason, created_at, updated_at`

// openCondition mirrors the filter of the visit_sessions_one_open index.
const openCondition = `status = 'open' AND checkout_at IS NULL AND cancelled_at IS NULL`

// Insert stores a new open session under its caller-assigned ID.
func (r *Repository) Insert(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx, insertSQL,
		s.ID, s.RepID, s.ClientID, s.ClientName, s.ClientAddress, s.PlannedDate,
		s.CheckinAt.UTC(), s.CheckinAddress, s.DayCode, s.RouteRef,
		s.Services.Restock, s.Services.Pricing, s.Services.Shelf, s.Services.Display,
		s.Services.Fronts, s.Services.Points,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetByID returns a session by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM visit_sessions WHERE id = $1", id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", id, err)
	}
	return s, nil
}

// FindOpen returns the open session for a representative and client.
func (r *Repository) FindOpen(ctx context.Context, repID int64, clientID string) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM visit_sessions WHERE rep_id = $1 AND client_id = $2 AND "+openCondition,
		repID, clientID,
	)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying open session: %w", err)
	}
	return s, nil
}

// ListOpen returns open sessions, optionally for one representative, oldest check-in first.
func (r *Repository) ListOpen(ctx context.Context, repID *int64) ([]*Session, error) {
	query := "SELECT " + selectColumns + " FROM visit_sessions WHERE " + openCondition
	var args []any
	if repID != nil {
		query += " AND rep_id = $1"
		args = append(args, *repID)
	}
	query += " ORDER BY checkin_at, id"
	return r.list(ctx, query, args...)
}

// LastClosed returns the representative's closed session with the latest
// checkout among those checked in no later than before.
func (r *Repository) LastClosed(ctx context.Context, repID int64, before time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+` FROM visit_sessions
		 WHERE rep_id = $1 AND status = 'closed' AND checkout_at IS NOT NULL AND checkin_at <= $2
		 ORDER BY checkout_at DESC, id DESC LIMIT 1`,
		repID, before.UTC(),
	)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying last closed session: %w", err)
	}
	return s, nil
}

// ForClientOnDate returns the most recent session planned for a client on a date.
func (r *Repository) ForClientOnDate(ctx context.Context, repID int64, clientID, date string) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+` FROM visit_sessions
		 WHERE rep_id = $1 AND client_id = $2 AND planned_date = $3
		 ORDER BY checkin_at DESC, id DESC LIMIT 1`,
		repID, clientID, date,
	)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session for client on date: %w", err)
	}
	return s, nil
}

// Close sets the checkout fields on an open session. It reports false when the
// session is unknown or no longer open.
func (r *Repository) Close(ctx context.Context, id string, checkoutAt time.Time, elapsed int, address string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE visit_sessions
		 SET status = 'closed', checkout_at = $1, elapsed_minutes = $2, checkout_address = $3,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = $4 AND `+openCondition,
		checkoutAt.UTC(), elapsed, address, id,
	)
	if err != nil {
		return false, fmt.Errorf("closing session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateServices replaces the service flags of a session.
func (r *Repository) UpdateServices(ctx context.Context, id string, f ServiceFlags) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE visit_sessions
		 SET svc_restock = $1, svc_pricing = $2, svc_shelf = $3, svc_display = $4,
		     qty_fronts = $5, qty_points = $6, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $7`,
		f.Restock, f.Pricing, f.Shelf, f.Display, f.Fronts, f.Points, id,
	)
	if err != nil {
		return fmt.Errorf("updating services: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session row.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM visit_sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUnevidenced removes a session only while it is open and none of its
// check-in events carries evidence. Reports whether a row was deleted.
func (r *Repository) DeleteUnevidenced(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM visit_sessions
		 WHERE id = $1 AND `+openCondition+`
		   AND NOT EXISTS (
			SELECT 1 FROM visit_events
			WHERE session_id = $1 AND kind = 'checkin'
			  AND (COALESCE(evidence_file_id, '') <> '' OR COALESCE(evidence_url, '') <> ''))`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("sweeping session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// RecordCancellation keeps an audit row for a session about to be deleted.
func (r *Repository) RecordCancellation(ctx context.Context, s *Session, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_cancellations (session_id, rep_id, client_id, reason, cancelled_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.RepID, s.ClientID, strings.TrimSpace(reason), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording cancellation: %w", err)
	}
	return nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) (sessions []*Session, err error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*Session, error) {
	var s Session
	var status string
	var checkoutAt, cancelledAt, createdAt, updatedAt sql.NullTime
	var elapsed, fronts, points sql.NullInt64
	var cancelReason sql.NullString

	if err := sc.Scan(
		&s.ID, &s.RepID, &s.ClientID, &s.ClientName, &s.ClientAddress, &s.PlannedDate,
		&s.CheckinAt, &checkoutAt, &elapsed, &status, &s.CheckinAddress, &s.CheckoutAddress,
		&s.DayCode, &s.RouteRef, &s.Services.Restock, &s.Services.Pricing, &s.Services.Shelf,
		&s.Services.Display, &fronts, &points, &cancelledAt, &cancelReason, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	s.CheckinAt = s.CheckinAt.UTC()
	if checkoutAt.Valid {
		t := checkoutAt.Time.UTC()
		s.CheckoutAt = &t
	}
	if elapsed.Valid {
		v := int(elapsed.Int64)
		s.ElapsedMinutes = &v
	}
	if fronts.Valid {
		v := int(fronts.Int64)
		s.Services.Fronts = &v
	}
	if points.Valid {
		v := int(points.Int64)
		s.Services.Points = &v
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		s.CancelledAt = &t
	}
	s.CancelReason = cancelReason.String
	if createdAt.Valid {
		s.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		s.UpdatedAt = updatedAt.Time
	}

	s.Status = s.State()
	if status == string(StateClosed) && s.Status == StateOpen {
		// Closed rows always carry a checkout; trust the column if one does not.
		s.Status = StateClosed
	}
	return &s, nil
}
