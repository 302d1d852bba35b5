// Package forcesync stores administrative directives telling a representative's
// device to pull or push its data on the next connection.
package forcesync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evcraddock/field-visits/internal/db"
	"github.com/evcraddock/field-visits/internal/roster"
)

// Direction selects which side of a sync is requested or completed.
type Direction string

const (
	Pull Direction = "pull"
	Push Direction = "push"
	Both Direction = "both"
)

// ParseDirection parses pull, push or both (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case Pull, Push, Both:
		return d, nil
	}
	return "", fmt.Errorf("invalid direction %q: must be pull, push or both", s)
}

func (d Direction) pull() bool { return d == Pull || d == Both }
func (d Direction) push() bool { return d == Push || d == Both }

// Flag is the pending sync state of one representative.
type Flag struct {
	RepID       int64      `json:"rep_id"`
	PullPending bool       `json:"pull_pending"`
	PushPending bool       `json:"push_pending"`
	Message     string     `json:"message,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Pending reports whether any direction is outstanding.
func (f *Flag) Pending() bool {
	return f.PullPending || f.PushPending
}

// Store manages force-sync flags.
type Store struct {
	db   db.DBTX
	reps *roster.Store
}

// NewStore creates a force-sync store. The roster resolves ForceAll targets.
func NewStore(conn db.DBTX, reps *roster.Store) *Store {
	return &Store{db: conn, reps: reps}
}

// Force marks directions pending for a representative. Directions already
// pending stay pending; the message is replaced.
func (s *Store) Force(ctx context.Context, repID int64, d Direction, message string) error {
	if repID <= 0 {
		return fmt.Errorf("rep id is required")
	}
	if _, err := ParseDirection(string(d)); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO force_sync_flags (rep_id, pull_pending, push_pending, message, updated_at)
		 VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		 ON CONFLICT (rep_id) DO UPDATE SET
			pull_pending = force_sync_flags.pull_pending OR excluded.pull_pending,
			push_pending = force_sync_flags.push_pending OR excluded.push_pending,
			message = excluded.message,
			updated_at = CURRENT_TIMESTAMP`,
		repID, d.pull(), d.push(), strings.TrimSpace(message),
	)
	if err != nil {
		return fmt.Errorf("forcing sync for rep %d: %w", repID, err)
	}

	slog.Info("force sync requested", "rep_id", repID, "direction", string(d))
	return nil
}

// ForceAll applies Force to every active representative and returns how many were flagged.
func (s *Store) ForceAll(ctx context.Context, d Direction, message string) (int, error) {
	reps, err := s.reps.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	for i, r := range reps {
		if err := s.Force(ctx, r.ID, d, message); err != nil {
			return i, err
		}
	}
	return len(reps), nil
}

// Check returns the flag for a representative. A representative with nothing
// pending gets a zero flag, not an error.
func (s *Store) Check(ctx context.Context, repID int64) (*Flag, error) {
	f := &Flag{RepID: repID}
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT pull_pending, push_pending, message, updated_at FROM force_sync_flags WHERE rep_id = $1",
		repID,
	).Scan(&f.PullPending, &f.PushPending, &f.Message, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking force sync for rep %d: %w", repID, err)
	}
	if updatedAt.Valid {
		f.UpdatedAt = &updatedAt.Time
	}
	return f, nil
}

// Clear marks directions complete. A flag with nothing left pending is removed.
func (s *Store) Clear(ctx context.Context, repID int64, d Direction) error {
	if _, err := ParseDirection(string(d)); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE force_sync_flags
		 SET pull_pending = pull_pending AND NOT $1,
		     push_pending = push_pending AND NOT $2,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE rep_id = $3`,
		d.pull(), d.push(), repID,
	)
	if err != nil {
		return fmt.Errorf("clearing force sync for rep %d: %w", repID, err)
	}

	_, err = s.db.ExecContext(ctx,
		"DELETE FROM force_sync_flags WHERE rep_id = $1 AND NOT pull_pending AND NOT push_pending",
		repID,
	)
	if err != nil {
		return fmt.Errorf("removing cleared force sync for rep %d: %w", repID, err)
	}

	slog.Debug("force sync cleared", "rep_id", repID, "direction", string(d))
	return nil
}
