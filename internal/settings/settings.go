// Package settings stores administrator-tunable values.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evcraddock/field-visits/internal/db"
)

// KeyMinTimeBetweenVisits holds the minimum gap between a checkout and the
// representative's next check-in, as a Go duration string.
const KeyMinTimeBetweenVisits = "min_time_between_visits"

// DefaultMinTimeBetweenVisits applies when neither the store nor the config sets a gap.
const DefaultMinTimeBetweenVisits = 5 * time.Minute

// Store reads and writes the settings table.
type Store struct {
	db db.DBTX
}

// NewStore creates a settings store.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// Get returns the raw value of key and whether it is set.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, CURRENT_TIMESTAMP)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// MinTimeBetweenVisits returns the stored visit gap, or fallback when none is
// stored. A fallback of zero means DefaultMinTimeBetweenVisits.
func (s *Store) MinTimeBetweenVisits(ctx context.Context, fallback time.Duration) (time.Duration, error) {
	if fallback <= 0 {
		fallback = DefaultMinTimeBetweenVisits
	}

	raw, ok, err := s.Get(ctx, KeyMinTimeBetweenVisits)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", KeyMinTimeBetweenVisits, raw, err)
	}
	return d, nil
}

// SetMinTimeBetweenVisits stores the visit gap.
func (s *Store) SetMinTimeBetweenVisits(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("minimum time between visits must not be negative")
	}
	return s.Set(ctx, KeyMinTimeBetweenVisits, d.String())
}
