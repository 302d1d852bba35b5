// Package roster keeps the list of field representatives known to the server.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evcraddock/field-visits/internal/db"
)

// ErrNotFound is returned for unknown representatives.
var ErrNotFound = errors.New("representative not found")

// Representative is a field sales or merchandising agent.
type Representative struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages representatives.
type Store struct {
	db db.DBTX
}

// NewStore creates a representative store.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// Add registers a representative under an explicit id.
func (s *Store) Add(ctx context.Context, id int64, name string) (*Representative, error) {
	name = strings.TrimSpace(name)
	if id <= 0 {
		return nil, fmt.Errorf("representative id must be positive")
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO representatives (id, name) VALUES ($1, $2)",
		id, name,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("representative already exists: %d", id)
		}
		return nil, fmt.Errorf("adding representative: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID returns a representative by id.
func (s *Store) GetByID(ctx context.Context, id int64) (*Representative, error) {
	var r Representative
	var createdAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, active, created_at FROM representatives WHERE id = $1", id,
	).Scan(&r.ID, &r.Name, &r.Active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying representative: %w", err)
	}
	r.CreatedAt = createdAt.Time
	return &r, nil
}

// List returns all representatives ordered by id.
func (s *Store) List(ctx context.Context) ([]*Representative, error) {
	return s.query(ctx, "SELECT id, name, active, created_at FROM representatives ORDER BY id")
}

// ListActive returns active representatives ordered by id.
func (s *Store) ListActive(ctx context.Context) ([]*Representative, error) {
	return s.query(ctx, "SELECT id, name, active, created_at FROM representatives WHERE active = $1 ORDER BY id", true)
}

// SetActive activates or deactivates a representative.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx, "UPDATE representatives SET active = $1 WHERE id = $2", active, id)
	if err != nil {
		return fmt.Errorf("updating representative: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) (reps []*Representative, err error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing representatives: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		var r Representative
		var createdAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Name, &r.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning representative: %w", err)
		}
		r.CreatedAt = createdAt.Time
		reps = append(reps, &r)
	}

	return reps, rows.Err()
}
