package settings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/evcraddock/field-visits/internal/db"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if cerr := d.Close(); cerr != nil {
			t.Errorf("close db: %v", cerr)
		}
	})
	return NewStore(d)
}

func TestMinTimeBetweenVisitsDefaults(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tests := []struct {
		fallback time.Duration
		want     time.Duration
	}{
		{0, 5 * time.Minute},
		{-time.Second, 5 * time.Minute},
		{10 * time.Minute, 10 * time.Minute},
	}
	for _, tt := range tests {
		got, err := s.MinTimeBetweenVisits(ctx, tt.fallback)
		if err != nil {
			t.Fatalf("fallback %v: %v", tt.fallback, err)
		}
		if got != tt.want {
			t.Errorf("fallback %v: got %v, want %v", tt.fallback, got, tt.want)
		}
	}
}

func TestSetMinTimeBetweenVisits(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SetMinTimeBetweenVisits(ctx, 90*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetMinTimeBetweenVisits(ctx, 3*time.Minute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := s.MinTimeBetweenVisits(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 3*time.Minute {
		t.Errorf("got %v, want 3m", got)
	}
}

func TestSetNegativeGap(t *testing.T) {
	s := testStore(t)

	if err := s.SetMinTimeBetweenVisits(context.Background(), -time.Minute); err == nil {
		t.Fatal("expected error for negative gap")
	}
}

func TestCorruptGap(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, KeyMinTimeBetweenVisits, "five minutes"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := s.MinTimeBetweenVisits(ctx, 0); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestGetUnset(t *testing.T) {
	s := testStore(t)

	_, ok, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected unset key")
	}
}
