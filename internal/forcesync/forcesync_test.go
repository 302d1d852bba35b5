package forcesync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/evcraddock/field-visits/internal/db"
	"github.com/evcraddock/field-visits/internal/roster"
)

func testSetup(t *testing.T) (*Store, *roster.Store) {
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
	reps := roster.NewStore(d)
	return NewStore(d, reps), reps
}

func TestCheckEmpty(t *testing.T) {
	s, _ := testSetup(t)

	f, err := s.Check(context.Background(), 42)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if f.Pending() {
		t.Errorf("flag = %+v, want nothing pending", f)
	}
	if f.RepID != 42 {
		t.Errorf("rep_id = %d, want 42", f.RepID)
	}
}

func TestForceAndClear(t *testing.T) {
	s, _ := testSetup(t)
	ctx := context.Background()

	if err := s.Force(ctx, 42, Both, "reinstalled device"); err != nil {
		t.Fatalf("force: %v", err)
	}

	f, err := s.Check(ctx, 42)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !f.PullPending || !f.PushPending {
		t.Fatalf("flag = %+v, want both pending", f)
	}
	if f.Message != "reinstalled device" {
		t.Errorf("message = %q", f.Message)
	}

	if err := s.Clear(ctx, 42, Pull); err != nil {
		t.Fatalf("clear pull: %v", err)
	}
	f, err = s.Check(ctx, 42)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if f.PullPending || !f.PushPending {
		t.Fatalf("flag = %+v, want only push pending", f)
	}

	if err := s.Clear(ctx, 42, Push); err != nil {
		t.Fatalf("clear push: %v", err)
	}
	f, err = s.Check(ctx, 42)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if f.Pending() || f.UpdatedAt != nil {
		t.Errorf("flag = %+v, want row removed", f)
	}
}

func TestForceKeepsPendingDirections(t *testing.T) {
	s, _ := testSetup(t)
	ctx := context.Background()

	if err := s.Force(ctx, 7, Pull, "first"); err != nil {
		t.Fatalf("force pull: %v", err)
	}
	if err := s.Force(ctx, 7, Push, "second"); err != nil {
		t.Fatalf("force push: %v", err)
	}

	f, err := s.Check(ctx, 7)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !f.PullPending || !f.PushPending {
		t.Errorf("flag = %+v, want both pending", f)
	}
	if f.Message != "second" {
		t.Errorf("message = %q, want latest", f.Message)
	}
}

func TestForceAll(t *testing.T) {
	s, reps := testSetup(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if _, err := reps.Add(ctx, id, ""); err != nil {
			t.Fatalf("add rep %d: %v", id, err)
		}
	}
	if err := reps.SetActive(ctx, 3, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	n, err := s.ForceAll(ctx, Pull, "catalog update")
	if err != nil {
		t.Fatalf("force all: %v", err)
	}
	if n != 2 {
		t.Errorf("flagged %d, want 2", n)
	}

	for _, tt := range []struct {
		rep  int64
		want bool
	}{{1, true}, {2, true}, {3, false}} {
		f, err := s.Check(ctx, tt.rep)
		if err != nil {
			t.Fatalf("check %d: %v", tt.rep, err)
		}
		if f.PullPending != tt.want {
			t.Errorf("rep %d pull pending = %v, want %v", tt.rep, f.PullPending, tt.want)
		}
		if f.PushPending {
			t.Errorf("rep %d push pending, want false", tt.rep)
		}
	}
}

func TestClearWithoutFlag(t *testing.T) {
	s, _ := testSetup(t)

	if err := s.Clear(context.Background(), 99, Both); err != nil {
		t.Fatalf("clear: %v", err)
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"pull", Pull, false},
		{"PUSH", Push, false},
		{" both ", Both, false},
		{"sideways", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDirection(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDirection(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDirection(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestForceInvalid(t *testing.T) {
	s, _ := testSetup(t)
	ctx := context.Background()

	if err := s.Force(ctx, 0, Pull, ""); err == nil {
		t.Error("expected error for missing rep")
	}
	if err := s.Force(ctx, 1, "sideways", ""); err == nil {
		t.Error("expected error for invalid direction")
	}
}
