package roster

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/evcraddock/field-visits/internal/db"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := db.Open(path)
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

func TestAddAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	r, err := s.Add(ctx, 42, "  Ana Souza ")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if r.Name != "Ana Souza" {
		t.Errorf("name = %q", r.Name)
	}
	if !r.Active {
		t.Error("new representative should be active")
	}

	got, err := s.GetByID(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != 42 {
		t.Errorf("id = %d, want 42", got.ID)
	}
}

func TestAddDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, 42, "Ana"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := s.Add(ctx, 42, "Ana again"); err == nil {
		t.Fatal("expected error for duplicate")
	}
}

func TestAddInvalidID(t *testing.T) {
	s := testStore(t)

	if _, err := s.Add(context.Background(), 0, "Nobody"); err == nil {
		t.Fatal("expected error for zero id")
	}
}

func TestListActive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []int64{3, 1, 2} {
		if _, err := s.Add(ctx, id, ""); err != nil {
			t.Fatalf("add %d: %v", id, err)
		}
	}
	if err := s.SetActive(ctx, 2, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != 1 {
		t.Fatalf("list = %+v, want 3 ordered by id", all)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d active, want 2", len(active))
	}
	for _, r := range active {
		if r.ID == 2 {
			t.Error("deactivated representative listed as active")
		}
	}
}

func TestSetActiveNotFound(t *testing.T) {
	s := testStore(t)

	err := s.SetActive(context.Background(), 99, false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
