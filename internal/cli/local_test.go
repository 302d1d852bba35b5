package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/evcraddock/field-visits/internal/db"
	"github.com/evcraddock/field-visits/internal/roster"
	"github.com/evcraddock/field-visits/internal/settings"
)

func TestRepCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visits.db")

	if _, err := executeCommand("rep", "add", "7", "Ana", "Souza", "--db", path); err != nil {
		t.Fatalf("rep add: %v", err)
	}
	if _, err := executeCommand("rep", "list", "--db", path, "--format", "json"); err != nil {
		t.Fatalf("rep list: %v", err)
	}
	if _, err := executeCommand("rep", "deactivate", "7", "--db", path); err != nil {
		t.Fatalf("rep deactivate: %v", err)
	}

	conn, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer closeDB(conn)

	r, err := roster.NewStore(conn).GetByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("get rep: %v", err)
	}
	if r.Name != "Ana Souza" {
		t.Errorf("name = %q, want Ana Souza", r.Name)
	}
	if r.Active {
		t.Error("expected rep to be inactive")
	}
}

func TestSettingsMinGap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visits.db")
	t.Setenv("FV_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := executeCommand("settings", "min-gap", "10m", "--db", path); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := executeCommand("settings", "min-gap", "soon", "--db", path); err == nil {
		t.Fatal("expected error for invalid duration")
	}

	conn, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer closeDB(conn)

	gap, err := settings.NewStore(conn).MinTimeBetweenVisits(context.Background(), 0)
	if err != nil {
		t.Fatalf("read gap: %v", err)
	}
	if gap != 10*time.Minute {
		t.Errorf("gap = %v, want 10m", gap)
	}
}

func TestSyncCheckValidatesLocally(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "batch.json")
	if err := os.WriteFile(valid, []byte(`{"rep_id": 42, "sessions": []}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	invalid := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(invalid, []byte(`{"sessions": []}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := executeCommand("sync", valid, "--check"); err != nil {
		t.Errorf("valid batch: %v", err)
	}
	if _, err := executeCommand("sync", invalid, "--check"); err == nil {
		t.Error("expected error for invalid batch")
	}
	if _, err := executeCommand("sync", filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
