package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigSaveAndLoad(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	cfg := CLIConfig{
		ServerURL: "http://myhost:9090",
		RepID:     42,
	}

	if err := saveConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	path := filepath.Join(tmp, ".config", "fv", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not found: %v", err)
	}

	loaded, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != cfg {
		t.Errorf("loaded = %+v, want %+v", loaded, cfg)
	}
}

func TestConfigLoadMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if cfg != (CLIConfig{}) {
		t.Error("expected zero-value config for missing file")
	}
}

func TestGetServerURLFromEnv(t *testing.T) {
	t.Setenv("FV_SERVER_URL", "http://custom:1234")
	t.Setenv("HOME", t.TempDir())

	if url := getServerURL(); url != "http://custom:1234" {
		t.Errorf("url = %q, want %q", url, "http://custom:1234")
	}
}

func TestGetServerURLDefault(t *testing.T) {
	t.Setenv("FV_SERVER_URL", "")
	t.Setenv("HOME", t.TempDir())

	if url := getServerURL(); url != "http://localhost:8080" {
		t.Errorf("url = %q, want %q", url, "http://localhost:8080")
	}
}

func TestGetRepID(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FV_REP_ID", "")

	if id := getRepID(); id != 0 {
		t.Errorf("unset rep = %d, want 0", id)
	}

	if err := saveConfig(CLIConfig{RepID: 9}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if id := getRepID(); id != 9 {
		t.Errorf("config rep = %d, want 9", id)
	}

	t.Setenv("FV_REP_ID", "12")
	if id := getRepID(); id != 12 {
		t.Errorf("env rep = %d, want 12", id)
	}

	if id, err := requireRepID(5); err != nil || id != 5 {
		t.Errorf("flag rep = %d, %v; want 5", id, err)
	}
}

func TestConfigureCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FV_SERVER_URL", "")

	if _, err := executeCommand("configure", "--server", "http://fv.example.com/", "--rep", "42"); err != nil {
		t.Fatalf("configure: %v", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "http://fv.example.com" || cfg.RepID != 42 {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := executeCommand("configure", "--server", "not a url"); err == nil {
		t.Error("expected error for invalid server URL")
	}
}
