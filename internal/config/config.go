// Package config loads server configuration from .env, an optional YAML file
// and FV_* environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/evcraddock/field-visits/internal/db"
)

// Config holds server configuration.
type Config struct {
	// Database is a SQLite file path or a postgres:// connection URL.
	Database string `yaml:"database"`
	Port     int    `yaml:"port"`
	DevMode  bool   `yaml:"dev_mode"`

	// MinVisitGap applies when no gap has been set through the settings table.
	MinVisitGap time.Duration `yaml:"min_visit_gap"`

	Evidence EvidenceConfig `yaml:"evidence"`
}

// EvidenceConfig selects where check-in photos are stored. Without Drive
// credentials photos are kept in memory, which is only useful in dev mode.
type EvidenceConfig struct {
	DriveCredentials string `yaml:"drive_credentials"` // path to credentials JSON
	RootFolderID     string `yaml:"root_folder_id"`
	CacheDir         string `yaml:"cache_dir"`
}

// Default returns the configuration used when nothing else is set.
func Default() (Config, error) {
	dbPath, err := db.DefaultPath()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Database:    dbPath,
		Port:        8080,
		MinVisitGap: 5 * time.Minute,
		Evidence: EvidenceConfig{
			CacheDir: filepath.Join(xdg.CacheHome, "fieldvisit", "folders"),
		},
	}, nil
}

// Path returns the config file location: $FV_CONFIG or
// $XDG_CONFIG_HOME/fieldvisit/config.yaml.
func Path() string {
	if v := os.Getenv("FV_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(xdg.ConfigHome, "fieldvisit", "config.yaml")
}

// Load builds the configuration. A missing .env or config file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}

	if err := loadFile(Path(), &cfg); err != nil {
		return Config{}, err
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.MinVisitGap < 0 {
		return Config{}, fmt.Errorf("min visit gap must not be negative")
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path onto cfg.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("FV_DB"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("FV_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing FV_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("FV_DEV_MODE"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing FV_DEV_MODE: %w", err)
		}
		cfg.DevMode = dev
	}
	if v := os.Getenv("FV_MIN_VISIT_GAP"); v != "" {
		gap, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing FV_MIN_VISIT_GAP: %w", err)
		}
		cfg.MinVisitGap = gap
	}
	if v := os.Getenv("FV_DRIVE_CREDENTIALS"); v != "" {
		cfg.Evidence.DriveCredentials = v
	}
	if v := os.Getenv("FV_DRIVE_ROOT_FOLDER"); v != "" {
		cfg.Evidence.RootFolderID = v
	}
	if v := os.Getenv("FV_CACHE_DIR"); v != "" {
		cfg.Evidence.CacheDir = v
	}
	return nil
}
