package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evcraddock/field-visits/internal/config"
	"github.com/evcraddock/field-visits/internal/db"
	"github.com/evcraddock/field-visits/internal/evidence"
	"github.com/evcraddock/field-visits/internal/forcesync"
	"github.com/evcraddock/field-visits/internal/logging"
	"github.com/evcraddock/field-visits/internal/roster"
	"github.com/evcraddock/field-visits/internal/session"
	"github.com/evcraddock/field-visits/internal/settings"
	"github.com/evcraddock/field-visits/internal/syncer"
	"github.com/evcraddock/field-visits/internal/web"
)

func newServeCmd() *cobra.Command {
	var port int
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the HTTP API used by representative devices. Configuration comes from .env, the config file and FV_* variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if flagDB != "" {
				cfg.Database = flagDB
			}
			if port != 0 {
				cfg.Port = port
			}
			if dev {
				cfg.DevMode = true
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (default: from config, 8080)")
	cmd.Flags().BoolVar(&dev, "dev", false, "dev mode: text debug logs, in-memory evidence store allowed")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logging.Setup(cfg.DevMode)

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB(conn)

	store, err := newEvidenceStore(ctx, cfg)
	if err != nil {
		return err
	}
	cache, err := evidence.OpenBadgerCache(cfg.Evidence.CacheDir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cache.Close(); cerr != nil {
			slog.Warn("closing folder cache", "err", cerr)
		}
	}()

	sessions := session.NewManager(conn)
	srv := web.NewServer(web.Deps{
		Sessions:   sessions,
		Reconciler: syncer.NewReconciler(sessions, settings.NewStore(conn), cfg.MinVisitGap),
		ForceSync:  forcesync.NewStore(conn, roster.NewStore(conn)),
		Uploader:   evidence.NewUploader(store, cache, sessions, cfg.Evidence.RootFolderID),
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("serving", "database", redact(cfg.Database), "port", cfg.Port, "dev_mode", cfg.DevMode)
	return srv.ListenAndServe(ctx, cfg.Port)
}

// newEvidenceStore returns the Drive store when credentials are configured.
// Without them photos are kept in memory, which dev mode allows.
func newEvidenceStore(ctx context.Context, cfg config.Config) (evidence.Store, error) {
	if cfg.Evidence.DriveCredentials == "" {
		if !cfg.DevMode {
			return nil, fmt.Errorf("no evidence store: set FV_DRIVE_CREDENTIALS or run with --dev")
		}
		slog.Warn("using in-memory evidence store; photos are lost on restart")
		return evidence.NewMemoryStore(), nil
	}

	creds, err := os.ReadFile(cfg.Evidence.DriveCredentials)
	if err != nil {
		return nil, fmt.Errorf("reading drive credentials: %w", err)
	}
	return evidence.NewDriveStore(ctx, creds)
}

// redact hides the password of a database URL.
func redact(target string) string {
	if !db.IsPostgres(target) {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "postgres://…"
	}
	return u.Redacted()
}
