// Package web serves the visit session HTTP API used by representative devices
// and the back office.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/evcraddock/field-visits/internal/evidence"
	"github.com/evcraddock/field-visits/internal/forcesync"
	"github.com/evcraddock/field-visits/internal/logging"
	"github.com/evcraddock/field-visits/internal/session"
	"github.com/evcraddock/field-visits/internal/syncer"
)

// Deps are the services the server exposes.
type Deps struct {
	Sessions   *session.Manager
	Reconciler *syncer.Reconciler
	ForceSync  *forcesync.Store
	Uploader   *evidence.Uploader
}

// Server is the API HTTP server.
type Server struct {
	sessions   *session.Manager
	reconciler *syncer.Reconciler
	forceSync  *forcesync.Store
	uploader   *evidence.Uploader
	handler    http.Handler
}

// NewServer wires the API routes.
func NewServer(d Deps) *Server {
	s := &Server{
		sessions:   d.Sessions,
		reconciler: d.Reconciler,
		forceSync:  d.ForceSync,
		uploader:   d.Uploader,
	}
	s.handler = logging.RequestLogger(s.routes())
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/sessions", s.apiOpenSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.apiListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.apiGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.apiCancelSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/checkout", s.apiCloseSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/activities", s.apiCountActivities).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/services", s.apiUpdateServices).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/events", s.apiRecordEvent).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/evidence", s.apiUploadEvidence).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/evidence", s.apiDownloadEvidence).Methods(http.MethodGet)

	api.HandleFunc("/reps/{rep}/clients/{client}/session", s.apiSessionForClientOnDate).Methods(http.MethodGet)

	api.HandleFunc("/sync", s.apiSync).Methods(http.MethodPost)

	api.HandleFunc("/reps/{rep}/force-sync", s.apiCheckForceSync).Methods(http.MethodGet)
	api.HandleFunc("/reps/{rep}/force-sync", s.apiForceSync).Methods(http.MethodPost)
	api.HandleFunc("/reps/{rep}/force-sync", s.apiClearForceSync).Methods(http.MethodDelete)
	api.HandleFunc("/force-sync", s.apiForceSyncAll).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiError(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiError(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on port until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting API server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("API server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	apiJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
