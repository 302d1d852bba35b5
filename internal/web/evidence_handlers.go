package web

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/evcraddock/field-visits/internal/evidence"
	"github.com/evcraddock/field-visits/internal/visit"
)

const (
	// maxPhotoSize bounds a single check-in photo.
	maxPhotoSize = 20 << 20

	// uploadRetrySeconds is the hint sent when the evidence store is down.
	uploadRetrySeconds = 30
)

var errNoEvidence = errors.New("session has no check-in evidence")

// apiUploadEvidence stores a check-in photo (multipart field "photo") and
// links it to the session. The rep_id form field picks the folder. When the
// evidence store fails the visit stays recorded and 202 asks the device to
// retry the photo later.
func (s *Server) apiUploadEvidence(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize+1<<20)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		apiError(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	repID, err := strconv.ParseInt(r.FormValue("rep_id"), 10, 64)
	if err != nil || repID <= 0 {
		apiError(w, "rep_id is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		apiError(w, "photo is required", http.StatusBadRequest)
		return
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("closing upload", "err", cerr)
		}
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		apiError(w, "reading photo", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		apiError(w, "photo is empty", http.StatusBadRequest)
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	ev, err := s.uploader.UploadCheckinPhoto(r.Context(), repID, id, data, mimeType, header.Filename)
	switch {
	case errors.Is(err, evidence.ErrUnavailable):
		w.Header().Set("Retry-After", strconv.Itoa(uploadRetrySeconds))
		apiJSON(w, map[string]any{
			"session_id":          id,
			"evidence_pending":    true,
			"retry_after_seconds": uploadRetrySeconds,
			"error":               err.Error(),
		}, http.StatusAccepted)
		return
	case err != nil:
		apiFail(w, "storing evidence", err)
		return
	}

	apiJSON(w, map[string]any{"session_id": id, "evidence": ev}, http.StatusCreated)
}

// apiDownloadEvidence streams the check-in photo of a session.
func (s *Server) apiDownloadEvidence(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ev, err := s.checkinEvidence(r, id)
	switch {
	case errors.Is(err, errNoEvidence):
		apiError(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		apiFail(w, "loading evidence", err)
		return
	}

	data, err := s.uploader.Store().DownloadFile(r.Context(), ev.FileID)
	switch {
	case errors.Is(err, evidence.ErrNotFound):
		apiError(w, "evidence file not found", http.StatusNotFound)
		return
	case err != nil:
		apiError(w, fmt.Sprintf("downloading evidence: %v", err), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		slog.Warn("writing evidence", "session_id", id, "err", err)
	}
}

// checkinEvidence finds the evidence attached to the session's check-in.
func (s *Server) checkinEvidence(r *http.Request, id string) (visit.Evidence, error) {
	if _, err := s.sessions.GetSessionByID(r.Context(), id); err != nil {
		return visit.Evidence{}, err
	}
	events, err := s.sessions.Events(r.Context(), id)
	if err != nil {
		return visit.Evidence{}, err
	}
	for _, e := range events {
		if e.Kind == visit.CheckIn && e.Evidence().FileID != "" {
			return e.Evidence(), nil
		}
	}
	return visit.Evidence{}, fmt.Errorf("%w: %s", errNoEvidence, id)
}
