package web

import (
	"io"
	"net/http"
	"strings"

	"github.com/evcraddock/field-visits/internal/forcesync"
	"github.com/evcraddock/field-visits/internal/syncer"
)

// maxBatchBody bounds an offline sync batch.
const maxBatchBody = 16 << 20

type forceRequest struct {
	Direction string `json:"direction"`
	Message   string `json:"message"`
}

type syncResponse struct {
	*syncer.Result
	ForceSync *forcesync.Flag `json:"force_sync"`
}

// apiSync reconciles an offline batch. Rule violations come back per session
// in the result. Pending force-sync flags are reported, never cleared here.
func (s *Server) apiSync(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBatchBody))
	if err != nil {
		apiError(w, "reading batch: "+err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	batch, err := syncer.DecodeBatch(data)
	if err != nil {
		apiError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.reconciler.ReconcileBatch(r.Context(), batch)
	if err != nil {
		apiFail(w, "reconciling batch", err)
		return
	}

	flag, err := s.forceSync.Check(r.Context(), batch.RepID)
	if err != nil {
		apiFail(w, "checking force-sync", err)
		return
	}

	apiJSON(w, syncResponse{Result: res, ForceSync: flag}, http.StatusOK)
}

func (s *Server) apiCheckForceSync(w http.ResponseWriter, r *http.Request) {
	repID, ok := repVar(w, r)
	if !ok {
		return
	}
	flag, err := s.forceSync.Check(r.Context(), repID)
	if err != nil {
		apiFail(w, "checking force-sync", err)
		return
	}
	apiJSON(w, flag, http.StatusOK)
}

func (s *Server) apiForceSync(w http.ResponseWriter, r *http.Request) {
	repID, ok := repVar(w, r)
	if !ok {
		return
	}
	req, d, ok := decodeForce(w, r)
	if !ok {
		return
	}
	if err := s.forceSync.Force(r.Context(), repID, d, req.Message); err != nil {
		apiFail(w, "forcing sync", err)
		return
	}
	flag, err := s.forceSync.Check(r.Context(), repID)
	if err != nil {
		apiFail(w, "checking force-sync", err)
		return
	}
	apiJSON(w, flag, http.StatusOK)
}

func (s *Server) apiClearForceSync(w http.ResponseWriter, r *http.Request) {
	repID, ok := repVar(w, r)
	if !ok {
		return
	}
	d, ok := directionParam(w, r.URL.Query().Get("direction"))
	if !ok {
		return
	}
	if err := s.forceSync.Clear(r.Context(), repID, d); err != nil {
		apiFail(w, "clearing force-sync", err)
		return
	}
	flag, err := s.forceSync.Check(r.Context(), repID)
	if err != nil {
		apiFail(w, "checking force-sync", err)
		return
	}
	apiJSON(w, flag, http.StatusOK)
}

// apiForceSyncAll flags every active representative.
func (s *Server) apiForceSyncAll(w http.ResponseWriter, r *http.Request) {
	req, d, ok := decodeForce(w, r)
	if !ok {
		return
	}
	n, err := s.forceSync.ForceAll(r.Context(), d, req.Message)
	if err != nil {
		apiFail(w, "forcing sync", err)
		return
	}
	apiJSON(w, map[string]any{"direction": d, "representatives": n}, http.StatusOK)
}

// decodeForce reads an optional force request body; an empty body means both
// directions and no message.
func decodeForce(w http.ResponseWriter, r *http.Request) (forceRequest, forcesync.Direction, bool) {
	var req forceRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return req, "", false
		}
	}
	d, ok := directionParam(w, req.Direction)
	return req, d, ok
}

func directionParam(w http.ResponseWriter, v string) (forcesync.Direction, bool) {
	if strings.TrimSpace(v) == "" {
		return forcesync.Both, true
	}
	d, err := forcesync.ParseDirection(v)
	if err != nil {
		apiError(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return d, true
}
