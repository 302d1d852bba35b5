package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/evcraddock/field-visits/internal/session"
	"github.com/evcraddock/field-visits/internal/visit"
)

// defaultCancelReason is recorded when a cancel request gives none.
const defaultCancelReason = "cancelled by representative"

type openRequest struct {
	ID             string         `json:"id"`
	RepID          int64          `json:"rep_id"`
	ClientID       string         `json:"client_id"`
	ClientName     string         `json:"client_name"`
	ClientAddress  string         `json:"client_address"`
	PlannedDate    string         `json:"planned_date"`
	CheckinAt      *time.Time     `json:"checkin_at"`
	CheckinAddress string         `json:"checkin_address"`
	DayCode        string         `json:"day_code"`
	RouteRef       string         `json:"route_ref"`
	Latitude       *float64       `json:"latitude"`
	Longitude      *float64       `json:"longitude"`
	LocalEventID   string         `json:"local_event_id"`
	Evidence       visit.Evidence `json:"evidence"`
}

type closeRequest struct {
	CheckoutAt      *time.Time `json:"checkout_at"`
	ElapsedMinutes  *int       `json:"elapsed_minutes"`
	CheckoutAddress string     `json:"checkout_address"`
	Latitude        *float64   `json:"latitude"`
	Longitude       *float64   `json:"longitude"`
	LocalEventID    string     `json:"local_event_id"`
}

type eventRequest struct {
	Kind       visit.Kind     `json:"kind"`
	OccurredAt *time.Time     `json:"occurred_at"`
	Latitude   *float64       `json:"latitude"`
	Longitude  *float64       `json:"longitude"`
	Address    string         `json:"address"`
	LocalID    string         `json:"local_id"`
	Evidence   visit.Evidence `json:"evidence"`
}

// apiOpenSession checks a representative in, returning the existing open
// session for the same client when there is one.
func (s *Server) apiOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	checkinAt := time.Now().UTC()
	if req.CheckinAt != nil {
		checkinAt = *req.CheckinAt
	}

	sess, err := s.sessions.OpenSession(r.Context(), session.OpenParams{
		ID:             strings.TrimSpace(req.ID),
		RepID:          req.RepID,
		ClientID:       req.ClientID,
		ClientName:     req.ClientName,
		ClientAddress:  req.ClientAddress,
		PlannedDate:    req.PlannedDate,
		CheckinAt:      checkinAt,
		CheckinAddress: req.CheckinAddress,
		DayCode:        req.DayCode,
		RouteRef:       req.RouteRef,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		LocalEventID:   req.LocalEventID,
		Evidence:       req.Evidence,
	})
	if err != nil {
		apiFail(w, "opening session", err)
		return
	}
	apiJSON(w, sess, http.StatusOK)
}

// apiListSessions returns open sessions, optionally for one representative.
func (s *Server) apiListSessions(w http.ResponseWriter, r *http.Request) {
	var repID *int64
	if v := r.URL.Query().Get("rep"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			apiError(w, "rep must be a positive integer", http.StatusBadRequest)
			return
		}
		repID = &id
	}

	sessions, err := s.sessions.ListOpenSessions(r.Context(), repID)
	if err != nil {
		apiFail(w, "listing sessions", err)
		return
	}
	apiJSON(w, sessions, http.StatusOK)
}

// apiGetSession returns a session with its events.
func (s *Server) apiGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.sessions.GetSessionByID(r.Context(), id)
	if err != nil {
		apiFail(w, "loading session", err)
		return
	}

	events, err := s.sessions.Events(r.Context(), id)
	if err != nil {
		apiFail(w, "loading events", err)
		return
	}
	if events == nil {
		events = make([]*visit.Event, 0)
	}

	type response struct {
		Session *session.Session `json:"session"`
		Events  []*visit.Event   `json:"events"`
	}
	apiJSON(w, response{Session: sess, Events: events}, http.StatusOK)
}

// apiCloseSession checks a session out. Closing an unknown or already
// closed session is a no-op reported with already_closed.
func (s *Server) apiCloseSession(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	checkoutAt := time.Now().UTC()
	if req.CheckoutAt != nil {
		checkoutAt = *req.CheckoutAt
	}

	sess, err := s.sessions.CloseSession(r.Context(), mux.Vars(r)["id"], session.CloseParams{
		CheckoutAt:      checkoutAt,
		ElapsedMinutes:  req.ElapsedMinutes,
		CheckoutAddress: req.CheckoutAddress,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		LocalEventID:    req.LocalEventID,
	})
	if err != nil {
		apiFail(w, "closing session", err)
		return
	}

	type response struct {
		Session       *session.Session `json:"session"`
		AlreadyClosed bool             `json:"already_closed"`
	}
	apiJSON(w, response{Session: sess, AlreadyClosed: sess == nil}, http.StatusOK)
}

// apiCancelSession removes a session and its events.
func (s *Server) apiCancelSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		reason = defaultCancelReason
	}

	if err := s.sessions.CancelSession(r.Context(), id, reason); err != nil {
		apiFail(w, "cancelling session", err)
		return
	}
	apiJSON(w, map[string]any{"id": id, "cancelled": true, "reason": reason}, http.StatusOK)
}

func (s *Server) apiCountActivities(w http.ResponseWriter, r *http.Request) {
	a, err := s.sessions.CountActivities(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apiFail(w, "counting activities", err)
		return
	}
	apiJSON(w, a, http.StatusOK)
}

// apiUpdateServices replaces the service flags of a session.
func (s *Server) apiUpdateServices(w http.ResponseWriter, r *http.Request) {
	var flags session.ServiceFlags
	if !decodeJSON(w, r, &flags) {
		return
	}
	sess, err := s.sessions.UpdateServices(r.Context(), mux.Vars(r)["id"], flags)
	if err != nil {
		apiFail(w, "updating services", err)
		return
	}
	apiJSON(w, sess, http.StatusOK)
}

// apiRecordEvent stores a campaign capture or activity. A replayed local id
// returns the stored event with 200 instead of 201.
func (s *Server) apiRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var occurredAt time.Time
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}

	ev, created, err := s.sessions.RecordEvent(r.Context(), mux.Vars(r)["id"], session.EventParams{
		Kind:       req.Kind,
		OccurredAt: occurredAt,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Address:    req.Address,
		LocalID:    req.LocalID,
		Evidence:   req.Evidence,
	})
	if err != nil {
		apiFail(w, "recording event", err)
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	apiJSON(w, ev, code)
}

// apiSessionForClientOnDate returns the latest session planned for a client
// on a day, today when no date is given.
func (s *Server) apiSessionForClientOnDate(w http.ResponseWriter, r *http.Request) {
	repID, ok := repVar(w, r)
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, date); err != nil {
		apiError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.GetSessionForClientOnDate(r.Context(), repID, mux.Vars(r)["client"], date)
	if err != nil {
		apiFail(w, "loading session", err)
		return
	}
	apiJSON(w, sess, http.StatusOK)
}
