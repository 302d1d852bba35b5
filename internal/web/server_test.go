package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/evcraddock/field-visits/internal/db"
	"github.com/evcraddock/field-visits/internal/evidence"
	"github.com/evcraddock/field-visits/internal/forcesync"
	"github.com/evcraddock/field-visits/internal/roster"
	"github.com/evcraddock/field-visits/internal/session"
	"github.com/evcraddock/field-visits/internal/settings"
	"github.com/evcraddock/field-visits/internal/syncer"
)

type testEnv struct {
	srv   *Server
	db    *sql.DB
	store *evidence.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
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

	m := session.NewManager(d)
	store := evidence.NewMemoryStore()
	srv := NewServer(Deps{
		Sessions:   m,
		Reconciler: syncer.NewReconciler(m, settings.NewStore(d), 0),
		ForceSync:  forcesync.NewStore(d, roster.NewStore(d)),
		Uploader:   evidence.NewUploader(store, nil, m, ""),
	})
	return &testEnv{srv: srv, db: d, store: store}
}

func apiRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	reqBody := &bytes.Buffer{}
	switch b := body.(type) {
	case nil:
	case string:
		reqBody.WriteString(b)
	default:
		if err := json.NewEncoder(reqBody).Encode(b); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}

	r := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v (body %q)", err, w.Body.String())
	}
	return v
}

func openBody(id string) map[string]any {
	return map[string]any{
		"id":         id,
		"rep_id":     42,
		"client_id":  "3213",
		"checkin_at": "2026-10-19T09:00:00Z",
		"evidence":   map[string]string{"file_id": "drv_1"},
	}
}

func openSession(t *testing.T, srv *Server, id string) *session.Session {
	t.Helper()
	w := apiRequest(t, srv, "POST", "/api/sessions", openBody(id))
	if w.Code != http.StatusOK {
		t.Fatalf("open: status = %d, body %s", w.Code, w.Body.String())
	}
	return decode[*session.Session](t, w)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := apiRequest(t, env.srv, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	w := apiRequest(t, env.srv, "GET", "/api/nothing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	w = apiRequest(t, env.srv, "PATCH", "/api/sessions", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestAPIOpenSessionIdempotent(t *testing.T) {
	env := newTestEnv(t)

	first := openSession(t, env.srv, "dev-1")
	second := openSession(t, env.srv, "dev-2")
	if first.ID != "dev-1" {
		t.Errorf("id = %q, want dev-1", first.ID)
	}
	if second.ID != first.ID {
		t.Errorf("second open returned %q, want %q", second.ID, first.ID)
	}
	if first.DayCode != "MON" {
		t.Errorf("day code = %q, want MON", first.DayCode)
	}

	var n int
	if err := env.db.QueryRow("SELECT COUNT(*) FROM visit_sessions").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
}

func TestAPIOpenSessionInvalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"bad json", "{"},
		{"unknown field", map[string]any{"rep_id": 1, "client_id": "1", "bogus": true}},
		{"missing rep", map[string]any{"client_id": "1"}},
		{"missing client", map[string]any{"rep_id": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := apiRequest(t, env.srv, "POST", "/api/sessions", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestAPIListAndGetSessions(t *testing.T) {
	env := newTestEnv(t)
	s := openSession(t, env.srv, "dev-1")

	w := apiRequest(t, env.srv, "GET", "/api/sessions?rep=42", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	list := decode[[]*session.Session](t, w)
	if len(list) != 1 || list[0].ID != s.ID {
		t.Fatalf("list = %+v", list)
	}

	w = apiRequest(t, env.srv, "GET", "/api/sessions?rep=7", nil)
	if got := decode[[]*session.Session](t, w); len(got) != 0 {
		t.Errorf("other rep sees %d sessions", len(got))
	}

	w = apiRequest(t, env.srv, "GET", "/api/sessions?rep=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad rep: status = %d, want 400", w.Code)
	}

	w = apiRequest(t, env.srv, "GET", "/api/sessions/"+s.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d", w.Code)
	}
	got := decode[struct {
		Session *session.Session  `json:"session"`
		Events  []json.RawMessage `json:"events"`
	}](t, w)
	if got.Session.ID != s.ID {
		t.Errorf("session id = %q", got.Session.ID)
	}
	if len(got.Events) != 1 {
		t.Errorf("events = %d, want the check-in", len(got.Events))
	}

	w = apiRequest(t, env.srv, "GET", "/api/sessions/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", w.Code)
	}
}

func TestAPICheckout(t *testing.T) {
	env := newTestEnv(t)
	s := openSession(t, env.srv, "dev-1")

	w := apiRequest(t, env.srv, "POST", "/api/sessions/"+s.ID+"/checkout",
		map[string]any{"checkout_at": "2026-10-19T09:40:00Z"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	type closeResponse struct {
		Session       *session.Session `json:"session"`
		AlreadyClosed bool             `json:"already_closed"`
	}
	first := decode[closeResponse](t, w)
	if first.AlreadyClosed || first.Session == nil {
		t.Fatalf("first checkout = %+v", first)
	}
	if first.Session.ElapsedMinutes == nil || *first.Session.ElapsedMinutes != 40 {
		t.Errorf("elapsed = %v, want 40", first.Session.ElapsedMinutes)
	}

	w = apiRequest(t, env.srv, "POST", "/api/sessions/"+s.ID+"/checkout",
		map[string]any{"checkout_at": "2026-10-19T10:30:00Z"})
	second := decode[closeResponse](t, w)
	if !second.AlreadyClosed || second.Session != nil {
		t.Errorf("second checkout = %+v, want no-op", second)
	}

	w = apiRequest(t, env.srv, "POST", "/api/sessions/"+s.ID+"/checkout",
		map[string]any{"checkout_at": "2026-10-19T08:00:00Z"})
	if w.Code != http.StatusOK {
		t.Errorf("closed session ignores early checkout: status = %d", w.Code)
	}
}

func TestAPICheckoutBeforeCheckin(t *testing.T) {
	env := newTestEnv(t)
	s := openSession(t, env.srv, "dev-1")

	w := apiRequest(t, env.srv, "POST", "/api/sessions/"+s.ID+"/checkout",
		map[string]any{"checkout_at": "2026-10-19T08:00:00Z"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAPICancel(t *testing.T) {
	env := newTestEnv(t)
	s := openSession(t, env.srv, "dev-1")

	w := apiRequest(t, env.srv, "DELETE", "/api/sessions/"+s.ID+"?reason=wrong+client", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode[map[string]any](t, w); got["reason"] != "wrong client" {
		t.Errorf("reason = %v", got["reason"])
	}

	w = apiRequest(t, env.srv, "GET", "/api/sessions/"+s.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("after cancel: status = %d, want 404", w.Code)
	}
	w = apiRequest(t, env.srv, "DELETE", "/api/sessions/"+s.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second cancel: status = %d, want 404", w.Code)
	}
}

func TestAPIEventsServicesActivities(t *testing.T) {
	env := newTestEnv(t)
	s := openSession(t, env.srv, "dev-1")
	base := "/api/sessions/" + s.ID

	event := map[string]any{"kind": "campanha", "occurred_at": "2026-10-19T09:10:00Z", "local_id": "cam-1"}
	w := apiRequest(t, env.srv, "POST", base+"/events", event)
	if w.Code != http.StatusCreated {
		t.Fatalf("event: status = %d, body %s", w.Code, w.Body.String())
	}
	w = apiRequest(t, env.srv, "POST", base+"/events", event)
	if w.Code != http.StatusOK {
		t.Errorf("replayed event: status = %d, want 200", w.Code)
	}
	w = apiRequest(t, env.srv, "POST", base+"/events", map[string]any{"kind": "checkout"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("lifecycle kind: status = %d, want 400", w.Code)
	}

	w = apiRequest(t, env.srv, "PUT", base+"/services", map[string]any{"restock": true, "fronts": 4})
	if w.Code != http.StatusOK {
		t.Fatalf("services: status = %d, body %s", w.Code, w.Body.String())
	}
	if got := decode[*session.Session](t, w); !got.Services.Restock {
		t.Error("restock not stored")
	}
	w = apiRequest(t, env.srv, "PUT", base+"/services", map[string]any{"points": -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative points: status = %d, want 400", w.Code)
	}

	w = apiRequest(t, env.srv, "GET", base+"/activities", nil)
	a := decode[session.Activity](t, w)
	if a.CampaignCount != 1 || !a.HasServiceFlags || a.Total != 2 {
		t.Errorf("activities = %+v", a)
	}
}

func TestAPISessionForClientOnDate(t *testing.T) {
	env := newTestEnv(t)
	s := openSession(t, env.srv, "dev-1")

	w := apiRequest(t, env.srv, "GET", "/api/reps/42/clients/3213/session?date=2026-10-19", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode[*session.Session](t, w); got.ID != s.ID {
		t.Errorf("id = %q, want %q", got.ID, s.ID)
	}

	w = apiRequest(t, env.srv, "GET", "/api/reps/42/clients/3213/session?date=2026-10-20", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("other day: status = %d, want 404", w.Code)
	}
	w = apiRequest(t, env.srv, "GET", "/api/reps/42/clients/3213/session?date=19-10-2026", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad date: status = %d, want 400", w.Code)
	}
}

func uploadPhoto(t *testing.T, srv *Server, sessionID, repID string, photo []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("rep_id", repID); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if photo != nil {
		part, err := mw.CreateFormFile("photo", "checkin.jpg")
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(photo); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	r := httptest.NewRequest("POST", "/api/sessions/"+sessionID+"/evidence", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func TestAPIEvidenceUploadAndDownload(t *testing.T) {
	env := newTestEnv(t)

	w := apiRequest(t, env.srv, "POST", "/api/sessions", map[string]any{
		"id": "dev-photo", "rep_id": 42, "client_id": "3213", "checkin_at": "2026-10-19T09:00:00Z",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("open: status = %d", w.Code)
	}

	photo := []byte("\xff\xd8\xff\xe0fake jpeg")
	w = uploadPhoto(t, env.srv, "dev-photo", "42", photo)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: status = %d, body %s", w.Code, w.Body.String())
	}
	if env.store.Uploads() != 1 {
		t.Errorf("uploads = %d, want 1", env.store.Uploads())
	}

	w = apiRequest(t, env.srv, "GET", "/api/sessions/dev-photo/evidence", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download: status = %d, body %s", w.Code, w.Body.String())
	}
	if !bytes.Equal(w.Body.Bytes(), photo) {
		t.Error("downloaded photo differs")
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
}

func TestAPIEvidenceUploadStoreDown(t *testing.T) {
	env := newTestEnv(t)
	s := openSession(t, env.srv, "dev-1")
	env.store.Fail = errors.New("quota exceeded")

	w := uploadPhoto(t, env.srv, s.ID, "42", []byte("jpeg"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	got := decode[map[string]any](t, w)
	if got["evidence_pending"] != true {
		t.Errorf("response = %v", got)
	}

	w = apiRequest(t, env.srv, "GET", "/api/sessions/"+s.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("session lost after failed upload: status = %d", w.Code)
	}
}

func TestAPIEvidenceUploadInvalid(t *testing.T) {
	env := newTestEnv(t)
	s := openSession(t, env.srv, "dev-1")

	if w := uploadPhoto(t, env.srv, s.ID, "", []byte("jpeg")); w.Code != http.StatusBadRequest {
		t.Errorf("missing rep: status = %d, want 400", w.Code)
	}
	if w := uploadPhoto(t, env.srv, s.ID, "42", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing photo: status = %d, want 400", w.Code)
	}
	if w := uploadPhoto(t, env.srv, "missing", "42", []byte("jpeg")); w.Code != http.StatusNotFound {
		t.Errorf("unknown session: status = %d, want 404", w.Code)
	}
}

func TestAPIEvidenceDownloadWithoutPhoto(t *testing.T) {
	env := newTestEnv(t)
	s := openSession(t, env.srv, "dev-1")

	// drv_1 was supplied by the device but never uploaded here.
	w := apiRequest(t, env.srv, "GET", "/api/sessions/"+s.ID+"/evidence", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

const syncBatch = `{
  "rep_id": 42,
  "device_id": "tablet-7",
  "sessions": [
    {"id": "dev-a", "client_id": "100", "checkin_at": "2026-10-19T09:00:00Z",
     "evidence": {"file_id": "drv_a"}, "checkout_at": "2026-10-19T09:30:00Z"},
    {"id": "dev-b", "client_id": "200", "checkin_at": "2026-10-19T09:33:00Z",
     "evidence": {"file_id": "drv_b"}}
  ]
}`

func TestAPISync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fs := forcesync.NewStore(env.db, roster.NewStore(env.db))
	if err := fs.Force(ctx, 42, forcesync.Both, "resend"); err != nil {
		t.Fatalf("force: %v", err)
	}

	w := apiRequest(t, env.srv, "POST", "/api/sync", syncBatch)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	got := decode[struct {
		Accepted  []syncer.Accepted `json:"accepted"`
		Rejected  []syncer.Rejected `json:"rejected"`
		ForceSync *forcesync.Flag   `json:"force_sync"`
	}](t, w)

	if len(got.Accepted) != 1 || got.Accepted[0].SessionID != "dev-a" {
		t.Errorf("accepted = %+v", got.Accepted)
	}
	if len(got.Rejected) != 1 || got.Rejected[0].Code != syncer.CodeTimeGap {
		t.Fatalf("rejected = %+v", got.Rejected)
	}
	if got.Rejected[0].RetryAfterSeconds != 120 {
		t.Errorf("retry after = %d, want 120", got.Rejected[0].RetryAfterSeconds)
	}
	if !got.ForceSync.PushPending || !got.ForceSync.PullPending {
		t.Errorf("force sync = %+v, want both directions still pending", got.ForceSync)
	}

	w = apiRequest(t, env.srv, "DELETE", "/api/reps/42/force-sync?direction=push", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear: status = %d, body %s", w.Code, w.Body.String())
	}
	flag, err := fs.Check(ctx, 42)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if flag.PushPending || !flag.PullPending {
		t.Errorf("after client clear = %+v, want pull only", flag)
	}
}

func TestAPISyncEmptyBatchKeepsForcedPush(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fs := forcesync.NewStore(env.db, roster.NewStore(env.db))
	if err := fs.Force(ctx, 42, forcesync.Push, ""); err != nil {
		t.Fatalf("force: %v", err)
	}

	w := apiRequest(t, env.srv, "POST", "/api/sync", `{"rep_id": 42, "sessions": []}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	flag, err := fs.Check(ctx, 42)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !flag.PushPending {
		t.Error("forced push cleared by the server")
	}
}

func TestAPISyncInvalidBatch(t *testing.T) {
	env := newTestEnv(t)
	w := apiRequest(t, env.srv, "POST", "/api/sync", `{"rep_id": 0, "sessions": []}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAPIForceSync(t *testing.T) {
	env := newTestEnv(t)

	w := apiRequest(t, env.srv, "POST", "/api/reps/7/force-sync", map[string]string{"direction": "pull", "message": "catalog changed"})
	if w.Code != http.StatusOK {
		t.Fatalf("force: status = %d, body %s", w.Code, w.Body.String())
	}
	flag := decode[forcesync.Flag](t, w)
	if !flag.PullPending || flag.PushPending || flag.Message != "catalog changed" {
		t.Errorf("flag = %+v", flag)
	}

	w = apiRequest(t, env.srv, "GET", "/api/reps/7/force-sync", nil)
	if got := decode[forcesync.Flag](t, w); !got.PullPending {
		t.Errorf("check = %+v", got)
	}

	w = apiRequest(t, env.srv, "DELETE", "/api/reps/7/force-sync?direction=pull", nil)
	if got := decode[forcesync.Flag](t, w); got.Pending() {
		t.Errorf("after clear = %+v", got)
	}

	w = apiRequest(t, env.srv, "POST", "/api/reps/7/force-sync", map[string]string{"direction": "sideways"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad direction: status = %d, want 400", w.Code)
	}
	w = apiRequest(t, env.srv, "GET", "/api/reps/x/force-sync", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad rep: status = %d, want 400", w.Code)
	}
}

func TestAPIForceSyncAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reps := roster.NewStore(env.db)
	for _, id := range []int64{1, 2, 3} {
		if _, err := reps.Add(ctx, id, "rep"); err != nil {
			t.Fatalf("add rep: %v", err)
		}
	}
	if err := reps.SetActive(ctx, 3, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	w := apiRequest(t, env.srv, "POST", "/api/force-sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	got := decode[map[string]any](t, w)
	if got["representatives"] != float64(2) {
		t.Errorf("representatives = %v, want 2", got["representatives"])
	}

	w = apiRequest(t, env.srv, "GET", "/api/reps/3/force-sync", nil)
	if flag := decode[forcesync.Flag](t, w); flag.Pending() {
		t.Error("inactive rep should not be flagged")
	}
}
