// Package client provides an HTTP client for the field visit API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/evcraddock/field-visits/internal/forcesync"
	"github.com/evcraddock/field-visits/internal/session"
	"github.com/evcraddock/field-visits/internal/syncer"
	"github.com/evcraddock/field-visits/internal/visit"
)

// Client is an HTTP client for the field visit API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// OpenRequest is the body of POST /api/sessions.
type OpenRequest struct {
	ID             string          `json:"id,omitempty"`
	RepID          int64           `json:"rep_id"`
	ClientID       string          `json:"client_id"`
	ClientName     string          `json:"client_name,omitempty"`
	ClientAddress  string          `json:"client_address,omitempty"`
	PlannedDate    string          `json:"planned_date,omitempty"`
	CheckinAt      *time.Time      `json:"checkin_at,omitempty"`
	CheckinAddress string          `json:"checkin_address,omitempty"`
	RouteRef       string          `json:"route_ref,omitempty"`
	Latitude       *float64        `json:"latitude,omitempty"`
	Longitude      *float64        `json:"longitude,omitempty"`
	Evidence       *visit.Evidence `json:"evidence,omitempty"`
}

// CheckoutRequest is the body of POST /api/sessions/{id}/checkout.
type CheckoutRequest struct {
	CheckoutAt      *time.Time `json:"checkout_at,omitempty"`
	ElapsedMinutes  *int       `json:"elapsed_minutes,omitempty"`
	CheckoutAddress string     `json:"checkout_address,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
}

// ShowResponse is the response from GET /api/sessions/{id}.
type ShowResponse struct {
	Session *session.Session `json:"session"`
	Events  []*visit.Event   `json:"events"`
}

// CheckoutResponse is the response from a checkout. Session is nil when the
// session was already closed.
type CheckoutResponse struct {
	Session       *session.Session `json:"session"`
	AlreadyClosed bool             `json:"already_closed"`
}

// SyncResponse is the outcome of an uploaded batch.
type SyncResponse struct {
	syncer.Result
	ForceSync *forcesync.Flag `json:"force_sync"`
}

// UploadResponse reports a photo upload. Pending is set when the evidence
// store was down and the photo must be sent again.
type UploadResponse struct {
	SessionID         string          `json:"session_id"`
	Evidence          *visit.Evidence `json:"evidence,omitempty"`
	Pending           bool            `json:"evidence_pending"`
	RetryAfterSeconds int             `json:"retry_after_seconds,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// OpenSession checks in, or returns the already open session for the client.
func (c *Client) OpenSession(ctx context.Context, req OpenRequest) (*session.Session, error) {
	var s session.Session
	if err := c.send(ctx, http.MethodPost, "/api/sessions", req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns open sessions; repID 0 means all representatives.
func (c *Client) ListSessions(ctx context.Context, repID int64) ([]*session.Session, error) {
	path := "/api/sessions"
	if repID > 0 {
		path += "?rep=" + strconv.FormatInt(repID, 10)
	}
	var sessions []*session.Session
	if err := c.send(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession returns a session with its events.
func (c *Client) GetSession(ctx context.Context, id string) (*ShowResponse, error) {
	var resp ShowResponse
	if err := c.send(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionForClientOnDate returns the latest session planned for a client on date.
func (c *Client) SessionForClientOnDate(ctx context.Context, repID int64, clientID, date string) (*session.Session, error) {
	path := fmt.Sprintf("/api/reps/%d/clients/%s/session", repID, url.PathEscape(clientID))
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var s session.Session
	if err := c.send(ctx, http.MethodGet, path, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Checkout closes a session.
func (c *Client) Checkout(ctx context.Context, id string, req CheckoutRequest) (*CheckoutResponse, error) {
	var resp CheckoutResponse
	if err := c.send(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/checkout", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelSession removes a session and its events.
func (c *Client) CancelSession(ctx context.Context, id, reason string) error {
	path := "/api/sessions/" + url.PathEscape(id)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	return c.send(ctx, http.MethodDelete, path, nil, nil)
}

// Activities returns the activity summary of a session.
func (c *Client) Activities(ctx context.Context, id string) (*session.Activity, error) {
	var a session.Activity
	if err := c.send(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id)+"/activities", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// UploadEvidence sends a check-in photo for a session.
func (c *Client) UploadEvidence(ctx context.Context, repID int64, sessionID, filename string, photo []byte) (*UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("rep_id", strconv.FormatInt(repID, 10)); err != nil {
		return nil, fmt.Errorf("writing form: %w", err)
	}
	part, err := mw.CreateFormFile("photo", filename)
	if err != nil {
		return nil, fmt.Errorf("writing form: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return nil, fmt.Errorf("writing form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("writing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/sessions/"+url.PathEscape(sessionID)+"/evidence", &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sync uploads a raw offline batch.
func (c *Client) Sync(ctx context.Context, batch []byte) (*SyncResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sync", bytes.NewReader(batch))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp SyncResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckForceSync returns the pending force-sync flag of a representative.
func (c *Client) CheckForceSync(ctx context.Context, repID int64) (*forcesync.Flag, error) {
	var f forcesync.Flag
	if err := c.send(ctx, http.MethodGet, fmt.Sprintf("/api/reps/%d/force-sync", repID), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ForceSync asks a representative's device to sync.
func (c *Client) ForceSync(ctx context.Context, repID int64, d forcesync.Direction, message string) (*forcesync.Flag, error) {
	body := map[string]string{"direction": string(d), "message": message}
	var f forcesync.Flag
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/api/reps/%d/force-sync", repID), body, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ForceSyncAll flags every active representative and returns how many were flagged.
func (c *Client) ForceSyncAll(ctx context.Context, d forcesync.Direction, message string) (int, error) {
	body := map[string]string{"direction": string(d), "message": message}
	var resp struct {
		Representatives int `json:"representatives"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/force-sync", body, &resp); err != nil {
		return 0, err
	}
	return resp.Representatives, nil
}

// ClearForceSync marks directions complete for a representative.
func (c *Client) ClearForceSync(ctx context.Context, repID int64, d forcesync.Direction) (*forcesync.Flag, error) {
	path := fmt.Sprintf("/api/reps/%d/force-sync?direction=%s", repID, url.QueryEscape(string(d)))
	var f forcesync.Flag
	if err := c.send(ctx, http.MethodDelete, path, nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// send performs a request with an optional JSON body and decodes the response.
func (c *Client) send(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, result)
}

// do executes an HTTP request and turns error responses into errors.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("closing response body", "err", cerr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &StatusError{Code: resp.StatusCode, Message: errResp.Error}
		}
		return &StatusError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// StatusError is an error response from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}
