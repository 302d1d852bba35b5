package syncer

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"

	"github.com/evcraddock/field-visits/internal/session"
	"github.com/evcraddock/field-visits/internal/visit"
)

//go:embed batch.schema.json
var batchSchema []byte

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(batchSchema)
	if err != nil {
		return nil, fmt.Errorf("compile batch schema: %w", err)
	}
	return schema, nil
})

// Batch is the set of sessions a device captured while offline.
type Batch struct {
	RepID    int64      `json:"rep_id"`
	DeviceID string     `json:"device_id,omitempty"`
	Sessions []Mutation `json:"sessions"`
}

// Mutation is the device's view of one session. ID is generated on the device
// and is the idempotency key for the whole mutation.
type Mutation struct {
	ID              string                `json:"id"`
	ClientID        string                `json:"client_id"`
	ClientName      string                `json:"client_name,omitempty"`
	ClientAddress   string                `json:"client_address,omitempty"`
	PlannedDate     string                `json:"planned_date,omitempty"`
	CheckinAt       time.Time             `json:"checkin_at"`
	CheckinAddress  string                `json:"checkin_address,omitempty"`
	CheckinLocalID  string                `json:"checkin_local_id,omitempty"`
	DayCode         string                `json:"day_code,omitempty"`
	RouteRef        string                `json:"route_ref,omitempty"`
	Latitude        *float64              `json:"latitude,omitempty"`
	Longitude       *float64              `json:"longitude,omitempty"`
	Evidence        *visit.Evidence       `json:"evidence,omitempty"`
	CheckoutAt      *time.Time            `json:"checkout_at,omitempty"`
	CheckoutAddress string                `json:"checkout_address,omitempty"`
	CheckoutLocalID string                `json:"checkout_local_id,omitempty"`
	ElapsedMinutes  *int                  `json:"elapsed_minutes,omitempty"`
	Services        *session.ServiceFlags `json:"services,omitempty"`
	Events          []Event               `json:"events,omitempty"`
}

// Event is a campaign capture or activity recorded during an offline session.
type Event struct {
	LocalID    string          `json:"local_id,omitempty"`
	Kind       visit.Kind      `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Latitude   *float64        `json:"latitude,omitempty"`
	Longitude  *float64        `json:"longitude,omitempty"`
	Address    string          `json:"address,omitempty"`
	Evidence   *visit.Evidence `json:"evidence,omitempty"`
}

// identity is the part of an event that never changes between replays.
// Evidence is left out since it may arrive after the first upload.
func (e Event) identity() Event {
	e.LocalID = ""
	e.Evidence = nil
	return e
}

// DecodeBatch validates data against the batch schema and decodes it.
func DecodeBatch(data []byte) (*Batch, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	result := schema.ValidateJSON(data)
	if !result.IsValid() {
		return nil, fmt.Errorf("batch validation failed: %v", result.Errors)
	}

	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding batch: %w", err)
	}
	return &b, nil
}

// derivedLocalID returns a stable device-local id for an event that arrived
// without one: a digest of the event's canonical JSON, scoped to its session.
func derivedLocalID(sessionID string, kind visit.Kind, v any) (string, error) {
	raw, err := json.Marshal(struct {
		SessionID string     `json:"session_id"`
		Kind      visit.Kind `json:"kind"`
		Event     any        `json:"event"`
	}{sessionID, kind, v})
	if err != nil {
		return "", fmt.Errorf("encoding event: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "jcs:" + hex.EncodeToString(sum[:16]), nil
}
