// Package visit provides the visit event domain model and data access.
package visit

import (
	"strings"
	"time"
)

// Kind represents what happened during a visit.
type Kind string

const (
	CheckIn  Kind = "checkin"
	CheckOut Kind = "checkout"
	Campaign Kind = "campanha"
	Activity Kind = "atividade"
)

// ValidKinds is the set of allowed event kinds.
var ValidKinds = []Kind{CheckIn, CheckOut, Campaign, Activity}

// IsValid checks if an event kind is recognized.
func (k Kind) IsValid() bool {
	for _, v := range ValidKinds {
		if k == v {
			return true
		}
	}
	return false
}

// Label returns a human-readable label for the event kind.
func (k Kind) Label() string {
	switch k {
	case CheckIn:
		return "Check-in"
	case CheckOut:
		return "Check-out"
	case Campaign:
		return "Campaign"
	case Activity:
		return "Activity"
	default:
		return string(k)
	}
}

// Evidence references a photo held by the evidence store.
type Evidence struct {
	FileID string `json:"file_id,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Present reports whether the reference points at anything.
func (e Evidence) Present() bool {
	return strings.TrimSpace(e.FileID) != "" || strings.TrimSpace(e.URL) != ""
}

// Event is one atomic occurrence for a representative/client pair.
type Event struct {
	ID             string    `json:"id"`
	LocalID        string    `json:"local_id,omitempty"`
	SessionID      string    `json:"session_id"`
	RepID          int64     `json:"rep_id"`
	ClientID       string    `json:"client_id"`
	Kind           Kind      `json:"kind"`
	PlannedDate    string    `json:"planned_date"` // YYYY-MM-DD
	OccurredAt     time.Time `json:"occurred_at"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	Address        string    `json:"address,omitempty"`
	EvidenceFileID *string   `json:"evidence_file_id,omitempty"`
	EvidenceURL    *string   `json:"evidence_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Evidence returns the event's evidence reference, empty if none was attached.
func (e *Event) Evidence() Evidence {
	var ev Evidence
	if e.EvidenceFileID != nil {
		ev.FileID = *e.EvidenceFileID
	}
	if e.EvidenceURL != nil {
		ev.URL = *e.EvidenceURL
	}
	return ev
}

// NormalizeClientID returns the canonical form of a client code: surrounding
// whitespace removed and, for purely numeric codes, leading zeros dropped.
func NormalizeClientID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !isDigits(id) {
		return id
	}
	trimmed := strings.TrimLeft(id, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
