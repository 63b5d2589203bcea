package audit

import (
	"log/slog"
	"time"
)

// EventType is the closed enumeration of auditable activity categories.
type EventType string

const (
	EventTypeSync           EventType = "sync"
	EventTypeTransaction    EventType = "transaction"
	EventTypeAuthentication EventType = "authentication"
	EventTypeDataAccess     EventType = "data_access"
	EventTypeSecurity       EventType = "security"
	EventTypeConsent        EventType = "consent"
	EventTypeDeletion       EventType = "deletion"
	EventTypeDataExport     EventType = "data_export"
	EventTypeSystem         EventType = "system"
)

// Severity orders events for operational triage.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Level maps a severity one-to-one onto the structured log sink.
// Critical has no native slog level; it logs at Error and keeps the
// severity attribute for filtering.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError, SeverityCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// rank orders severities for filter comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Detail is one entry of an event's ordered key/value payload. Values are
// strings only so the persisted format stays stable and encryptable.
type Detail struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is an immutable audit record. Created only by Logger.LogEvent and
// never mutated afterwards.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Type         EventType `json:"type"`
	Severity     Severity  `json:"severity"`
	ActorID      string    `json:"actor_id,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	Action       string    `json:"action"`
	Details      []Detail  `json:"details,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Entry carries the caller-supplied fields of an event. Logger.LogEvent
// assigns identity and timestamp.
type Entry struct {
	Type         EventType
	Severity     Severity
	ActorID      string
	ResourceID   string
	ResourceType string
	Action       string
	Details      []Detail
	Success      bool
	ErrorMessage string
}

// Filter narrows trail queries. Zero values match everything; Severity
// matches the given severity and above.
type Filter struct {
	ActorID  string
	From     time.Time
	To       time.Time
	Type     EventType
	Severity Severity
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Severity != "" && e.Severity.rank() < f.Severity.rank() {
		return false
	}
	return true
}

// batchEnvelope is the plaintext layout of one persisted batch. Sequence
// numbers are monotonic per logger instance so a hardened store can detect
// replayed or duplicated batches.
type batchEnvelope struct {
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	Events    []Event   `json:"events"`
}
