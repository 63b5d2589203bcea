package privacy

import "time"

// ConsentType enumerates the consent categories a user can grant.
type ConsentType string

const (
	ConsentDataProcessing ConsentType = "data_processing"
	ConsentAnalytics      ConsentType = "analytics"
	ConsentNotifications  ConsentType = "notifications"
	ConsentCloudSync      ConsentType = "cloud_sync"
	ConsentMarketing      ConsentType = "marketing"
)

// AllConsentTypes lists every category, in export order.
var AllConsentTypes = []ConsentType{
	ConsentDataProcessing,
	ConsentAnalytics,
	ConsentNotifications,
	ConsentCloudSync,
	ConsentMarketing,
}

// IsValid reports whether the consent type is part of the enumeration.
func (t ConsentType) IsValid() bool {
	switch t {
	case ConsentDataProcessing, ConsentAnalytics, ConsentNotifications, ConsentCloudSync, ConsentMarketing:
		return true
	}
	return false
}

// ConsentRecord is one entry of the append-only consent ledger. Revocation
// appends a new record rather than mutating history; the latest record for
// a (user, type) pair decides the current state.
type ConsentRecord struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	Type          ConsentType `json:"type"`
	Granted       bool        `json:"granted"`
	Timestamp     time.Time   `json:"timestamp"`
	PolicyVersion string      `json:"policy_version"`
}

// DeletionScope bounds what a deletion request covers.
type DeletionScope string

const (
	ScopeUserData        DeletionScope = "user_data"
	ScopeAllData         DeletionScope = "all_data"
	ScopeSpecificRecords DeletionScope = "specific_records"
	ScopeDateRange       DeletionScope = "date_range"
)

// IsValid reports whether the scope is part of the enumeration.
func (s DeletionScope) IsValid() bool {
	switch s {
	case ScopeUserData, ScopeAllData, ScopeSpecificRecords, ScopeDateRange:
		return true
	}
	return false
}

// DeletionStatus is the deletion request state machine. Transitions only
// move forward; failed is terminal but a new request may be submitted.
type DeletionStatus string

const (
	StatusPending    DeletionStatus = "pending"
	StatusProcessing DeletionStatus = "processing"
	StatusCompleted  DeletionStatus = "completed"
	StatusFailed     DeletionStatus = "failed"
)

// CanTransitionTo enforces the one-way state machine.
func (s DeletionStatus) CanTransitionTo(next DeletionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// DeletionRequest tracks one right-to-be-forgotten request.
type DeletionRequest struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Scope         DeletionScope  `json:"scope"`
	Reason        string         `json:"reason"`
	Status        DeletionStatus `json:"status"`
	RequestedAt   time.Time      `json:"requested_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// InFlight reports whether the request still blocks data operations.
func (r DeletionRequest) InFlight() bool {
	return r.Status == StatusPending || r.Status == StatusProcessing
}
