package privacy

import "context"

// ConsentStore is the append-only consent ledger.
type ConsentStore interface {
	// Append records one consent decision. Records are never mutated.
	Append(ctx context.Context, record ConsentRecord) error
	// History returns every record for the user and type in append order.
	// An empty history returns an empty slice, not an error.
	History(ctx context.Context, userID string, consentType ConsentType) ([]ConsentRecord, error)
	// Latest returns the most recent record for the user and type, or
	// sentinel.ErrNotFound when no record exists.
	Latest(ctx context.Context, userID string, consentType ConsentType) (*ConsentRecord, error)
}

// DeletionStore persists deletion requests and their state transitions.
type DeletionStore interface {
	// Save inserts a request or replaces the stored state for its ID.
	Save(ctx context.Context, request DeletionRequest) error
	// Get returns the request, or sentinel.ErrNotFound when unknown.
	Get(ctx context.Context, id string) (*DeletionRequest, error)
	// ListByUser returns the user's requests in submission order.
	ListByUser(ctx context.Context, userID string) ([]DeletionRequest, error)
	// HasInFlight reports whether the user has a pending or processing request.
	HasInFlight(ctx context.Context, userID string) (bool, error)
}
