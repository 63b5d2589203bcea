package privacy

import (
	"context"
	"sync"

	"custodia/internal/sentinel"
)

// InMemoryConsentStore is a mutex-guarded ConsentStore for tests and
// single-process deployments.
type InMemoryConsentStore struct {
	mu      sync.RWMutex
	records []ConsentRecord
}

// NewInMemoryConsentStore creates an empty in-memory consent ledger.
func NewInMemoryConsentStore() *InMemoryConsentStore {
	return &InMemoryConsentStore{}
}

func (s *InMemoryConsentStore) Append(_ context.Context, record ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryConsentStore) History(_ context.Context, userID string, consentType ConsentType) ([]ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConsentRecord, 0)
	for _, rec := range s.records {
		if rec.UserID == userID && rec.Type == consentType {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryConsentStore) Latest(_ context.Context, userID string, consentType ConsentType) (*ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].UserID == userID && s.records[i].Type == consentType {
			rec := s.records[i]
			return &rec, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// InMemoryDeletionStore is a mutex-guarded DeletionStore.
type InMemoryDeletionStore struct {
	mu       sync.RWMutex
	requests map[string]DeletionRequest
	order    []string
}

// NewInMemoryDeletionStore creates an empty in-memory deletion store.
func NewInMemoryDeletionStore() *InMemoryDeletionStore {
	return &InMemoryDeletionStore{requests: make(map[string]DeletionRequest)}
}

func (s *InMemoryDeletionStore) Save(_ context.Context, request DeletionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[request.ID]; !ok {
		s.order = append(s.order, request.ID)
	}
	s.requests[request.ID] = request
	return nil
}

func (s *InMemoryDeletionStore) Get(_ context.Context, id string) (*DeletionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &req, nil
}

func (s *InMemoryDeletionStore) ListByUser(_ context.Context, userID string) ([]DeletionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DeletionRequest, 0)
	for _, id := range s.order {
		if req := s.requests[id]; req.UserID == userID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *InMemoryDeletionStore) HasInFlight(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if req.UserID == userID && req.InFlight() {
			return true, nil
		}
	}
	return false, nil
}
