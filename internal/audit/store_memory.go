package audit

import (
	"context"
	"sync"

	"custodia/internal/encryption"
)

// InMemoryStore keeps encrypted batches in memory for tests and ephemeral
// hosts.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs []*encryption.Blob
}

// NewInMemoryStore constructs an empty in-memory audit store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, blob *encryption.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = append(s.blobs, blob)
	return nil
}

func (s *InMemoryStore) ReadBatches(_ context.Context, fn func(*encryption.Blob) error) error {
	s.mu.RLock()
	blobs := append([]*encryption.Blob{}, s.blobs...)
	s.mu.RUnlock()
	for _, blob := range blobs {
		if err := fn(blob); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryStore) Replace(_ context.Context, blobs []*encryption.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = append([]*encryption.Blob(nil), blobs...)
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

// Len reports the number of stored batches.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
