package audit

import (
	"context"

	"custodia/internal/encryption"
)

// Store is the durable audit sink: an append-only sequence of encrypted
// batches.
//
// Error Contract:
// - Append returns nil on success or a wrapped storage error; it never
//   partially applies a batch
// - ReadBatches streams batches in append order and stops on the first
//   callback error
// - Replace swaps the full contents atomically; on error the prior
//   contents are intact
type Store interface {
	Append(ctx context.Context, blob *encryption.Blob) error
	ReadBatches(ctx context.Context, fn func(*encryption.Blob) error) error
	Replace(ctx context.Context, blobs []*encryption.Blob) error
	Close() error
}
