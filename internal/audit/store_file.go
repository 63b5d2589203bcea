package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"custodia/internal/encryption"
	dErrors "custodia/pkg/domain-errors"
)

// maxBatchBytes bounds a single persisted batch so a corrupted length
// prefix cannot trigger an unbounded allocation on read.
const maxBatchBytes = 16 << 20

// FileStore appends encrypted batches to a single file. Each record is a
// 4-byte big-endian length followed by the JSON-serialized blob, which is
// self-describing enough for streaming re-decryption of history.
type FileStore struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// NewFileStore opens or creates the audit file with owner-only permissions.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not create audit directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not open audit file")
	}
	return &FileStore{path: path, f: f}, nil
}

func encodeRecord(blob *encryption.Blob) ([]byte, error) {
	payload, err := json.Marshal(blob)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not serialize audit batch")
	}
	record := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(record, uint32(len(payload)))
	copy(record[4:], payload)
	return record, nil
}

func (s *FileStore) Append(_ context.Context, blob *encryption.Blob) error {
	record, err := encodeRecord(blob)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(record); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not append audit batch")
	}
	if err := s.f.Sync(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not sync audit file")
	}
	return nil
}

func (s *FileStore) ReadBatches(ctx context.Context, fn func(*encryption.Blob) error) error {
	r, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not open audit file for reading")
	}
	defer r.Close()

	// Appends write and sync under the lock, so the size observed here is
	// a record boundary. Bytes past it may belong to an in-flight write.
	s.mu.Lock()
	info, statErr := r.Stat()
	s.mu.Unlock()
	if statErr != nil {
		return dErrors.Wrap(statErr, dErrors.CodeStorageUnavailable, "could not stat audit file")
	}
	lr := io.LimitReader(r, info.Size())

	header := make([]byte, 4)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.ReadFull(lr, header); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return dErrors.Wrap(err, dErrors.CodeInvalidState, "audit file is truncated")
		}
		size := binary.BigEndian.Uint32(header)
		if size == 0 || size > maxBatchBytes {
			return dErrors.New(dErrors.CodeInvalidState, "audit file record has implausible length")
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(lr, payload); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidState, "audit file is truncated")
		}
		var blob encryption.Blob
		if err := json.Unmarshal(payload, &blob); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidState, "audit file record is corrupted")
		}
		if err := fn(&blob); err != nil {
			return err
		}
	}
}

// Replace atomically swaps the audit file for one holding the given
// batches. The replacement is written to a scratch file and renamed over
// the original, so the prior contents survive any failure before the
// rename.
func (s *FileStore) Replace(_ context.Context, blobs []*encryption.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := s.path + ".rewrite"
	if err := writeRecords(tmpPath, blobs); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not swap in audit rewrite file")
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not reopen audit file")
	}
	s.f.Close()
	s.f = f
	return nil
}

// writeRecords writes the batches to path and syncs before returning.
func writeRecords(path string, blobs []*encryption.Blob) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not create audit rewrite file")
	}
	defer f.Close()
	for _, blob := range blobs {
		record, err := encodeRecord(blob)
		if err != nil {
			return err
		}
		if _, err := f.Write(record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not write audit rewrite file")
		}
	}
	if err := f.Sync(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not sync audit rewrite file")
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
