// Package encryption provides authenticated encryption with key lifecycle
// management on top of a keystore.Store.
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"custodia/internal/encryption/metrics"
	"custodia/internal/keystore"
	dErrors "custodia/pkg/domain-errors"
)

const (
	defaultBaseKeyID = "custodia-default"
	keySize          = 32 // AES-256

	activePointerSuffix = "#active"
)

// Recorder receives security-relevant key lifecycle events. The audit
// logger implements it; the indirection exists because the audit trail is
// itself encrypted by this service.
type Recorder interface {
	RecordKeyRotation(oldKeyID, newKeyID string)
}

// Service performs AES-256-GCM encryption with keys obtained from a
// keystore. Exactly one key per base identifier is active at a time;
// rotation issues a derived identifier and keeps old keys readable.
type Service struct {
	keys    keystore.Store
	base    string
	logger  *slog.Logger
	metrics *metrics.Metrics

	// mu guards lazy key creation and rotation. Encrypt and Decrypt only
	// take it for the active-pointer read, never across the cipher work.
	mu sync.Mutex

	recorderMu sync.RWMutex
	recorder   Recorder
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the operational logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBaseKeyID overrides the default key family identifier.
func WithBaseKeyID(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.base = id
		}
	}
}

// New constructs a Service. The active key is created lazily on first use.
func New(keys keystore.Store, opts ...Option) *Service {
	s := &Service{keys: keys, base: defaultBaseKeyID}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRecorder attaches the audit recorder after construction. The audit
// logger depends on this service, so it cannot be passed to New.
func (s *Service) SetRecorder(r Recorder) {
	s.recorderMu.Lock()
	defer s.recorderMu.Unlock()
	s.recorder = r
}

// Encrypt seals plaintext under the current active key with a fresh
// 96-bit nonce and returns a blob stamped with the key identifier.
func (s *Service) Encrypt(plaintext []byte) (*Blob, error) {
	keyID, key, err := s.activeKey()
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not generate nonce")
	}
	if s.metrics != nil {
		s.metrics.IncOperation("encrypt")
	}
	return &Blob{
		Ciphertext: aead.Seal(nil, nonce, plaintext, []byte(keyID)),
		Nonce:      nonce,
		KeyID:      keyID,
		Algorithm:  AlgorithmAESGCM,
		CreatedAt:  time.Now(),
	}, nil
}

// Decrypt opens a blob using the key stamped on it. The key may be a
// rotated-out key retained for legacy data. Fails closed: a missing key
// yields CodeKeyNotFound and a bad tag yields CodeAuthenticationFailed,
// never partial plaintext.
func (s *Service) Decrypt(blob *Blob) ([]byte, error) {
	if blob == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "nil blob")
	}
	if blob.Algorithm != AlgorithmAESGCM {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported algorithm %q", blob.Algorithm))
	}
	key, err := s.keys.Load(blob.KeyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, dErrors.New(dErrors.CodeKeyNotFound, fmt.Sprintf("no key for identifier %q", blob.KeyID))
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, []byte(blob.KeyID))
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncAuthFailure()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeAuthenticationFailed, "ciphertext failed authentication")
	}
	if s.metrics != nil {
		s.metrics.IncOperation("decrypt")
	}
	return plaintext, nil
}

// RotateKey generates a new key, makes it the active key under a derived
// identifier, and records the rotation. Historical blobs are not
// re-encrypted; they remain decryptable via their stamped identifier.
func (s *Service) RotateKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldID, err := s.ensureActiveLocked()
	if err != nil {
		return "", err
	}
	newID := s.versionedID(keyVersion(oldID) + 1)
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate key")
	}
	if err := s.keys.Save(newID, key); err != nil {
		return "", err
	}
	if err := s.keys.Save(s.base+activePointerSuffix, []byte(newID)); err != nil {
		return "", err
	}

	if s.logger != nil {
		s.logger.Info("encryption key rotated", "old_key_id", oldID, "new_key_id", newID)
	}
	if s.metrics != nil {
		s.metrics.IncKeyRotation()
	}
	s.recorderMu.RLock()
	recorder := s.recorder
	s.recorderMu.RUnlock()
	if recorder != nil {
		recorder.RecordKeyRotation(oldID, newID)
	}
	return newID, nil
}

// ActiveKeyID reports the identifier new blobs will be sealed under,
// creating the initial key if none exists yet.
func (s *Service) ActiveKeyID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureActiveLocked()
}

// Validate round-trips a random payload through Encrypt and Decrypt. The
// security monitor treats a failure here as critical.
func (s *Service) Validate() error {
	payload := make([]byte, 32)
	if _, err := rand.Read(payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not generate probe payload")
	}
	blob, err := s.Encrypt(payload)
	if err != nil {
		s.noteValidateFailure()
		return dErrors.Wrap(err, dErrors.CodeInternal, "health probe encryption failed")
	}
	got, err := s.Decrypt(blob)
	if err != nil {
		s.noteValidateFailure()
		return dErrors.Wrap(err, dErrors.CodeInternal, "health probe decryption failed")
	}
	if !bytes.Equal(payload, got) {
		s.noteValidateFailure()
		return dErrors.New(dErrors.CodeInternal, "health probe round-trip mismatch")
	}
	return nil
}

func (s *Service) noteValidateFailure() {
	if s.metrics != nil {
		s.metrics.IncValidateFailure()
	}
}

// activeKey resolves the active key identifier and material.
func (s *Service) activeKey() (string, []byte, error) {
	s.mu.Lock()
	keyID, err := s.ensureActiveLocked()
	s.mu.Unlock()
	if err != nil {
		return "", nil, err
	}
	key, err := s.keys.Load(keyID)
	if err != nil {
		return "", nil, err
	}
	if key == nil {
		return "", nil, dErrors.New(dErrors.CodeKeyNotFound, fmt.Sprintf("active key %q missing from store", keyID))
	}
	return keyID, key, nil
}

// ensureActiveLocked reads the active-key pointer, creating the first key
// on demand. Callers must hold mu.
func (s *Service) ensureActiveLocked() (string, error) {
	pointer, err := s.keys.Load(s.base + activePointerSuffix)
	if err != nil {
		return "", err
	}
	if pointer != nil {
		return string(pointer), nil
	}

	keyID := s.versionedID(1)
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate key")
	}
	if err := s.keys.Save(keyID, key); err != nil {
		return "", err
	}
	if err := s.keys.Save(s.base+activePointerSuffix, []byte(keyID)); err != nil {
		return "", err
	}
	if s.logger != nil {
		s.logger.Info("encryption key created", "key_id", keyID)
	}
	return keyID, nil
}

func (s *Service) versionedID(version int) string {
	return fmt.Sprintf("%s.v%d", s.base, version)
}

// keyVersion extracts the numeric suffix from a versioned identifier.
// Unversioned identifiers count as version zero.
func keyVersion(id string) int {
	idx := strings.LastIndex(id, ".v")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(id[idx+2:])
	if err != nil {
		return 0
	}
	return n
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not initialize cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not initialize GCM")
	}
	return aead, nil
}
