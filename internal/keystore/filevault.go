package keystore

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	dErrors "custodia/pkg/domain-errors"
)

const (
	masterFileName = "master.secret"
	keyFileSuffix  = ".key"

	masterSecretLen = 32
	masterSaltLen   = 16
)

var wrapKeyInfo = []byte("custodia/key-wrap/v1")

// FileVault is the encrypted-at-rest fallback for platforms without a
// secure enclave. Each stored key is wrapped with XChaCha20-Poly1305 under
// a master key derived from a locally generated secret. The vault directory
// and every file in it carry owner-only permissions.
type FileVault struct {
	dir  string
	aead cipher.AEAD
	mu   sync.Mutex
}

// NewFileVault opens or initializes a vault at dir. On first use a random
// master secret is generated and persisted with 0600 permissions; the wrap
// key is derived from it with Argon2id and HKDF and never written to disk.
func NewFileVault(dir string) (*FileVault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not create vault directory")
	}

	secret, salt, err := loadOrCreateMasterSecret(filepath.Join(dir, masterFileName))
	if err != nil {
		return nil, err
	}

	master := argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
	wrapKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, wrapKeyInfo), wrapKey); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not derive wrap key")
	}

	aead, err := chacha20poly1305.NewX(wrapKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not initialize vault cipher")
	}
	return &FileVault{dir: dir, aead: aead}, nil
}

func loadOrCreateMasterSecret(path string) (secret, salt []byte, err error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(raw) != masterSecretLen+masterSaltLen {
			return nil, nil, dErrors.New(dErrors.CodeCorruptedKey, "master secret file is corrupted")
		}
		return raw[:masterSecretLen], raw[masterSecretLen:], nil
	case os.IsNotExist(err):
		raw = make([]byte, masterSecretLen+masterSaltLen)
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not generate master secret")
		}
		if err := os.WriteFile(path, raw, 0o600); err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not persist master secret")
		}
		return raw[:masterSecretLen], raw[masterSecretLen:], nil
	default:
		return nil, nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not read master secret")
	}
}

func (v *FileVault) Save(identifier string, key []byte) error {
	if identifier == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "key identifier required")
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not generate nonce")
	}
	sealed := v.aead.Seal(nonce, nonce, key, []byte(identifier))

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := os.WriteFile(v.path(identifier), sealed, 0o600); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not write key file")
	}
	return nil
}

func (v *FileVault) Load(identifier string) ([]byte, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "key identifier required")
	}
	v.mu.Lock()
	raw, err := os.ReadFile(v.path(identifier))
	v.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not read key file")
	}
	if len(raw) < v.aead.NonceSize() {
		return nil, dErrors.New(dErrors.CodeCorruptedKey, "key file is truncated")
	}
	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	key, err := v.aead.Open(nil, nonce, sealed, []byte(identifier))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCorruptedKey, "key file failed authentication")
	}
	return key, nil
}

func (v *FileVault) Delete(identifier string) error {
	if identifier == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "key identifier required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := os.Remove(v.path(identifier)); err != nil && !os.IsNotExist(err) {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not delete key file")
	}
	return nil
}

// path maps an identifier to a filesystem-safe file name.
func (v *FileVault) path(identifier string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(identifier))
	return filepath.Join(v.dir, name+keyFileSuffix)
}
