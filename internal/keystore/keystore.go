// Package keystore provides durable, access-controlled storage for
// symmetric key material. The shipped backend is an encrypted file vault;
// hosts on platforms with an OS keystore can plug their own Store.
package keystore

// Store is the secure key storage boundary.
//
// Error Contract:
// - Load returns (nil, nil) when no key exists under the identifier
// - Corrupted entries surface CodeCorruptedKey, never a default key
// - Backend unavailability surfaces CodeStorageUnavailable; the caller
//   decides whether to retry, the store never retries on its own
type Store interface {
	Save(identifier string, key []byte) error
	Load(identifier string) ([]byte, error)
	Delete(identifier string) error
}
