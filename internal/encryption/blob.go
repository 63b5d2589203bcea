package encryption

import "time"

// AlgorithmAESGCM tags blobs produced by the current cipher suite.
const AlgorithmAESGCM = "aes-256-gcm"

// Blob is the self-describing output of Encrypt. The key identifier stamped
// here is authoritative for decryption: readers resolve keys by KeyID, never
// by the current active key, which makes rotation safe to run concurrently
// with in-flight decrypts.
type Blob struct {
	Ciphertext []byte    `json:"ciphertext"`
	Nonce      []byte    `json:"nonce"`
	KeyID      string    `json:"key_id"`
	Algorithm  string    `json:"algorithm"`
	CreatedAt  time.Time `json:"created_at"`
}
