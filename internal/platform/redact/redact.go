// Package redact keeps personally identifying values out of plaintext
// operational output. The encrypted audit trail stores real identifiers;
// log mirrors and alert lines carry stable pseudonyms instead.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
)

// Pseudonym maps an identifier to a stable opaque token. Equal inputs map
// to equal tokens so log lines still correlate per subject, but the
// original value cannot be recovered from the output.
func Pseudonym(value string) string {
	if value == "" {
		return "unknown"
	}
	sum := sha256.Sum256([]byte(value))
	return "anon-" + hex.EncodeToString(sum[:4])
}
