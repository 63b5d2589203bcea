// Package biometric defines the user-presence gate boundary. The actual
// prompt (Touch ID, Windows Hello, a hardware token press) is owned by the
// host platform; this package only fixes the contract the key store calls
// through.
package biometric

import "context"

//go:generate mockgen -source=biometric.go -destination=mocks/mocks.go -package=mocks Authenticator

// Authenticator performs an interactive user-presence check. Implementations
// are expected to block until the user responds and must honor context
// cancellation so callers can bound the wait.
type Authenticator interface {
	Authenticate(ctx context.Context, reason string) (bool, error)
}
