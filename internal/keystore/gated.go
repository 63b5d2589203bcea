package keystore

import (
	"context"
	"errors"
	"time"

	"custodia/internal/biometric"
	dErrors "custodia/pkg/domain-errors"
)

// Gated wraps a Store so that loads require an explicit user-presence
// check. This is the only call path in the subsystem that blocks on user
// interaction, so it takes a context and enforces a timeout.
type Gated struct {
	store   Store
	gate    biometric.Authenticator
	timeout time.Duration
}

// NewGated wraps store with the given authenticator. A zero timeout means
// the caller's context alone bounds the wait.
func NewGated(store Store, gate biometric.Authenticator, timeout time.Duration) *Gated {
	return &Gated{store: store, gate: gate, timeout: timeout}
}

// Load authenticates the user and then reads the key. The reason string is
// shown to the user by the host's prompt implementation.
func (g *Gated) Load(ctx context.Context, identifier, reason string) ([]byte, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ok, err := g.gate.Authenticate(ctx, reason)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "biometric prompt timed out")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBiometricFailed, "biometric authentication failed")
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeBiometricFailed, "user presence not confirmed")
	}
	return g.store.Load(identifier)
}
