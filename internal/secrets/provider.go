// Package secrets manages the master secret every merchant keypair is derived
// from. Providers are interchangeable and selected by configuration; the rest
// of the system only sees the Provider interface.
package secrets

import (
	"context"
	"errors"
)

var (
	// ErrSecretUnavailable is a configuration-class failure: no derivation can
	// proceed without the master secret.
	ErrSecretUnavailable = errors.New("secrets: master secret unavailable")
	ErrMisconfigured     = errors.New("secrets: provider misconfigured")
	ErrEncryption        = errors.New("secrets: encryption failed")
)

type Provider interface {
	// GetMasterSecret returns the decrypted master secret, loading and caching
	// it on first use.
	GetMasterSecret(ctx context.Context) ([]byte, error)
	// StoreMasterSecret encrypts and persists a new master secret, replacing
	// any cached value.
	StoreMasterSecret(ctx context.Context, secret []byte) error
	HealthCheck(ctx context.Context) bool
	Name() string
}
