package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// KMSClient is the narrow surface we need from a key-management service. The
// master secret plaintext only exists inside the KMS boundary and, briefly,
// in this process's TTL cache.
type KMSClient interface {
	Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error)
	Encrypt(ctx context.Context, keyID string, plaintext []byte) ([]byte, error)
	Health(ctx context.Context) error
}

// CiphertextStore persists the KMS-wrapped secret between process restarts.
type CiphertextStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, ciphertext []byte) error
}

// KMSProvider caches the decrypted secret for a short TTL to bound KMS calls.
type KMSProvider struct {
	client KMSClient
	store  CiphertextStore
	keyID  string
	ttl    time.Duration

	mu        sync.Mutex
	cached    []byte
	expiresAt time.Time
}

func NewKMSProvider(client KMSClient, store CiphertextStore, keyID string, ttl time.Duration) (*KMSProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("%w: empty KMS key id", ErrMisconfigured)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KMSProvider{client: client, store: store, keyID: keyID, ttl: ttl}, nil
}

func (p *KMSProvider) Name() string { return "kms" }

func (p *KMSProvider) GetMasterSecret(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && time.Now().Before(p.expiresAt) {
		return p.cached, nil
	}

	ciphertext, err := p.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load ciphertext: %v", ErrSecretUnavailable, err)
	}

	plaintext, err := p.client.Decrypt(ctx, p.keyID, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: kms decrypt: %v", ErrSecretUnavailable, err)
	}

	p.cached = plaintext
	p.expiresAt = time.Now().Add(p.ttl)
	return plaintext, nil
}

func (p *KMSProvider) StoreMasterSecret(ctx context.Context, secret []byte) error {
	ciphertext, err := p.client.Encrypt(ctx, p.keyID, secret)
	if err != nil {
		return fmt.Errorf("%w: kms encrypt: %v", ErrEncryption, err)
	}
	if err := p.store.Save(ctx, ciphertext); err != nil {
		return fmt.Errorf("%w: save ciphertext: %v", ErrEncryption, err)
	}

	// Rotation installs a fresh cache entry rather than mutating in place.
	p.mu.Lock()
	p.cached = append([]byte(nil), secret...)
	p.expiresAt = time.Now().Add(p.ttl)
	p.mu.Unlock()

	log.Info().Str("provider", p.Name()).Msg("master secret rotated")
	return nil
}

func (p *KMSProvider) HealthCheck(ctx context.Context) bool {
	return p.client.Health(ctx) == nil
}
