package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100_000
	kdfKeyLen     = 32
)

// Salt for the passphrase KDF. Fixed per deployment: the passphrase is the
// secret input, the salt only separates this application's key space.
var kdfSalt = []byte("anchorpay-master-secret-v1")

// LocalProvider keeps the master secret envelope-encrypted on disk under a
// key derived from an operator passphrase. Ciphertext format is
// hex(nonce):hex(tag):hex(ciphertext).
type LocalProvider struct {
	path string
	key  []byte

	mu     sync.Mutex
	cached []byte
}

func NewLocalProvider(passphrase, path string) (*LocalProvider, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: empty passphrase", ErrMisconfigured)
	}
	key := pbkdf2.Key([]byte(passphrase), kdfSalt, kdfIterations, kdfKeyLen, sha256.New)
	return &LocalProvider{path: path, key: key}, nil
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) GetMasterSecret(_ context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return p.cached, nil
	}

	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrSecretUnavailable, p.path, err)
	}

	secret, err := p.decrypt(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretUnavailable, err)
	}

	p.cached = secret
	return secret, nil
}

func (p *LocalProvider) StoreMasterSecret(_ context.Context, secret []byte) error {
	encrypted, err := p.encrypt(secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	if err := os.WriteFile(p.path, []byte(encrypted), 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrEncryption, p.path, err)
	}

	p.mu.Lock()
	p.cached = append([]byte(nil), secret...)
	p.mu.Unlock()
	return nil
}

func (p *LocalProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.GetMasterSecret(ctx)
	return err == nil
}

func (p *LocalProvider) encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	// gcm.Seal appends the tag to the ciphertext; split it back out to keep
	// the stored format explicit.
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext)), nil
}

func (p *LocalProvider) decrypt(encoded string) ([]byte, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed ciphertext: want nonce:tag:ciphertext")
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode tag: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("bad nonce length %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
