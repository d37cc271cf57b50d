package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.secret")
	p, err := NewLocalProvider("correct horse battery staple", path)
	require.NoError(t, err)

	secret := []byte("super-secret-master-seed")
	require.NoError(t, p.StoreMasterSecret(context.Background(), secret))

	t.Run("ciphertext format", func(t *testing.T) {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		parts := strings.Split(strings.TrimSpace(string(raw)), ":")
		assert.Len(t, parts, 3, "format should be nonce:tag:ciphertext")
		assert.NotContains(t, string(raw), string(secret), "plaintext must never hit disk")
	})

	t.Run("decrypts to original", func(t *testing.T) {
		got, err := p.GetMasterSecret(context.Background())
		require.NoError(t, err)
		assert.Equal(t, secret, got)
	})

	t.Run("fresh provider with same passphrase decrypts", func(t *testing.T) {
		p2, err := NewLocalProvider("correct horse battery staple", path)
		require.NoError(t, err)
		got, err := p2.GetMasterSecret(context.Background())
		require.NoError(t, err)
		assert.Equal(t, secret, got)
	})

	t.Run("wrong passphrase fails", func(t *testing.T) {
		p3, err := NewLocalProvider("wrong passphrase", path)
		require.NoError(t, err)
		_, err = p3.GetMasterSecret(context.Background())
		assert.ErrorIs(t, err, ErrSecretUnavailable)
	})

	t.Run("random nonce per encryption", func(t *testing.T) {
		first, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, p.StoreMasterSecret(context.Background(), secret))
		second, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotEqual(t, string(first), string(second))
	})
}

func TestLocalProvider_Errors(t *testing.T) {
	t.Run("empty passphrase", func(t *testing.T) {
		_, err := NewLocalProvider("", "x")
		assert.ErrorIs(t, err, ErrMisconfigured)
	})

	t.Run("missing file", func(t *testing.T) {
		p, err := NewLocalProvider("pass", filepath.Join(t.TempDir(), "nope"))
		require.NoError(t, err)
		_, err = p.GetMasterSecret(context.Background())
		assert.ErrorIs(t, err, ErrSecretUnavailable)
		assert.False(t, p.HealthCheck(context.Background()))
	})

	t.Run("malformed ciphertext", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.secret")
		require.NoError(t, os.WriteFile(path, []byte("not-an-envelope"), 0o600))
		p, err := NewLocalProvider("pass", path)
		require.NoError(t, err)
		_, err = p.GetMasterSecret(context.Background())
		assert.ErrorIs(t, err, ErrSecretUnavailable)
	})
}

type fakeKMS struct {
	decrypts int
	fail     bool
}

func (f *fakeKMS) Decrypt(_ context.Context, _ string, ciphertext []byte) ([]byte, error) {
	if f.fail {
		return nil, assert.AnError
	}
	f.decrypts++
	return []byte(strings.TrimPrefix(string(ciphertext), "enc:")), nil
}

func (f *fakeKMS) Encrypt(_ context.Context, _ string, plaintext []byte) ([]byte, error) {
	return append([]byte("enc:"), plaintext...), nil
}

func (f *fakeKMS) Health(context.Context) error {
	if f.fail {
		return assert.AnError
	}
	return nil
}

type memStore struct{ data []byte }

func (m *memStore) Load(context.Context) ([]byte, error) {
	if m.data == nil {
		return nil, os.ErrNotExist
	}
	return m.data, nil
}

func (m *memStore) Save(_ context.Context, ciphertext []byte) error {
	m.data = ciphertext
	return nil
}

func TestKMSProvider_CachesWithinTTL(t *testing.T) {
	kms := &fakeKMS{}
	store := &memStore{}
	p, err := NewKMSProvider(kms, store, "key-1", time.Minute)
	require.NoError(t, err)

	secret := []byte("kms-held-secret")
	require.NoError(t, p.StoreMasterSecret(context.Background(), secret))

	// StoreMasterSecret primes the cache, so repeated reads hit KMS zero times.
	for i := 0; i < 3; i++ {
		got, err := p.GetMasterSecret(context.Background())
		require.NoError(t, err)
		assert.Equal(t, secret, got)
	}
	assert.Equal(t, 0, kms.decrypts)

	// Expire the cache and the next read goes back to KMS once.
	p.expiresAt = time.Now().Add(-time.Second)
	_, err = p.GetMasterSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, kms.decrypts)
}

func TestKMSProvider_Errors(t *testing.T) {
	t.Run("empty key id", func(t *testing.T) {
		_, err := NewKMSProvider(&fakeKMS{}, &memStore{}, "", time.Minute)
		assert.ErrorIs(t, err, ErrMisconfigured)
	})

	t.Run("no stored ciphertext", func(t *testing.T) {
		p, err := NewKMSProvider(&fakeKMS{}, &memStore{}, "key-1", time.Minute)
		require.NoError(t, err)
		_, err = p.GetMasterSecret(context.Background())
		assert.ErrorIs(t, err, ErrSecretUnavailable)
	})

	t.Run("kms down", func(t *testing.T) {
		p, err := NewKMSProvider(&fakeKMS{fail: true}, &memStore{data: []byte("enc:x")}, "key-1", time.Minute)
		require.NoError(t, err)
		_, err = p.GetMasterSecret(context.Background())
		assert.ErrorIs(t, err, ErrSecretUnavailable)
		assert.False(t, p.HealthCheck(context.Background()))
	})
}
