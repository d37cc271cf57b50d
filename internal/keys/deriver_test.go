package keys

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorpay/settlement/internal/secrets"
)

type stubProvider struct {
	secret []byte
	err    error
}

func (s *stubProvider) GetMasterSecret(context.Context) ([]byte, error) { return s.secret, s.err }
func (s *stubProvider) StoreMasterSecret(context.Context, []byte) error { return nil }
func (s *stubProvider) HealthCheck(context.Context) bool                { return s.err == nil }
func (s *stubProvider) Name() string                                    { return "stub" }

func TestDeriver_Deterministic(t *testing.T) {
	d := NewDeriver(&stubProvider{secret: []byte("master-secret")})
	ctx := context.Background()

	first, err := d.DeriveKeypair(ctx, "merchant-1", "payment-1")
	require.NoError(t, err)
	second, err := d.DeriveKeypair(ctx, "merchant-1", "payment-1")
	require.NoError(t, err)

	assert.Equal(t, first.PublicAddress, second.PublicAddress)
	assert.Equal(t, first.PrivateKey, second.PrivateKey)
}

func TestDeriver_DistinctInputsDistinctAddresses(t *testing.T) {
	d := NewDeriver(&stubProvider{secret: []byte("master-secret")})
	ctx := context.Background()

	base, err := d.DerivePublicAddress(ctx, "merchant-1", "payment-1")
	require.NoError(t, err)

	cases := []struct {
		name       string
		merchantID string
		paymentID  string
	}{
		{"different payment", "merchant-1", "payment-2"},
		{"different merchant", "merchant-2", "payment-1"},
		{"swapped ids", "payment-1", "merchant-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			other, err := d.DerivePublicAddress(ctx, tc.merchantID, tc.paymentID)
			require.NoError(t, err)
			assert.NotEqual(t, base, other)
		})
	}

	d2 := NewDeriver(&stubProvider{secret: []byte("another-master")})
	other, err := d2.DerivePublicAddress(ctx, "merchant-1", "payment-1")
	require.NoError(t, err)
	assert.NotEqual(t, base, other, "different master secret must change the address")
}

func TestDeriver_PublicAddressMatchesKeypair(t *testing.T) {
	d := NewDeriver(&stubProvider{secret: []byte("master-secret")})
	ctx := context.Background()

	kp, err := d.DeriveKeypair(ctx, "m", "p")
	require.NoError(t, err)
	addr, err := d.DerivePublicAddress(ctx, "m", "p")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicAddress, addr)

	// Derived private key actually signs for the derived public key.
	msg := []byte("payout")
	sig := ed25519.Sign(kp.PrivateKey, msg)
	assert.True(t, ed25519.Verify(kp.PrivateKey.Public().(ed25519.PublicKey), msg, sig))
}

func TestDeriver_VerifyAddress(t *testing.T) {
	d := NewDeriver(&stubProvider{secret: []byte("master-secret")})
	ctx := context.Background()

	addr, err := d.DerivePublicAddress(ctx, "m", "p")
	require.NoError(t, err)

	ok, err := d.VerifyAddress(ctx, "m", "p", addr)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.VerifyAddress(ctx, "m", "other", addr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeriver_SecretUnavailable(t *testing.T) {
	d := NewDeriver(&stubProvider{err: secrets.ErrSecretUnavailable})

	_, err := d.DeriveKeypair(context.Background(), "m", "p")
	assert.ErrorIs(t, err, secrets.ErrSecretUnavailable)

	_, err = d.DerivePublicAddress(context.Background(), "m", "p")
	assert.ErrorIs(t, err, secrets.ErrSecretUnavailable)
}
