// Package keys derives deterministic per-payment keypairs from the master
// secret. Nothing here is ever persisted: a keypair is recomputed on demand
// and discarded after use.
package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base32"
	"fmt"

	"github.com/anchorpay/settlement/internal/secrets"
)

var addressEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type Keypair struct {
	PublicAddress string
	PrivateKey    ed25519.PrivateKey
}

type Deriver struct {
	provider secrets.Provider
}

func NewDeriver(provider secrets.Provider) *Deriver {
	return &Deriver{provider: provider}
}

// DeriveKeypair computes the keypair for (merchantID, paymentID). The seed is
// SHA-256(master || ":" || merchantID || ":" || paymentID), used directly as
// the ed25519 seed, so the same inputs always yield the same keypair.
func (d *Deriver) DeriveKeypair(ctx context.Context, merchantID, paymentID string) (*Keypair, error) {
	seed, err := d.seed(ctx, merchantID, paymentID)
	if err != nil {
		return nil, err
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	return &Keypair{
		PublicAddress: encodeAddress(pub),
		PrivateKey:    priv,
	}, nil
}

// DerivePublicAddress returns only the address, never materializing a private
// key value for the caller.
func (d *Deriver) DerivePublicAddress(ctx context.Context, merchantID, paymentID string) (string, error) {
	seed, err := d.seed(ctx, merchantID, paymentID)
	if err != nil {
		return "", err
	}
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	return encodeAddress(pub), nil
}

// VerifyAddress recomputes the address for (merchantID, paymentID) and
// compares it against a candidate.
func (d *Deriver) VerifyAddress(ctx context.Context, merchantID, paymentID, candidate string) (bool, error) {
	address, err := d.DerivePublicAddress(ctx, merchantID, paymentID)
	if err != nil {
		return false, err
	}
	return address == candidate, nil
}

func (d *Deriver) seed(ctx context.Context, merchantID, paymentID string) ([]byte, error) {
	master, err := d.provider.GetMasterSecret(ctx)
	if err != nil {
		return nil, fmt.Errorf("derive keypair: %w", err)
	}

	h := sha256.New()
	h.Write(master)
	h.Write([]byte(":"))
	h.Write([]byte(merchantID))
	h.Write([]byte(":"))
	h.Write([]byte(paymentID))
	return h.Sum(nil), nil
}

func encodeAddress(pub ed25519.PublicKey) string {
	return "G" + addressEncoding.EncodeToString(pub)
}
