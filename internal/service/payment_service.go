package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/anchorpay/settlement/internal/model"
)

var ErrInvalidAmount = errors.New("payment amount must be positive")

type PaymentIntakeStore interface {
	Create(ctx context.Context, p *model.Payment) error
	GetByID(ctx context.Context, id string) (*model.Payment, error)
}

type AddressDeriver interface {
	DerivePublicAddress(ctx context.Context, merchantID, paymentID string) (string, error)
	VerifyAddress(ctx context.Context, merchantID, paymentID, candidate string) (bool, error)
}

// PaymentService opens payment intents. Each payment gets its own deposit
// address derived from the master secret, so no key material is stored with
// the row; the monitor picks the payment up on its next tick.
type PaymentService struct {
	payments  PaymentIntakeStore
	merchants MerchantStore
	deriver   AddressDeriver
	expiry    time.Duration
}

func NewPaymentService(payments PaymentIntakeStore, merchants MerchantStore, deriver AddressDeriver, expiry time.Duration) *PaymentService {
	return &PaymentService{
		payments:  payments,
		merchants: merchants,
		deriver:   deriver,
		expiry:    expiry,
	}
}

// Create derives a fresh deposit address and persists the pending payment.
// The ID is generated here rather than by the database because the address
// derivation needs it as input.
func (s *PaymentService) Create(ctx context.Context, merchantID string, amount decimal.Decimal, currency string) (*model.Payment, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, err := s.merchants.GetByID(ctx, merchantID); err != nil {
		return nil, fmt.Errorf("load merchant: %w", err)
	}

	id := uuid.NewString()
	address, err := s.deriver.DerivePublicAddress(ctx, merchantID, id)
	if err != nil {
		return nil, fmt.Errorf("derive payment address: %w", err)
	}

	payment := &model.Payment{
		ID:         id,
		MerchantID: merchantID,
		Amount:     amount,
		Currency:   currency,
		Address:    address,
		ExpiresAt:  time.Now().Add(s.expiry),
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	log.Info().
		Str("payment_id", payment.ID).
		Str("merchant_id", merchantID).
		Str("address", address).
		Str("amount", amount.String()).
		Msg("payment created")
	return payment, nil
}

// Get returns a payment after re-verifying that its stored address still
// derives from the current master secret. A mismatch means the secret was
// rotated without re-deriving, which deserves a loud log, not silence.
func (s *PaymentService) Get(ctx context.Context, id string) (*model.Payment, error) {
	payment, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.deriver.VerifyAddress(ctx, payment.MerchantID, payment.ID, payment.Address)
	if err == nil && !ok {
		log.Error().
			Str("payment_id", payment.ID).
			Str("address", payment.Address).
			Msg("stored address no longer matches derivation")
	}
	return payment, nil
}
