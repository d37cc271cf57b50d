package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anchorpay/settlement/internal/model"
)

type BillingMerchantStore interface {
	ListBillingDue(ctx context.Context, now time.Time) ([]*model.Merchant, error)
	AdvanceBilling(ctx context.Context, id string, next time.Time) error
}

// BillingService renews merchant subscriptions on their billing date and
// notifies the merchant. Period length is fixed per plan cycle (30 days).
type BillingService struct {
	merchants BillingMerchantStore
	notifier  WebhookNotifier
	now       func() time.Time
}

func NewBillingService(merchants BillingMerchantStore, notifier WebhookNotifier) *BillingService {
	return &BillingService{merchants: merchants, notifier: notifier, now: time.Now}
}

// Run renews every merchant whose next_billing_at has passed. One merchant's
// failure does not block the others.
func (s *BillingService) Run(ctx context.Context) (int, error) {
	due, err := s.merchants.ListBillingDue(ctx, s.now())
	if err != nil {
		return 0, err
	}

	renewed := 0
	for _, merchant := range due {
		next := s.now().AddDate(0, 0, 30)
		if err := s.merchants.AdvanceBilling(ctx, merchant.ID, next); err != nil {
			log.Error().Err(err).Str("merchant_id", merchant.ID).Msg("billing renewal failed")
			continue
		}
		renewed++

		log.Info().
			Str("merchant_id", merchant.ID).
			Str("plan", merchant.Plan).
			Time("next_billing_at", next).
			Msg("subscription renewed")

		if _, err := s.notifier.CreateAndDeliver(ctx, merchant.ID, EventBillingRenewed, map[string]any{
			"plan":            merchant.Plan,
			"next_billing_at": next.UTC().Format(time.RFC3339),
		}, nil); err != nil {
			log.Error().Err(err).Str("merchant_id", merchant.ID).Msg("failed to dispatch billing webhook")
		}
	}
	return renewed, nil
}
