package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anchorpay/settlement/internal/ledger"
	"github.com/anchorpay/settlement/internal/model"
)

type MonitorPaymentStore interface {
	ListPending(ctx context.Context) ([]*model.Payment, error)
	UpdateStatusAndCursor(ctx context.Context, id, status, pagingToken string) error
	UpdateCursor(ctx context.Context, id, pagingToken string) error
	ExpireOverdue(ctx context.Context) (int64, error)
}

type WebhookNotifier interface {
	CreateAndDeliver(ctx context.Context, merchantID, eventType string, payload any, relatedPaymentID *string) (*model.WebhookLog, error)
}

// MonitorService polls the ledger for incoming transfers to pending payment
// addresses. Each payment carries its own resumable cursor, so a restart
// neither reprocesses seen transfers nor misses new ones.
type MonitorService struct {
	payments    MonitorPaymentStore
	ledger      ledger.Client
	notifier    WebhookNotifier
	assetCode   string
	assetIssuer string
	pageLimit   int
	interval    time.Duration
}

func NewMonitorService(payments MonitorPaymentStore, lc ledger.Client, notifier WebhookNotifier, assetCode, assetIssuer string, pageLimit int, interval time.Duration) *MonitorService {
	return &MonitorService{
		payments:    payments,
		ledger:      lc,
		notifier:    notifier,
		assetCode:   assetCode,
		assetIssuer: assetIssuer,
		pageLimit:   pageLimit,
		interval:    interval,
	}
}

// Run polls on a fixed tick until the context is cancelled.
func (s *MonitorService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("payment monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("payment monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one polling pass. Failures on one payment never abort the pass
// for the others.
func (s *MonitorService) Tick(ctx context.Context) {
	if expired, err := s.payments.ExpireOverdue(ctx); err != nil {
		log.Error().Err(err).Msg("failed to expire overdue payments")
	} else if expired > 0 {
		log.Info().Int64("count", expired).Msg("expired overdue payments")
	}

	pending, err := s.payments.ListPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list pending payments")
		return
	}

	for _, payment := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.checkPayment(ctx, payment); err != nil {
			log.Error().Err(err).
				Str("payment_id", payment.ID).
				Str("address", payment.Address).
				Msg("payment check failed")
		}
	}
}

func (s *MonitorService) checkPayment(ctx context.Context, payment *model.Payment) error {
	records, newCursor, err := s.ledger.PollIncomingPayments(ctx, payment.Address, payment.LastPagingToken, s.pageLimit)
	if err != nil {
		return err
	}

	for _, record := range records {
		if record.AssetCode != s.assetCode || record.AssetIssuer != s.assetIssuer {
			continue
		}

		status := classifyReceipt(payment, record)
		// Status and cursor move together; the repository guards on the
		// pending status so a replayed record cannot reclassify.
		if err := s.payments.UpdateStatusAndCursor(ctx, payment.ID, status, newCursor); err != nil {
			return err
		}

		log.Info().
			Str("payment_id", payment.ID).
			Str("status", status).
			Str("tx_hash", record.TxHash).
			Str("amount", record.Amount.String()).
			Str("expected", payment.Amount.String()).
			Msg("payment receipt classified")

		s.notifyReceipt(ctx, payment, status, record)
		return nil
	}

	// No matching transfer: still advance the cursor so the next poll resumes
	// from the newest record seen.
	if newCursor != payment.LastPagingToken {
		return s.payments.UpdateCursor(ctx, payment.ID, newCursor)
	}
	return nil
}

func classifyReceipt(payment *model.Payment, record ledger.TransferRecord) string {
	switch record.Amount.Cmp(payment.Amount) {
	case 0:
		return model.PaymentPaid
	case 1:
		return model.PaymentOverpaid
	default:
		return model.PaymentPartiallyPaid
	}
}

func (s *MonitorService) notifyReceipt(ctx context.Context, payment *model.Payment, status string, record ledger.TransferRecord) {
	event := map[string]string{
		model.PaymentPaid:          EventPaymentPaid,
		model.PaymentOverpaid:      EventPaymentOverpaid,
		model.PaymentPartiallyPaid: EventPaymentPartiallyPaid,
	}[status]

	payload := map[string]any{
		"payment_id":      payment.ID,
		"status":          status,
		"expected_amount": payment.Amount.String(),
		"received_amount": record.Amount.String(),
		"currency":        payment.Currency,
		"tx_hash":         record.TxHash,
	}
	if _, err := s.notifier.CreateAndDeliver(ctx, payment.MerchantID, event, payload, &payment.ID); err != nil {
		log.Error().Err(err).Str("payment_id", payment.ID).Msg("failed to dispatch payment webhook")
	}
}
