package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/anchorpay/settlement/internal/exchange"
	"github.com/anchorpay/settlement/internal/model"
)

type SettlementPaymentStore interface {
	ListUnsettledSwept(ctx context.Context, limit int) ([]*model.Payment, error)
	UnsettledSummary(ctx context.Context) (int, decimal.Decimal, error)
}

type SettlementStore interface {
	CreateWithPayments(ctx context.Context, s *model.Settlement, paymentIDs []string) error
	CreateFailed(ctx context.Context, s *model.Settlement) error
	Recent(ctx context.Context, limit int) ([]*model.Settlement, error)
}

// Per-merchant outcome of one settlement cycle.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

type MerchantResult struct {
	MerchantID   string          `json:"merchant_id"`
	BusinessName string          `json:"business_name"`
	Status       string          `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	SettlementID string          `json:"settlement_id,omitempty"`
	USDCAmount   decimal.Decimal `json:"usdc_amount"`
	PaymentCount int             `json:"payment_count"`
	FiatGross    decimal.Decimal `json:"fiat_gross"`
	Fee          decimal.Decimal `json:"fee"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	ExchangeRef  string          `json:"exchange_ref,omitempty"`
	TransferRef  string          `json:"transfer_ref,omitempty"`
	Error        string          `json:"error,omitempty"`
}

type BatchResult struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Details   []MerchantResult `json:"details"`
}

// SettlementService aggregates swept, unsettled payments per merchant,
// converts them to fiat through the exchange partner, and commits each
// settlement atomically. Merchants are processed sequentially to respect the
// partner's rate limits and keep idempotency references simple.
type SettlementService struct {
	payments    SettlementPaymentStore
	settlements SettlementStore
	merchants   MerchantStore
	partner     exchange.Partner
	notifier    WebhookNotifier
	feePercent  decimal.Decimal
	batchSize   int
	now         func() time.Time
}

func NewSettlementService(payments SettlementPaymentStore, settlements SettlementStore, merchants MerchantStore, partner exchange.Partner, notifier WebhookNotifier, feePercent decimal.Decimal, batchSize int) *SettlementService {
	return &SettlementService{
		payments:    payments,
		settlements: settlements,
		merchants:   merchants,
		partner:     partner,
		notifier:    notifier,
		feePercent:  feePercent,
		batchSize:   batchSize,
		now:         time.Now,
	}
}

// RunBatch executes one settlement cycle. A per-merchant failure never aborts
// the batch; the result enumerates every merchant's outcome.
func (s *SettlementService) RunBatch(ctx context.Context) (*BatchResult, error) {
	runID := uuid.NewString()
	result := &BatchResult{RunID: runID, StartedAt: s.now()}

	eligible, err := s.payments.ListUnsettledSwept(ctx, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("aggregate payments: %w", err)
	}
	if len(eligible) == 0 {
		log.Info().Str("run_id", runID).Msg("settlement cycle: nothing to settle")
		return result, nil
	}

	groups := make(map[string][]*model.Payment)
	for _, p := range eligible {
		groups[p.MerchantID] = append(groups[p.MerchantID], p)
	}

	merchantIDs := make([]string, 0, len(groups))
	for id := range groups {
		merchantIDs = append(merchantIDs, id)
	}
	sort.Strings(merchantIDs)

	for _, merchantID := range merchantIDs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		mr := s.settleMerchant(ctx, runID, merchantID, groups[merchantID])
		switch mr.Status {
		case ResultCompleted:
			result.Succeeded++
		case ResultFailed:
			result.Failed++
		default:
			result.Skipped++
		}
		result.Details = append(result.Details, mr)
	}

	log.Info().
		Str("run_id", runID).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("settlement cycle finished")
	return result, nil
}

func (s *SettlementService) settleMerchant(ctx context.Context, runID, merchantID string, payments []*model.Payment) MerchantResult {
	total := decimal.Zero
	paymentIDs := make([]string, 0, len(payments))
	for _, p := range payments {
		total = total.Add(p.Amount)
		paymentIDs = append(paymentIDs, p.ID)
	}

	mr := MerchantResult{
		MerchantID:   merchantID,
		USDCAmount:   total,
		PaymentCount: len(payments),
	}

	merchant, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		mr.Status = ResultFailed
		mr.Error = fmt.Sprintf("load merchant: %v", err)
		return mr
	}
	mr.BusinessName = merchant.BusinessName

	if !s.isDue(merchant) {
		mr.Status = ResultSkipped
		mr.Reason = "not due per settlement schedule"
		return mr
	}
	if !merchant.HasBankAccount() {
		mr.Status = ResultSkipped
		mr.Reason = "no bank account on file"
		return mr
	}
	if !total.IsPositive() {
		mr.Status = ResultSkipped
		mr.Reason = "nothing to settle"
		return mr
	}

	// Unique per (merchant, date, run) so a retried batch cannot double-pay.
	idempotencyRef := fmt.Sprintf("stl-%s-%s-%s", merchantID, s.now().Format("20060102"), runID[:8])

	quote, err := s.partner.GetQuote(ctx, total, merchant.SettlementCurrency)
	if err != nil {
		return s.failSettlement(ctx, merchant, mr, total, paymentIDs, fmt.Sprintf("quote: %v", err))
	}

	gross := quote.FiatGross.Round(2)
	fee := gross.Mul(s.feePercent).Div(decimal.NewFromInt(100)).Round(2)
	net := gross.Sub(fee)

	payout, err := s.partner.ConvertAndPayout(ctx, total, merchant.SettlementCurrency, exchange.BankDestination{
		BankName:      merchant.BankName,
		AccountNumber: merchant.BankAccountNumber,
		AccountName:   merchant.BankAccountName,
	}, idempotencyRef)
	if err != nil {
		return s.failSettlement(ctx, merchant, mr, total, paymentIDs, fmt.Sprintf("payout: %v", err))
	}

	breakdown := make([]map[string]string, 0, len(payments))
	for _, p := range payments {
		breakdown = append(breakdown, map[string]string{
			"payment_id": p.ID,
			"amount":     p.Amount.String(),
		})
	}
	snapshot, _ := json.Marshal(map[string]any{
		"idempotency_ref": idempotencyRef,
		"fee_percent":     s.feePercent.String(),
		"payments":        breakdown,
	})

	settlement := &model.Settlement{
		MerchantID:   merchantID,
		USDCAmount:   total,
		FiatGross:    gross,
		Fee:          fee,
		NetAmount:    net,
		Currency:     merchant.SettlementCurrency,
		ExchangeRate: quote.ExchangeRate,
		ExchangeRef:  payout.ExchangeRef,
		TransferRef:  payout.TransferRef,
		Breakdown:    snapshot,
	}
	if err := s.settlements.CreateWithPayments(ctx, settlement, paymentIDs); err != nil {
		return s.failSettlement(ctx, merchant, mr, total, paymentIDs, fmt.Sprintf("commit: %v", err))
	}

	log.Info().
		Str("settlement_id", settlement.ID).
		Str("merchant_id", merchantID).
		Str("usdc", total.String()).
		Str("net", net.String()).
		Int("payments", len(paymentIDs)).
		Msg("settlement committed")

	s.notify(ctx, merchantID, EventSettlementCompleted, map[string]any{
		"settlement_id": settlement.ID,
		"usdc_amount":   total.String(),
		"fiat_gross":    gross.String(),
		"fee":           fee.String(),
		"net_amount":    net.String(),
		"currency":      merchant.SettlementCurrency,
		"exchange_rate": quote.ExchangeRate.String(),
		"payment_count": len(paymentIDs),
	})

	mr.Status = ResultCompleted
	mr.SettlementID = settlement.ID
	mr.FiatGross = gross
	mr.Fee = fee
	mr.NetAmount = net
	mr.ExchangeRef = payout.ExchangeRef
	mr.TransferRef = payout.TransferRef
	return mr
}

// failSettlement records the failed attempt for audit and leaves the payments
// eligible for the next cycle.
func (s *SettlementService) failSettlement(ctx context.Context, merchant *model.Merchant, mr MerchantResult, total decimal.Decimal, paymentIDs []string, reason string) MerchantResult {
	log.Error().
		Str("merchant_id", merchant.ID).
		Str("usdc", total.String()).
		Str("reason", reason).
		Msg("settlement failed")

	failed := &model.Settlement{
		MerchantID:    merchant.ID,
		USDCAmount:    total,
		Currency:      merchant.SettlementCurrency,
		PaymentIDs:    paymentIDs,
		FailureReason: reason,
	}
	if err := s.settlements.CreateFailed(ctx, failed); err != nil {
		log.Error().Err(err).Str("merchant_id", merchant.ID).Msg("failed to record failed settlement")
	}

	s.notify(ctx, merchant.ID, EventSettlementFailed, map[string]any{
		"usdc_amount": total.String(),
		"currency":    merchant.SettlementCurrency,
		"reason":      reason,
	})

	mr.Status = ResultFailed
	mr.Error = reason
	return mr
}

// notify fires a webhook without letting dispatch failure affect the
// settlement outcome.
func (s *SettlementService) notify(ctx context.Context, merchantID, event string, payload map[string]any) {
	if _, err := s.notifier.CreateAndDeliver(ctx, merchantID, event, payload, nil); err != nil {
		log.Error().Err(err).
			Str("merchant_id", merchantID).
			Str("event", event).
			Msg("failed to dispatch settlement webhook")
	}
}

func (s *SettlementService) isDue(m *model.Merchant) bool {
	if m.SettlementSchedule == "weekly" {
		return int(s.now().Weekday()) == m.SettlementWeekday
	}
	return true
}

type SettlementStatus struct {
	UnsettledCount  int                 `json:"unsettled_payment_count"`
	UnsettledTotal  decimal.Decimal     `json:"unsettled_usdc_total"`
	FeePercent      decimal.Decimal     `json:"fee_percent"`
	RecentBatchSize int                 `json:"batch_size"`
	Recent          []*model.Settlement `json:"recent_settlements"`
}

// Status is the read-only view consumed by operator dashboards.
func (s *SettlementService) Status(ctx context.Context) (*SettlementStatus, error) {
	count, total, err := s.payments.UnsettledSummary(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := s.settlements.Recent(ctx, 10)
	if err != nil {
		return nil, err
	}
	return &SettlementStatus{
		UnsettledCount:  count,
		UnsettledTotal:  total,
		FeePercent:      s.feePercent,
		RecentBatchSize: s.batchSize,
		Recent:          recent,
	}, nil
}
