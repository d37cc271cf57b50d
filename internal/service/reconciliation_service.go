package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/anchorpay/settlement/internal/model"
	"github.com/anchorpay/settlement/internal/repository"
)

type ReconciliationStore interface {
	PeriodTotals(ctx context.Context, start, end time.Time) (*repository.PeriodTotals, error)
	CreateRecord(ctx context.Context, rec *model.ReconciliationRecord) error
	GetRecord(ctx context.Context, id string) (*model.ReconciliationRecord, error)
	MarkReviewed(ctx context.Context, id, actor, notes string) error
	CreateAlert(ctx context.Context, a *model.ReconciliationAlert) error
	AcknowledgeAlert(ctx context.Context, id, actor string) error
	ListAlerts(ctx context.Context, reconciliationID string) ([]*model.ReconciliationAlert, error)
	Summary(ctx context.Context, since time.Time) (*repository.SummaryRow, error)
}

// ReconciliationService independently re-derives what settlements should have
// paid out from the payment side, compares against what they actually did,
// and raises graded alerts on divergence. Every run persists a fresh record;
// prior records are only touched by human review.
type ReconciliationService struct {
	store              ReconciliationStore
	thresholdPercent   decimal.Decimal
	expectedFeePercent decimal.Decimal
	feeDeviationPoints decimal.Decimal
}

func NewReconciliationService(store ReconciliationStore, thresholdPercent, expectedFeePercent, feeDeviationPoints decimal.Decimal) *ReconciliationService {
	return &ReconciliationService{
		store:              store,
		thresholdPercent:   thresholdPercent,
		expectedFeePercent: expectedFeePercent,
		feeDeviationPoints: feeDeviationPoints,
	}
}

type ReconciliationResult struct {
	Record *model.ReconciliationRecord  `json:"record"`
	Alerts []*model.ReconciliationAlert `json:"alerts"`
}

// Run reconciles one period. actualBalance, when supplied (e.g. from a real
// bank statement), takes precedence over the computed settlement total and is
// recorded as such.
func (s *ReconciliationService) Run(ctx context.Context, periodStart, periodEnd time.Time, actualBalance *decimal.Decimal) (*ReconciliationResult, error) {
	totals, err := s.store.PeriodTotals(ctx, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("reconciliation totals: %w", err)
	}

	expected := totals.PaymentTotal
	computed := totals.SettlementGross.Add(totals.SettlementFees)

	actual := computed
	source := model.BalanceComputed
	if actualBalance != nil {
		actual = *actualBalance
		source = model.BalanceProvided
	}

	discrepancy := expected.Sub(actual).Abs()
	discrepancyPercent := decimal.Zero
	if !expected.IsZero() {
		discrepancyPercent = discrepancy.Div(expected).Mul(decimal.NewFromInt(100)).Round(4)
	}

	status := model.ReconciliationMatched
	if discrepancyPercent.GreaterThan(s.thresholdPercent) {
		status = model.ReconciliationDiscrepancy
	}

	record := &model.ReconciliationRecord{
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		TotalUSDCSwept:      totals.PaymentTotal,
		TotalFiatPayouts:    totals.SettlementGross,
		TotalFees:           totals.SettlementFees,
		ExpectedBalance:     expected,
		ActualBalance:       actual,
		ActualBalanceSource: source,
		Discrepancy:         discrepancy,
		DiscrepancyPercent:  discrepancyPercent,
		Status:              status,
		SettlementCount:     totals.SettlementCount,
		PaymentCount:        totals.PaymentCount,
	}
	if err := s.store.CreateRecord(ctx, record); err != nil {
		return nil, err
	}

	alerts := s.raiseAlerts(ctx, record, totals)

	log.Info().
		Str("reconciliation_id", record.ID).
		Str("status", status).
		Str("expected", expected.String()).
		Str("actual", actual.String()).
		Str("discrepancy_percent", discrepancyPercent.String()).
		Int("alerts", len(alerts)).
		Msg("reconciliation run complete")

	return &ReconciliationResult{Record: record, Alerts: alerts}, nil
}

// raiseAlerts evaluates the three independent alert conditions; any or all
// may fire for one run.
func (s *ReconciliationService) raiseAlerts(ctx context.Context, record *model.ReconciliationRecord, totals *repository.PeriodTotals) []*model.ReconciliationAlert {
	var alerts []*model.ReconciliationAlert

	if record.DiscrepancyPercent.GreaterThan(s.thresholdPercent) {
		alerts = append(alerts, &model.ReconciliationAlert{
			ReconciliationID: record.ID,
			Type:             model.AlertThresholdExceeded,
			Severity:         discrepancySeverity(record.DiscrepancyPercent),
			Message: fmt.Sprintf("balance discrepancy of %s (%s%%) exceeds the %s%% threshold",
				record.Discrepancy.String(), record.DiscrepancyPercent.String(), s.thresholdPercent.String()),
		})
	}

	if totals.FailedCount > 0 {
		alerts = append(alerts, &model.ReconciliationAlert{
			ReconciliationID: record.ID,
			Type:             model.AlertMissingSettlement,
			Severity:         failedSettlementSeverity(totals.FailedCount),
			Message:          fmt.Sprintf("%d failed settlement(s) in period", totals.FailedCount),
		})
	}

	grossPlusFees := totals.SettlementGross.Add(totals.SettlementFees)
	if !grossPlusFees.IsZero() {
		effectiveFee := totals.SettlementFees.Div(grossPlusFees).Mul(decimal.NewFromInt(100))
		deviation := effectiveFee.Sub(s.expectedFeePercent).Abs()
		if deviation.GreaterThan(s.feeDeviationPoints) {
			alerts = append(alerts, &model.ReconciliationAlert{
				ReconciliationID: record.ID,
				Type:             model.AlertFeeDiscrepancy,
				Severity:         feeDeviationSeverity(deviation),
				Message: fmt.Sprintf("effective fee rate %s%% deviates from expected %s%% by %s points",
					effectiveFee.Round(4).String(), s.expectedFeePercent.String(), deviation.Round(4).String()),
			})
		}
	}

	for _, alert := range alerts {
		if err := s.store.CreateAlert(ctx, alert); err != nil {
			log.Error().Err(err).
				Str("reconciliation_id", record.ID).
				Str("type", alert.Type).
				Msg("failed to persist reconciliation alert")
		}
	}
	return alerts
}

func discrepancySeverity(percent decimal.Decimal) string {
	switch {
	case percent.GreaterThan(decimal.NewFromInt(20)):
		return model.SeverityCritical
	case percent.GreaterThan(decimal.NewFromInt(10)):
		return model.SeverityHigh
	case percent.GreaterThan(decimal.NewFromInt(5)):
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func failedSettlementSeverity(count int) string {
	switch {
	case count >= 10:
		return model.SeverityCritical
	case count >= 5:
		return model.SeverityHigh
	case count >= 2:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func feeDeviationSeverity(points decimal.Decimal) string {
	switch {
	case points.GreaterThan(decimal.NewFromInt(2)):
		return model.SeverityHigh
	case points.GreaterThan(decimal.NewFromInt(1)):
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// AcknowledgeAlert marks an alert acknowledged by actor. Idempotent to call.
func (s *ReconciliationService) AcknowledgeAlert(ctx context.Context, alertID, actor string) error {
	return s.store.AcknowledgeAlert(ctx, alertID, actor)
}

// Review marks a record reviewed by a human. Idempotent to call.
func (s *ReconciliationService) Review(ctx context.Context, recordID, actor, notes string) error {
	return s.store.MarkReviewed(ctx, recordID, actor, notes)
}

func (s *ReconciliationService) GetRecord(ctx context.Context, id string) (*model.ReconciliationRecord, []*model.ReconciliationAlert, error) {
	record, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	alerts, err := s.store.ListAlerts(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return record, alerts, nil
}

// Summary aggregates outcomes over the trailing 30 days for dashboards.
func (s *ReconciliationService) Summary(ctx context.Context) (*repository.SummaryRow, error) {
	return s.store.Summary(ctx, time.Now().AddDate(0, 0, -30))
}
