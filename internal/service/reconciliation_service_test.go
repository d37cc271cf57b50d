package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorpay/settlement/internal/model"
	"github.com/anchorpay/settlement/internal/repository"
)

type fakeReconStore struct {
	totals  *repository.PeriodTotals
	records []*model.ReconciliationRecord
	alerts  []*model.ReconciliationAlert
}

func (f *fakeReconStore) PeriodTotals(context.Context, time.Time, time.Time) (*repository.PeriodTotals, error) {
	return f.totals, nil
}

func (f *fakeReconStore) CreateRecord(_ context.Context, rec *model.ReconciliationRecord) error {
	rec.ID = fmt.Sprintf("recon-%d", len(f.records)+1)
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeReconStore) GetRecord(_ context.Context, id string) (*model.ReconciliationRecord, error) {
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeReconStore) MarkReviewed(_ context.Context, id, actor, notes string) error {
	for _, r := range f.records {
		if r.ID == id {
			r.Status = model.ReconciliationReviewed
			r.ReviewedBy = actor
			r.ReviewNotes = notes
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeReconStore) CreateAlert(_ context.Context, a *model.ReconciliationAlert) error {
	a.ID = fmt.Sprintf("alert-%d", len(f.alerts)+1)
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeReconStore) AcknowledgeAlert(_ context.Context, id, actor string) error {
	for _, a := range f.alerts {
		if a.ID == id {
			a.Acknowledged = true
			a.AcknowledgedBy = actor
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeReconStore) ListAlerts(_ context.Context, reconciliationID string) ([]*model.ReconciliationAlert, error) {
	var out []*model.ReconciliationAlert
	for _, a := range f.alerts {
		if a.ReconciliationID == reconciliationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeReconStore) Summary(context.Context, time.Time) (*repository.SummaryRow, error) {
	return &repository.SummaryRow{TotalRecords: len(f.records)}, nil
}

func newReconService(store *fakeReconStore) *ReconciliationService {
	return NewReconciliationService(store, usdc("1"), usdc("2"), usdc("0.5"))
}

// Gross+fees constructed so the fee rate matches the expected 2% and no fee
// alert muddies threshold-only cases: fees = 2% of (gross+fees).
func totalsFor(paymentTotal, actualTotal string) *repository.PeriodTotals {
	actual := usdc(actualTotal)
	fees := actual.Mul(usdc("0.02"))
	return &repository.PeriodTotals{
		PaymentTotal:    usdc(paymentTotal),
		PaymentCount:    3,
		SettlementGross: actual.Sub(fees),
		SettlementFees:  fees,
		SettlementCount: 2,
	}
}

func TestReconciliation_Arithmetic(t *testing.T) {
	ctx := context.Background()

	t.Run("discrepancy above threshold", func(t *testing.T) {
		store := &fakeReconStore{totals: totalsFor("1000", "985")}
		result, err := newReconService(store).Run(ctx, time.Now().Add(-24*time.Hour), time.Now(), nil)
		require.NoError(t, err)

		record := result.Record
		assert.True(t, record.Discrepancy.Equal(usdc("15")), "discrepancy = %s", record.Discrepancy)
		assert.True(t, record.DiscrepancyPercent.Equal(usdc("1.5")), "percent = %s", record.DiscrepancyPercent)
		assert.Equal(t, model.ReconciliationDiscrepancy, record.Status)
		assert.Equal(t, model.BalanceComputed, record.ActualBalanceSource)
	})

	t.Run("within threshold matches", func(t *testing.T) {
		store := &fakeReconStore{totals: totalsFor("1000", "995")}
		result, err := newReconService(store).Run(ctx, time.Now().Add(-24*time.Hour), time.Now(), nil)
		require.NoError(t, err)

		assert.True(t, result.Record.Discrepancy.Equal(usdc("5")))
		assert.True(t, result.Record.DiscrepancyPercent.Equal(usdc("0.5")))
		assert.Equal(t, model.ReconciliationMatched, result.Record.Status)
		assert.Empty(t, result.Alerts)
	})

	t.Run("zero expected balance", func(t *testing.T) {
		store := &fakeReconStore{totals: &repository.PeriodTotals{}}
		result, err := newReconService(store).Run(ctx, time.Now().Add(-24*time.Hour), time.Now(), nil)
		require.NoError(t, err)

		assert.True(t, result.Record.DiscrepancyPercent.IsZero())
		assert.Equal(t, model.ReconciliationMatched, result.Record.Status)
	})

	t.Run("provided actual balance takes precedence and is recorded", func(t *testing.T) {
		store := &fakeReconStore{totals: totalsFor("1000", "1000")}
		override := usdc("900")
		result, err := newReconService(store).Run(ctx, time.Now().Add(-24*time.Hour), time.Now(), &override)
		require.NoError(t, err)

		record := result.Record
		assert.True(t, record.ActualBalance.Equal(usdc("900")))
		assert.Equal(t, model.BalanceProvided, record.ActualBalanceSource)
		assert.True(t, record.Discrepancy.Equal(usdc("100")))
		assert.Equal(t, model.ReconciliationDiscrepancy, record.Status)
	})

	t.Run("each run creates a fresh record", func(t *testing.T) {
		store := &fakeReconStore{totals: totalsFor("1000", "1000")}
		svc := newReconService(store)
		_, err := svc.Run(ctx, time.Now().Add(-24*time.Hour), time.Now(), nil)
		require.NoError(t, err)
		_, err = svc.Run(ctx, time.Now().Add(-24*time.Hour), time.Now(), nil)
		require.NoError(t, err)
		assert.Len(t, store.records, 2)
	})
}

func TestReconciliation_AlertGrading(t *testing.T) {
	ctx := context.Background()

	discrepancyCases := []struct {
		actual   string // against an expected 1000
		severity string
	}{
		{"985", model.SeverityLow},
		{"920", model.SeverityMedium},
		{"850", model.SeverityHigh},
		{"700", model.SeverityCritical},
	}
	for _, tc := range discrepancyCases {
		t.Run("threshold severity at actual "+tc.actual, func(t *testing.T) {
			store := &fakeReconStore{totals: totalsFor("1000", tc.actual)}
			result, err := newReconService(store).Run(ctx, time.Now().Add(-24*time.Hour), time.Now(), nil)
			require.NoError(t, err)

			require.Len(t, result.Alerts, 1)
			assert.Equal(t, model.AlertThresholdExceeded, result.Alerts[0].Type)
			assert.Equal(t, tc.severity, result.Alerts[0].Severity)
		})
	}

	t.Run("failed settlements raise missing_settlement", func(t *testing.T) {
		totals := totalsFor("1000", "1000")
		totals.FailedCount = 5
		store := &fakeReconStore{totals: totals}
		result, err := newReconService(store).Run(ctx, time.Now().Add(-24*time.Hour), time.Now(), nil)
		require.NoError(t, err)

		require.Len(t, result.Alerts, 1)
		assert.Equal(t, model.AlertMissingSettlement, result.Alerts[0].Type)
		assert.Equal(t, model.SeverityHigh, result.Alerts[0].Severity)
	})

	t.Run("fee rate deviation raises fee_discrepancy", func(t *testing.T) {
		// Effective fee rate 5% against an expected 2%.
		store := &fakeReconStore{totals: &repository.PeriodTotals{
			PaymentTotal:    usdc("1000"),
			SettlementGross: usdc("950"),
			SettlementFees:  usdc("50"),
			SettlementCount: 1,
		}}
		result, err := newReconService(store).Run(ctx, time.Now().Add(-24*time.Hour), time.Now(), nil)
		require.NoError(t, err)

		var feeAlert *model.ReconciliationAlert
		for _, a := range result.Alerts {
			if a.Type == model.AlertFeeDiscrepancy {
				feeAlert = a
			}
		}
		require.NotNil(t, feeAlert)
		assert.Equal(t, model.SeverityHigh, feeAlert.Severity)
	})

	t.Run("all alert conditions fire together", func(t *testing.T) {
		store := &fakeReconStore{totals: &repository.PeriodTotals{
			PaymentTotal:    usdc("1000"),
			SettlementGross: usdc("760"),
			SettlementFees:  usdc("40"), // actual 800, discrepancy 20%, fee rate 5%
			FailedCount:     1,
		}}
		result, err := newReconService(store).Run(ctx, time.Now().Add(-24*time.Hour), time.Now(), nil)
		require.NoError(t, err)

		types := make([]string, len(result.Alerts))
		for i, a := range result.Alerts {
			types[i] = a.Type
		}
		assert.ElementsMatch(t, []string{
			model.AlertThresholdExceeded,
			model.AlertMissingSettlement,
			model.AlertFeeDiscrepancy,
		}, types)
	})
}

func TestReconciliation_ReviewAndAcknowledge(t *testing.T) {
	ctx := context.Background()
	store := &fakeReconStore{totals: totalsFor("1000", "900")}
	svc := newReconService(store)

	result, err := svc.Run(ctx, time.Now().Add(-24*time.Hour), time.Now(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Alerts)

	t.Run("review marks record", func(t *testing.T) {
		require.NoError(t, svc.Review(ctx, result.Record.ID, "ops@anchorpay", "bank delay confirmed"))
		record, _, err := svc.GetRecord(ctx, result.Record.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ReconciliationReviewed, record.Status)
		assert.Equal(t, "ops@anchorpay", record.ReviewedBy)

		// Idempotent to call again.
		assert.NoError(t, svc.Review(ctx, result.Record.ID, "ops@anchorpay", "bank delay confirmed"))
	})

	t.Run("acknowledge alert", func(t *testing.T) {
		alertID := result.Alerts[0].ID
		require.NoError(t, svc.AcknowledgeAlert(ctx, alertID, "ops@anchorpay"))
		_, alerts, err := svc.GetRecord(ctx, result.Record.ID)
		require.NoError(t, err)
		assert.True(t, alerts[0].Acknowledged)
		assert.Equal(t, "ops@anchorpay", alerts[0].AcknowledgedBy)
	})

	t.Run("unknown ids are NotFound", func(t *testing.T) {
		assert.ErrorIs(t, svc.Review(ctx, "missing", "a", ""), repository.ErrNotFound)
		assert.ErrorIs(t, svc.AcknowledgeAlert(ctx, "missing", "a"), repository.ErrNotFound)
	})
}
