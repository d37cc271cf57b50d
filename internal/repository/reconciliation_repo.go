package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/anchorpay/settlement/internal/model"
)

type ReconciliationRepository struct {
	pool *pgxpool.Pool
}

func NewReconciliationRepository(pool *pgxpool.Pool) *ReconciliationRepository {
	return &ReconciliationRepository{pool: pool}
}

// PeriodTotals feeds a reconciliation run: confirmed payment totals on the
// expected side, completed settlement totals on the actual side.
type PeriodTotals struct {
	PaymentTotal    decimal.Decimal
	PaymentCount    int
	SettlementGross decimal.Decimal
	SettlementFees  decimal.Decimal
	SettlementCount int
	FailedCount     int
}

func (r *ReconciliationRepository) PeriodTotals(ctx context.Context, start, end time.Time) (*PeriodTotals, error) {
	var t PeriodTotals
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM payments
		WHERE status = $1 AND updated_at >= $2 AND updated_at < $3`,
		model.PaymentConfirmed, start, end,
	).Scan(&t.PaymentTotal, &t.PaymentCount)
	if err != nil {
		return nil, fmt.Errorf("sum confirmed payments: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT
			COALESCE(SUM(fiat_gross) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(fee) FILTER (WHERE status = 'completed'), 0),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM settlements
		WHERE created_at >= $1 AND created_at < $2`,
		start, end,
	).Scan(&t.SettlementGross, &t.SettlementFees, &t.SettlementCount, &t.FailedCount)
	if err != nil {
		return nil, fmt.Errorf("sum settlements: %w", err)
	}

	return &t, nil
}

func (r *ReconciliationRepository) CreateRecord(ctx context.Context, rec *model.ReconciliationRecord) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO reconciliation_records (period_start, period_end, total_usdc_swept,
			total_fiat_payouts, total_fees, expected_balance, actual_balance,
			actual_balance_source, discrepancy, discrepancy_percent, status,
			settlement_count, payment_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`,
		rec.PeriodStart, rec.PeriodEnd, rec.TotalUSDCSwept, rec.TotalFiatPayouts,
		rec.TotalFees, rec.ExpectedBalance, rec.ActualBalance, rec.ActualBalanceSource,
		rec.Discrepancy, rec.DiscrepancyPercent, rec.Status,
		rec.SettlementCount, rec.PaymentCount,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reconciliation record: %w", err)
	}
	return nil
}

func (r *ReconciliationRepository) GetRecord(ctx context.Context, id string) (*model.ReconciliationRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, period_start, period_end, total_usdc_swept, total_fiat_payouts,
			total_fees, expected_balance, actual_balance, actual_balance_source,
			discrepancy, discrepancy_percent, status, settlement_count, payment_count,
			reviewed_by, review_notes, created_at
		FROM reconciliation_records WHERE id = $1`, id)

	var rec model.ReconciliationRecord
	err := row.Scan(&rec.ID, &rec.PeriodStart, &rec.PeriodEnd, &rec.TotalUSDCSwept,
		&rec.TotalFiatPayouts, &rec.TotalFees, &rec.ExpectedBalance, &rec.ActualBalance,
		&rec.ActualBalanceSource, &rec.Discrepancy, &rec.DiscrepancyPercent, &rec.Status,
		&rec.SettlementCount, &rec.PaymentCount, &rec.ReviewedBy, &rec.ReviewNotes,
		&rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan reconciliation record: %w", err)
	}
	return &rec, nil
}

// MarkReviewed is the human-review terminal transition.
func (r *ReconciliationRepository) MarkReviewed(ctx context.Context, id, actor, notes string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE reconciliation_records
		SET status = $2, reviewed_by = $3, review_notes = $4
		WHERE id = $1`,
		id, model.ReconciliationReviewed, actor, notes)
	if err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ReconciliationRepository) CreateAlert(ctx context.Context, a *model.ReconciliationAlert) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO reconciliation_alerts (reconciliation_id, type, severity, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		a.ReconciliationID, a.Type, a.Severity, a.Message,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reconciliation alert: %w", err)
	}
	return nil
}

func (r *ReconciliationRepository) AcknowledgeAlert(ctx context.Context, id, actor string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE reconciliation_alerts
		SET acknowledged = TRUE, acknowledged_by = $2
		WHERE id = $1`, id, actor)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ReconciliationRepository) ListAlerts(ctx context.Context, reconciliationID string) ([]*model.ReconciliationAlert, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, reconciliation_id, type, severity, message, acknowledged,
			acknowledged_by, created_at
		FROM reconciliation_alerts WHERE reconciliation_id = $1 ORDER BY created_at`,
		reconciliationID)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.ReconciliationAlert
	for rows.Next() {
		var a model.ReconciliationAlert
		if err := rows.Scan(&a.ID, &a.ReconciliationID, &a.Type, &a.Severity, &a.Message,
			&a.Acknowledged, &a.AcknowledgedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// SummaryRow aggregates reconciliation outcomes over a rolling window for the
// operator dashboard.
type SummaryRow struct {
	TotalRecords          int
	Matched               int
	Discrepancies         int
	Reviewed              int
	UnacknowledgedAlerts  int
	AvgDiscrepancyPercent decimal.Decimal
}

func (r *ReconciliationRepository) Summary(ctx context.Context, since time.Time) (*SummaryRow, error) {
	var s SummaryRow
	err := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'matched'),
			COUNT(*) FILTER (WHERE status = 'discrepancy'),
			COUNT(*) FILTER (WHERE status IN ('reviewed', 'resolved')),
			COALESCE(AVG(discrepancy_percent), 0)
		FROM reconciliation_records
		WHERE created_at >= $1`, since,
	).Scan(&s.TotalRecords, &s.Matched, &s.Discrepancies, &s.Reviewed, &s.AvgDiscrepancyPercent)
	if err != nil {
		return nil, fmt.Errorf("reconciliation summary: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reconciliation_alerts
		WHERE NOT acknowledged AND created_at >= $1`, since,
	).Scan(&s.UnacknowledgedAlerts)
	if err != nil {
		return nil, fmt.Errorf("count unacknowledged alerts: %w", err)
	}

	return &s, nil
}
