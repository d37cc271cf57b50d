package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anchorpay/settlement/internal/model"
)

// ErrAlreadySettled means a payment in the aggregate was settled by someone
// else between aggregation and commit. The whole commit is rolled back.
var ErrAlreadySettled = errors.New("repository: payment already settled")

type SettlementRepository struct {
	pool *pgxpool.Pool
}

func NewSettlementRepository(pool *pgxpool.Pool) *SettlementRepository {
	return &SettlementRepository{pool: pool}
}

// CreateWithPayments commits a completed settlement: the settlement row and
// the settled flag on every aggregated payment are written in one
// transaction. A crash can never leave one side without the other.
func (r *SettlementRepository) CreateWithPayments(ctx context.Context, s *model.Settlement, paymentIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settlement commit: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO settlements (merchant_id, usdc_amount, fiat_gross, fee, net_amount,
			currency, exchange_rate, exchange_ref, transfer_ref, payment_ids, status, breakdown)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`,
		s.MerchantID, s.USDCAmount, s.FiatGross, s.Fee, s.NetAmount,
		s.Currency, s.ExchangeRate, s.ExchangeRef, s.TransferRef, paymentIDs,
		model.SettlementCompleted, s.Breakdown,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE payments SET settled = TRUE, settlement_id = $1, updated_at = NOW()
		WHERE id = ANY($2) AND NOT settled`,
		s.ID, paymentIDs)
	if err != nil {
		return fmt.Errorf("mark payments settled: %w", err)
	}
	if int(tag.RowsAffected()) != len(paymentIDs) {
		// Partial match means a payment in the set settled elsewhere. Roll the
		// whole commit back rather than double-count.
		return fmt.Errorf("%w: expected %d payments, updated %d",
			ErrAlreadySettled, len(paymentIDs), tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}
	s.Status = model.SettlementCompleted
	s.PaymentIDs = paymentIDs
	return nil
}

// CreateFailed records a settlement attempt that did not pay out, for audit.
// The payments stay unsettled and eligible for the next cycle.
func (r *SettlementRepository) CreateFailed(ctx context.Context, s *model.Settlement) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO settlements (merchant_id, usdc_amount, currency, payment_ids, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		s.MerchantID, s.USDCAmount, s.Currency, s.PaymentIDs,
		model.SettlementFailed, s.FailureReason,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert failed settlement: %w", err)
	}
	s.Status = model.SettlementFailed
	return nil
}

func (r *SettlementRepository) GetByID(ctx context.Context, id string) (*model.Settlement, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, merchant_id, usdc_amount, fiat_gross, fee, net_amount, currency,
			exchange_rate, exchange_ref, transfer_ref, payment_ids, status, failure_reason,
			breakdown, created_at
		FROM settlements WHERE id = $1`, id)
	return scanSettlement(row)
}

// Recent returns the latest settlements for the status view, newest first.
func (r *SettlementRepository) Recent(ctx context.Context, limit int) ([]*model.Settlement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, merchant_id, usdc_amount, fiat_gross, fee, net_amount, currency,
			exchange_rate, exchange_ref, transfer_ref, payment_ids, status, failure_reason,
			breakdown, created_at
		FROM settlements ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent settlements: %w", err)
	}
	defer rows.Close()

	var settlements []*model.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	return settlements, nil
}

func scanSettlement(row pgx.Row) (*model.Settlement, error) {
	var s model.Settlement
	err := row.Scan(&s.ID, &s.MerchantID, &s.USDCAmount, &s.FiatGross, &s.Fee, &s.NetAmount,
		&s.Currency, &s.ExchangeRate, &s.ExchangeRef, &s.TransferRef, &s.PaymentIDs,
		&s.Status, &s.FailureReason, &s.Breakdown, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan settlement: %w", err)
	}
	return &s, nil
}
