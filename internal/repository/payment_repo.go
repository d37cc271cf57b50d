package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/anchorpay/settlement/internal/model"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const paymentColumns = `id, merchant_id, amount, currency, status, address, last_paging_token,
	swept, settled, settlement_id, expires_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(&p.ID, &p.MerchantID, &p.Amount, &p.Currency, &p.Status, &p.Address,
		&p.LastPagingToken, &p.Swept, &p.Settled, &p.SettlementID, &p.ExpiresAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

// Create inserts a payment with a caller-supplied id: the deposit address is
// derived from the id, so it must exist before the row does.
func (r *PaymentRepository) Create(ctx context.Context, p *model.Payment) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO payments (id, merchant_id, amount, currency, address, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING status, created_at, updated_at`,
		p.ID, p.MerchantID, p.Amount, p.Currency, p.Address, p.ExpiresAt,
	).Scan(&p.Status, &p.CreatedAt, &p.UpdatedAt)
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

// ListPending returns payments the monitor should poll: still pending and not
// past their expiry.
func (r *PaymentRepository) ListPending(ctx context.Context) ([]*model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE status = $1 AND expires_at > NOW()
		ORDER BY created_at`, model.PaymentPending)
	if err != nil {
		return nil, fmt.Errorf("query pending payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

// UpdateStatusAndCursor applies the monitor's classification and the cursor
// advance as one statement, so a concurrent reader never sees one without the
// other.
func (r *PaymentRepository) UpdateStatusAndCursor(ctx context.Context, id, status, pagingToken string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $2, last_paging_token = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		id, status, pagingToken, model.PaymentPending)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCursor advances the paging cursor for a payment that saw no matching
// transfer, so the next poll resumes from the newest record.
func (r *PaymentRepository) UpdateCursor(ctx context.Context, id, pagingToken string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE payments SET last_paging_token = $2, updated_at = NOW() WHERE id = $1`,
		id, pagingToken)
	if err != nil {
		return fmt.Errorf("update payment cursor: %w", err)
	}
	return nil
}

// ExpireOverdue marks pending payments past their expiry and returns how many
// were expired.
func (r *PaymentRepository) ExpireOverdue(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= NOW()`,
		model.PaymentExpired, model.PaymentPending)
	if err != nil {
		return 0, fmt.Errorf("expire payments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListUnsettledSwept returns payments eligible for settlement, capped at limit.
func (r *PaymentRepository) ListUnsettledSwept(ctx context.Context, limit int) ([]*model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE swept AND NOT settled
		ORDER BY merchant_id, created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsettled payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

// UnsettledSummary returns the count and USDC total of settlement-eligible
// payments, for the status view.
func (r *PaymentRepository) UnsettledSummary(ctx context.Context) (int, decimal.Decimal, error) {
	var count int
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM payments WHERE swept AND NOT settled`,
	).Scan(&count, &total)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("unsettled summary: %w", err)
	}
	return count, total, nil
}

func collectPayments(rows pgx.Rows) ([]*model.Payment, error) {
	var payments []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}
