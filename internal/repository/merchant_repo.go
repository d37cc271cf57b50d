package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anchorpay/settlement/internal/model"
)

// MerchantRepository is read-mostly: merchants are created and edited by the
// merchant-management service; the settlement core only reads them and
// advances billing dates.
type MerchantRepository struct {
	pool *pgxpool.Pool
}

func NewMerchantRepository(pool *pgxpool.Pool) *MerchantRepository {
	return &MerchantRepository{pool: pool}
}

const merchantColumns = `id, business_name, settlement_currency, settlement_schedule,
	settlement_weekday, webhook_url, webhook_secret, bank_name, bank_account_number,
	bank_account_name, plan, next_billing_at, created_at`

func scanMerchant(row pgx.Row) (*model.Merchant, error) {
	var m model.Merchant
	err := row.Scan(&m.ID, &m.BusinessName, &m.SettlementCurrency, &m.SettlementSchedule,
		&m.SettlementWeekday, &m.WebhookURL, &m.WebhookSecret, &m.BankName,
		&m.BankAccountNumber, &m.BankAccountName, &m.Plan, &m.NextBillingAt, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan merchant: %w", err)
	}
	return &m, nil
}

func (r *MerchantRepository) GetByID(ctx context.Context, id string) (*model.Merchant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id)
	return scanMerchant(row)
}

// ListBillingDue returns merchants whose subscription renewal date has passed.
func (r *MerchantRepository) ListBillingDue(ctx context.Context, now time.Time) ([]*model.Merchant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+merchantColumns+` FROM merchants
		WHERE next_billing_at IS NOT NULL AND next_billing_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("query billing due merchants: %w", err)
	}
	defer rows.Close()

	var merchants []*model.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		merchants = append(merchants, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merchants: %w", err)
	}
	return merchants, nil
}

func (r *MerchantRepository) AdvanceBilling(ctx context.Context, id string, next time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE merchants SET next_billing_at = $2 WHERE id = $1`, id, next)
	if err != nil {
		return fmt.Errorf("advance billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
