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

type WebhookRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

const webhookColumns = `id, merchant_id, event_type, endpoint_url, payload,
	related_payment_id, status, retry_count, max_retries, next_retry_at,
	http_status, response_body, created_at, updated_at`

func scanWebhookLog(row pgx.Row) (*model.WebhookLog, error) {
	var w model.WebhookLog
	err := row.Scan(&w.ID, &w.MerchantID, &w.EventType, &w.EndpointURL, &w.Payload,
		&w.RelatedPayment, &w.Status, &w.RetryCount, &w.MaxRetries, &w.NextRetryAt,
		&w.HTTPStatus, &w.ResponseBody, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan webhook log: %w", err)
	}
	return &w, nil
}

func (r *WebhookRepository) CreateLog(ctx context.Context, w *model.WebhookLog) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO webhook_logs (merchant_id, event_type, endpoint_url, payload,
			related_payment_id, status, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		w.MerchantID, w.EventType, w.EndpointURL, w.Payload, w.RelatedPayment,
		model.WebhookPending, w.MaxRetries,
	).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}
	w.Status = model.WebhookPending
	return nil
}

func (r *WebhookRepository) GetLog(ctx context.Context, id string) (*model.WebhookLog, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhook_logs WHERE id = $1`, id)
	return scanWebhookLog(row)
}

// UpdateOutcome records a delivery attempt's result on the log row. The retry
// count and next retry time are the only mutable scheduling state.
func (r *WebhookRepository) UpdateOutcome(ctx context.Context, id, status string, retryCount int, nextRetryAt *time.Time, httpStatus int, responseBody string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE webhook_logs
		SET status = $2, retry_count = $3, next_retry_at = $4, http_status = $5,
			response_body = $6, updated_at = NOW()
		WHERE id = $1`,
		id, status, retryCount, nextRetryAt, httpStatus, responseBody)
	if err != nil {
		return fmt.Errorf("update webhook outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAttempt writes one immutable retry-attempt row.
func (r *WebhookRepository) AppendAttempt(ctx context.Context, a *model.WebhookRetryAttempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO webhook_retry_attempts (webhook_log_id, attempt, success,
			http_status, response_body, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, attempted_at`,
		a.WebhookLogID, a.Attempt, a.Success, a.HTTPStatus, a.ResponseBody, a.Error,
	).Scan(&a.ID, &a.AttemptedAt)
	if err != nil {
		return fmt.Errorf("insert retry attempt: %w", err)
	}
	return nil
}

// ListDue returns retrying logs whose next_retry_at has passed.
func (r *WebhookRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.WebhookLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+webhookColumns+` FROM webhook_logs
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at
		LIMIT $3`,
		model.WebhookRetrying, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due webhooks: %w", err)
	}
	defer rows.Close()
	return collectWebhookLogs(rows)
}

func (r *WebhookRepository) ListByMerchant(ctx context.Context, merchantID string, limit int) ([]*model.WebhookLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+webhookColumns+` FROM webhook_logs
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, merchantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query merchant webhooks: %w", err)
	}
	defer rows.Close()
	return collectWebhookLogs(rows)
}

func collectWebhookLogs(rows pgx.Rows) ([]*model.WebhookLog, error) {
	var logs []*model.WebhookLog
	for rows.Next() {
		w, err := scanWebhookLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook logs: %w", err)
	}
	return logs, nil
}
