package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anchorpay/settlement/internal/model"
)

// Webhook event types emitted by the core.
const (
	EventPaymentPaid          = "payment.paid"
	EventPaymentOverpaid      = "payment.overpaid"
	EventPaymentPartiallyPaid = "payment.partially_paid"
	EventSettlementCompleted  = "settlement.completed"
	EventSettlementFailed     = "settlement.failed"
	EventBillingRenewed       = "billing.renewed"
)

const maxStoredResponseLen = 10_000

var ErrAlreadyDelivered = errors.New("webhook already delivered")

type WebhookLogStore interface {
	CreateLog(ctx context.Context, w *model.WebhookLog) error
	GetLog(ctx context.Context, id string) (*model.WebhookLog, error)
	UpdateOutcome(ctx context.Context, id, status string, retryCount int, nextRetryAt *time.Time, httpStatus int, responseBody string) error
	AppendAttempt(ctx context.Context, a *model.WebhookRetryAttempt) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.WebhookLog, error)
}

type MerchantStore interface {
	GetByID(ctx context.Context, id string) (*model.Merchant, error)
}

type DeliveryResult struct {
	Success      bool
	HTTPStatus   int
	ResponseBody string
	Err          string
}

// WebhookService delivers signed event notifications to merchant endpoints
// with at-least-once semantics: every state change gets a log row, failures
// are retried with exponential backoff, and attempt history is append-only.
type WebhookService struct {
	logs          WebhookLogStore
	merchants     MerchantStore
	client        *http.Client
	defaultSecret string
	maxRetries    int
	now           func() time.Time
}

func NewWebhookService(logs WebhookLogStore, merchants MerchantStore, defaultSecret string, timeout time.Duration, maxRetries int) *WebhookService {
	return &WebhookService{
		logs:          logs,
		merchants:     merchants,
		client:        &http.Client{Timeout: timeout},
		defaultSecret: defaultSecret,
		maxRetries:    maxRetries,
		now:           time.Now,
	}
}

// Deliver posts the payload to the endpoint, signed with HMAC-SHA256 over the
// exact JSON body. A timeout counts as a failure, never a success.
func (s *WebhookService) Deliver(ctx context.Context, endpointURL, eventType string, payload []byte, secret string) DeliveryResult {
	if secret == "" {
		secret = s.defaultSecret
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return DeliveryResult{Err: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AnchorPay-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", eventType)
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(s.now().Unix(), 10))

	resp, err := s.client.Do(req)
	if err != nil {
		return DeliveryResult{Err: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxStoredResponseLen+1))
	stored := string(body)
	if len(stored) > maxStoredResponseLen {
		stored = stored[:maxStoredResponseLen]
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	result := DeliveryResult{
		Success:      success,
		HTTPStatus:   resp.StatusCode,
		ResponseBody: stored,
	}
	if !success {
		result.Err = fmt.Sprintf("endpoint returned %d", resp.StatusCode)
	}
	return result
}

// CreateAndDeliver records a webhook log and makes the first delivery
// attempt. A merchant without a configured endpoint is a warned no-op, not an
// error, so emitters never fail because notification is unconfigured.
func (s *WebhookService) CreateAndDeliver(ctx context.Context, merchantID, eventType string, payload any, relatedPaymentID *string) (*model.WebhookLog, error) {
	merchant, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("load merchant: %w", err)
	}
	if merchant.WebhookURL == "" {
		log.Warn().
			Str("merchant_id", merchantID).
			Str("event_type", eventType).
			Msg("merchant has no webhook endpoint, skipping notification")
		return nil, nil
	}

	body, err := json.Marshal(map[string]any{
		"event":     eventType,
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"data":      payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	wlog := &model.WebhookLog{
		MerchantID:     merchantID,
		EventType:      eventType,
		EndpointURL:    merchant.WebhookURL,
		Payload:        body,
		RelatedPayment: relatedPaymentID,
		MaxRetries:     s.maxRetries,
	}
	if err := s.logs.CreateLog(ctx, wlog); err != nil {
		return nil, err
	}

	result := s.Deliver(ctx, merchant.WebhookURL, eventType, body, merchant.WebhookSecret)
	s.applyOutcome(ctx, wlog, result)
	return wlog, nil
}

// Retry re-attempts a non-delivered webhook and appends an immutable attempt
// record. Once retry_count reaches max_retries the log is terminally failed.
func (s *WebhookService) Retry(ctx context.Context, logID string) (*model.WebhookLog, error) {
	wlog, err := s.logs.GetLog(ctx, logID)
	if err != nil {
		return nil, err
	}
	if wlog.Status == model.WebhookDelivered {
		return nil, ErrAlreadyDelivered
	}

	merchant, err := s.merchants.GetByID(ctx, wlog.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("load merchant: %w", err)
	}

	result := s.Deliver(ctx, wlog.EndpointURL, wlog.EventType, wlog.Payload, merchant.WebhookSecret)

	attempt := &model.WebhookRetryAttempt{
		WebhookLogID: wlog.ID,
		Attempt:      wlog.RetryCount + 1,
		Success:      result.Success,
		HTTPStatus:   result.HTTPStatus,
		ResponseBody: result.ResponseBody,
		Error:        result.Err,
	}
	if err := s.logs.AppendAttempt(ctx, attempt); err != nil {
		log.Error().Err(err).Str("webhook_log_id", wlog.ID).Msg("failed to record retry attempt")
	}

	wlog.RetryCount++
	s.applyOutcome(ctx, wlog, result)
	return wlog, nil
}

// RetryDue re-delivers every retrying webhook whose next_retry_at has passed.
// Called by the scheduler pump.
func (s *WebhookService) RetryDue(ctx context.Context, limit int) (int, error) {
	due, err := s.logs.ListDue(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, wlog := range due {
		if _, err := s.Retry(ctx, wlog.ID); err != nil {
			log.Error().Err(err).Str("webhook_log_id", wlog.ID).Msg("webhook retry failed")
			continue
		}
		retried++
	}
	return retried, nil
}

func (s *WebhookService) applyOutcome(ctx context.Context, wlog *model.WebhookLog, result DeliveryResult) {
	switch {
	case result.Success:
		wlog.Status = model.WebhookDelivered
		wlog.NextRetryAt = nil
	case wlog.RetryCount >= wlog.MaxRetries:
		wlog.Status = model.WebhookFailed
		wlog.NextRetryAt = nil
	default:
		wlog.Status = model.WebhookRetrying
		next := s.now().Add(s.backoff(wlog.RetryCount))
		wlog.NextRetryAt = &next
	}
	wlog.HTTPStatus = result.HTTPStatus
	wlog.ResponseBody = result.ResponseBody

	if err := s.logs.UpdateOutcome(ctx, wlog.ID, wlog.Status, wlog.RetryCount,
		wlog.NextRetryAt, wlog.HTTPStatus, wlog.ResponseBody); err != nil {
		log.Error().Err(err).Str("webhook_log_id", wlog.ID).Msg("failed to update webhook outcome")
	}
}

// backoff doubles per attempt: attempt 0 retries in 1 minute, then 2, 4, 8...
func (s *WebhookService) backoff(retryCount int) time.Duration {
	if retryCount > 10 {
		retryCount = 10
	}
	return time.Duration(1<<retryCount) * time.Minute
}
