package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorpay/settlement/internal/model"
	"github.com/anchorpay/settlement/internal/repository"
)

type fakeWebhookLogs struct {
	mu       sync.Mutex
	logs     map[string]*model.WebhookLog
	attempts []*model.WebhookRetryAttempt
}

func newFakeWebhookLogs() *fakeWebhookLogs {
	return &fakeWebhookLogs{logs: make(map[string]*model.WebhookLog)}
}

func (f *fakeWebhookLogs) CreateLog(_ context.Context, w *model.WebhookLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.ID = fmt.Sprintf("whlog-%d", len(f.logs)+1)
	w.Status = model.WebhookPending
	f.logs[w.ID] = w
	return nil
}

func (f *fakeWebhookLogs) GetLog(_ context.Context, id string) (*model.WebhookLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.logs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *w
	return &copied, nil
}

func (f *fakeWebhookLogs) UpdateOutcome(_ context.Context, id, status string, retryCount int, nextRetryAt *time.Time, httpStatus int, responseBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.logs[id]
	if !ok {
		return repository.ErrNotFound
	}
	w.Status = status
	w.RetryCount = retryCount
	w.NextRetryAt = nextRetryAt
	w.HTTPStatus = httpStatus
	w.ResponseBody = responseBody
	return nil
}

func (f *fakeWebhookLogs) AppendAttempt(_ context.Context, a *model.WebhookRetryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, a)
	return nil
}

func (f *fakeWebhookLogs) ListDue(_ context.Context, now time.Time, limit int) ([]*model.WebhookLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*model.WebhookLog
	for _, w := range f.logs {
		if w.Status == model.WebhookRetrying && w.NextRetryAt != nil && !w.NextRetryAt.After(now) {
			due = append(due, w)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

// capturedRequest records what the test endpoint received.
type capturedRequest struct {
	Body      []byte
	Signature string
	Event     string
	Timestamp string
}

func newWebhookFixture(t *testing.T, handler http.HandlerFunc) (*WebhookService, *fakeWebhookLogs, *fakeMerchants, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	merchant := &model.Merchant{
		ID:            "mer-1",
		BusinessName:  "Kilimanjaro Coffee",
		WebhookURL:    srv.URL,
		WebhookSecret: "mer-secret",
	}
	logs := newFakeWebhookLogs()
	merchants := newFakeMerchants(merchant)
	svc := NewWebhookService(logs, merchants, "default-secret", 2*time.Second, 3)
	return svc, logs, merchants, srv
}

func TestWebhook_CreateAndDeliver(t *testing.T) {
	ctx := context.Background()

	t.Run("success marks delivered", func(t *testing.T) {
		var got capturedRequest
		svc, logs, _, _ := newWebhookFixture(t, func(w http.ResponseWriter, r *http.Request) {
			got.Body, _ = io.ReadAll(r.Body)
			got.Signature = r.Header.Get("X-Webhook-Signature")
			got.Event = r.Header.Get("X-Webhook-Event")
			got.Timestamp = r.Header.Get("X-Webhook-Timestamp")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"received":true}`)
		})

		wlog, err := svc.CreateAndDeliver(ctx, "mer-1", EventPaymentPaid, map[string]string{"payment_id": "pay-1"}, nil)
		require.NoError(t, err)
		require.NotNil(t, wlog)

		assert.Equal(t, model.WebhookDelivered, wlog.Status)
		assert.Equal(t, http.StatusOK, wlog.HTTPStatus)
		assert.Equal(t, `{"received":true}`, wlog.ResponseBody)
		assert.Nil(t, wlog.NextRetryAt)
		assert.Equal(t, 0, wlog.RetryCount)

		// Signature is HMAC-SHA256 of the exact body with the merchant secret.
		mac := hmac.New(sha256.New, []byte("mer-secret"))
		mac.Write(got.Body)
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got.Signature)
		assert.Equal(t, EventPaymentPaid, got.Event)
		assert.NotEmpty(t, got.Timestamp)
		assert.Contains(t, string(got.Body), `"event":"payment.paid"`)

		stored, err := logs.GetLog(ctx, wlog.ID)
		require.NoError(t, err)
		assert.Equal(t, model.WebhookDelivered, stored.Status)
	})

	t.Run("failure schedules first retry one minute out", func(t *testing.T) {
		svc, _, _, _ := newWebhookFixture(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		})
		fixed := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
		svc.now = func() time.Time { return fixed }

		wlog, err := svc.CreateAndDeliver(ctx, "mer-1", EventSettlementCompleted, nil, nil)
		require.NoError(t, err)
		require.NotNil(t, wlog)

		assert.Equal(t, model.WebhookRetrying, wlog.Status)
		assert.Equal(t, http.StatusBadGateway, wlog.HTTPStatus)
		require.NotNil(t, wlog.NextRetryAt)
		assert.True(t, wlog.NextRetryAt.Equal(fixed.Add(time.Minute)))
	})

	t.Run("no endpoint is a warned no-op", func(t *testing.T) {
		logs := newFakeWebhookLogs()
		merchants := newFakeMerchants(&model.Merchant{ID: "mer-quiet"})
		svc := NewWebhookService(logs, merchants, "default-secret", time.Second, 3)

		wlog, err := svc.CreateAndDeliver(ctx, "mer-quiet", EventPaymentPaid, nil, nil)
		require.NoError(t, err)
		assert.Nil(t, wlog)
		assert.Empty(t, logs.logs)
	})

	t.Run("unknown merchant is an error", func(t *testing.T) {
		svc := NewWebhookService(newFakeWebhookLogs(), newFakeMerchants(), "default-secret", time.Second, 3)
		_, err := svc.CreateAndDeliver(ctx, "mer-ghost", EventPaymentPaid, nil, nil)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("empty merchant secret falls back to default", func(t *testing.T) {
		var gotSig string
		var gotBody []byte
		svc, _, merchants, _ := newWebhookFixture(t, func(w http.ResponseWriter, r *http.Request) {
			gotBody, _ = io.ReadAll(r.Body)
			gotSig = r.Header.Get("X-Webhook-Signature")
		})
		merchants.merchants["mer-1"].WebhookSecret = ""

		_, err := svc.CreateAndDeliver(ctx, "mer-1", EventPaymentPaid, nil, nil)
		require.NoError(t, err)

		mac := hmac.New(sha256.New, []byte("default-secret"))
		mac.Write(gotBody)
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
	})

	t.Run("oversized response body is truncated", func(t *testing.T) {
		svc, _, _, _ := newWebhookFixture(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, strings.Repeat("x", maxStoredResponseLen+500))
		})

		wlog, err := svc.CreateAndDeliver(ctx, "mer-1", EventPaymentPaid, nil, nil)
		require.NoError(t, err)
		assert.Len(t, wlog.ResponseBody, maxStoredResponseLen)
	})
}

func TestWebhook_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries append attempts until the ceiling", func(t *testing.T) {
		var calls int
		svc, logs, _, _ := newWebhookFixture(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "nope", http.StatusInternalServerError)
		})
		fixed := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
		svc.now = func() time.Time { return fixed }

		wlog, err := svc.CreateAndDeliver(ctx, "mer-1", EventSettlementFailed, nil, nil)
		require.NoError(t, err)
		require.Equal(t, model.WebhookRetrying, wlog.Status)

		// Backoff doubles per retry: 2, 4 minutes for retries 1 and 2.
		expectedDelays := []time.Duration{2 * time.Minute, 4 * time.Minute}
		for i, delay := range expectedDelays {
			wlog, err = svc.Retry(ctx, wlog.ID)
			require.NoError(t, err)
			assert.Equal(t, i+1, wlog.RetryCount)
			assert.Equal(t, model.WebhookRetrying, wlog.Status)
			require.NotNil(t, wlog.NextRetryAt)
			assert.True(t, wlog.NextRetryAt.Equal(fixed.Add(delay)), "retry %d next at %v", i+1, wlog.NextRetryAt)
		}

		// Third retry hits max_retries=3 and fails terminally.
		wlog, err = svc.Retry(ctx, wlog.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, wlog.RetryCount)
		assert.Equal(t, model.WebhookFailed, wlog.Status)
		assert.Nil(t, wlog.NextRetryAt)

		// One attempt row per retry, numbered and immutable.
		require.Len(t, logs.attempts, 3)
		for i, a := range logs.attempts {
			assert.Equal(t, wlog.ID, a.WebhookLogID)
			assert.Equal(t, i+1, a.Attempt)
			assert.False(t, a.Success)
			assert.Equal(t, http.StatusInternalServerError, a.HTTPStatus)
		}
		assert.Equal(t, 4, calls)
	})

	t.Run("successful retry delivers", func(t *testing.T) {
		fail := true
		svc, logs, _, _ := newWebhookFixture(t, func(w http.ResponseWriter, r *http.Request) {
			if fail {
				http.Error(w, "flaky", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		wlog, err := svc.CreateAndDeliver(ctx, "mer-1", EventPaymentOverpaid, nil, nil)
		require.NoError(t, err)
		require.Equal(t, model.WebhookRetrying, wlog.Status)

		fail = false
		wlog, err = svc.Retry(ctx, wlog.ID)
		require.NoError(t, err)
		assert.Equal(t, model.WebhookDelivered, wlog.Status)
		assert.Nil(t, wlog.NextRetryAt)
		require.Len(t, logs.attempts, 1)
		assert.True(t, logs.attempts[0].Success)
	})

	t.Run("delivered webhook is not retried", func(t *testing.T) {
		svc, _, _, _ := newWebhookFixture(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		wlog, err := svc.CreateAndDeliver(ctx, "mer-1", EventPaymentPaid, nil, nil)
		require.NoError(t, err)
		require.Equal(t, model.WebhookDelivered, wlog.Status)

		_, err = svc.Retry(ctx, wlog.ID)
		assert.ErrorIs(t, err, ErrAlreadyDelivered)
	})

	t.Run("unknown log is NotFound", func(t *testing.T) {
		svc := NewWebhookService(newFakeWebhookLogs(), newFakeMerchants(), "default-secret", time.Second, 3)
		_, err := svc.Retry(ctx, "whlog-missing")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestWebhook_RetryDue(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	svc, logs, _, _ := newWebhookFixture(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, "first call fails", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	wlog, err := svc.CreateAndDeliver(ctx, "mer-1", EventBillingRenewed, nil, nil)
	require.NoError(t, err)
	require.Equal(t, model.WebhookRetrying, wlog.Status)

	// Not due yet.
	retried, err := svc.RetryDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, retried)

	// Jump past next_retry_at; the pump picks it up and it delivers.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	retried, err = svc.RetryDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, retried)

	stored, err := logs.GetLog(ctx, wlog.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WebhookDelivered, stored.Status)

	// Nothing left to pump.
	retried, err = svc.RetryDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, retried)
}
