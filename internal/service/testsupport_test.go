package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anchorpay/settlement/internal/model"
	"github.com/anchorpay/settlement/internal/repository"
)

// fakeMerchants backs MerchantStore and BillingMerchantStore in unit tests.
type fakeMerchants struct {
	mu        sync.Mutex
	merchants map[string]*model.Merchant
	advanced  map[string]int
}

func newFakeMerchants(merchants ...*model.Merchant) *fakeMerchants {
	f := &fakeMerchants{
		merchants: make(map[string]*model.Merchant),
		advanced:  make(map[string]int),
	}
	for _, m := range merchants {
		f.merchants[m.ID] = m
	}
	return f
}

func (f *fakeMerchants) GetByID(_ context.Context, id string) (*model.Merchant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.merchants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m, nil
}

func (f *fakeMerchants) ListBillingDue(_ context.Context, now time.Time) ([]*model.Merchant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*model.Merchant
	for _, m := range f.merchants {
		if m.NextBillingAt != nil && !m.NextBillingAt.After(now) {
			due = append(due, m)
		}
	}
	return due, nil
}

func (f *fakeMerchants) AdvanceBilling(_ context.Context, id string, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.merchants[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.NextBillingAt = &next
	f.advanced[id]++
	return nil
}

// notification captures one CreateAndDeliver call.
type notification struct {
	MerchantID string
	EventType  string
	Payload    any
	PaymentID  *string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (f *fakeNotifier) CreateAndDeliver(_ context.Context, merchantID, eventType string, payload any, relatedPaymentID *string) (*model.WebhookLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, notification{
		MerchantID: merchantID,
		EventType:  eventType,
		Payload:    payload,
		PaymentID:  relatedPaymentID,
	})
	return &model.WebhookLog{ID: fmt.Sprintf("log-%d", len(f.sent)), Status: model.WebhookDelivered}, nil
}

func (f *fakeNotifier) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, n := range f.sent {
		out[i] = n.EventType
	}
	return out
}
