// Package exchange talks to the fiat payout partner: quotes and
// convert-and-payout with caller-supplied idempotency references.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type Quote struct {
	FiatGross    decimal.Decimal `json:"fiat_gross"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

type PayoutResult struct {
	ExchangeRef string `json:"exchange_ref"`
	TransferRef string `json:"transfer_ref"`
}

type BankDestination struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

type Partner interface {
	GetQuote(ctx context.Context, amount decimal.Decimal, fiatCurrency string) (*Quote, error)
	ConvertAndPayout(ctx context.Context, amount decimal.Decimal, fiatCurrency string, destination BankDestination, idempotencyRef string) (*PayoutResult, error)
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) GetQuote(ctx context.Context, amount decimal.Decimal, fiatCurrency string) (*Quote, error) {
	payload := map[string]string{
		"amount":   amount.String(),
		"currency": fiatCurrency,
	}

	var quote Quote
	if err := c.post(ctx, "/v1/quotes", payload, "", &quote); err != nil {
		return nil, fmt.Errorf("exchange: get quote: %w", err)
	}
	return &quote, nil
}

func (c *HTTPClient) ConvertAndPayout(ctx context.Context, amount decimal.Decimal, fiatCurrency string, destination BankDestination, idempotencyRef string) (*PayoutResult, error) {
	payload := map[string]any{
		"amount":      amount.String(),
		"currency":    fiatCurrency,
		"destination": destination,
	}

	var result PayoutResult
	if err := c.post(ctx, "/v1/payouts", payload, idempotencyRef, &result); err != nil {
		return nil, fmt.Errorf("exchange: convert and payout: %w", err)
	}
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any, idempotencyRef string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyRef != "" {
		req.Header.Set("Idempotency-Key", idempotencyRef)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
