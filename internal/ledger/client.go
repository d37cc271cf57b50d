// Package ledger wraps the distributed ledger the gateway receives stablecoin
// payments on. The Client interface is the narrow contract the core consumes;
// HTTPClient talks to a horizon-style API.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type TransferRecord struct {
	PagingToken string
	TxHash      string
	From        string
	To          string
	AssetCode   string
	AssetIssuer string
	Amount      decimal.Decimal
	CreatedAt   time.Time
}

type SubmitResult struct {
	TxHash string
	Ledger int64
}

type Client interface {
	AccountExists(ctx context.Context, address string) (bool, error)
	HasTrustline(ctx context.Context, address, assetCode, issuer string) (bool, error)
	CreateAndFund(ctx context.Context, address string, amount decimal.Decimal) error
	AddTrustline(ctx context.Context, secretKey []byte, assetCode, issuer string) error
	SubmitPayment(ctx context.Context, secretKey []byte, destination, assetCode, issuer string, amount decimal.Decimal, memo string) (*SubmitResult, error)
	// PollIncomingPayments returns transfers into address strictly after
	// cursor, oldest first, plus the cursor of the newest record seen.
	PollIncomingPayments(ctx context.Context, address, cursor string, limit int) ([]TransferRecord, string, error)
}

type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) AccountExists(ctx context.Context, address string) (bool, error) {
	status, _, err := c.get(ctx, "/accounts/"+url.PathEscape(address), nil)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("ledger: account lookup returned %d", status)
	}
	return true, nil
}

func (c *HTTPClient) HasTrustline(ctx context.Context, address, assetCode, issuer string) (bool, error) {
	status, body, err := c.get(ctx, "/accounts/"+url.PathEscape(address), nil)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("ledger: account lookup returned %d", status)
	}

	var account struct {
		Balances []struct {
			AssetCode   string `json:"asset_code"`
			AssetIssuer string `json:"asset_issuer"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return false, fmt.Errorf("ledger: decode account: %w", err)
	}

	for _, b := range account.Balances {
		if b.AssetCode == assetCode && b.AssetIssuer == issuer {
			return true, nil
		}
	}
	return false, nil
}

func (c *HTTPClient) CreateAndFund(ctx context.Context, address string, amount decimal.Decimal) error {
	payload := map[string]string{
		"destination": address,
		"amount":      amount.String(),
	}
	status, body, err := c.post(ctx, "/accounts", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return decodeSubmitError(body, status)
	}
	return nil
}

func (c *HTTPClient) AddTrustline(ctx context.Context, secretKey []byte, assetCode, issuer string) error {
	payload := map[string]string{
		"secret_key":   string(secretKey),
		"asset_code":   assetCode,
		"asset_issuer": issuer,
	}
	status, body, err := c.post(ctx, "/trustlines", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return decodeSubmitError(body, status)
	}
	return nil
}

func (c *HTTPClient) SubmitPayment(ctx context.Context, secretKey []byte, destination, assetCode, issuer string, amount decimal.Decimal, memo string) (*SubmitResult, error) {
	payload := map[string]string{
		"secret_key":   string(secretKey),
		"destination":  destination,
		"asset_code":   assetCode,
		"asset_issuer": issuer,
		"amount":       amount.String(),
		"memo":         memo,
	}
	status, body, err := c.post(ctx, "/payments", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, decodeSubmitError(body, status)
	}

	var result struct {
		Hash   string `json:"hash"`
		Ledger int64  `json:"ledger"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ledger: decode submit result: %w", err)
	}
	return &SubmitResult{TxHash: result.Hash, Ledger: result.Ledger}, nil
}

func (c *HTTPClient) PollIncomingPayments(ctx context.Context, address, cursor string, limit int) ([]TransferRecord, string, error) {
	query := url.Values{}
	query.Set("order", "asc")
	query.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	status, body, err := c.get(ctx, "/accounts/"+url.PathEscape(address)+"/payments", query)
	if err != nil {
		return nil, cursor, err
	}
	if status == http.StatusNotFound {
		// Account not created yet: nothing received, cursor unchanged.
		return nil, cursor, nil
	}
	if status != http.StatusOK {
		return nil, cursor, fmt.Errorf("ledger: payments lookup returned %d", status)
	}

	var page struct {
		Embedded struct {
			Records []struct {
				PagingToken     string    `json:"paging_token"`
				TransactionHash string    `json:"transaction_hash"`
				From            string    `json:"from"`
				To              string    `json:"to"`
				AssetCode       string    `json:"asset_code"`
				AssetIssuer     string    `json:"asset_issuer"`
				Amount          string    `json:"amount"`
				Type            string    `json:"type"`
				CreatedAt       time.Time `json:"created_at"`
			} `json:"records"`
		} `json:"_embedded"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, cursor, fmt.Errorf("ledger: decode payments page: %w", err)
	}

	newCursor := cursor
	var records []TransferRecord
	for _, r := range page.Embedded.Records {
		newCursor = r.PagingToken
		if r.Type != "payment" || r.To != address {
			continue
		}
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			log.Warn().Str("paging_token", r.PagingToken).Str("amount", r.Amount).Msg("skipping transfer with unparseable amount")
			continue
		}
		records = append(records, TransferRecord{
			PagingToken: r.PagingToken,
			TxHash:      r.TransactionHash,
			From:        r.From,
			To:          r.To,
			AssetCode:   r.AssetCode,
			AssetIssuer: r.AssetIssuer,
			Amount:      amount,
			CreatedAt:   r.CreatedAt,
		})
	}
	return records, newCursor, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values) (int, []byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger: build request: %w", err)
	}
	return c.do(req)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	req, err := newJSONRequest(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger: build request: %w", err)
	}
	return c.do(req)
}

func (c *HTTPClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, fmt.Errorf("ledger: %s %s timed out: %w", req.Method, req.URL.Path, err)
		}
		return 0, nil, fmt.Errorf("ledger: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("ledger: read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
