package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPKMSClient talks to a vault-style transit encryption API. Only the
// wrapped ciphertext ever crosses the wire in responses to Encrypt; only the
// KMS ever sees both ciphertext and key.
type HTTPKMSClient struct {
	endpoint string
	http     *http.Client
}

func NewHTTPKMSClient(endpoint string) *HTTPKMSClient {
	return &HTTPKMSClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPKMSClient) Encrypt(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	var out struct {
		Ciphertext string `json:"ciphertext"`
	}
	err := c.post(ctx, "/v1/encrypt/"+keyID, map[string]string{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	}, &out)
	if err != nil {
		return nil, err
	}
	return []byte(out.Ciphertext), nil
}

func (c *HTTPKMSClient) Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	var out struct {
		Plaintext string `json:"plaintext"`
	}
	err := c.post(ctx, "/v1/decrypt/"+keyID, map[string]string{
		"ciphertext": string(ciphertext),
	}, &out)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(out.Plaintext)
}

func (c *HTTPKMSClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kms health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kms health: status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPKMSClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kms request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("kms read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kms status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("kms decode response: %w", err)
	}
	return nil
}
