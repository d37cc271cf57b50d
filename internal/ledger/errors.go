package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Stable result codes surfaced by the ledger's transaction submission API.
const (
	CodeUnderfunded   = "underfunded"
	CodeNoTrustline   = "no_trustline"
	CodeNoDestination = "no_destination"
	CodeBadSeq        = "bad_seq"
	CodeFeeTooLow     = "fee_too_low"
)

var codeMessages = map[string]string{
	CodeUnderfunded:   "source account has insufficient balance for this payment",
	CodeNoTrustline:   "destination account has no trustline for this asset",
	CodeNoDestination: "destination account does not exist",
	CodeBadSeq:        "transaction sequence number mismatch, retry with a fresh sequence",
	CodeFeeTooLow:     "transaction fee below the network minimum",
}

// SubmitError is a ledger rejection carrying one of the stable codes above.
type SubmitError struct {
	Code       string
	HTTPStatus int
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("ledger: submission rejected (%s): %s", e.Code, Describe(e.Code))
}

// Describe maps a stable result code to a human-readable message.
func Describe(code string) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return "unrecognized ledger error: " + code
}

func decodeSubmitError(body []byte, status int) error {
	var failure struct {
		Extras struct {
			ResultCodes struct {
				Transaction string   `json:"transaction"`
				Operations  []string `json:"operations"`
			} `json:"result_codes"`
		} `json:"extras"`
	}
	if err := json.Unmarshal(body, &failure); err == nil {
		code := failure.Extras.ResultCodes.Transaction
		if len(failure.Extras.ResultCodes.Operations) > 0 {
			code = failure.Extras.ResultCodes.Operations[0]
		}
		if normalized := normalizeCode(code); normalized != "" {
			return &SubmitError{Code: normalized, HTTPStatus: status}
		}
	}
	return fmt.Errorf("ledger: submission failed with status %d", status)
}

func normalizeCode(raw string) string {
	switch raw {
	case "op_underfunded", CodeUnderfunded:
		return CodeUnderfunded
	case "op_no_trust", CodeNoTrustline:
		return CodeNoTrustline
	case "op_no_destination", CodeNoDestination:
		return CodeNoDestination
	case "tx_bad_seq", CodeBadSeq:
		return CodeBadSeq
	case "tx_insufficient_fee", CodeFeeTooLow:
		return CodeFeeTooLow
	}
	return ""
}

func newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
