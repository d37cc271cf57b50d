package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment lifecycle. A payment is created pending, classified by the monitor
// once funds arrive, confirmed after sweep, and linked to exactly one
// settlement when it settles.
const (
	PaymentPending       = "pending"
	PaymentPaid          = "paid"
	PaymentOverpaid      = "overpaid"
	PaymentPartiallyPaid = "partially_paid"
	PaymentConfirmed     = "confirmed"
	PaymentExpired       = "expired"
)

const (
	SettlementCompleted = "completed"
	SettlementFailed    = "failed"
)

const (
	ReconciliationPending     = "pending"
	ReconciliationMatched     = "matched"
	ReconciliationDiscrepancy = "discrepancy"
	ReconciliationReviewed    = "reviewed"
	ReconciliationResolved    = "resolved"
)

const (
	AlertThresholdExceeded = "threshold_exceeded"
	AlertMissingSettlement = "missing_settlement"
	AlertFeeDiscrepancy    = "fee_discrepancy"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	WebhookPending   = "pending"
	WebhookDelivered = "delivered"
	WebhookRetrying  = "retrying"
	WebhookFailed    = "failed"
)

// Origin of the actual balance persisted on a reconciliation record.
const (
	BalanceComputed = "computed"
	BalanceProvided = "provided"
)

type Merchant struct {
	ID                 string     `json:"id"`
	BusinessName       string     `json:"business_name"`
	SettlementCurrency string     `json:"settlement_currency"`
	SettlementSchedule string     `json:"settlement_schedule"` // daily | weekly
	SettlementWeekday  int        `json:"settlement_weekday"`  // 0=Sunday, used when weekly
	WebhookURL         string     `json:"webhook_url,omitempty"`
	WebhookSecret      string     `json:"-"`
	BankName           string     `json:"bank_name,omitempty"`
	BankAccountNumber  string     `json:"bank_account_number,omitempty"`
	BankAccountName    string     `json:"bank_account_name,omitempty"`
	Plan               string     `json:"plan"`
	NextBillingAt      *time.Time `json:"next_billing_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// HasBankAccount reports whether the merchant can receive a fiat payout.
func (m *Merchant) HasBankAccount() bool {
	return m.BankAccountNumber != "" && m.BankName != ""
}

type Payment struct {
	ID              string          `json:"id"`
	MerchantID      string          `json:"merchant_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Address         string          `json:"address"`
	LastPagingToken string          `json:"last_paging_token,omitempty"`
	Swept           bool            `json:"swept"`
	Settled         bool            `json:"settled"`
	SettlementID    *string         `json:"settlement_id,omitempty"`
	ExpiresAt       time.Time       `json:"expires_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Settlement struct {
	ID            string          `json:"id"`
	MerchantID    string          `json:"merchant_id"`
	USDCAmount    decimal.Decimal `json:"usdc_amount"`
	FiatGross     decimal.Decimal `json:"fiat_gross"`
	Fee           decimal.Decimal `json:"fee"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	Currency      string          `json:"currency"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	ExchangeRef   string          `json:"exchange_ref,omitempty"`
	TransferRef   string          `json:"transfer_ref,omitempty"`
	PaymentIDs    []string        `json:"payment_ids"`
	Status        string          `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Breakdown     []byte          `json:"breakdown,omitempty"` // JSON snapshot of the aggregated payments
	CreatedAt     time.Time       `json:"created_at"`
}

type ReconciliationRecord struct {
	ID                  string          `json:"id"`
	PeriodStart         time.Time       `json:"period_start"`
	PeriodEnd           time.Time       `json:"period_end"`
	TotalUSDCSwept      decimal.Decimal `json:"total_usdc_swept"`
	TotalFiatPayouts    decimal.Decimal `json:"total_fiat_payouts"`
	TotalFees           decimal.Decimal `json:"total_fees"`
	ExpectedBalance     decimal.Decimal `json:"expected_balance"`
	ActualBalance       decimal.Decimal `json:"actual_balance"`
	ActualBalanceSource string          `json:"actual_balance_source"`
	Discrepancy         decimal.Decimal `json:"discrepancy"`
	DiscrepancyPercent  decimal.Decimal `json:"discrepancy_percent"`
	Status              string          `json:"status"`
	SettlementCount     int             `json:"settlement_count"`
	PaymentCount        int             `json:"payment_count"`
	ReviewedBy          string          `json:"reviewed_by,omitempty"`
	ReviewNotes         string          `json:"review_notes,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

type ReconciliationAlert struct {
	ID               string    `json:"id"`
	ReconciliationID string    `json:"reconciliation_id"`
	Type             string    `json:"type"`
	Severity         string    `json:"severity"`
	Message          string    `json:"message"`
	Acknowledged     bool      `json:"acknowledged"`
	AcknowledgedBy   string    `json:"acknowledged_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type WebhookLog struct {
	ID             string     `json:"id"`
	MerchantID     string     `json:"merchant_id"`
	EventType      string     `json:"event_type"`
	EndpointURL    string     `json:"endpoint_url"`
	Payload        []byte     `json:"payload"`
	RelatedPayment *string    `json:"related_payment_id,omitempty"`
	Status         string     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	HTTPStatus     int        `json:"http_status,omitempty"`
	ResponseBody   string     `json:"response_body,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type WebhookRetryAttempt struct {
	ID           string    `json:"id"`
	WebhookLogID string    `json:"webhook_log_id"`
	Attempt      int       `json:"attempt"`
	Success      bool      `json:"success"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	ResponseBody string    `json:"response_body,omitempty"`
	Error        string    `json:"error,omitempty"`
	AttemptedAt  time.Time `json:"attempted_at"`
}
