package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreatePaymentRequest struct {
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	Currency string          `json:"currency" binding:"required"`
}

type RunReconciliationRequest struct {
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
	// ActualBalance optionally overrides the computed settlement total, e.g.
	// with a figure from a real bank statement.
	ActualBalance *decimal.Decimal `json:"actual_balance,omitempty"`
}

type ReviewReconciliationRequest struct {
	Actor string `json:"actor" binding:"required"`
	Notes string `json:"notes"`
}

type AcknowledgeAlertRequest struct {
	Actor string `json:"actor" binding:"required"`
}
