package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anchorpay/settlement/internal/dto"
	"github.com/anchorpay/settlement/internal/service"
)

type PaymentHandler struct {
	svc *service.PaymentService
}

func NewPaymentHandler(svc *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// Create opens a payment intent for a merchant and returns the deposit
// address the payer should send funds to.
func (h *PaymentHandler) Create(c *gin.Context) {
	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	payment, err := h.svc.Create(c.Request.Context(), c.Param("merchantId"), req.Amount, req.Currency)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
