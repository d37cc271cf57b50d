package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anchorpay/settlement/internal/dto"
	"github.com/anchorpay/settlement/internal/service"
)

type ReconciliationHandler struct {
	svc *service.ReconciliationService
}

func NewReconciliationHandler(svc *service.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{svc: svc}
}

func (h *ReconciliationHandler) Run(c *gin.Context) {
	var req dto.RunReconciliationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "validation failed: " + err.Error()})
		return
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "period_end must be after period_start"})
		return
	}

	result, err := h.svc.Run(c.Request.Context(), req.PeriodStart, req.PeriodEnd, req.ActualBalance)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *ReconciliationHandler) Get(c *gin.Context) {
	record, alerts, err := h.svc.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": record, "alerts": alerts})
}

func (h *ReconciliationHandler) Review(c *gin.Context) {
	var req dto.ReviewReconciliationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "validation failed: " + err.Error()})
		return
	}

	id := c.Param("id")
	if err := h.svc.Review(c.Request.Context(), id, req.Actor, req.Notes); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.AckResponse{ID: id, Status: "reviewed"})
}

func (h *ReconciliationHandler) AcknowledgeAlert(c *gin.Context) {
	var req dto.AcknowledgeAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "validation failed: " + err.Error()})
		return
	}

	id := c.Param("id")
	if err := h.svc.AcknowledgeAlert(c.Request.Context(), id, req.Actor); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.AckResponse{ID: id, Status: "acknowledged"})
}

func (h *ReconciliationHandler) Summary(c *gin.Context) {
	summary, err := h.svc.Summary(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
