package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anchorpay/settlement/internal/service"
)

type SettlementHandler struct {
	svc *service.SettlementService
}

func NewSettlementHandler(svc *service.SettlementService) *SettlementHandler {
	return &SettlementHandler{svc: svc}
}

// Run triggers one settlement cycle outside the normal schedule.
func (h *SettlementHandler) Run(c *gin.Context) {
	result, err := h.svc.RunBatch(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *SettlementHandler) Status(c *gin.Context) {
	status, err := h.svc.Status(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, status)
}
