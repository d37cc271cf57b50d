package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/anchorpay/settlement/internal/repository"
	"github.com/anchorpay/settlement/internal/service"
)

type WebhookHandler struct {
	svc  *service.WebhookService
	repo *repository.WebhookRepository
}

func NewWebhookHandler(svc *service.WebhookService, repo *repository.WebhookRepository) *WebhookHandler {
	return &WebhookHandler{svc: svc, repo: repo}
}

// Retry re-attempts delivery of a failed or retrying webhook on demand.
func (h *WebhookHandler) Retry(c *gin.Context) {
	wlog, err := h.svc.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, wlog)
}

func (h *WebhookHandler) ListByMerchant(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	logs, err := h.repo.ListByMerchant(c.Request.Context(), c.Param("merchantId"), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": logs})
}
