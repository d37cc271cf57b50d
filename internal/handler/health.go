package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anchorpay/settlement/internal/secrets"
)

type HealthHandler struct {
	pool    *pgxpool.Pool
	secrets secrets.Provider
}

func NewHealthHandler(pool *pgxpool.Pool, provider secrets.Provider) *HealthHandler {
	return &HealthHandler{pool: pool, secrets: provider}
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbStatus := "connected"
	healthy := true
	if err := h.pool.Ping(ctx); err != nil {
		dbStatus = "disconnected"
		healthy = false
	}

	secretStatus := "available"
	if !h.secrets.HealthCheck(ctx) {
		secretStatus = "unavailable"
		healthy = false
	}

	body := gin.H{
		"status":          "healthy",
		"database":        dbStatus,
		"secret_provider": h.secrets.Name(),
		"secret_status":   secretStatus,
	}
	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
