package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorpay/settlement/internal/secrets"
)

func TestHealthResponse_Structure(t *testing.T) {
	type healthResponse struct {
		Status         string `json:"status"`
		Database       string `json:"database"`
		SecretProvider string `json:"secret_provider"`
		SecretStatus   string `json:"secret_status"`
	}

	body := `{"status":"healthy","database":"connected","secret_provider":"local","secret_status":"available"}`
	var resp healthResponse
	err := json.Unmarshal([]byte(body), &resp)
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "connected", resp.Database)
	assert.Equal(t, "available", resp.SecretStatus)
}

// Integration test: requires a running database.
func TestHealthHandler_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool := getTestPool(t)
	if pool == nil {
		t.Skip("no database available")
	}
	defer pool.Close()

	provider, err := secrets.NewLocalProvider("test-passphrase", filepath.Join(t.TempDir(), "master.secret"))
	require.NoError(t, err)
	require.NoError(t, provider.StoreMasterSecret(context.Background(), []byte("integration-master-secret")))

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", NewHealthHandler(pool, provider).Health)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])
	assert.Equal(t, "local", body["secret_provider"])
	assert.Equal(t, "available", body["secret_status"])
}
