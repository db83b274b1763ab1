package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLivenessHandler(t *testing.T) {
	hc := NewHealthCheck(zap.NewNop())

	rec := httptest.NewRecorder()
	hc.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp LivenessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	hc := NewHealthCheck(zap.NewNop())
	hc.Register("ledger", func(ctx context.Context) error { return nil })
	hc.Register("directory", func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	hc.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, map[string]string{"ledger": "healthy", "directory": "healthy"}, resp.Checks)
	assert.True(t, hc.IsReady())
}

func TestReadinessHandler_DependencyDown(t *testing.T) {
	hc := NewHealthCheck(zap.NewNop())
	hc.Register("ledger", func(ctx context.Context) error { return nil })
	hc.Register("cache", func(ctx context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	hc.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "unhealthy", resp.Checks["cache"])
	assert.Contains(t, resp.Error, "connection refused")
}

func TestCheckNow_Recovers(t *testing.T) {
	hc := NewHealthCheck(zap.NewNop())
	healthy := false
	hc.Register("directory", func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("throttled")
	})

	assert.False(t, hc.CheckNow(context.Background()))
	healthy = true
	assert.True(t, hc.CheckNow(context.Background()))
}
