package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/config"
)

func TestRecoverPanics_HidesPanicValue(t *testing.T) {
	handler := RequestID(RecoverPanics(NewErrorHandler(zap.NewNop()), zap.NewNop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("dial tcp 10.0.3.7:5432: password authentication failed")
		})))

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/pre-authentication", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.3.7")
	assert.NotContains(t, rec.Body.String(), "password")

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ErrorCodeInternalError, resp.ErrorCode)
	assert.Equal(t, "req-123", resp.RequestID)
}

func TestHookDeadline_UsesLookupBudget(t *testing.T) {
	var remaining time.Duration
	handler := HookDeadline(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok := r.Context().Deadline()
		require.True(t, ok)
		remaining = time.Until(deadline)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Greater(t, remaining, time.Second)
	assert.LessOrEqual(t, remaining, time.Second+hookTimeoutMargin)
}

func TestDeadline_ZeroDisables(t *testing.T) {
	handler := Deadline(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Context().Deadline()
		assert.False(t, ok)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestAllowOrigins(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/v1/reports/migration", nil)
	req.Header.Set("Origin", "https://ops.example.com")

	rec := httptest.NewRecorder()
	AllowOrigins(nil)(next).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	AllowOrigins([]string{"https://ops.example.com"})(next).ServeHTTP(rec, req)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	AllowOrigins([]string{"https://ops.example.com"})(next).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOperatorLimit_SkipsLoginHook(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), func(cfg *config.Config) {
		cfg.RateLimiter.Enabled = true
		cfg.RateLimiter.RequestsPerSecond = 0.001
		cfg.RateLimiter.BurstSize = 1
	})
	ts.seed("alice")

	rec := ts.do(http.MethodGet, "/v1/users/alice/mfa-status", nil)
	assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/users/alice/mfa-status", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	for i := 0; i < 5; i++ {
		rec = ts.do(http.MethodPost, "/v1/auth/pre-authentication", PreAuthRequest{UserID: "alice"})
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestPreflight_OnlyWithOrigins(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), func(cfg *config.Config) {
		cfg.Server.AllowedOrigins = []string{"https://ops.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/migrations", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
