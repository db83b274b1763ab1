package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/config"
	"github.com/yuu551/cognito-mfa-migration/internal/directory"
	"github.com/yuu551/cognito-mfa-migration/internal/health"
	"github.com/yuu551/cognito-mfa-migration/internal/metrics"
	"github.com/yuu551/cognito-mfa-migration/internal/model"
	"github.com/yuu551/cognito-mfa-migration/internal/notify"
	"github.com/yuu551/cognito-mfa-migration/internal/policy"
	"github.com/yuu551/cognito-mfa-migration/internal/service"
	"github.com/yuu551/cognito-mfa-migration/internal/store"
)

type testServer struct {
	server  *Server
	dir     *directory.MemoryDirectory
	channel *notify.RecordingChannel
	cfg     *config.Config
}

func newTestServer(t *testing.T, now time.Time, opts ...func(*config.Config)) *testServer {
	t.Helper()

	logger := zap.NewNop()
	m := metrics.NewMetrics()
	cfg := config.DefaultConfig()
	cfg.Migration.InterChunkDelay = 0
	for _, opt := range opts {
		opt(cfg)
	}

	settings, err := cfg.Settings()
	require.NoError(t, err)

	dir := directory.NewMemoryDirectory()
	dir.AddStore(cfg.Pools.Legacy.StoreID, model.MFAConfigurationOptional)
	dir.AddStore(cfg.Pools.New.StoreID, model.MFAConfigurationOn)

	cache := store.NewInMemoryRecordCache(100, logger)
	t.Cleanup(cache.Close)
	scheduler := service.NewScheduler(logger)
	t.Cleanup(scheduler.Stop)

	records := service.NewRecordService(dir, cache, cfg.Pools.Legacy.StoreID, settings, 0, m, logger)
	reports := service.NewReportService(records, settings, m, logger)
	channel := notify.NewRecordingChannel()

	services := Services{
		Admission: service.NewAdmissionService(records, settings, time.Second, m, logger),
		Records:   records,
		Migration: service.NewMigrationService(dir, records, store.NewInMemoryLedger(), service.NewCredentialGenerator(16), scheduler,
			service.MigrationServiceConfig{
				Legacy:   cfg.LegacyPool(),
				Target:   cfg.NewPool(),
				Settings: settings,
			}, m, logger),
		Reports:       reports,
		Notifications: service.NewNotificationService(channel, records, reports, settings, scheduler, m, logger),
	}

	hc := health.NewHealthCheck(logger)
	hc.Register("directory", func(ctx context.Context) error {
		_, err := dir.DescribeStore(ctx, cfg.Pools.Legacy.StoreID)
		return err
	})

	srv := NewServer(cfg, services, hc, m, logger)
	srv.handlers.now = func() time.Time { return now }

	return &testServer{server: srv, dir: dir, channel: channel, cfg: cfg}
}

func (ts *testServer) seed(userID string) {
	ts.dir.SeedUser(ts.cfg.Pools.Legacy.StoreID, &directory.User{
		Username: userID,
		Enabled:  true,
		Attributes: map[string]string{
			model.AttrEmail: userID + "@example.com",
		},
	})
}

func (ts *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ready", nil).Code)
}

func TestPreAuthentication_Blocked(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC))
	ts.seed("alice")

	rec := ts.do(http.MethodPost, "/v1/auth/pre-authentication", PreAuthRequest{UserID: "alice"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, ErrorCodeMFARequired, resp.ErrorCode)
	assert.Equal(t, policy.BlockedLoginMessage, resp.Message)
	assert.NotEmpty(t, resp.RequestID)
}

func TestPreAuthentication_Warning(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC))
	ts.seed("alice")

	rec := ts.do(http.MethodPost, "/v1/auth/pre-authentication", PreAuthRequest{UserID: "alice"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PreAuthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.AllowLogin)
	assert.True(t, resp.ShowWarning)
	assert.Equal(t, 7, resp.DaysRemaining)
	require.NotNil(t, resp.Message)
	assert.Equal(t, model.TierError, resp.Message.Tier)
}

func TestPreAuthentication_UnknownUserFailsOpen(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 9, 20, 0, 0, 0, 0, time.UTC))

	rec := ts.do(http.MethodPost, "/v1/auth/pre-authentication", PreAuthRequest{UserID: "ghost"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PreAuthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.AllowLogin)
	assert.True(t, resp.Degraded)
}

func TestPreAuthentication_InvalidBody(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/pre-authentication", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/auth/pre-authentication", PreAuthRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMFAStatusEndpoints(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	ts.seed("alice")

	rec := ts.do(http.MethodGet, "/v1/users/ghost/mfa-status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, "NOT_FOUND", errResp.ErrorCode)

	rec = ts.do(http.MethodPut, "/v1/users/alice/migration-status", StatusUpdateRequest{Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPut, "/v1/users/alice/migration-status", StatusUpdateRequest{Status: model.MigrationStatusInProgress})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/users/alice/mfa-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record model.UserMigrationRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&record))
	assert.Equal(t, model.MigrationStatusInProgress, record.MigrationStatus)
}

func TestMigrationEndpoints(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	ts.seed("alice")
	ts.seed("bob")
	ts.seed("carol")

	rec := ts.do(http.MethodPost, "/v1/migrations", MigrateRequest{UserID: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var result model.MigrationResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.True(t, ts.dir.Exists(ts.cfg.Pools.New.StoreID, "alice"))

	rec = ts.do(http.MethodPost, "/v1/migrations", MigrateRequest{UserID: "ghost"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/migrations/batch", BatchMigrateRequest{UserIDs: []string{"bob", "carol"}, BatchSize: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	var batch model.BatchMigrationResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&batch))
	assert.Equal(t, []string{"bob", "carol"}, batch.Successful)

	rec = ts.do(http.MethodPost, "/v1/migrations/batch", BatchMigrateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/migrations/pool-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pool model.PoolMigrationStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pool))
	assert.Equal(t, 3, pool.NewStoreUsers)
	assert.Equal(t, 0, pool.LegacyActiveUsers)
}

func TestScheduleEndpoints(t *testing.T) {
	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	ts := newTestServer(t, now)
	ts.seed("alice")

	rec := ts.do(http.MethodPost, "/v1/migrations/schedule", ScheduleRequest{UserID: "alice", At: now.Add(time.Hour)})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(http.MethodDelete, "/v1/migrations/schedule/alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodDelete, "/v1/migrations/schedule/alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadinessAndReport(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC))
	ts.seed("alice")

	rec := ts.do(http.MethodGet, "/v1/migrations/readiness", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var readiness model.ReadinessReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&readiness))
	assert.True(t, readiness.Ready)

	rec = ts.do(http.MethodGet, "/v1/reports/migration", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report model.MigrationReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 1, report.Summary.Total)
	assert.Equal(t, 1, report.UsersByStatus["pending"])
	require.Len(t, report.UpcomingDeadlines, 1)

	rec = ts.do(http.MethodGet, "/v1/notifications/due", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/notifications/send", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sent service.BulkNotificationResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sent))
	assert.Equal(t, 1, sent.Sent)
	assert.Len(t, ts.channel.Sent(), 1)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/v1/nope", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(http.MethodDelete, "/v1/migrations", nil).Code)
}
