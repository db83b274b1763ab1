// Package metrics provides Prometheus metrics for the migration service.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	admissionDecisions *prometheus.CounterVec
	admissionDegraded  prometheus.Counter
	admissionDuration  prometheus.Histogram
	migrationsTotal    *prometheus.CounterVec
	migrationDuration  prometheus.Histogram
	rollbacksTotal     *prometheus.CounterVec
	transferWarnings   prometheus.Counter
	notificationsTotal *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
	bestEffortFailures *prometheus.CounterVec
	campaignProgress   *prometheus.GaugeVec
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestsInFlight   prometheus.Gauge
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// NewMetrics creates and registers Prometheus metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			admissionDecisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mfa_admission_decisions_total",
					Help: "Admission decisions by outcome",
				},
				[]string{"outcome"},
			),
			admissionDegraded: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "mfa_admission_degraded_total",
					Help: "Admission decisions made fail-open because the record store was unavailable",
				},
			),
			admissionDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "mfa_admission_duration_seconds",
					Help:    "Admission decision latency in seconds",
					Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
				},
			),
			migrationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mfa_migrations_total",
					Help: "Account migrations by outcome",
				},
				[]string{"outcome"},
			),
			migrationDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "mfa_migration_duration_seconds",
					Help:    "Single account migration latency in seconds",
					Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
				},
			),
			rollbacksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mfa_migration_rollbacks_total",
					Help: "Compensating deletes of target accounts by result",
				},
				[]string{"result"},
			),
			transferWarnings: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "mfa_migration_transfer_warnings_total",
					Help: "Non-fatal failures while copying groups or status",
				},
			),
			notificationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mfa_notifications_total",
					Help: "Notifications by channel and result",
				},
				[]string{"channel", "result"},
			),
			cacheLookups: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mfa_record_cache_lookups_total",
					Help: "Record cache lookups by result",
				},
				[]string{"result"},
			),
			bestEffortFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mfa_best_effort_failures_total",
					Help: "Failed side effects that did not change an operation's outcome",
				},
				[]string{"operation"},
			),
			campaignProgress: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "mfa_campaign_users",
					Help: "Users per campaign bucket at the last report",
				},
				[]string{"bucket"},
			),
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mfa_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mfa_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				},
				[]string{"method", "path", "status"},
			),
			requestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "mfa_http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),
		}
	})

	return globalMetrics
}

// RecordAdmission records an admission outcome and its latency.
func (m *Metrics) RecordAdmission(outcome string, duration time.Duration) {
	m.admissionDecisions.WithLabelValues(outcome).Inc()
	m.admissionDuration.Observe(duration.Seconds())
}

// RecordAdmissionDegraded counts a fail-open decision.
func (m *Metrics) RecordAdmissionDegraded() {
	m.admissionDegraded.Inc()
}

// RecordMigration records a migration outcome and its latency.
func (m *Metrics) RecordMigration(outcome string, duration time.Duration) {
	m.migrationsTotal.WithLabelValues(outcome).Inc()
	m.migrationDuration.Observe(duration.Seconds())
}

// RecordRollback records a rollback result ("ok" or "failed").
func (m *Metrics) RecordRollback(result string) {
	m.rollbacksTotal.WithLabelValues(result).Inc()
}

// RecordTransferWarnings adds n transfer warnings.
func (m *Metrics) RecordTransferWarnings(n int) {
	m.transferWarnings.Add(float64(n))
}

// RecordNotification records a delivery attempt.
func (m *Metrics) RecordNotification(channel string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notificationsTotal.WithLabelValues(channel, result).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordBestEffortFailure counts a swallowed side-effect failure.
func (m *Metrics) RecordBestEffortFailure(operation string) {
	m.bestEffortFailures.WithLabelValues(operation).Inc()
}

// SetCampaignProgress publishes bucket counts from a progress report.
func (m *Metrics) SetCampaignProgress(buckets map[string]int) {
	for bucket, n := range buckets {
		m.campaignProgress.WithLabelValues(bucket).Set(float64(n))
	}
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, path, status).Inc()
	m.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		logger: logger,
	}
}

// Start starts the metrics server.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// Middleware records HTTP metrics. The route template is used as the path
// label when routeName returns one, to keep label cardinality bounded.
func Middleware(m *Metrics, routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.requestsInFlight.Inc()
			defer m.requestsInFlight.Dec()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if routeName != nil {
				if name := routeName(r); name != "" {
					path = name
				}
			}
			m.RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
