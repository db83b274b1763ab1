// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// HealthCheck runs dependency probes in the background and serves the result.
type HealthCheck struct {
	checks        map[string]CheckFunc
	logger        *zap.Logger
	mu            sync.RWMutex
	ready         bool
	results       map[string]string
	lastError     string
	lastCheck     time.Time
	checkInterval time.Duration
	checkTimeout  time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewHealthCheck creates a new HealthCheck. Call Start to begin background probing.
func NewHealthCheck(logger *zap.Logger) *HealthCheck {
	return &HealthCheck{
		checks:        make(map[string]CheckFunc),
		logger:        logger,
		results:       make(map[string]string),
		checkInterval: 15 * time.Second,
		checkTimeout:  5 * time.Second,
		stop:          make(chan struct{}),
	}
}

// Register adds a named dependency probe
func (hc *HealthCheck) Register(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests.
// A fresh probe runs when the last known state is not ready.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !hc.IsReady() {
		hc.CheckNow(r.Context())
	}

	hc.mu.RLock()
	resp := ReadinessResponse{
		Status: "ready",
		Checks: copyResults(hc.results),
		Error:  hc.lastError,
	}
	ready := hc.ready
	hc.mu.RUnlock()

	if !ready {
		resp.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckNow runs every probe once and updates readiness
func (hc *HealthCheck) CheckNow(ctx context.Context) bool {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(hc.checks))
	for k, v := range hc.checks {
		checks[k] = v
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	ready := true
	lastError := ""
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
		err := checks[name](cctx)
		cancel()
		if err != nil {
			ready = false
			results[name] = "unhealthy"
			lastError = name + ": " + err.Error()
			hc.logger.Warn("health check failed",
				zap.String("check", name),
				zap.Error(err))
			continue
		}
		results[name] = "healthy"
	}

	hc.mu.Lock()
	hc.ready = ready
	hc.results = results
	hc.lastError = lastError
	hc.lastCheck = time.Now()
	hc.mu.Unlock()

	return ready
}

// Start runs the probes immediately and then periodically until Stop.
func (hc *HealthCheck) Start(ctx context.Context) {
	hc.CheckNow(ctx)
	go hc.backgroundCheck(ctx)
}

// Stop ends background probing
func (hc *HealthCheck) Stop() {
	hc.stopOnce.Do(func() { close(hc.stop) })
}

// backgroundCheck performs periodic health checks.
func (hc *HealthCheck) backgroundCheck(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hc.stop:
			return
		case <-ticker.C:
			hc.CheckNow(ctx)
		}
	}
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

// SetReady sets the readiness status (for testing).
func (hc *HealthCheck) SetReady(ready bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.ready = ready
}

func copyResults(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
