package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type contextKey string

// RequestIDKey holds the request id in the request context
const RequestIDKey contextKey = "request_id"

const requestIDHeader = "X-Request-ID"

// hookTimeoutMargin is added to the record lookup budget so the admission
// service can still answer fail-open after its own lookup timed out.
const hookTimeoutMargin = 500 * time.Millisecond

// RequestID tags every request with an id, reusing one sent by the caller.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDKey, id)))
	})
}

// AccessLog logs one line per request with the matched route
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("route", routeTemplate(r)),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", r.Header.Get(requestIDHeader)),
			)
		})
	}
}

// RecoverPanics turns a handler panic into a 500 carrying only the request
// id. The panic value and stack stay in the log.
func RecoverPanics(errorHandler *ErrorHandler, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("panic recovered",
						zap.Any("panic", v),
						zap.Stack("stack"),
						zap.String("route", routeTemplate(r)),
						zap.String("request_id", r.Header.Get(requestIDHeader)),
					)
					errorHandler.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError,
						"internal server error", r.Header.Get(requestIDHeader))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// HookDeadline bounds the pre-authentication hook by the record lookup
// budget. Login latency must not grow with the generic operator timeout.
func HookDeadline(lookupTimeout time.Duration) func(http.Handler) http.Handler {
	return Deadline(lookupTimeout + hookTimeoutMargin)
}

// Deadline cancels the request context after d. Zero disables it.
func Deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorLimiter throttles the operator endpoints. Migrations and bulk
// sends fan out to the directory, so one shared bucket caps that load.
// The login hook is mounted outside it.
type OperatorLimiter struct {
	limiter      *rate.Limiter
	errorHandler *ErrorHandler
	logger       *zap.Logger
}

// NewOperatorLimiter creates a limiter allowing rps requests per second with burst
func NewOperatorLimiter(rps float64, burst int, errorHandler *ErrorHandler, logger *zap.Logger) *OperatorLimiter {
	return &OperatorLimiter{
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// Limit is the middleware
func (l *OperatorLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		l.logger.Warn("operator rate limit exceeded",
			zap.String("route", routeTemplate(r)),
			zap.String("request_id", r.Header.Get(requestIDHeader)),
		)
		w.Header().Set("Retry-After", "1")
		l.errorHandler.WriteErrorResponse(w, http.StatusTooManyRequests, ErrorCodeRateLimited,
			"rate limit exceeded", r.Header.Get(requestIDHeader))
	})
}

// AllowOrigins sets CORS headers for the configured dashboard origins.
// With no origins configured nothing is added.
func AllowOrigins(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed["*"] || allowed[origin]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)
				h.Add("Vary", "Origin")
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
