package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	migerrors "github.com/yuu551/cognito-mfa-migration/internal/errors"
)

// Error codes that do not come from the migration taxonomy
const (
	ErrorCodeInvalidRequest = "INVALID_REQUEST"
	ErrorCodeInternalError  = "INTERNAL_ERROR"
	ErrorCodeRateLimited    = "RATE_LIMITED"
	ErrorCodeMFARequired    = "MFA_REQUIRED"
	ErrorCodeMigrationFail  = "MIGRATION_FAILED"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler writes error responses
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError maps err to a status and writes it.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get("X-Request-ID")

	me, ok := migerrors.AsMigrationError(err)
	if !ok {
		h.logger.Error("unclassified error",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		h.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error", requestID)
		return
	}

	status := me.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.String("error_code", me.Code.String()),
			zap.Error(err))
	}
	h.WriteErrorResponse(w, status, me.Code.String(), me.Error(), requestID)
}

// WriteValidationError writes a 400 response
func (h *ErrorHandler) WriteValidationError(w http.ResponseWriter, message, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}

// WriteErrorResponse writes an error response with the given parameters.
func (h *ErrorHandler) WriteErrorResponse(w http.ResponseWriter, status int, code, message, requestID string) {
	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: code,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode error response", zap.Error(err))
	}
}
