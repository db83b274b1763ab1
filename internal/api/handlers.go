package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
	"github.com/yuu551/cognito-mfa-migration/internal/policy"
	"github.com/yuu551/cognito-mfa-migration/internal/service"
)

// Services bundles the operations the HTTP surface exposes
type Services struct {
	Admission     *service.AdmissionService
	Records       *service.RecordService
	Migration     *service.MigrationService
	Reports       *service.ReportService
	Notifications *service.NotificationService
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	services     Services
	errorHandler *ErrorHandler
	logger       *zap.Logger
	now          func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(services Services, errorHandler *ErrorHandler, logger *zap.Logger) *Handlers {
	return &Handlers{
		services:     services,
		errorHandler: errorHandler,
		logger:       logger,
		now:          time.Now,
	}
}

// PreAuthRequest is the body of a pre-authentication hook call
type PreAuthRequest struct {
	UserID string `json:"user_id"`
}

// PreAuthResponse is returned when the login may proceed
type PreAuthResponse struct {
	model.AdmissionDecision
	Message *model.NotificationMessage `json:"message,omitempty"`
}

// MigrateRequest is the body of POST /v1/migrations
type MigrateRequest struct {
	UserID     string `json:"user_id"`
	Credential string `json:"credential,omitempty"`
}

// BatchMigrateRequest is the body of POST /v1/migrations/batch
type BatchMigrateRequest struct {
	UserIDs   []string `json:"user_ids"`
	BatchSize int      `json:"batch_size,omitempty"`
}

// ScheduleRequest is the body of POST /v1/migrations/schedule
type ScheduleRequest struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// StatusUpdateRequest is the body of PUT /v1/users/{user_id}/migration-status
type StatusUpdateRequest struct {
	Status model.MigrationStatus `json:"status"`
}

// PreAuthentication handles POST /v1/auth/pre-authentication requests.
// A blocked login gets 403 with a fixed message and nothing else.
func (h *Handlers) PreAuthentication(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req PreAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid request body", requestID)
		return
	}
	if req.UserID == "" {
		h.errorHandler.WriteValidationError(w, "user_id is required", requestID)
		return
	}

	decision := h.services.Admission.DecideAt(r.Context(), req.UserID, h.now())
	if decision.Blocked() {
		h.errorHandler.WriteErrorResponse(w, http.StatusForbidden, ErrorCodeMFARequired, policy.BlockedLoginMessage, requestID)
		return
	}

	resp := PreAuthResponse{AdmissionDecision: decision}
	if decision.ShowWarning {
		msg := policy.MessageForDecision(decision)
		resp.Message = &msg
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// GetMFAStatus handles GET /v1/users/{user_id}/mfa-status requests.
func (h *Handlers) GetMFAStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	record, err := h.services.Records.GetUserMFAStatus(r.Context(), userID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, record)
}

// UpdateMigrationStatus handles PUT /v1/users/{user_id}/migration-status requests.
func (h *Handlers) UpdateMigrationStatus(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	userID := mux.Vars(r)["user_id"]

	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid request body", requestID)
		return
	}

	if err := h.services.Records.UpdateMigrationStatus(r.Context(), userID, req.Status); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"status":  string(req.Status),
	})
}

// MigrateUser handles POST /v1/migrations requests.
func (h *Handlers) MigrateUser(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid request body", requestID)
		return
	}
	if req.UserID == "" {
		h.errorHandler.WriteValidationError(w, "user_id is required", requestID)
		return
	}

	result := h.services.Migration.MigrateUser(r.Context(), req.UserID, req.Credential)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSONResponse(w, status, result)
}

// BatchMigrate handles POST /v1/migrations/batch requests.
func (h *Handlers) BatchMigrate(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req BatchMigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid request body", requestID)
		return
	}
	if len(req.UserIDs) == 0 {
		h.errorHandler.WriteValidationError(w, "user_ids must not be empty", requestID)
		return
	}
	if req.BatchSize < 0 {
		h.errorHandler.WriteValidationError(w, "batch_size must not be negative", requestID)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, h.services.Migration.BatchMigrate(r.Context(), req.UserIDs, req.BatchSize))
}

// ScheduleMigration handles POST /v1/migrations/schedule requests.
func (h *Handlers) ScheduleMigration(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid request body", requestID)
		return
	}
	if req.UserID == "" {
		h.errorHandler.WriteValidationError(w, "user_id is required", requestID)
		return
	}

	// scheduled jobs outlive the request
	key, result := h.services.Migration.ScheduleUserMigration(r.Context(), req.UserID, req.At, h.now())
	if result != nil {
		h.writeJSONResponse(w, http.StatusOK, result)
		return
	}
	h.writeJSONResponse(w, http.StatusAccepted, map[string]string{"key": key})
}

// CancelScheduledMigration handles DELETE /v1/migrations/schedule/{user_id} requests.
func (h *Handlers) CancelScheduledMigration(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	userID := mux.Vars(r)["user_id"]

	if !h.services.Migration.CancelScheduled("migrate:" + userID) {
		h.errorHandler.WriteErrorResponse(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("no scheduled migration for %s", userID), requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reconcile handles POST /v1/migrations/reconcile requests.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.services.Migration.Reconcile(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, result)
}

// ValidateReadiness handles GET /v1/migrations/readiness requests.
func (h *Handlers) ValidateReadiness(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.services.Migration.ValidateReadiness(r.Context(), h.now()))
}

// PoolStatus handles GET /v1/migrations/pool-status requests.
func (h *Handlers) PoolStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.services.Migration.PoolStatus(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, status)
}

// MigrationReport handles GET /v1/reports/migration requests.
func (h *Handlers) MigrationReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.services.Reports.GenerateReport(r.Context(), h.now())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, report)
}

// NotificationsDue handles GET /v1/notifications/due requests.
func (h *Handlers) NotificationsDue(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.services.Reports.UsersNeedingNotification(r.Context(), h.now())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, candidates)
}

// SendNotifications handles POST /v1/notifications/send requests.
func (h *Handlers) SendNotifications(w http.ResponseWriter, r *http.Request) {
	result, err := h.services.Notifications.NotifyDue(r.Context(), h.now())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, result)
}

// writeJSONResponse writes a JSON response with the given status code.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
