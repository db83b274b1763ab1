package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/metrics"
	"github.com/yuu551/cognito-mfa-migration/internal/model"
	"github.com/yuu551/cognito-mfa-migration/internal/policy"
)

// AdmissionService decides, per login, whether a user may proceed.
// It never returns an error: a record store failure produces a logged
// fail-open decision instead.
type AdmissionService struct {
	records       RecordStore
	settings      model.MigrationSettings
	lookupTimeout time.Duration
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// NewAdmissionService creates a new admission service
func NewAdmissionService(
	records RecordStore,
	settings model.MigrationSettings,
	lookupTimeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *AdmissionService {
	if lookupTimeout <= 0 {
		lookupTimeout = 2 * time.Second
	}
	return &AdmissionService{
		records:       records,
		settings:      settings.Copy(),
		lookupTimeout: lookupTimeout,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}
}

// Decide evaluates admission at the current time.
func (s *AdmissionService) Decide(ctx context.Context, userID string) model.AdmissionDecision {
	return s.DecideAt(ctx, userID, s.now())
}

// DecideAt evaluates admission at now.
func (s *AdmissionService) DecideAt(ctx context.Context, userID string, now time.Time) model.AdmissionDecision {
	start := time.Now()

	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	record, err := s.records.GetUserMFAStatus(lookupCtx, userID)
	cancel()

	if err != nil {
		decision := model.AdmissionDecision{
			Required:      false,
			AllowLogin:    true,
			ShowWarning:   false,
			DaysRemaining: policy.DaysUntil(now, s.settings.Deadline),
			Degraded:      true,
		}
		s.logger.Warn("Record lookup failed, admitting without enforcement",
			zap.String("user_id", userID),
			zap.Error(err))
		s.metrics.RecordAdmissionDegraded()
		s.metrics.RecordAdmission("degraded", time.Since(start))
		return decision
	}

	deadline := record.MigrationDeadline
	if deadline.IsZero() {
		deadline = s.settings.Deadline
	}

	if record.MFASatisfied() {
		s.metrics.RecordAdmission("exempt", time.Since(start))
		return model.AdmissionDecision{
			Required:      false,
			AllowLogin:    true,
			ShowWarning:   false,
			DaysRemaining: policy.DaysUntil(now, deadline),
		}
	}

	decision := policy.EvaluateSettings(now, deadline, s.settings)

	if s.shouldMarkNotified(record, decision, now, deadline) {
		markCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
		if err := s.records.UpdateLastNotified(markCtx, userID, now); err != nil {
			s.logger.Warn("Failed to record notification time",
				zap.String("user_id", userID),
				zap.Error(err))
			s.metrics.RecordBestEffortFailure("admission_last_notified")
		}
		cancel()
	}

	if decision.Blocked() {
		s.logger.Info("Login blocked, MFA required",
			zap.String("user_id", userID),
			zap.Time("deadline", deadline))
	}

	s.metrics.RecordAdmission(admissionOutcome(decision), time.Since(start))
	return decision
}

// shouldMarkNotified is true on an exact warning checkpoint before the
// deadline, or on the first warned login inside the grace period.
func (s *AdmissionService) shouldMarkNotified(record *model.UserMigrationRecord, d model.AdmissionDecision, now, deadline time.Time) bool {
	if !d.ShowWarning {
		return false
	}
	if !now.After(deadline) {
		return s.settings.IsWarningDay(d.DaysRemaining)
	}
	if d.InGrace() {
		return record.LastNotified == nil || !record.LastNotified.After(deadline)
	}
	return false
}

func admissionOutcome(d model.AdmissionDecision) string {
	switch {
	case d.Blocked():
		return "blocked"
	case d.InGrace():
		return "grace"
	case d.ShowWarning:
		return "warned"
	default:
		return "allowed"
	}
}
