package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/metrics"
	"github.com/yuu551/cognito-mfa-migration/internal/model"
	"github.com/yuu551/cognito-mfa-migration/internal/notify"
	"github.com/yuu551/cognito-mfa-migration/internal/policy"
)

// CandidateSource lists users who are due for a reminder
type CandidateSource interface {
	UsersNeedingNotification(ctx context.Context, now time.Time) ([]model.NotificationCandidate, error)
}

// BulkNotificationResult summarises a bulk send
type BulkNotificationResult struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

const emailTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <h2 class="{{.Tier}}">{{.Subject}}</h2>
  <p>{{.Body}}</p>
  {{- if .DaysRemaining}}
  {{- if eq .Kind "grace"}}
  <p><strong>Grace days left: {{deref .DaysRemaining}}</strong></p>
  {{- else if eq .Kind "reminder"}}
  <p><strong>Days remaining: {{deref .DaysRemaining}}</strong></p>
  {{- end}}
  {{- end}}
  {{- if .ActionRequired}}
  <p>Open your account settings and enable an authenticator app or SMS verification.</p>
  {{- end}}
</body>
</html>
`

// NotificationService delivers reminders over email and SMS
type NotificationService struct {
	channel    notify.Channel
	records    RecordStore
	candidates CandidateSource
	settings   model.MigrationSettings
	scheduler  *Scheduler
	metrics    *metrics.Metrics
	logger     *zap.Logger
	email      *template.Template
}

// NewNotificationService creates a new notification service
func NewNotificationService(
	channel notify.Channel,
	records RecordStore,
	candidates CandidateSource,
	settings model.MigrationSettings,
	scheduler *Scheduler,
	m *metrics.Metrics,
	logger *zap.Logger,
) *NotificationService {
	tmpl := template.Must(template.New("email").Funcs(template.FuncMap{
		"deref": func(p *int) int { return *p },
	}).Parse(emailTemplate))

	return &NotificationService{
		channel:    channel,
		records:    records,
		candidates: candidates,
		settings:   settings.Copy(),
		scheduler:  scheduler,
		metrics:    m,
		logger:     logger,
		email:      tmpl,
	}
}

// FormatEmail renders msg as an HTML email
func (s *NotificationService) FormatEmail(msg model.NotificationMessage) (string, string, error) {
	var buf bytes.Buffer
	if err := s.email.Execute(&buf, msg); err != nil {
		return "", "", errs.New("render email: %w", err)
	}
	return msg.Subject, buf.String(), nil
}

// FormatSMS renders msg as a single text message
func (s *NotificationService) FormatSMS(msg model.NotificationMessage) string {
	prefix := "[Notice]"
	switch msg.Tier {
	case model.TierWarning:
		prefix = "[Action needed]"
	case model.TierError:
		prefix = "[Urgent]"
	}
	return fmt.Sprintf("%s %s", prefix, msg.Body)
}

// SendMFANotification sends msg to every contact the record has.
// A missing contact is skipped; having none at all is an error.
func (s *NotificationService) SendMFANotification(ctx context.Context, record *model.UserMigrationRecord, msg model.NotificationMessage) error {
	var group errs.Group
	delivered := false

	if record.Email != "" {
		subject, body, err := s.FormatEmail(msg)
		if err == nil {
			err = s.channel.SendEmail(ctx, record.Email, subject, body)
		}
		s.metrics.RecordNotification("email", err)
		if err != nil {
			group.Add(errs.New("email to %s: %w", record.UserID, err))
		} else {
			delivered = true
		}
	} else {
		s.logger.Warn("No email address, skipping email reminder",
			zap.String("user_id", record.UserID))
	}

	switch {
	case record.PhoneNumber == "":
		s.logger.Warn("No phone number, skipping SMS reminder",
			zap.String("user_id", record.UserID))
	case !s.settings.MethodEnabled(model.MFAMethodSMS):
		s.logger.Debug("SMS disabled for campaign, skipping SMS reminder",
			zap.String("user_id", record.UserID))
	default:
		err := s.channel.SendSMS(ctx, record.PhoneNumber, s.FormatSMS(msg))
		s.metrics.RecordNotification("sms", err)
		if err != nil {
			group.Add(errs.New("sms to %s: %w", record.UserID, err))
		} else {
			delivered = true
		}
	}

	if err := group.Err(); err != nil {
		return err
	}
	if !delivered {
		return errs.New("user %s has no reachable contact", record.UserID)
	}
	return nil
}

// MessageForRecord picks the message a record should receive at now
func (s *NotificationService) MessageForRecord(record *model.UserMigrationRecord, now time.Time) model.NotificationMessage {
	deadline := record.MigrationDeadline
	if deadline.IsZero() {
		deadline = s.settings.Deadline
	}
	return policy.MessageForDecision(policy.EvaluateSettings(now, deadline, s.settings))
}

// SendBulkNotifications sends reminders to every candidate.
// Failures are collected per recipient and never stop the loop.
func (s *NotificationService) SendBulkNotifications(ctx context.Context, candidates []model.NotificationCandidate, now time.Time) *BulkNotificationResult {
	result := &BulkNotificationResult{}

	for _, c := range candidates {
		if ctx.Err() != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.Record.UserID, ctx.Err()))
			continue
		}

		msg := s.MessageForRecord(c.Record, now)
		if err := s.SendMFANotification(ctx, c.Record, msg); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			s.logger.Warn("Failed to notify user",
				zap.String("user_id", c.Record.UserID),
				zap.Error(err))
			continue
		}
		result.Sent++

		if err := s.records.UpdateLastNotified(ctx, c.Record.UserID, now); err != nil {
			s.logger.Warn("Failed to record notification time",
				zap.String("user_id", c.Record.UserID),
				zap.Error(err))
			s.metrics.RecordBestEffortFailure("notify_last_notified")
		}
	}

	s.logger.Info("Bulk notification finished",
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed))

	return result
}

// NotifyDue sends reminders to every user who needs one at now
func (s *NotificationService) NotifyDue(ctx context.Context, now time.Time) (*BulkNotificationResult, error) {
	candidates, err := s.candidates.UsersNeedingNotification(ctx, now)
	if err != nil {
		return nil, err
	}
	return s.SendBulkNotifications(ctx, candidates, now), nil
}

// ScheduleNotification reminds userID at the given time, or right away when
// at is not in the future. It returns the scheduler key.
func (s *NotificationService) ScheduleNotification(ctx context.Context, userID string, at, now time.Time) (string, error) {
	key := "notify:" + userID
	if !at.After(now) {
		return key, s.notifyUser(ctx, userID, now)
	}

	s.scheduler.Schedule(key, at.Sub(now), func(ctx context.Context) {
		if err := s.notifyUser(ctx, userID, at); err != nil {
			s.logger.Error("Scheduled notification failed",
				zap.String("user_id", userID),
				zap.Error(err))
		}
	})
	return key, nil
}

func (s *NotificationService) notifyUser(ctx context.Context, userID string, now time.Time) error {
	record, err := s.records.GetUserMFAStatus(ctx, userID)
	if err != nil {
		return err
	}
	if !policy.NeedsNotification(record, now, s.settings) {
		s.logger.Debug("User no longer needs a reminder", zap.String("user_id", userID))
		return nil
	}
	result := s.SendBulkNotifications(ctx, []model.NotificationCandidate{{
		Record:        record,
		DaysRemaining: policy.DaysUntil(now, record.MigrationDeadline),
	}}, now)
	if result.Failed > 0 {
		return errs.New("%s", result.Errors[0])
	}
	return nil
}
