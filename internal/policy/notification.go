package policy

import (
	"fmt"
	"time"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

// ReminderInterval is the minimum gap between two reminders outside checkpoints
const ReminderInterval = 7 * day

// BlockedLoginMessage is the only text shown to a user whose login is refused
const BlockedLoginMessage = "MFA setup is required to continue. Please contact support to enable multi-factor authentication on your account."

// MessageFor returns the reminder for a user with daysRemaining until the deadline
func MessageFor(daysRemaining int) model.NotificationMessage {
	switch {
	case daysRemaining > 30:
		return model.NotificationMessage{
			Tier:           model.TierInfo,
			Kind:           model.MessageKindReminder,
			Subject:        "Multi-factor authentication is coming to your account",
			Body:           fmt.Sprintf("Multi-factor authentication will become required in %d days. You can set it up now from your account settings.", daysRemaining),
			ActionRequired: false,
			DaysRemaining:  intPtr(daysRemaining),
		}
	case daysRemaining > 7:
		return model.NotificationMessage{
			Tier:           model.TierWarning,
			Kind:           model.MessageKindReminder,
			Subject:        fmt.Sprintf("Set up multi-factor authentication within %d days", daysRemaining),
			Body:           fmt.Sprintf("Multi-factor authentication becomes required in %d days. Please set it up soon to avoid interruption.", daysRemaining),
			ActionRequired: true,
			DaysRemaining:  intPtr(daysRemaining),
		}
	case daysRemaining > 0:
		return model.NotificationMessage{
			Tier:           model.TierError,
			Kind:           model.MessageKindReminder,
			Subject:        fmt.Sprintf("Urgent: %d days left to set up multi-factor authentication", daysRemaining),
			Body:           fmt.Sprintf("Only %d days remain before multi-factor authentication is required. Set it up now to keep access to your account.", daysRemaining),
			ActionRequired: true,
			DaysRemaining:  intPtr(daysRemaining),
		}
	default:
		return model.NotificationMessage{
			Tier:           model.TierError,
			Kind:           model.MessageKindExpired,
			Subject:        "Multi-factor authentication deadline has passed",
			Body:           "The deadline for setting up multi-factor authentication has passed. Set it up immediately to keep access to your account.",
			ActionRequired: true,
			DaysRemaining:  intPtr(0),
		}
	}
}

// GraceMessage returns the reminder shown while a past-deadline user is still let in
func GraceMessage(graceDaysLeft int) model.NotificationMessage {
	if graceDaysLeft < 0 {
		graceDaysLeft = 0
	}
	body := fmt.Sprintf("The multi-factor authentication deadline has passed. You can still sign in for %d more days; after that access will be blocked until MFA is set up.", graceDaysLeft)
	if graceDaysLeft == 0 {
		body = "The multi-factor authentication deadline has passed. Today is the last day you can sign in without it."
	}
	return model.NotificationMessage{
		Tier:           model.TierError,
		Kind:           model.MessageKindGrace,
		Subject:        "Grace period: set up multi-factor authentication now",
		Body:           body,
		ActionRequired: true,
		DaysRemaining:  intPtr(graceDaysLeft),
	}
}

// MessageForDecision picks the message matching an admission decision
func MessageForDecision(d model.AdmissionDecision) model.NotificationMessage {
	switch {
	case d.Blocked():
		return MessageFor(0)
	case d.InGrace():
		return GraceMessage(d.DaysRemaining)
	default:
		return MessageFor(d.DaysRemaining)
	}
}

// NeedsNotification reports whether record is due for a reminder at now
func NeedsNotification(record *model.UserMigrationRecord, now time.Time, settings model.MigrationSettings) bool {
	if record == nil || record.MFASatisfied() || record.MigrationStatus == model.MigrationStatusMigrated {
		return false
	}

	deadline := record.MigrationDeadline
	if deadline.IsZero() {
		deadline = settings.Deadline
	}
	daysRemaining := DaysUntil(now, deadline)

	if settings.IsWarningDay(daysRemaining) || daysRemaining <= 0 {
		return true
	}
	if record.LastNotified == nil {
		return true
	}
	return now.Sub(*record.LastNotified) >= ReminderInterval
}

func intPtr(v int) *int {
	return &v
}
