package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

func testSettings() model.MigrationSettings {
	return model.MigrationSettings{
		Deadline:        testDeadline,
		WarningDays:     testWarningDays,
		GracePeriodDays: 7,
		EnabledMethods:  []model.MFAMethod{model.MFAMethodSMS, model.MFAMethodTOTP},
	}
}

func TestMessageFor_Tiers(t *testing.T) {
	tests := []struct {
		days   int
		tier   model.NotificationTier
		kind   model.MessageKind
		action bool
	}{
		{45, model.TierInfo, model.MessageKindReminder, false},
		{31, model.TierInfo, model.MessageKindReminder, false},
		{30, model.TierWarning, model.MessageKindReminder, true},
		{8, model.TierWarning, model.MessageKindReminder, true},
		{7, model.TierError, model.MessageKindReminder, true},
		{1, model.TierError, model.MessageKindReminder, true},
		{0, model.TierError, model.MessageKindExpired, true},
		{-3, model.TierError, model.MessageKindExpired, true},
	}

	for _, tt := range tests {
		msg := MessageFor(tt.days)
		assert.Equal(t, tt.tier, msg.Tier, "days=%d", tt.days)
		assert.Equal(t, tt.kind, msg.Kind, "days=%d", tt.days)
		assert.Equal(t, tt.action, msg.ActionRequired, "days=%d", tt.days)
		require.NotNil(t, msg.DaysRemaining)
		assert.NotEmpty(t, msg.Body)
	}

	assert.Equal(t, 0, *MessageFor(-3).DaysRemaining)
}

func TestMessageForDecision(t *testing.T) {
	grace := MessageForDecision(model.AdmissionDecision{Required: true, AllowLogin: true, ShowWarning: true, DaysRemaining: 2})
	assert.Equal(t, model.MessageKindGrace, grace.Kind)
	assert.Equal(t, 2, *grace.DaysRemaining)

	blocked := MessageForDecision(model.AdmissionDecision{Required: true, AllowLogin: false, ShowWarning: true})
	assert.Equal(t, model.MessageKindExpired, blocked.Kind)

	reminder := MessageForDecision(model.AdmissionDecision{AllowLogin: true, ShowWarning: true, DaysRemaining: 14})
	assert.Equal(t, model.TierWarning, reminder.Tier)
}

func TestNeedsNotification_NeverNotified(t *testing.T) {
	record := &model.UserMigrationRecord{
		UserID:            "alice",
		MigrationStatus:   model.MigrationStatusPending,
		MigrationDeadline: testDeadline,
	}

	now := testDeadline.Add(-60 * day)
	assert.True(t, NeedsNotification(record, now, testSettings()))
}

func TestNeedsNotification_ThrottledOutsideCheckpoint(t *testing.T) {
	now := testDeadline.Add(-20 * day)
	last := now.Add(-6 * day)
	record := &model.UserMigrationRecord{
		UserID:            "alice",
		MigrationStatus:   model.MigrationStatusPending,
		MigrationDeadline: testDeadline,
		LastNotified:      &last,
	}

	assert.False(t, NeedsNotification(record, now, testSettings()))

	// exactly seven days later is due again
	assert.True(t, NeedsNotification(record, last.Add(ReminderInterval), testSettings()))
}

func TestNeedsNotification_CheckpointOverridesThrottle(t *testing.T) {
	now := testDeadline.Add(-14 * day)
	last := now.Add(-time.Hour)
	record := &model.UserMigrationRecord{
		UserID:            "alice",
		MigrationStatus:   model.MigrationStatusInProgress,
		MigrationDeadline: testDeadline,
		LastNotified:      &last,
	}

	assert.True(t, NeedsNotification(record, now, testSettings()))
}

func TestNeedsNotification_PastDeadline(t *testing.T) {
	now := testDeadline.Add(2 * day)
	last := now.Add(-time.Hour)
	record := &model.UserMigrationRecord{
		UserID:            "alice",
		MigrationStatus:   model.MigrationStatusPending,
		MigrationDeadline: testDeadline,
		LastNotified:      &last,
	}

	assert.True(t, NeedsNotification(record, now, testSettings()))
}

func TestNeedsNotification_SatisfiedOrMigrated(t *testing.T) {
	now := testDeadline.Add(-14 * day)

	enabled := &model.UserMigrationRecord{UserID: "a", MFAEnabled: true, MigrationDeadline: testDeadline}
	completed := &model.UserMigrationRecord{UserID: "b", MigrationStatus: model.MigrationStatusCompleted, MigrationDeadline: testDeadline}
	migrated := &model.UserMigrationRecord{UserID: "c", MigrationStatus: model.MigrationStatusMigrated, MigrationDeadline: testDeadline}

	assert.False(t, NeedsNotification(enabled, now, testSettings()))
	assert.False(t, NeedsNotification(completed, now, testSettings()))
	assert.False(t, NeedsNotification(migrated, now, testSettings()))
}

func TestNeedsNotification_FallsBackToCampaignDeadline(t *testing.T) {
	now := testDeadline.Add(-7 * day)
	last := now.Add(-time.Hour)
	record := &model.UserMigrationRecord{
		UserID:          "alice",
		MigrationStatus: model.MigrationStatusPending,
		LastNotified:    &last,
	}

	assert.True(t, NeedsNotification(record, now, testSettings()))
}
