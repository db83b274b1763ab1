package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

var (
	testDeadline    = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	testWarningDays = []int{30, 14, 7, 3, 1}
)

func TestCeilDays(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want int
	}{
		{"zero", 0, 0},
		{"exact day", 24 * time.Hour, 1},
		{"partial day", 25 * time.Hour, 2},
		{"one second", time.Second, 1},
		{"negative partial", -25 * time.Hour, -1},
		{"negative exact", -48 * time.Hour, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CeilDays(tt.d))
		})
	}
}

func TestEvaluate_InsideGracePeriod(t *testing.T) {
	now := time.Date(2025, 9, 6, 0, 0, 0, 0, time.UTC)

	got := Evaluate(now, testDeadline, 7, testWarningDays)

	assert.Equal(t, model.AdmissionDecision{
		Required:      true,
		AllowLogin:    true,
		ShowWarning:   true,
		DaysRemaining: 2,
	}, got)
}

func TestEvaluate_ThirtyDaysBefore(t *testing.T) {
	now := time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC)

	got := Evaluate(now, testDeadline, 7, testWarningDays)

	assert.Equal(t, model.AdmissionDecision{
		Required:      false,
		AllowLogin:    true,
		ShowWarning:   true,
		DaysRemaining: 30,
	}, got)
}

func TestEvaluate_OutsideWarningWindow(t *testing.T) {
	now := testDeadline.Add(-45 * day)

	got := Evaluate(now, testDeadline, 7, testWarningDays)

	assert.False(t, got.ShowWarning)
	assert.False(t, got.Required)
	assert.True(t, got.AllowLogin)
	assert.Equal(t, 45, got.DaysRemaining)
}

func TestEvaluate_BeforeDeadlineAlwaysAllows(t *testing.T) {
	for offset := time.Duration(0); offset < 90*day; offset += 7 * time.Hour {
		got := Evaluate(testDeadline.Add(-offset), testDeadline, 7, testWarningDays)
		assert.True(t, got.AllowLogin, "offset %s", offset)
		assert.False(t, got.Required, "offset %s", offset)
	}
}

func TestEvaluate_GraceBoundary(t *testing.T) {
	grace := 7

	lastDay := Evaluate(testDeadline.Add(time.Duration(grace)*day), testDeadline, grace, testWarningDays)
	assert.True(t, lastDay.AllowLogin)
	assert.True(t, lastDay.Required)
	assert.Equal(t, 0, lastDay.DaysRemaining)

	blocked := Evaluate(testDeadline.Add(time.Duration(grace+1)*day), testDeadline, grace, testWarningDays)
	assert.False(t, blocked.AllowLogin)
	assert.True(t, blocked.Required)
	assert.True(t, blocked.ShowWarning)
	assert.Equal(t, 0, blocked.DaysRemaining)
}

func TestEvaluate_PartialDayAfterGraceBlocks(t *testing.T) {
	now := testDeadline.Add(7*day + time.Minute)

	got := Evaluate(now, testDeadline, 7, testWarningDays)

	assert.False(t, got.AllowLogin)
}

func TestEvaluate_InsideGraceAlwaysRequired(t *testing.T) {
	for offset := time.Hour; offset <= 7*day; offset += 5 * time.Hour {
		got := Evaluate(testDeadline.Add(offset), testDeadline, 7, testWarningDays)
		assert.True(t, got.AllowLogin, "offset %s", offset)
		assert.True(t, got.Required, "offset %s", offset)
		assert.GreaterOrEqual(t, got.DaysRemaining, 0)
	}
}

func TestEvaluate_ZeroGraceBlocksAfterDeadline(t *testing.T) {
	got := Evaluate(testDeadline.Add(time.Second), testDeadline, 0, testWarningDays)

	assert.False(t, got.AllowLogin)
}

func TestEvaluate_AtDeadline(t *testing.T) {
	got := Evaluate(testDeadline, testDeadline, 7, testWarningDays)

	assert.False(t, got.Required)
	assert.True(t, got.AllowLogin)
	assert.True(t, got.ShowWarning)
	assert.Equal(t, 0, got.DaysRemaining)
}

func TestEvaluate_WarningWindowUsesLargestCheckpoint(t *testing.T) {
	unordered := []int{3, 60, 14}

	assert.True(t, Evaluate(testDeadline.Add(-60*day), testDeadline, 7, unordered).ShowWarning)
	assert.False(t, Evaluate(testDeadline.Add(-61*day), testDeadline, 7, unordered).ShowWarning)

	// no checkpoints: warn only on the deadline day itself
	assert.False(t, Evaluate(testDeadline.Add(-day), testDeadline, 7, nil).ShowWarning)
	assert.True(t, Evaluate(testDeadline, testDeadline, 7, nil).ShowWarning)
}
