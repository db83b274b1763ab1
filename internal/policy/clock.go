// Package policy holds the pure campaign rules: the admission clock and
// the reminder cadence. Nothing here performs I/O or reads the wall clock.
package policy

import (
	"time"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

const day = 24 * time.Hour

// CeilDays converts a duration to whole days rounding toward +inf.
// A partial day counts as a full one in both directions.
func CeilDays(d time.Duration) int {
	days := int(d / day)
	if d%day > 0 {
		days++
	}
	return days
}

// DaysUntil returns the ceil of whole days from now to t
func DaysUntil(now, t time.Time) int {
	return CeilDays(t.Sub(now))
}

// Evaluate decides admission for a user who has not satisfied MFA.
func Evaluate(now, deadline time.Time, gracePeriodDays int, warningDays []int) model.AdmissionDecision {
	daysRemaining := DaysUntil(now, deadline)

	if !now.After(deadline) {
		return model.AdmissionDecision{
			Required:      false,
			AllowLogin:    true,
			ShowWarning:   daysRemaining <= maxOf(warningDays),
			DaysRemaining: daysRemaining,
		}
	}

	daysOver := CeilDays(now.Sub(deadline))
	if daysOver <= gracePeriodDays {
		return model.AdmissionDecision{
			Required:      true,
			AllowLogin:    true,
			ShowWarning:   true,
			DaysRemaining: gracePeriodDays - daysOver,
		}
	}

	return model.AdmissionDecision{
		Required:      true,
		AllowLogin:    false,
		ShowWarning:   true,
		DaysRemaining: 0,
	}
}

// EvaluateSettings is Evaluate with the campaign settings unpacked
func EvaluateSettings(now, deadline time.Time, settings model.MigrationSettings) model.AdmissionDecision {
	return Evaluate(now, deadline, settings.GracePeriodDays, settings.WarningDays)
}

func maxOf(values []int) int {
	max := 0
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}
