package model

import (
	"fmt"
	"time"
)

// MFAMethod is a second factor the campaign accepts
type MFAMethod string

const (
	MFAMethodSMS   MFAMethod = "SMS"
	MFAMethodTOTP  MFAMethod = "TOTP"
	MFAMethodEmail MFAMethod = "EMAIL"
)

// MFAConfiguration is the MFA mode of an identity store
type MFAConfiguration string

const (
	MFAConfigurationOff      MFAConfiguration = "OFF"
	MFAConfigurationOn       MFAConfiguration = "ON"
	MFAConfigurationOptional MFAConfiguration = "OPTIONAL"
)

// MigrationSettings holds the campaign parameters
type MigrationSettings struct {
	Deadline        time.Time
	WarningDays     []int
	GracePeriodDays int
	EnabledMethods  []MFAMethod
}

// Validate checks the campaign parameters
func (s *MigrationSettings) Validate() error {
	if s.Deadline.IsZero() {
		return fmt.Errorf("deadline is required")
	}
	if s.GracePeriodDays < 0 {
		return fmt.Errorf("grace period must be >= 0, got %d", s.GracePeriodDays)
	}
	seen := make(map[int]bool, len(s.WarningDays))
	for _, d := range s.WarningDays {
		if d <= 0 {
			return fmt.Errorf("warning day must be positive, got %d", d)
		}
		if seen[d] {
			return fmt.Errorf("duplicate warning day %d", d)
		}
		seen[d] = true
	}
	for _, m := range s.EnabledMethods {
		switch m {
		case MFAMethodSMS, MFAMethodTOTP, MFAMethodEmail:
		default:
			return fmt.Errorf("unknown MFA method %q", m)
		}
	}
	return nil
}

// IsWarningDay reports whether days is one of the warning checkpoints
func (s *MigrationSettings) IsWarningDay(days int) bool {
	for _, d := range s.WarningDays {
		if d == days {
			return true
		}
	}
	return false
}

// MethodEnabled reports whether m is accepted by the campaign
func (s *MigrationSettings) MethodEnabled(m MFAMethod) bool {
	for _, e := range s.EnabledMethods {
		if e == m {
			return true
		}
	}
	return false
}

// Copy returns an independent copy of the settings
func (s MigrationSettings) Copy() MigrationSettings {
	s.WarningDays = append([]int(nil), s.WarningDays...)
	s.EnabledMethods = append([]MFAMethod(nil), s.EnabledMethods...)
	return s
}

// PoolConfig identifies one identity store
type PoolConfig struct {
	StoreID          string           `json:"store_id"`
	ClientID         string           `json:"client_id"`
	Region           string           `json:"region"`
	MFAConfiguration MFAConfiguration `json:"mfa_configuration"`
}
