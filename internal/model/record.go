package model

import "time"

// MigrationStatus represents where a user is in the MFA migration campaign
type MigrationStatus string

const (
	// MigrationStatusPending indicates the user has not started enrolling MFA
	MigrationStatusPending MigrationStatus = "pending"
	// MigrationStatusInProgress indicates the user started but did not finish enrollment
	MigrationStatusInProgress MigrationStatus = "in_progress"
	// MigrationStatusCompleted indicates the user finished MFA enrollment
	MigrationStatusCompleted MigrationStatus = "completed"
	// MigrationStatusMigrated indicates the account was moved to the new store
	MigrationStatusMigrated MigrationStatus = "migrated"
)

// Valid reports whether s is one of the known statuses
func (s MigrationStatus) Valid() bool {
	switch s {
	case MigrationStatusPending, MigrationStatusInProgress, MigrationStatusCompleted, MigrationStatusMigrated:
		return true
	}
	return false
}

// Directory attribute names used to persist campaign state on user accounts.
const (
	AttrEmail             = "email"
	AttrPhoneNumber       = "phone_number"
	AttrMigrationStatus   = "custom:migration_status"
	AttrMigrationDeadline = "custom:migration_deadline"
	AttrLastNotified      = "custom:last_notified"
	AttrLastUpdated       = "custom:last_updated"
	AttrMigratedFrom      = "custom:migrated_from"
	AttrMigrationDate     = "custom:migration_date"
)

// CustomAttrPrefix marks application-defined attributes
const CustomAttrPrefix = "custom:"

// IsBookkeepingAttr reports whether name is campaign state that must not be
// copied to the target account.
func IsBookkeepingAttr(name string) bool {
	switch name {
	case AttrMigrationStatus, AttrMigrationDeadline, AttrLastNotified, AttrLastUpdated,
		AttrMigratedFrom, AttrMigrationDate:
		return true
	}
	return false
}

// UserMigrationRecord is the per-user view of campaign progress
type UserMigrationRecord struct {
	UserID            string          `json:"user_id" yaml:"user_id"`
	MFAEnabled        bool            `json:"mfa_enabled" yaml:"mfa_enabled"`
	MFAMethods        []string        `json:"mfa_methods" yaml:"mfa_methods"`
	MigrationStatus   MigrationStatus `json:"migration_status" yaml:"migration_status"`
	MigrationDeadline time.Time       `json:"migration_deadline" yaml:"migration_deadline"`
	LastNotified      *time.Time      `json:"last_notified,omitempty" yaml:"last_notified,omitempty"`
	Email             string          `json:"email,omitempty" yaml:"email,omitempty"`
	PhoneNumber       string          `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	Enabled           bool            `json:"enabled" yaml:"enabled"`
}

// MFASatisfied reports whether the user no longer needs to act
func (r *UserMigrationRecord) MFASatisfied() bool {
	return r.MFAEnabled || r.MigrationStatus == MigrationStatusCompleted
}

// Clone returns a deep copy so cached records are never shared
func (r *UserMigrationRecord) Clone() *UserMigrationRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.MFAMethods != nil {
		c.MFAMethods = append([]string(nil), r.MFAMethods...)
	}
	if r.LastNotified != nil {
		t := *r.LastNotified
		c.LastNotified = &t
	}
	return &c
}
