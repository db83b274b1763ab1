package model

import "time"

// AdmissionDecision is the outcome of a login admission check.
//
// DaysRemaining means days until the deadline before it passes, and days of
// grace left after it.
type AdmissionDecision struct {
	Required      bool `json:"required"`
	AllowLogin    bool `json:"allow_login"`
	ShowWarning   bool `json:"show_warning"`
	DaysRemaining int  `json:"days_remaining"`
	// Degraded is set when the decision was produced without the user's record
	Degraded bool `json:"degraded,omitempty"`
}

// InGrace reports whether the decision lets a past-deadline user in
func (d AdmissionDecision) InGrace() bool {
	return d.Required && d.AllowLogin
}

// Blocked reports whether login is refused
func (d AdmissionDecision) Blocked() bool {
	return !d.AllowLogin
}

// NotificationTier is the severity of a user-facing message
type NotificationTier string

const (
	TierInfo    NotificationTier = "info"
	TierWarning NotificationTier = "warning"
	TierError   NotificationTier = "error"
)

// MessageKind separates reminder, grace and expired wording
type MessageKind string

const (
	MessageKindReminder MessageKind = "reminder"
	MessageKindGrace    MessageKind = "grace"
	MessageKindExpired  MessageKind = "expired"
)

// NotificationMessage is the user-facing text for a situation
type NotificationMessage struct {
	Tier           NotificationTier `json:"type"`
	Kind           MessageKind      `json:"kind"`
	Subject        string           `json:"subject"`
	Body           string           `json:"message"`
	ActionRequired bool             `json:"action_required"`
	DaysRemaining  *int             `json:"days_remaining,omitempty"`
}

// MigrationResult is the outcome of moving one user between stores
type MigrationResult struct {
	UserID          string   `json:"user_id"`
	Success         bool     `json:"success"`
	NewUserID       string   `json:"new_user_id,omitempty"`
	Error           string   `json:"error,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	AlreadyMigrated bool     `json:"already_migrated,omitempty"`
}

// BatchFailure is one failed user of a batch
type BatchFailure struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// BatchMigrationResult aggregates per-user outcomes of a batch
type BatchMigrationResult struct {
	Successful []string       `json:"successful"`
	Failed     []BatchFailure `json:"failed"`
}

// TransferStatus tags the outcome of copying attributes and groups
type TransferStatus int

const (
	TransferOK TransferStatus = iota
	TransferOKWithWarnings
	TransferFailed
)

// TransferResult reports the transfer step without losing partial failures
type TransferResult struct {
	Status   TransferStatus
	Warnings []string
	Err      error
}

// ReadinessReport summarises preconditions for running migrations
type ReadinessReport struct {
	Ready           bool     `json:"ready" yaml:"ready"`
	Issues          []string `json:"issues" yaml:"issues"`
	Recommendations []string `json:"recommendations" yaml:"recommendations"`
}

// MigrationProgress counts records by campaign bucket.
// Percentage is the rounded share of users who satisfied MFA.
type MigrationProgress struct {
	Total      int `json:"total" yaml:"total"`
	Completed  int `json:"completed" yaml:"completed"`
	InProgress int `json:"in_progress" yaml:"in_progress"`
	Pending    int `json:"pending" yaml:"pending"`
	Migrated   int `json:"migrated" yaml:"migrated"`
	Overdue    int `json:"overdue" yaml:"overdue"`
	Percentage int `json:"percentage" yaml:"percentage"`
}

// Buckets returns the per-bucket counts keyed by bucket name
func (p MigrationProgress) Buckets() map[string]int {
	return map[string]int{
		"completed":   p.Completed,
		"in_progress": p.InProgress,
		"pending":     p.Pending,
		"migrated":    p.Migrated,
		"overdue":     p.Overdue,
	}
}

// UpcomingDeadline is a report row for a user who still has to act
type UpcomingDeadline struct {
	UserID        string          `json:"user_id" yaml:"user_id"`
	Status        MigrationStatus `json:"status" yaml:"status"`
	Deadline      time.Time       `json:"deadline" yaml:"deadline"`
	DaysRemaining int             `json:"days_remaining" yaml:"days_remaining"`
}

// MigrationReport is the operator report
type MigrationReport struct {
	GeneratedAt       time.Time          `json:"generated_at" yaml:"generated_at"`
	Summary           MigrationProgress  `json:"summary" yaml:"summary"`
	UsersByStatus     map[string]int     `json:"users_by_status" yaml:"users_by_status"`
	UpcomingDeadlines []UpcomingDeadline `json:"upcoming_deadlines" yaml:"upcoming_deadlines"`
}

// NotificationCandidate is a user due for a reminder
type NotificationCandidate struct {
	Record        *UserMigrationRecord `json:"record"`
	DaysRemaining int                  `json:"days_remaining"`
}

// PoolMigrationStatus compares account counts of both stores
type PoolMigrationStatus struct {
	LegacyActiveUsers int      `json:"legacy_active_users"`
	NewStoreUsers     int      `json:"new_store_users"`
	Percentage        int      `json:"percentage"`
	UsersToMigrate    []string `json:"users_to_migrate"`
}

// AttemptOutcome is the terminal state of a migration attempt
type AttemptOutcome string

const (
	AttemptSucceeded       AttemptOutcome = "succeeded"
	AttemptFailed          AttemptOutcome = "failed"
	AttemptRolledBack      AttemptOutcome = "rolled_back"
	AttemptAlreadyMigrated AttemptOutcome = "already_migrated"
)

// MigrationAttempt is one audit ledger row
type MigrationAttempt struct {
	AttemptID   string
	UserID      string
	SourceStore string
	TargetStore string
	Outcome     AttemptOutcome
	Error       string
	Warnings    []string
	StartedAt   time.Time
	FinishedAt  time.Time
}
