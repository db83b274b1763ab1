package store

import (
	"context"
	"errors"
	"time"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// RecordCache caches UserMigrationRecords in front of the identity directory.
// A ttl of 0 keeps the entry until it is overwritten or deleted.
type RecordCache interface {
	Get(ctx context.Context, userID string) (*model.UserMigrationRecord, error)
	Set(ctx context.Context, record *model.UserMigrationRecord, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

// Ledger is the audit trail of migration attempts
type Ledger interface {
	Record(ctx context.Context, attempt *model.MigrationAttempt) error
	ListByUser(ctx context.Context, userID string) ([]*model.MigrationAttempt, error)
	Recent(ctx context.Context, limit int) ([]*model.MigrationAttempt, error)
	Ping(ctx context.Context) error
	Close() error
}
