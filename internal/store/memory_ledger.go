package store

import (
	"context"
	"sync"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

// InMemoryLedger implements Ledger in process memory
type InMemoryLedger struct {
	mu       sync.RWMutex
	attempts []*model.MigrationAttempt
}

// NewInMemoryLedger creates an empty ledger
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{}
}

func copyAttempt(a *model.MigrationAttempt) *model.MigrationAttempt {
	c := *a
	c.Warnings = append([]string(nil), a.Warnings...)
	return &c
}

// Record appends an attempt
func (l *InMemoryLedger) Record(ctx context.Context, attempt *model.MigrationAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, copyAttempt(attempt))
	return nil
}

// ListByUser returns the attempts for userID, oldest first
func (l *InMemoryLedger) ListByUser(ctx context.Context, userID string) ([]*model.MigrationAttempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*model.MigrationAttempt
	for _, a := range l.attempts {
		if a.UserID == userID {
			out = append(out, copyAttempt(a))
		}
	}
	return out, nil
}

// Recent returns up to limit attempts, newest first
func (l *InMemoryLedger) Recent(ctx context.Context, limit int) ([]*model.MigrationAttempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*model.MigrationAttempt
	for i := len(l.attempts) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, copyAttempt(l.attempts[i]))
	}
	return out, nil
}

// Ping always succeeds
func (l *InMemoryLedger) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (l *InMemoryLedger) Close() error {
	return nil
}
