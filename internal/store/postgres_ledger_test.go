package store

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

// fakeRows yields fixed attempt rows in ledger column order
type fakeRows struct {
	pgx.Rows
	rows    [][]interface{}
	pos     int
	scanErr error
	err     error
	closed  bool
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.rows[r.pos-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *[]string:
			*p = row[i].([]string)
		case *time.Time:
			*p = row[i].(time.Time)
		default:
			return errors.New("unexpected destination type")
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return r.err }
func (r *fakeRows) Close()     { r.closed = true }

func attemptRow(id, userID, outcome string, started time.Time) []interface{} {
	return []interface{}{
		id, userID, "legacy-pool", "mfa-required-pool", outcome, "",
		[]string{"failed to add user to group admins"}, started, started.Add(time.Second),
	}
}

func TestScanAttempts(t *testing.T) {
	started := time.Date(2025, 8, 2, 9, 0, 0, 0, time.UTC)
	rows := &fakeRows{rows: [][]interface{}{
		attemptRow("a1", "alice", "rolled_back", started),
		attemptRow("a2", "alice", "succeeded", started.Add(time.Hour)),
	}}

	attempts, err := scanAttempts(rows)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.True(t, rows.closed)

	assert.Equal(t, model.AttemptRolledBack, attempts[0].Outcome)
	assert.Equal(t, model.AttemptSucceeded, attempts[1].Outcome)
	assert.Equal(t, "mfa-required-pool", attempts[1].TargetStore)
	assert.Equal(t, []string{"failed to add user to group admins"}, attempts[1].Warnings)
	assert.Equal(t, started.Add(time.Hour+time.Second), attempts[1].FinishedAt)
}

func TestScanAttempts_Errors(t *testing.T) {
	started := time.Date(2025, 8, 2, 9, 0, 0, 0, time.UTC)

	rows := &fakeRows{
		rows:    [][]interface{}{attemptRow("a1", "alice", "failed", started)},
		scanErr: errors.New("type mismatch"),
	}
	_, err := scanAttempts(rows)
	assert.ErrorContains(t, err, "failed to scan attempt")
	assert.True(t, rows.closed)

	rows = &fakeRows{err: errors.New("connection reset")}
	_, err = scanAttempts(rows)
	assert.ErrorContains(t, err, "connection reset")
}

// TestPostgresLedger runs against a real database when
// MFA_MIGRATION_TEST_POSTGRES_HOST is set.
func TestPostgresLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	host := os.Getenv("MFA_MIGRATION_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("MFA_MIGRATION_TEST_POSTGRES_HOST not set")
	}
	port := 5432
	if v := os.Getenv("MFA_MIGRATION_TEST_POSTGRES_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		require.NoError(t, err)
		port = p
	}

	ctx := context.Background()
	ledger, err := NewPostgresLedger(ctx, host, port,
		envOr("MFA_MIGRATION_TEST_POSTGRES_DB", "mfa_migration"),
		envOr("MFA_MIGRATION_TEST_POSTGRES_USER", "mfa_migration"),
		os.Getenv("MFA_MIGRATION_TEST_POSTGRES_PASSWORD"),
		2, 1, zap.NewNop())
	require.NoError(t, err)
	defer ledger.Close()

	require.NoError(t, ledger.Ping(ctx))

	userID := "ledger-test-" + uuid.NewString()
	started := time.Now().UTC().Truncate(time.Microsecond)
	for i, outcome := range []model.AttemptOutcome{model.AttemptRolledBack, model.AttemptSucceeded} {
		at := started.Add(time.Duration(i) * time.Minute)
		require.NoError(t, ledger.Record(ctx, &model.MigrationAttempt{
			AttemptID:   uuid.NewString(),
			UserID:      userID,
			SourceStore: "legacy-pool",
			TargetStore: "mfa-required-pool",
			Outcome:     outcome,
			StartedAt:   at,
			FinishedAt:  at.Add(time.Second),
		}))
	}

	attempts, err := ledger.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, model.AttemptRolledBack, attempts[0].Outcome)
	assert.Equal(t, model.AttemptSucceeded, attempts[1].Outcome)
	assert.Empty(t, attempts[0].Warnings)

	recent, err := ledger.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
