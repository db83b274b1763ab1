package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS migration_attempts (
	attempt_id   TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	source_store TEXT NOT NULL,
	target_store TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	warnings     TEXT[] NOT NULL DEFAULT '{}',
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS migration_attempts_user_idx ON migration_attempts (user_id, started_at);
`

// PostgresLedger implements Ledger for PostgreSQL
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a new PostgreSQL ledger and ensures its table exists
func NewPostgresLedger(
	ctx context.Context,
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresLedger, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, ledgerSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}

	return &PostgresLedger{pool: pool, logger: logger}, nil
}

// Record inserts an attempt
func (l *PostgresLedger) Record(ctx context.Context, attempt *model.MigrationAttempt) error {
	query := `
		INSERT INTO migration_attempts
			(attempt_id, user_id, source_store, target_store, outcome, error, warnings, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	warnings := attempt.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	_, err := l.pool.Exec(ctx, query,
		attempt.AttemptID,
		attempt.UserID,
		attempt.SourceStore,
		attempt.TargetStore,
		string(attempt.Outcome),
		attempt.Error,
		warnings,
		attempt.StartedAt,
		attempt.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// ListByUser returns the attempts for userID, oldest first
func (l *PostgresLedger) ListByUser(ctx context.Context, userID string) ([]*model.MigrationAttempt, error) {
	query := `
		SELECT attempt_id, user_id, source_store, target_store, outcome, error, warnings, started_at, finished_at
		FROM migration_attempts
		WHERE user_id = $1
		ORDER BY started_at
	`
	rows, err := l.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return scanAttempts(rows)
}

// Recent returns up to limit attempts, newest first
func (l *PostgresLedger) Recent(ctx context.Context, limit int) ([]*model.MigrationAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT attempt_id, user_id, source_store, target_store, outcome, error, warnings, started_at, finished_at
		FROM migration_attempts
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return scanAttempts(rows)
}

func scanAttempts(rows pgx.Rows) ([]*model.MigrationAttempt, error) {
	defer rows.Close()

	var attempts []*model.MigrationAttempt
	for rows.Next() {
		var a model.MigrationAttempt
		var outcome string
		if err := rows.Scan(
			&a.AttemptID,
			&a.UserID,
			&a.SourceStore,
			&a.TargetStore,
			&outcome,
			&a.Error,
			&a.Warnings,
			&a.StartedAt,
			&a.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Outcome = model.AttemptOutcome(outcome)
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// Ping checks database connectivity
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close closes the pool
func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
