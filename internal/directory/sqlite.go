package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stores (
	store_id          TEXT PRIMARY KEY,
	mfa_configuration TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	store_id             TEXT NOT NULL,
	username             TEXT NOT NULL,
	enabled              INTEGER NOT NULL DEFAULT 1,
	status               TEXT NOT NULL,
	credential           TEXT NOT NULL DEFAULT '',
	credential_permanent INTEGER NOT NULL DEFAULT 0,
	mfa_factors          TEXT NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL,
	PRIMARY KEY (store_id, username),
	FOREIGN KEY (store_id) REFERENCES stores(store_id)
);

CREATE TABLE IF NOT EXISTS user_attributes (
	store_id TEXT NOT NULL,
	username TEXT NOT NULL,
	name     TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (store_id, username, name),
	FOREIGN KEY (store_id, username) REFERENCES users(store_id, username) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS user_groups (
	store_id   TEXT NOT NULL,
	username   TEXT NOT NULL,
	group_name TEXT NOT NULL,
	PRIMARY KEY (store_id, username, group_name),
	FOREIGN KEY (store_id, username) REFERENCES users(store_id, username) ON DELETE CASCADE
);
`

// SQLiteDirectory keeps both identity stores in a local SQLite file.
// It backs local runs and rehearsals of a campaign without a cloud directory.
type SQLiteDirectory struct {
	db       *sql.DB
	pageSize int
	logger   *zap.Logger
}

// NewSQLiteDirectory opens (or creates) the database at path
func NewSQLiteDirectory(path string, logger *zap.Logger) (*SQLiteDirectory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite directory: %w", err)
	}
	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("SQLite directory opened", zap.String("path", path))

	return &SQLiteDirectory{db: db, pageSize: DefaultPageSize, logger: logger}, nil
}

// Close closes the database
func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}

// EnsureStore creates the store row if missing and sets its MFA mode
func (d *SQLiteDirectory) EnsureStore(ctx context.Context, storeID string, mfa model.MFAConfiguration) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO stores (store_id, mfa_configuration) VALUES (?, ?)
		ON CONFLICT(store_id) DO UPDATE SET mfa_configuration = excluded.mfa_configuration
	`, storeID, string(mfa))
	if err != nil {
		return fmt.Errorf("failed to ensure store: %w", err)
	}
	return nil
}

// ImportUser inserts or replaces an account together with its groups
func (d *SQLiteDirectory) ImportUser(ctx context.Context, storeID string, user *User, groups []string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	status := user.Status
	if status == "" {
		status = "CONFIRMED"
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE store_id = ? AND username = ?`, storeID, user.Username); err != nil {
		return fmt.Errorf("failed to replace user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (store_id, username, enabled, status, mfa_factors, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, storeID, user.Username, boolToInt(user.Enabled), status, strings.Join(user.MFAFactors, ","), createdAt.Unix()); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	if err := putAttributes(ctx, tx, storeID, user.Username, user.Attributes); err != nil {
		return err
	}
	for _, g := range groups {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO user_groups (store_id, username, group_name) VALUES (?, ?, ?)
		`, storeID, user.Username, g); err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}
	}
	return tx.Commit()
}

// GetUser implements Directory
func (d *SQLiteDirectory) GetUser(ctx context.Context, storeID, userID string) (*User, error) {
	user := &User{Username: userID}
	var enabled int
	var factors string
	var createdAt int64

	err := d.db.QueryRowContext(ctx, `
		SELECT enabled, status, mfa_factors, created_at FROM users
		WHERE store_id = ? AND username = ?
	`, storeID, userID).Scan(&enabled, &user.Status, &factors, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Enabled = enabled == 1
	user.CreatedAt = time.Unix(createdAt, 0)
	if factors != "" {
		user.MFAFactors = strings.Split(factors, ",")
	}

	attrs, err := d.attributes(ctx, storeID, userID)
	if err != nil {
		return nil, err
	}
	user.Attributes = attrs
	return user, nil
}

func (d *SQLiteDirectory) attributes(ctx context.Context, storeID, userID string) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT name, value FROM user_attributes WHERE store_id = ? AND username = ?
	`, storeID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes: %w", err)
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		attrs[name] = value
	}
	return attrs, rows.Err()
}

// CreateUser implements Directory
func (d *SQLiteDirectory) CreateUser(ctx context.Context, storeID, userID string, attributes map[string]string, tempCredential string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE store_id = ? AND username = ?`, storeID, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if exists > 0 {
		return ErrUserExists
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (store_id, username, enabled, status, credential, created_at)
		VALUES (?, ?, 1, 'FORCE_CHANGE_PASSWORD', ?, ?)
	`, storeID, userID, tempCredential, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if err := putAttributes(ctx, tx, storeID, userID, attributes); err != nil {
		return err
	}
	return tx.Commit()
}

// SetPermanentCredential implements Directory
func (d *SQLiteDirectory) SetPermanentCredential(ctx context.Context, storeID, userID, credential string) error {
	return d.execUser(ctx, `
		UPDATE users SET credential = ?, credential_permanent = 1, status = 'CONFIRMED'
		WHERE store_id = ? AND username = ?
	`, credential, storeID, userID)
}

// DisableUser implements Directory
func (d *SQLiteDirectory) DisableUser(ctx context.Context, storeID, userID string) error {
	return d.execUser(ctx, `UPDATE users SET enabled = 0 WHERE store_id = ? AND username = ?`, storeID, userID)
}

// DeleteUser implements Directory
func (d *SQLiteDirectory) DeleteUser(ctx context.Context, storeID, userID string) error {
	return d.execUser(ctx, `DELETE FROM users WHERE store_id = ? AND username = ?`, storeID, userID)
}

func (d *SQLiteDirectory) execUser(ctx context.Context, query string, args ...interface{}) error {
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("directory write failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("directory write failed: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateAttributes implements Directory
func (d *SQLiteDirectory) UpdateAttributes(ctx context.Context, storeID, userID string, attributes map[string]string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE store_id = ? AND username = ?`, storeID, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if exists == 0 {
		return ErrUserNotFound
	}
	if err := putAttributes(ctx, tx, storeID, userID, attributes); err != nil {
		return err
	}
	return tx.Commit()
}

// ListUsers implements Directory. Page tokens are row offsets.
func (d *SQLiteDirectory) ListUsers(ctx context.Context, storeID, pageToken string) (*UserPage, error) {
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
		offset = n
	}

	// fetch one extra row to know whether another page exists
	rows, err := d.db.QueryContext(ctx, `
		SELECT username FROM users WHERE store_id = ?
		ORDER BY username LIMIT ? OFFSET ?
	`, storeID, d.pageSize+1, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	page := &UserPage{}
	if len(names) > d.pageSize {
		names = names[:d.pageSize]
		page.NextPageToken = strconv.Itoa(offset + d.pageSize)
	}
	for _, name := range names {
		user, err := d.GetUser(ctx, storeID, name)
		if err != nil {
			return nil, err
		}
		page.Users = append(page.Users, user)
	}
	return page, nil
}

// ListGroupsForUser implements Directory
func (d *SQLiteDirectory) ListGroupsForUser(ctx context.Context, storeID, userID string) ([]string, error) {
	if _, err := d.GetUser(ctx, storeID, userID); err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT group_name FROM user_groups WHERE store_id = ? AND username = ? ORDER BY group_name
	`, storeID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AddUserToGroup implements Directory
func (d *SQLiteDirectory) AddUserToGroup(ctx context.Context, storeID, userID, group string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_groups (store_id, username, group_name) VALUES (?, ?, ?)
	`, storeID, userID, group)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to add group: %w", err)
	}
	return nil
}

// DescribeStore implements Directory
func (d *SQLiteDirectory) DescribeStore(ctx context.Context, storeID string) (*StoreInfo, error) {
	var mfa string
	err := d.db.QueryRowContext(ctx, `SELECT mfa_configuration FROM stores WHERE store_id = ?`, storeID).Scan(&mfa)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to describe store: %w", err)
	}
	return &StoreInfo{StoreID: storeID, MFAConfiguration: model.MFAConfiguration(mfa)}, nil
}

func putAttributes(ctx context.Context, tx *sql.Tx, storeID, userID string, attributes map[string]string) error {
	for name, value := range attributes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_attributes (store_id, username, name, value) VALUES (?, ?, ?, ?)
			ON CONFLICT(store_id, username, name) DO UPDATE SET value = excluded.value
		`, storeID, userID, name, value); err != nil {
			return fmt.Errorf("failed to write attribute %s: %w", name, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
