package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/directory"
	migerrors "github.com/yuu551/cognito-mfa-migration/internal/errors"
	"github.com/yuu551/cognito-mfa-migration/internal/metrics"
	"github.com/yuu551/cognito-mfa-migration/internal/model"
	"github.com/yuu551/cognito-mfa-migration/internal/store"
)

// RecordStore reads and updates per-user campaign records
type RecordStore interface {
	GetUserMFAStatus(ctx context.Context, userID string) (*model.UserMigrationRecord, error)
	UpdateLastNotified(ctx context.Context, userID string, at time.Time) error
}

// RecordLister enumerates every record of the source store
type RecordLister interface {
	ListRecords(ctx context.Context) ([]*model.UserMigrationRecord, error)
}

// RecordService keeps UserMigrationRecords for the source store with a
// write-through cache in front of the directory.
type RecordService struct {
	directory directory.Directory
	cache     store.RecordCache
	storeID   string
	settings  model.MigrationSettings
	cacheTTL  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewRecordService creates a new record service
func NewRecordService(
	dir directory.Directory,
	cache store.RecordCache,
	storeID string,
	settings model.MigrationSettings,
	cacheTTL time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RecordService {
	return &RecordService{
		directory: dir,
		cache:     cache,
		storeID:   storeID,
		settings:  settings.Copy(),
		cacheTTL:  cacheTTL,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// GetUserMFAStatus returns the user's record, reading through to the directory on a cache miss.
// Directory errors are returned and never cached.
func (s *RecordService) GetUserMFAStatus(ctx context.Context, userID string) (*model.UserMigrationRecord, error) {
	if userID == "" {
		return nil, migerrors.InvalidArgument("user id is required")
	}

	// Try cache first
	record, err := s.cache.Get(ctx, userID)
	if err == nil {
		s.metrics.RecordCacheLookup(true)
		return record, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Record cache lookup failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	s.metrics.RecordCacheLookup(false)

	// Fetch from directory
	user, err := s.directory.GetUser(ctx, s.storeID, userID)
	if err != nil {
		return nil, mapDirectoryError(userID, err)
	}

	record = s.recordFromUser(user)

	// Cache the result
	if err := s.cache.Set(ctx, record, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache record",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	return record.Clone(), nil
}

// UpdateMigrationStatus writes a new status to the directory and the cache.
func (s *RecordService) UpdateMigrationStatus(ctx context.Context, userID string, status model.MigrationStatus) error {
	if userID == "" {
		return migerrors.InvalidArgument("user id is required")
	}
	if !status.Valid() {
		return migerrors.InvalidArgument(fmt.Sprintf("invalid migration status %q", status))
	}

	now := s.now().UTC()
	attrs := map[string]string{
		model.AttrMigrationStatus: string(status),
		model.AttrLastUpdated:     now.Format(time.RFC3339),
	}
	if err := s.directory.UpdateAttributes(ctx, s.storeID, userID, attrs); err != nil {
		return mapDirectoryError(userID, err)
	}

	s.updateCached(ctx, userID, func(r *model.UserMigrationRecord) {
		r.MigrationStatus = status
	})

	s.logger.Info("Migration status updated",
		zap.String("user_id", userID),
		zap.String("status", string(status)))

	return nil
}

// UpdateLastNotified records when the user was last reminded.
func (s *RecordService) UpdateLastNotified(ctx context.Context, userID string, at time.Time) error {
	attrs := map[string]string{
		model.AttrLastNotified: at.UTC().Format(time.RFC3339),
	}
	if err := s.directory.UpdateAttributes(ctx, s.storeID, userID, attrs); err != nil {
		return mapDirectoryError(userID, err)
	}

	s.updateCached(ctx, userID, func(r *model.UserMigrationRecord) {
		t := at
		r.LastNotified = &t
	})
	return nil
}

// MarkMigrated flips the source record to migrated with a timestamp.
func (s *RecordService) MarkMigrated(ctx context.Context, userID string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)
	attrs := map[string]string{
		model.AttrMigrationStatus: string(model.MigrationStatusMigrated),
		model.AttrMigrationDate:   ts,
		model.AttrLastUpdated:     ts,
	}
	if err := s.directory.UpdateAttributes(ctx, s.storeID, userID, attrs); err != nil {
		return mapDirectoryError(userID, err)
	}

	s.updateCached(ctx, userID, func(r *model.UserMigrationRecord) {
		r.MigrationStatus = model.MigrationStatusMigrated
		r.Enabled = false
	})
	return nil
}

// Invalidate drops the cached record so the next read goes to the directory.
func (s *RecordService) Invalidate(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("Failed to invalidate cached record",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// ListRecords reads every account of the source store from the directory,
// following pagination to the end. The directory is authoritative here.
func (s *RecordService) ListRecords(ctx context.Context) ([]*model.UserMigrationRecord, error) {
	users, err := listAllUsers(ctx, s.directory, s.storeID)
	if err != nil {
		return nil, err
	}

	records := make([]*model.UserMigrationRecord, 0, len(users))
	for _, u := range users {
		records = append(records, s.recordFromUser(u))
	}
	return records, nil
}

// updateCached applies mutate to a cached entry. A miss needs no update
// because the next read goes to the directory.
func (s *RecordService) updateCached(ctx context.Context, userID string, mutate func(*model.UserMigrationRecord)) {
	record, err := s.cache.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			// drop the entry so a stale value cannot be served
			s.Invalidate(ctx, userID)
		}
		return
	}
	mutate(record)
	if err := s.cache.Set(ctx, record, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to update cached record",
			zap.String("user_id", userID),
			zap.Error(err))
		s.Invalidate(ctx, userID)
	}
}

// recordFromUser builds a record from directory attributes, falling back
// to campaign defaults for missing or malformed values.
func (s *RecordService) recordFromUser(user *directory.User) *model.UserMigrationRecord {
	record := &model.UserMigrationRecord{
		UserID:            user.Username,
		MFAEnabled:        len(user.MFAFactors) > 0,
		MFAMethods:        append([]string(nil), user.MFAFactors...),
		MigrationStatus:   model.MigrationStatusPending,
		MigrationDeadline: s.settings.Deadline,
		Email:             user.Attr(model.AttrEmail),
		PhoneNumber:       user.Attr(model.AttrPhoneNumber),
		Enabled:           user.Enabled,
	}

	if v := user.Attr(model.AttrMigrationStatus); v != "" {
		if status := model.MigrationStatus(v); status.Valid() {
			record.MigrationStatus = status
		} else {
			s.logger.Warn("Ignoring unknown migration status",
				zap.String("user_id", user.Username),
				zap.String("status", v))
		}
	}

	if v := user.Attr(model.AttrMigrationDeadline); v != "" {
		if t, err := parseTimestamp(v); err == nil {
			record.MigrationDeadline = t
		} else {
			s.logger.Warn("Ignoring malformed migration deadline",
				zap.String("user_id", user.Username),
				zap.String("deadline", v))
		}
	}

	if v := user.Attr(model.AttrLastNotified); v != "" {
		if t, err := parseTimestamp(v); err == nil {
			record.LastNotified = &t
		} else {
			s.logger.Warn("Ignoring malformed last notified timestamp",
				zap.String("user_id", user.Username),
				zap.String("last_notified", v))
		}
	}

	return record
}

func parseTimestamp(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

// listAllUsers follows ListUsers pagination until the token is empty.
func listAllUsers(ctx context.Context, dir directory.Directory, storeID string) ([]*directory.User, error) {
	var users []*directory.User
	token := ""
	for {
		page, err := dir.ListUsers(ctx, storeID, token)
		if err != nil {
			return nil, migerrors.TransientDirectory("", fmt.Errorf("list users of %s: %w", storeID, err))
		}
		users = append(users, page.Users...)
		if page.NextPageToken == "" {
			return users, nil
		}
		token = page.NextPageToken
	}
}

// mapDirectoryError converts directory errors into the migration taxonomy.
func mapDirectoryError(userID string, err error) error {
	if errors.Is(err, directory.ErrUserNotFound) {
		return migerrors.NotFound(userID)
	}
	if errors.Is(err, directory.ErrStoreNotFound) {
		return migerrors.NewMigrationError(migerrors.ErrCodeConfiguration, userID, "store not found", err)
	}
	return migerrors.TransientDirectory(userID, err)
}
