package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yuu551/cognito-mfa-migration/internal/directory"
	migerrors "github.com/yuu551/cognito-mfa-migration/internal/errors"
	"github.com/yuu551/cognito-mfa-migration/internal/metrics"
	"github.com/yuu551/cognito-mfa-migration/internal/model"
	"github.com/yuu551/cognito-mfa-migration/internal/policy"
	"github.com/yuu551/cognito-mfa-migration/internal/store"
)

const (
	// DefaultBatchSize is the chunk size used when the caller passes none
	DefaultBatchSize = 10
	// DefaultInterChunkDelay spaces out chunks to stay under directory rate limits
	DefaultInterChunkDelay = time.Second

	rollbackTimeout = 10 * time.Second
	ledgerTimeout   = 5 * time.Second
)

// MigrationMarker flips the source record once a migration committed
type MigrationMarker interface {
	MarkMigrated(ctx context.Context, userID string, at time.Time) error
}

// MigrationServiceConfig holds the stores and pacing for migrations
type MigrationServiceConfig struct {
	Legacy          model.PoolConfig
	Target          model.PoolConfig
	Settings        model.MigrationSettings
	BatchSize       int
	InterChunkDelay time.Duration
}

// MigrationService moves accounts from the legacy store to the MFA-required
// store. After any terminal outcome either no target account exists, or a
// fully populated target exists and the source account is disabled.
type MigrationService struct {
	directory       directory.Directory
	records         MigrationMarker
	ledger          store.Ledger
	credentials     *CredentialGenerator
	scheduler       *Scheduler
	legacy          model.PoolConfig
	target          model.PoolConfig
	settings        model.MigrationSettings
	batchSize       int
	interChunkDelay time.Duration
	metrics         *metrics.Metrics
	logger          *zap.Logger
	now             func() time.Time
}

// NewMigrationService creates a new migration service
func NewMigrationService(
	dir directory.Directory,
	records MigrationMarker,
	ledger store.Ledger,
	credentials *CredentialGenerator,
	scheduler *Scheduler,
	cfg MigrationServiceConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *MigrationService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.InterChunkDelay < 0 {
		cfg.InterChunkDelay = DefaultInterChunkDelay
	}
	if credentials == nil {
		credentials = NewCredentialGenerator(DefaultCredentialLength)
	}

	return &MigrationService{
		directory:       dir,
		records:         records,
		ledger:          ledger,
		credentials:     credentials,
		scheduler:       scheduler,
		legacy:          cfg.Legacy,
		target:          cfg.Target,
		settings:        cfg.Settings.Copy(),
		batchSize:       cfg.BatchSize,
		interChunkDelay: cfg.InterChunkDelay,
		metrics:         m,
		logger:          logger,
		now:             time.Now,
	}
}

// MigrateUser moves one account. An empty credential is replaced by a
// generated one. Failures are reported in the result, never as a panic or error.
func (s *MigrationService) MigrateUser(ctx context.Context, userID, credential string) *model.MigrationResult {
	started := s.now()

	result, outcome := s.migrate(ctx, userID, credential)

	s.metrics.RecordMigration(string(outcome), s.now().Sub(started))
	s.recordAttempt(ctx, &model.MigrationAttempt{
		AttemptID:   uuid.NewString(),
		UserID:      userID,
		SourceStore: s.legacy.StoreID,
		TargetStore: s.target.StoreID,
		Outcome:     outcome,
		Error:       result.Error,
		Warnings:    result.Warnings,
		StartedAt:   started,
		FinishedAt:  s.now(),
	})

	if result.Success {
		s.logger.Info("User migrated",
			zap.String("user_id", userID),
			zap.String("outcome", string(outcome)),
			zap.Int("warnings", len(result.Warnings)))
	} else {
		s.logger.Warn("User migration failed",
			zap.String("user_id", userID),
			zap.String("outcome", string(outcome)),
			zap.String("error", result.Error))
	}
	return result
}

func (s *MigrationService) migrate(ctx context.Context, userID, credential string) (*model.MigrationResult, model.AttemptOutcome) {
	result := &model.MigrationResult{UserID: userID}
	fail := func(err error) (*model.MigrationResult, model.AttemptOutcome) {
		result.Success = false
		result.Error = err.Error()
		return result, model.AttemptFailed
	}

	if userID == "" {
		return fail(migerrors.InvalidArgument("user id is required"))
	}

	// Step 1: read the source account
	source, err := s.directory.GetUser(ctx, s.legacy.StoreID, userID)
	if err != nil {
		return fail(mapDirectoryError(userID, err))
	}
	if source.Attr(model.AttrMigrationStatus) == string(model.MigrationStatusMigrated) {
		result.Success = true
		result.AlreadyMigrated = true
		result.NewUserID = userID
		return result, model.AttemptAlreadyMigrated
	}

	// Step 2: a tagged target account means an earlier run stopped after creating it
	resume := false
	existing, err := s.directory.GetUser(ctx, s.target.StoreID, userID)
	switch {
	case err == nil:
		if existing.Attr(model.AttrMigratedFrom) != s.legacy.StoreID {
			return fail(migerrors.Conflict(userID, "target account exists and was not created by this migration"))
		}
		resume = true
		result.Warnings = append(result.Warnings, "target account already existed, resuming earlier migration")
		s.logger.Info("Resuming interrupted migration", zap.String("user_id", userID))
	case !errors.Is(err, directory.ErrUserNotFound):
		return fail(mapDirectoryError(userID, err))
	}

	// A disabled source next to a tagged target was already committed.
	// Only the status flip is left; the target is never touched again.
	if resume && !source.Enabled {
		return s.completeCommitted(ctx, result)
	}

	if credential == "" {
		credential, err = s.credentials.Generate()
		if err != nil {
			return fail(migerrors.Internal("failed to generate credential", err))
		}
		if resume {
			result.Warnings = append(result.Warnings, "credential of the resumed target account was regenerated")
		}
	}

	// Step 3: create the target account
	if !resume {
		if err := s.createTarget(ctx, source); err != nil {
			return fail(err)
		}
	}

	if err := s.directory.SetPermanentCredential(ctx, s.target.StoreID, userID, credential); err != nil {
		return s.rollback(ctx, result, migerrors.FatalCreation(userID, "failed to set credential", err))
	}

	// Step 4: copy attributes and groups
	transfer := s.transfer(ctx, source)
	if transfer.Status == model.TransferFailed {
		return s.rollback(ctx, result, transfer.Err)
	}
	if len(transfer.Warnings) > 0 {
		s.metrics.RecordTransferWarnings(len(transfer.Warnings))
		result.Warnings = append(result.Warnings, transfer.Warnings...)
	}

	// Step 5: commit by disabling the source
	if err := s.directory.DisableUser(ctx, s.legacy.StoreID, userID); err != nil {
		return s.rollback(ctx, result, migerrors.PartialTransfer(userID, "failed to disable source account", err))
	}

	if err := s.records.MarkMigrated(ctx, userID, s.now()); err != nil {
		s.metrics.RecordBestEffortFailure("mark_migrated")
		result.Warnings = append(result.Warnings, fmt.Sprintf("source disabled but status not updated: %v", err))
	}

	result.Success = true
	result.NewUserID = userID
	return result, model.AttemptSucceeded
}

// completeCommitted marks a migration migrated whose source is already
// disabled. Failures are reported without rollback: the target account is
// the user's only usable one.
func (s *MigrationService) completeCommitted(ctx context.Context, result *model.MigrationResult) (*model.MigrationResult, model.AttemptOutcome) {
	userID := result.UserID
	if err := s.records.MarkMigrated(ctx, userID, s.now()); err != nil {
		s.metrics.RecordBestEffortFailure("mark_migrated")
		result.Success = false
		result.Error = fmt.Sprintf("source already disabled but status not updated: %v", err)
		return result, model.AttemptFailed
	}

	s.logger.Info("Completed committed migration", zap.String("user_id", userID))
	result.Success = true
	result.AlreadyMigrated = true
	result.NewUserID = userID
	result.Warnings = append(result.Warnings, "source account already disabled, status updated")
	return result, model.AttemptAlreadyMigrated
}

func (s *MigrationService) createTarget(ctx context.Context, source *directory.User) error {
	attrs := map[string]string{
		model.AttrMigratedFrom:  s.legacy.StoreID,
		model.AttrMigrationDate: s.now().UTC().Format(time.RFC3339),
	}
	if v := source.Attr(model.AttrEmail); v != "" {
		attrs[model.AttrEmail] = v
	}
	if v := source.Attr(model.AttrPhoneNumber); v != "" {
		attrs[model.AttrPhoneNumber] = v
	}

	temp, err := s.credentials.Generate()
	if err != nil {
		return migerrors.Internal("failed to generate temporary credential", err)
	}

	if err := s.directory.CreateUser(ctx, s.target.StoreID, source.Username, attrs, temp); err != nil {
		if errors.Is(err, directory.ErrUserExists) {
			return migerrors.Conflict(source.Username, "target account was created concurrently")
		}
		return migerrors.FatalCreation(source.Username, "failed to create target account", err)
	}
	return nil
}

// transfer copies custom attributes and group memberships. Group add
// failures are warnings; anything else fails the transfer.
func (s *MigrationService) transfer(ctx context.Context, source *directory.User) model.TransferResult {
	userID := source.Username

	attrs := make(map[string]string)
	for name, value := range source.Attributes {
		if strings.HasPrefix(name, model.CustomAttrPrefix) && !model.IsBookkeepingAttr(name) {
			attrs[name] = value
		}
	}
	if len(attrs) > 0 {
		if err := s.directory.UpdateAttributes(ctx, s.target.StoreID, userID, attrs); err != nil {
			return model.TransferResult{
				Status: model.TransferFailed,
				Err:    migerrors.PartialTransfer(userID, "failed to copy attributes", err),
			}
		}
	}

	groups, err := s.directory.ListGroupsForUser(ctx, s.legacy.StoreID, userID)
	if err != nil {
		return model.TransferResult{
			Status: model.TransferFailed,
			Err:    migerrors.PartialTransfer(userID, "failed to list source groups", err),
		}
	}

	var warnings []string
	for _, group := range groups {
		if err := s.directory.AddUserToGroup(ctx, s.target.StoreID, userID, group); err != nil {
			s.logger.Warn("Failed to add user to group",
				zap.String("user_id", userID),
				zap.String("group", group),
				zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("failed to add user to group %s: %v", group, err))
		}
	}

	if len(warnings) > 0 {
		return model.TransferResult{Status: model.TransferOKWithWarnings, Warnings: warnings}
	}
	return model.TransferResult{Status: model.TransferOK}
}

// rollback deletes the target account. The primary error is what gets reported.
func (s *MigrationService) rollback(ctx context.Context, result *model.MigrationResult, primary error) (*model.MigrationResult, model.AttemptOutcome) {
	userID := result.UserID

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	err := s.directory.DeleteUser(rbCtx, s.target.StoreID, userID)
	if err != nil && !errors.Is(err, directory.ErrUserNotFound) {
		s.metrics.RecordRollback("failed")
		s.logger.Error("Rollback failed, target account left behind",
			zap.String("user_id", userID),
			zap.String("target_store", s.target.StoreID),
			zap.NamedError("primary_error", primary),
			zap.Error(err))
		result.Warnings = append(result.Warnings, fmt.Sprintf("rollback failed: %v", err))
	} else {
		s.metrics.RecordRollback("ok")
		s.logger.Info("Rolled back target account",
			zap.String("user_id", userID),
			zap.NamedError("primary_error", primary))
	}

	result.Success = false
	result.NewUserID = ""
	result.Error = primary.Error()
	return result, model.AttemptRolledBack
}

func (s *MigrationService) recordAttempt(ctx context.Context, attempt *model.MigrationAttempt) {
	if s.ledger == nil {
		return
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := s.ledger.Record(lctx, attempt); err != nil {
		s.metrics.RecordBestEffortFailure("ledger_record")
		s.logger.Warn("Failed to record migration attempt",
			zap.String("user_id", attempt.UserID),
			zap.Error(err))
	}
}

// BatchMigrate migrates userIDs in chunks of batchSize. Users of a chunk run
// in parallel; chunks run one after another with a pause between them.
func (s *MigrationService) BatchMigrate(ctx context.Context, userIDs []string, batchSize int) *model.BatchMigrationResult {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	ids := dedupe(userIDs)
	result := &model.BatchMigrationResult{
		Successful: []string{},
		Failed:     []model.BatchFailure{},
	}

	s.logger.Info("Starting batch migration",
		zap.Int("users", len(ids)),
		zap.Int("batch_size", batchSize))

	for start := 0; start < len(ids); start += batchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.interChunkDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			for _, id := range ids[start:] {
				result.Failed = append(result.Failed, model.BatchFailure{UserID: id, Error: err.Error()})
			}
			s.logger.Warn("Batch migration cancelled",
				zap.Int("remaining", len(ids)-start),
				zap.Error(err))
			break
		}

		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		s.migrateChunk(ctx, ids[start:end], result)
	}

	s.logger.Info("Batch migration finished",
		zap.Int("successful", len(result.Successful)),
		zap.Int("failed", len(result.Failed)))

	return result
}

func (s *MigrationService) migrateChunk(ctx context.Context, chunk []string, result *model.BatchMigrationResult) {
	outcomes := make([]*model.MigrationResult, len(chunk))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range chunk {
		i, id := i, id
		g.Go(func() error {
			r := s.MigrateUser(gctx, id, "")
			mu.Lock()
			outcomes[i] = r
			mu.Unlock()
			// never return the failure: siblings must keep running
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range outcomes {
		if r.Success {
			result.Successful = append(result.Successful, r.UserID)
		} else {
			result.Failed = append(result.Failed, model.BatchFailure{UserID: r.UserID, Error: r.Error})
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Reconcile commits migrations that stopped after the target account was
// created: the source is disabled and marked migrated.
func (s *MigrationService) Reconcile(ctx context.Context) (*model.BatchMigrationResult, error) {
	users, err := listAllUsers(ctx, s.directory, s.legacy.StoreID)
	if err != nil {
		return nil, err
	}

	result := &model.BatchMigrationResult{
		Successful: []string{},
		Failed:     []model.BatchFailure{},
	}

	for _, u := range users {
		if u.Attr(model.AttrMigrationStatus) == string(model.MigrationStatusMigrated) {
			continue
		}

		target, err := s.directory.GetUser(ctx, s.target.StoreID, u.Username)
		if errors.Is(err, directory.ErrUserNotFound) {
			continue
		}
		if err != nil {
			result.Failed = append(result.Failed, model.BatchFailure{UserID: u.Username, Error: mapDirectoryError(u.Username, err).Error()})
			continue
		}
		if target.Attr(model.AttrMigratedFrom) != s.legacy.StoreID {
			continue
		}

		if u.Enabled {
			if err := s.directory.DisableUser(ctx, s.legacy.StoreID, u.Username); err != nil {
				result.Failed = append(result.Failed, model.BatchFailure{UserID: u.Username, Error: mapDirectoryError(u.Username, err).Error()})
				continue
			}
		}
		if err := s.records.MarkMigrated(ctx, u.Username, s.now()); err != nil {
			result.Failed = append(result.Failed, model.BatchFailure{UserID: u.Username, Error: err.Error()})
			continue
		}

		s.logger.Info("Reconciled interrupted migration", zap.String("user_id", u.Username))
		result.Successful = append(result.Successful, u.Username)
	}

	return result, nil
}

// ScheduleUserMigration migrates userID at the given time, or now when at is
// not in the future. The immediate result is nil when the job was scheduled.
func (s *MigrationService) ScheduleUserMigration(ctx context.Context, userID string, at, now time.Time) (string, *model.MigrationResult) {
	key := "migrate:" + userID
	if !at.After(now) {
		return key, s.MigrateUser(ctx, userID, "")
	}

	s.scheduler.Schedule(key, at.Sub(now), func(ctx context.Context) {
		s.MigrateUser(ctx, userID, "")
	})
	s.logger.Info("Migration scheduled",
		zap.String("user_id", userID),
		zap.Time("at", at))
	return key, nil
}

// CancelScheduled cancels a scheduled migration or notification by key
func (s *MigrationService) CancelScheduled(key string) bool {
	return s.scheduler.Cancel(key)
}

// ValidateReadiness checks both stores before migrations start
func (s *MigrationService) ValidateReadiness(ctx context.Context, now time.Time) *model.ReadinessReport {
	report := &model.ReadinessReport{
		Issues:          []string{},
		Recommendations: []string{},
	}

	if s.legacy.StoreID == s.target.StoreID {
		report.Issues = append(report.Issues,
			fmt.Sprintf("legacy and new store must differ, both are %q", s.legacy.StoreID))
	}

	report.Issues = append(report.Issues,
		s.checkStore(ctx, "legacy", s.legacy, model.MFAConfigurationOptional)...)
	report.Issues = append(report.Issues,
		s.checkStore(ctx, "new", s.target, model.MFAConfigurationOn)...)

	if !now.Before(s.settings.Deadline) {
		report.Issues = append(report.Issues,
			fmt.Sprintf("migration deadline %s has already passed", s.settings.Deadline.Format("2006-01-02")))
	}

	if days := policy.DaysUntil(now, s.settings.Deadline); days < 7 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("Consider extending the deadline: only %d days remain", days))
	}
	report.Recommendations = append(report.Recommendations,
		"Run the migration against a small subset of users first",
		"Prepare user communication before enforcing MFA",
		"Monitor migration progress and failed attempts",
	)

	report.Ready = len(report.Issues) == 0
	return report
}

func (s *MigrationService) checkStore(ctx context.Context, role string, pool model.PoolConfig, want model.MFAConfiguration) []string {
	var issues []string

	info, err := s.directory.DescribeStore(ctx, pool.StoreID)
	if err != nil {
		return []string{fmt.Sprintf("cannot describe %s store %q: %v", role, pool.StoreID, err)}
	}

	if info.MFAConfiguration != want {
		issues = append(issues, fmt.Sprintf("%s store %q must have MFA %s, found %s",
			role, pool.StoreID, want, info.MFAConfiguration))
	}
	if pool.MFAConfiguration != "" && pool.MFAConfiguration != info.MFAConfiguration {
		err := migerrors.Configuration(fmt.Sprintf("%s store %q is configured as MFA %s but is %s",
			role, pool.StoreID, pool.MFAConfiguration, info.MFAConfiguration))
		issues = append(issues, err.Error())
	}
	return issues
}

// PoolStatus compares the account counts of both stores
func (s *MigrationService) PoolStatus(ctx context.Context) (*model.PoolMigrationStatus, error) {
	legacyUsers, err := listAllUsers(ctx, s.directory, s.legacy.StoreID)
	if err != nil {
		return nil, err
	}
	newUsers, err := listAllUsers(ctx, s.directory, s.target.StoreID)
	if err != nil {
		return nil, err
	}

	status := &model.PoolMigrationStatus{
		NewStoreUsers:  len(newUsers),
		UsersToMigrate: []string{},
	}
	for _, u := range legacyUsers {
		if !u.Enabled {
			continue
		}
		status.LegacyActiveUsers++
		if u.Attr(model.AttrMigrationStatus) != string(model.MigrationStatusMigrated) {
			status.UsersToMigrate = append(status.UsersToMigrate, u.Username)
		}
	}

	if total := status.LegacyActiveUsers + status.NewStoreUsers; total > 0 {
		status.Percentage = int(math.Round(float64(status.NewStoreUsers) * 100 / float64(total)))
	}
	return status, nil
}
