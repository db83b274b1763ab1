package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/directory"
	"github.com/yuu551/cognito-mfa-migration/internal/metrics"
	"github.com/yuu551/cognito-mfa-migration/internal/model"
	"github.com/yuu551/cognito-mfa-migration/internal/store"
)

const (
	legacyStore = "legacy-pool"
	newStore    = "mfa-required-pool"
)

var testDeadline = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

func testSettings() model.MigrationSettings {
	return model.MigrationSettings{
		Deadline:        testDeadline,
		WarningDays:     []int{30, 14, 7, 3, 1},
		GracePeriodDays: 7,
		EnabledMethods:  []model.MFAMethod{model.MFAMethodSMS, model.MFAMethodTOTP, model.MFAMethodEmail},
	}
}

// MockRecordStore is a mock implementation of RecordStore
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) GetUserMFAStatus(ctx context.Context, userID string) (*model.UserMigrationRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserMigrationRecord), args.Error(1)
}

func (m *MockRecordStore) UpdateLastNotified(ctx context.Context, userID string, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

// MockRecordLister is a mock implementation of RecordLister
type MockRecordLister struct {
	mock.Mock
}

func (m *MockRecordLister) ListRecords(ctx context.Context) ([]*model.UserMigrationRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.UserMigrationRecord), args.Error(1)
}

type migrationFixture struct {
	dir       *directory.MemoryDirectory
	cache     *store.InMemoryRecordCache
	records   *RecordService
	ledger    *store.InMemoryLedger
	scheduler *Scheduler
	svc       *MigrationService
}

func newMigrationFixture(t *testing.T) *migrationFixture {
	t.Helper()

	logger := zap.NewNop()
	m := metrics.NewMetrics()

	dir := directory.NewMemoryDirectory()
	dir.AddStore(legacyStore, model.MFAConfigurationOptional)
	dir.AddStore(newStore, model.MFAConfigurationOn)

	cache := store.NewInMemoryRecordCache(100, logger)
	t.Cleanup(cache.Close)

	scheduler := NewScheduler(logger)
	t.Cleanup(scheduler.Stop)

	records := NewRecordService(dir, cache, legacyStore, testSettings(), 0, m, logger)
	ledger := store.NewInMemoryLedger()

	svc := NewMigrationService(dir, records, ledger, NewCredentialGenerator(16), scheduler, MigrationServiceConfig{
		Legacy:          model.PoolConfig{StoreID: legacyStore, MFAConfiguration: model.MFAConfigurationOptional},
		Target:          model.PoolConfig{StoreID: newStore, MFAConfiguration: model.MFAConfigurationOn},
		Settings:        testSettings(),
		BatchSize:       10,
		InterChunkDelay: 0,
	}, m, logger)

	return &migrationFixture{
		dir:       dir,
		cache:     cache,
		records:   records,
		ledger:    ledger,
		scheduler: scheduler,
		svc:       svc,
	}
}

func (f *migrationFixture) seedLegacy(userID string, groups ...string) {
	f.dir.SeedUser(legacyStore, &directory.User{
		Username: userID,
		Enabled:  true,
		Attributes: map[string]string{
			model.AttrEmail:           userID + "@example.com",
			model.AttrPhoneNumber:     "+819012345678",
			"custom:department":       "sales",
			model.AttrMigrationStatus: string(model.MigrationStatusPending),
		},
	}, groups...)
}
