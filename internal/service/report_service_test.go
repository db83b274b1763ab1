package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/metrics"
	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

func campaignRecords() []*model.UserMigrationRecord {
	done := pendingRecord("done")
	done.MFAEnabled = true

	prog := pendingRecord("prog")
	prog.MigrationStatus = model.MigrationStatusInProgress

	mig := pendingRecord("mig")
	mig.MigrationStatus = model.MigrationStatusMigrated
	mig.Enabled = false

	p1 := pendingRecord("p1")

	p2 := pendingRecord("p2")
	p2.MigrationDeadline = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	return []*model.UserMigrationRecord{done, prog, mig, p1, p2}
}

func newReportService(lister RecordLister) *ReportService {
	return NewReportService(lister, testSettings(), metrics.NewMetrics(), zap.NewNop())
}

func TestProgress(t *testing.T) {
	lister := new(MockRecordLister)
	lister.On("ListRecords", mock.Anything).Return(campaignRecords(), nil)

	p, err := newReportService(lister).Progress(context.Background(), time.Date(2025, 9, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, model.MigrationProgress{
		Total:      5,
		Completed:  1,
		InProgress: 1,
		Pending:    2,
		Migrated:   1,
		Overdue:    1,
		Percentage: 20,
	}, *p)
}

func TestProgress_Empty(t *testing.T) {
	lister := new(MockRecordLister)
	lister.On("ListRecords", mock.Anything).Return([]*model.UserMigrationRecord{}, nil)

	p, err := newReportService(lister).Progress(context.Background(), testDeadline)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Total)
	assert.Equal(t, 0, p.Percentage)
}

func TestUsersNeedingNotification_SortedByUrgency(t *testing.T) {
	lister := new(MockRecordLister)
	lister.On("ListRecords", mock.Anything).Return(campaignRecords(), nil)

	candidates, err := newReportService(lister).UsersNeedingNotification(context.Background(), time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, candidates, 3)
	assert.Equal(t, "p1", candidates[0].Record.UserID)
	assert.Equal(t, 30, candidates[0].DaysRemaining)
	assert.Equal(t, "prog", candidates[1].Record.UserID)
	assert.Equal(t, "p2", candidates[2].Record.UserID)
	assert.Equal(t, 60, candidates[2].DaysRemaining)
}

func TestGenerateReport(t *testing.T) {
	now := time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC)
	lister := new(MockRecordLister)
	lister.On("ListRecords", mock.Anything).Return(campaignRecords(), nil)

	report, err := newReportService(lister).GenerateReport(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, now, report.GeneratedAt)
	assert.Equal(t, 5, report.Summary.Total)
	assert.Equal(t, map[string]int{
		"completed":   1,
		"in_progress": 1,
		"pending":     2,
		"migrated":    1,
		"overdue":     0,
	}, report.UsersByStatus)
	require.Len(t, report.UpcomingDeadlines, 3)
	assert.Equal(t, "p1", report.UpcomingDeadlines[0].UserID)
	assert.Equal(t, testDeadline, report.UpcomingDeadlines[0].Deadline)
	// a single listing serves the whole report
	lister.AssertNumberOfCalls(t, "ListRecords", 1)
}

func TestGenerateReport_ListFailure(t *testing.T) {
	lister := new(MockRecordLister)
	lister.On("ListRecords", mock.Anything).Return(nil, errors.New("throttled"))

	_, err := newReportService(lister).GenerateReport(context.Background(), testDeadline)
	assert.Error(t, err)
}
