package service

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/metrics"
	"github.com/yuu551/cognito-mfa-migration/internal/model"
	"github.com/yuu551/cognito-mfa-migration/internal/policy"
)

// ReportService computes campaign progress from the source store
type ReportService struct {
	records  RecordLister
	settings model.MigrationSettings
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewReportService creates a new report service
func NewReportService(records RecordLister, settings model.MigrationSettings, m *metrics.Metrics, logger *zap.Logger) *ReportService {
	return &ReportService{
		records:  records,
		settings: settings.Copy(),
		metrics:  m,
		logger:   logger,
	}
}

// Progress counts every record into exactly one of completed, in_progress,
// migrated or pending. Pending records past their deadline also count as overdue.
func (s *ReportService) Progress(ctx context.Context, now time.Time) (*model.MigrationProgress, error) {
	records, err := s.records.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	p := s.progressOf(records, now)
	return &p, nil
}

func (s *ReportService) progressOf(records []*model.UserMigrationRecord, now time.Time) model.MigrationProgress {
	var p model.MigrationProgress
	p.Total = len(records)

	for _, r := range records {
		switch {
		case r.MFASatisfied():
			p.Completed++
		case r.MigrationStatus == model.MigrationStatusInProgress:
			p.InProgress++
		case r.MigrationStatus == model.MigrationStatusMigrated:
			p.Migrated++
		default:
			p.Pending++
			if now.After(s.deadlineOf(r)) {
				p.Overdue++
			}
		}
	}

	if p.Total > 0 {
		p.Percentage = int(math.Round(float64(p.Completed) * 100 / float64(p.Total)))
	}
	return p
}

// UsersNeedingNotification returns users due for a reminder at now,
// most urgent first.
func (s *ReportService) UsersNeedingNotification(ctx context.Context, now time.Time) ([]model.NotificationCandidate, error) {
	records, err := s.records.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	return s.candidatesOf(records, now), nil
}

func (s *ReportService) candidatesOf(records []*model.UserMigrationRecord, now time.Time) []model.NotificationCandidate {
	candidates := make([]model.NotificationCandidate, 0)
	for _, r := range records {
		if !policy.NeedsNotification(r, now, s.settings) {
			continue
		}
		candidates = append(candidates, model.NotificationCandidate{
			Record:        r,
			DaysRemaining: policy.CeilDays(s.deadlineOf(r).Sub(now)),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].DaysRemaining != candidates[j].DaysRemaining {
			return candidates[i].DaysRemaining < candidates[j].DaysRemaining
		}
		return candidates[i].Record.UserID < candidates[j].Record.UserID
	})
	return candidates
}

// GenerateReport builds the operator report and publishes bucket gauges
func (s *ReportService) GenerateReport(ctx context.Context, now time.Time) (*model.MigrationReport, error) {
	records, err := s.records.ListRecords(ctx)
	if err != nil {
		return nil, err
	}

	progress := s.progressOf(records, now)
	report := &model.MigrationReport{
		GeneratedAt:       now,
		Summary:           progress,
		UsersByStatus:     progress.Buckets(),
		UpcomingDeadlines: []model.UpcomingDeadline{},
	}

	for _, c := range s.candidatesOf(records, now) {
		report.UpcomingDeadlines = append(report.UpcomingDeadlines, model.UpcomingDeadline{
			UserID:        c.Record.UserID,
			Status:        c.Record.MigrationStatus,
			Deadline:      s.deadlineOf(c.Record),
			DaysRemaining: c.DaysRemaining,
		})
	}

	s.metrics.SetCampaignProgress(report.UsersByStatus)
	s.logger.Info("Migration report generated",
		zap.Int("total", progress.Total),
		zap.Int("completed", progress.Completed),
		zap.Int("overdue", progress.Overdue),
		zap.Int("percentage", progress.Percentage))

	return report, nil
}

func (s *ReportService) deadlineOf(r *model.UserMigrationRecord) time.Time {
	if r.MigrationDeadline.IsZero() {
		return s.settings.Deadline
	}
	return r.MigrationDeadline
}
