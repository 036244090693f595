package service

import (
	"context"
	"fmt"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/lock"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRecoveryScanLimit = 100
	abandonedJobReason       = "send loop abandoned; resumed by recovery"
)

// RecoveryScanner resumes send loops for campaigns left in sending by a
// process that stopped mid-run. With an interval it keeps scanning; without
// one it scans once.
type RecoveryScanner struct {
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	jobs       repository.JobRepository
	runner     JobStarter
	locker     lock.Locker
	logger     *zap.Logger
	interval   time.Duration
	limit      int
	now        func() time.Time
}

func NewRecoveryScanner(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	jobs repository.JobRepository,
	runner JobStarter,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RecoveryScanner, error) {
	if campaigns == nil || recipients == nil || jobs == nil {
		return nil, fmt.Errorf("recovery scanner repositories are required")
	}
	if runner == nil {
		return nil, fmt.Errorf("job runner is required")
	}
	if interval < 0 {
		interval = 0
	}
	if limit <= 0 {
		limit = defaultRecoveryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecoveryScanner{
		campaigns:  campaigns,
		recipients: recipients,
		jobs:       jobs,
		runner:     runner,
		logger:     logger,
		interval:   interval,
		limit:      limit,
		now:        time.Now,
	}, nil
}

// SetLocker skips campaigns whose loop is held by another process.
func (s *RecoveryScanner) SetLocker(locker lock.Locker) {
	s.locker = locker
}

func (s *RecoveryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("recovery initial scan failed", zap.Error(err))
	}
	if s.interval == 0 {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("recovery scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RecoveryScanner) scan(ctx context.Context) error {
	sending, err := s.campaigns.ListByStatus(ctx, domain.CampaignSending, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch sending campaigns: %w", err)
	}

	for i := range sending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		campaign := sending[i]
		if s.runner.IsRunning(campaign.ID) {
			continue
		}

		held, err := s.heldElsewhere(ctx, campaign.ID)
		if err != nil {
			s.logger.Error("failed to check campaign lock",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
			continue
		}
		if held {
			continue
		}

		if err := s.resume(ctx, &campaign); err != nil {
			s.logger.Error("failed to recover sending campaign",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *RecoveryScanner) heldElsewhere(ctx context.Context, campaignID string) (bool, error) {
	if s.locker == nil {
		return false, nil
	}

	lease, ok, err := s.locker.Acquire(ctx, campaignLockKey(campaignID))
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	if err := lease.Release(ctx); err != nil {
		return false, err
	}
	return false, nil
}

func (s *RecoveryScanner) resume(ctx context.Context, campaign *domain.Campaign) error {
	abandoned, err := s.jobs.AbandonRunning(ctx, campaign.ID, abandonedJobReason, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to close abandoned jobs: %w", err)
	}

	pending, err := s.recipients.CountByStatus(ctx, campaign.ID, domain.RecipientPending)
	if err != nil {
		return fmt.Errorf("failed to count pending recipients: %w", err)
	}

	job, err := s.runner.Start(ctx, campaign, domain.JobKindResume, int(pending))
	if err != nil {
		return err
	}

	s.logger.Info("resumed abandoned send loop",
		zap.String("campaignId", campaign.ID),
		zap.String("jobId", job.ID),
		zap.Int64("pending", pending),
		zap.Int64("abandonedJobs", abandoned),
	)
	return nil
}
