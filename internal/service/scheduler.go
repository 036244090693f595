package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSchedulerScanInterval = 30 * time.Second
	defaultSchedulerScanLimit    = 100
)

// CampaignSender starts a campaign send.
type CampaignSender interface {
	Send(ctx context.Context, orgID, campaignID string) (*SendOutcome, error)
}

// Scheduler periodically sends scheduled campaigns whose time has come.
type Scheduler struct {
	campaigns repository.CampaignRepository
	sender    CampaignSender
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewScheduler(
	campaigns repository.CampaignRepository,
	sender CampaignSender,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("campaign sender is required")
	}
	if interval <= 0 {
		interval = defaultSchedulerScanInterval
	}
	if limit <= 0 {
		limit = defaultSchedulerScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		campaigns: campaigns,
		sender:    sender,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler scan failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) scanDue(ctx context.Context) error {
	due, err := s.campaigns.ListDueScheduled(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled campaigns: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		campaign := due[i]

		outcome, err := s.sender.Send(ctx, campaign.OrganizationID, campaign.ID)
		if err == nil {
			s.logger.Info("scheduled campaign started",
				zap.String("campaignId", campaign.ID),
				zap.String("jobId", outcome.JobID),
				zap.Int("recipients", outcome.RecipientCount),
			)
			continue
		}

		var quotaErr *domain.QuotaExceededError
		switch {
		case errors.Is(err, domain.ErrNoRecipients), errors.Is(err, domain.ErrValidation), errors.As(err, &quotaErr):
			s.logger.Warn("scheduled campaign cannot be sent, reverting to draft",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
			if revertErr := s.campaigns.Schedule(ctx, campaign.OrganizationID, campaign.ID, nil); revertErr != nil {
				s.logger.Error("failed to revert scheduled campaign to draft",
					zap.String("campaignId", campaign.ID),
					zap.Error(revertErr),
				)
			}
		case errors.Is(err, domain.ErrInvalidState):
			s.logger.Info("scheduled campaign changed status before send",
				zap.String("campaignId", campaign.ID),
			)
		default:
			s.logger.Error("failed to send scheduled campaign",
				zap.String("campaignId", campaign.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}
