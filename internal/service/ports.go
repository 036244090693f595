package service

import (
	"context"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
)

// UsageAccountant is the admission and metering port used by sends.
type UsageAccountant interface {
	Check(ctx context.Context, orgID string, resource domain.ResourceType, requested int64) (domain.UsageCheck, error)
	Commit(ctx context.Context, orgID string, resource domain.ResourceType, amount int64) error
	Reserve(ctx context.Context, orgID string, resource domain.ResourceType, amount int64) (domain.UsageCheck, error)
	Release(ctx context.Context, orgID string, resource domain.ResourceType, amount int64) error
}

// JobStarter launches background send loops.
type JobStarter interface {
	Start(ctx context.Context, campaign *domain.Campaign, kind domain.JobKind, total int) (*domain.SendJob, error)
	IsRunning(campaignID string) bool
}

// SendLoop delivers the pending recipients of one job.
type SendLoop interface {
	Run(ctx context.Context, job *domain.SendJob) RunResult
}

// Sender is the default From identity for campaigns that leave it empty.
type Sender struct {
	FromEmail string
	FromName  string
}

// SubscriptionInvalidator drops cached subscription state for an organization.
type SubscriptionInvalidator interface {
	Invalidate(ctx context.Context, orgID string) error
}
