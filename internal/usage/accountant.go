// Package usage meters per-organization consumption against plan limits.
package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/observability"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// LimitSource supplies the plan ceiling for an organization.
type LimitSource interface {
	Limit(ctx context.Context, orgID string, resource domain.ResourceType) (int64, error)
}

// Accountant answers admission checks and records consumption for the
// current calendar month (UTC).
type Accountant struct {
	limits  LimitSource
	usage   repository.UsageRepository
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewAccountant(
	limits LimitSource,
	usage repository.UsageRepository,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Accountant, error) {
	if limits == nil {
		return nil, fmt.Errorf("limit source is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Accountant{
		limits:  limits,
		usage:   usage,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Check reports whether requested more units fit in the remaining quota. It
// does not change the counter.
func (a *Accountant) Check(ctx context.Context, orgID string, resource domain.ResourceType, requested int64) (domain.UsageCheck, error) {
	if err := validateRequest(orgID, resource, requested); err != nil {
		return domain.UsageCheck{}, err
	}

	limit, err := a.limits.Limit(ctx, orgID, resource)
	if err != nil {
		return domain.UsageCheck{}, err
	}

	current, err := a.usage.Current(ctx, orgID, resource, a.period())
	if err != nil {
		return domain.UsageCheck{}, fmt.Errorf("failed to read usage: %w", err)
	}

	check := domain.EvaluateLimit(resource, current, limit, requested)
	if !check.WithinLimits {
		a.rejected(orgID, check)
	}
	return check, nil
}

// Commit adds amount to the counter without checking the limit; callers run
// Check first.
func (a *Accountant) Commit(ctx context.Context, orgID string, resource domain.ResourceType, amount int64) error {
	if err := validateRequest(orgID, resource, amount); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}

	if err := a.usage.Increment(ctx, orgID, resource, a.period(), amount); err != nil {
		return fmt.Errorf("failed to commit usage: %w", err)
	}
	return nil
}

// Reserve checks and increments in one conditional write, so concurrent
// callers cannot together overshoot the limit. The returned check describes
// the state before the reservation.
func (a *Accountant) Reserve(ctx context.Context, orgID string, resource domain.ResourceType, amount int64) (domain.UsageCheck, error) {
	if err := validateRequest(orgID, resource, amount); err != nil {
		return domain.UsageCheck{}, err
	}

	limit, err := a.limits.Limit(ctx, orgID, resource)
	if err != nil {
		return domain.UsageCheck{}, err
	}

	period := a.period()
	switch {
	case limit == domain.Unlimited:
		current, err := a.usage.Current(ctx, orgID, resource, period)
		if err != nil {
			return domain.UsageCheck{}, fmt.Errorf("failed to read usage: %w", err)
		}
		if amount > 0 {
			if err := a.usage.Increment(ctx, orgID, resource, period, amount); err != nil {
				return domain.UsageCheck{}, fmt.Errorf("failed to reserve usage: %w", err)
			}
		}
		return domain.EvaluateLimit(resource, current, limit, amount), nil
	case amount == 0:
		return a.Check(ctx, orgID, resource, amount)
	}

	reserved := false
	if limit > 0 && amount <= limit {
		reserved, err = a.usage.Reserve(ctx, orgID, resource, period, amount, limit)
		if err != nil {
			return domain.UsageCheck{}, fmt.Errorf("failed to reserve usage: %w", err)
		}
	}

	current, err := a.usage.Current(ctx, orgID, resource, period)
	if err != nil {
		return domain.UsageCheck{}, fmt.Errorf("failed to read usage: %w", err)
	}
	if reserved {
		current -= amount
	}

	check := domain.EvaluateLimit(resource, current, limit, amount)
	check.WithinLimits = reserved
	if !reserved {
		a.rejected(orgID, check)
	}
	return check, nil
}

// Release refunds a reservation whose operation did not go through.
func (a *Accountant) Release(ctx context.Context, orgID string, resource domain.ResourceType, amount int64) error {
	if err := validateRequest(orgID, resource, amount); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}

	if err := a.usage.Release(ctx, orgID, resource, a.period(), amount); err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}

func (a *Accountant) period() time.Time {
	return domain.PeriodStart(a.now())
}

func (a *Accountant) rejected(orgID string, check domain.UsageCheck) {
	a.metrics.IncUsageRejected(check.Resource.String())
	a.logger.Info("usage limit reached",
		zap.String("organizationId", orgID),
		zap.String("resource", check.Resource.String()),
		zap.Int64("current", check.Current),
		zap.Int64("limit", check.Limit),
		zap.Int64("requested", check.Requested),
	)
}

func validateRequest(orgID string, resource domain.ResourceType, amount int64) error {
	if strings.TrimSpace(orgID) == "" {
		return fmt.Errorf("%w: organization is required", domain.ErrValidation)
	}
	if !resource.IsValid() {
		return fmt.Errorf("%w: invalid resource type %q", domain.ErrValidation, resource)
	}
	if amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", domain.ErrValidation)
	}
	return nil
}
