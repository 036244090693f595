package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/plan"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// Provider answers which plan limits apply to an organization.
type Provider struct {
	repo        repository.SubscriptionRepository
	cache       Cache
	catalog     *plan.Catalog
	defaultPlan string
	logger      *zap.Logger
	now         func() time.Time
}

func NewProvider(
	repo repository.SubscriptionRepository,
	cache Cache,
	catalog *plan.Catalog,
	defaultPlan string,
	logger *zap.Logger,
) (*Provider, error) {
	if repo == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if catalog == nil {
		catalog = plan.DefaultCatalog()
	}
	defaultPlan = strings.ToLower(strings.TrimSpace(defaultPlan))
	if !catalog.Has(defaultPlan) {
		return nil, fmt.Errorf("default plan %q is not in the plan catalog", defaultPlan)
	}
	if cache == nil {
		cache = NewMemoryCache(0, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		repo:        repo,
		cache:       cache,
		catalog:     catalog,
		defaultPlan: defaultPlan,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Subscription returns the effective subscription of orgID. Organizations with
// no row, an inactive status, or a plan missing from the catalog get the
// default plan.
func (p *Provider) Subscription(ctx context.Context, orgID string) (*domain.Subscription, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("%w: organization is required", domain.ErrValidation)
	}

	cached, ok, err := p.cache.Get(ctx, orgID)
	if err != nil {
		p.logger.Warn("subscription cache read failed",
			zap.String("organizationId", orgID),
			zap.Error(err),
		)
	}
	if ok {
		return cached, nil
	}

	sub, err := p.repo.GetByOrganization(ctx, orgID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		sub = p.fallback(orgID)
	case err != nil:
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	case !sub.Entitled() || !p.catalog.Has(sub.Plan):
		p.logger.Info("subscription falls back to default plan",
			zap.String("organizationId", orgID),
			zap.String("plan", sub.Plan),
			zap.String("status", sub.Status.String()),
		)
		sub = p.fallback(orgID)
	}

	if err := p.cache.Set(ctx, sub); err != nil {
		p.logger.Warn("subscription cache write failed",
			zap.String("organizationId", orgID),
			zap.Error(err),
		)
	}
	return sub, nil
}

// Limit returns the ceiling of resource for orgID's effective plan.
func (p *Provider) Limit(ctx context.Context, orgID string, resource domain.ResourceType) (int64, error) {
	sub, err := p.Subscription(ctx, orgID)
	if err != nil {
		return 0, err
	}
	return p.catalog.Limit(sub.Plan, resource)
}

// Invalidate drops the cached subscription so the next lookup hits the database.
func (p *Provider) Invalidate(ctx context.Context, orgID string) error {
	if strings.TrimSpace(orgID) == "" {
		return fmt.Errorf("%w: organization is required", domain.ErrValidation)
	}
	if err := p.cache.Invalidate(ctx, orgID); err != nil {
		return fmt.Errorf("failed to invalidate subscription cache: %w", err)
	}
	p.logger.Debug("subscription cache invalidated", zap.String("organizationId", orgID))
	return nil
}

func (p *Provider) fallback(orgID string) *domain.Subscription {
	return &domain.Subscription{
		OrganizationID: orgID,
		Plan:           p.defaultPlan,
		Status:         domain.SubscriptionActive,
		UpdatedAt:      p.now().UTC(),
	}
}
