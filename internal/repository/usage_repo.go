package repository

import (
	"context"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UsageRepository interface {
	// Current returns the consumed count for the period, 0 when no row exists.
	Current(ctx context.Context, orgID string, resource domain.ResourceType, period time.Time) (int64, error)
	// Increment adds amount unconditionally.
	Increment(ctx context.Context, orgID string, resource domain.ResourceType, period time.Time, amount int64) error
	// Reserve adds amount only if the result stays within limit. It reports
	// whether the counter moved.
	Reserve(ctx context.Context, orgID string, resource domain.ResourceType, period time.Time, amount, limit int64) (bool, error)
	// Release subtracts amount, never going below zero.
	Release(ctx context.Context, orgID string, resource domain.ResourceType, period time.Time, amount int64) error
}

const reserveUsageSQL = `
INSERT INTO usage_counters (organization_id, resource_type, period_start, count, updated_at)
SELECT ?, ?, ?, ?, ? WHERE ? <= ?
ON CONFLICT (organization_id, resource_type, period_start)
DO UPDATE SET count = usage_counters.count + EXCLUDED.count, updated_at = EXCLUDED.updated_at
WHERE usage_counters.count + EXCLUDED.count <= ?
RETURNING count`

type GormUsageRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormUsageRepo(db *gorm.DB) *GormUsageRepo {
	return &GormUsageRepo{db: db, now: time.Now}
}

func (r *GormUsageRepo) Current(ctx context.Context, orgID string, resource domain.ResourceType, period time.Time) (int64, error) {
	var counts []int64
	err := r.db.WithContext(ctx).
		Model(&UsageCounterModel{}).
		Where("organization_id = ? AND resource_type = ? AND period_start = ?", orgID, resource, period).
		Limit(1).
		Pluck("count", &counts).Error
	if err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		return 0, nil
	}
	return counts[0], nil
}

func (r *GormUsageRepo) Increment(ctx context.Context, orgID string, resource domain.ResourceType, period time.Time, amount int64) error {
	now := r.now().UTC()
	model := UsageCounterModel{
		OrganizationID: orgID,
		ResourceType:   resource,
		PeriodStart:    period,
		Count:          amount,
		UpdatedAt:      now,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "organization_id"}, {Name: "resource_type"}, {Name: "period_start"}},
			DoUpdates: clause.Assignments(map[string]any{
				"count":      gorm.Expr("usage_counters.count + ?", amount),
				"updated_at": now,
			}),
		}).
		Create(&model).Error
}

func (r *GormUsageRepo) Reserve(
	ctx context.Context,
	orgID string,
	resource domain.ResourceType,
	period time.Time,
	amount, limit int64,
) (bool, error) {
	var counts []int64
	err := r.db.WithContext(ctx).
		Raw(reserveUsageSQL, orgID, resource, period, amount, r.now().UTC(), amount, limit, limit).
		Scan(&counts).Error
	if err != nil {
		return false, err
	}
	return len(counts) > 0, nil
}

func (r *GormUsageRepo) Release(ctx context.Context, orgID string, resource domain.ResourceType, period time.Time, amount int64) error {
	return r.db.WithContext(ctx).
		Model(&UsageCounterModel{}).
		Where("organization_id = ? AND resource_type = ? AND period_start = ?", orgID, resource, period).
		Updates(map[string]any{
			"count":      gorm.Expr("GREATEST(count - ?, 0)", amount),
			"updated_at": r.now().UTC(),
		}).Error
}
