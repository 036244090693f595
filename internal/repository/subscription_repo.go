package repository

import (
	"context"
	"errors"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type SubscriptionRepository interface {
	GetByOrganization(ctx context.Context, orgID string) (*domain.Subscription, error)
}

type GormSubscriptionRepo struct {
	db *gorm.DB
}

func NewGormSubscriptionRepo(db *gorm.DB) *GormSubscriptionRepo {
	return &GormSubscriptionRepo{db: db}
}

func (r *GormSubscriptionRepo) GetByOrganization(ctx context.Context, orgID string) (*domain.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).First(&model, "organization_id = ?", orgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return subscriptionModelToDomain(&model), nil
}
