package repository

import (
	"context"
	"errors"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type TemplateRepository interface {
	GetByID(ctx context.Context, orgID, id string) (*domain.EmailTemplate, error)
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) GetByID(ctx context.Context, orgID, id string) (*domain.EmailTemplate, error) {
	var model EmailTemplateModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", id, orgID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}
