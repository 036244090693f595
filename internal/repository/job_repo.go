package repository

import (
	"context"
	"errors"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type JobRepository interface {
	Create(ctx context.Context, job *domain.SendJob) error
	GetByID(ctx context.Context, orgID, id string) (*domain.SendJob, error)
	UpdateProgress(ctx context.Context, id string, sent, failed int) error
	Finish(ctx context.Context, job *domain.SendJob) error
	// AbandonRunning fails every running job of a campaign; used when a
	// process died mid-loop.
	AbandonRunning(ctx context.Context, campaignID, reason string, at time.Time) (int64, error)
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) Create(ctx context.Context, job *domain.SendJob) error {
	model := jobModelFromDomain(job)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if job != nil {
		*job = *jobModelToDomain(model)
	}
	return nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, orgID, id string) (*domain.SendJob, error) {
	var model SendJobModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", id, orgID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) UpdateProgress(ctx context.Context, id string, sent, failed int) error {
	return r.db.WithContext(ctx).
		Model(&SendJobModel{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(map[string]any{
			"sent":   sent,
			"failed": failed,
		}).Error
}

func (r *GormJobRepo) Finish(ctx context.Context, job *domain.SendJob) error {
	result := r.db.WithContext(ctx).
		Model(&SendJobModel{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":      job.Status,
			"sent":        job.Sent,
			"failed":      job.Failed,
			"error":       job.Error,
			"finished_at": job.FinishedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormJobRepo) AbandonRunning(ctx context.Context, campaignID, reason string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&SendJobModel{}).
		Where("campaign_id = ? AND status = ?", campaignID, domain.JobRunning).
		Updates(map[string]any{
			"status":      domain.JobFailed,
			"error":       reason,
			"finished_at": at,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
