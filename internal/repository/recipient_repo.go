package repository

import (
	"context"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

type RecipientListParams struct {
	CampaignID string
	Status     *domain.RecipientStatus
	Page       int
	PageSize   int
}

type RecipientRepository interface {
	ListPending(ctx context.Context, campaignID string) ([]*domain.CampaignRecipient, error)
	List(ctx context.Context, params RecipientListParams) ([]domain.CampaignRecipient, int64, error)
	MarkSent(ctx context.Context, id string, providerMessageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, errMessage string) error
	CountByStatus(ctx context.Context, campaignID string, status domain.RecipientStatus) (int64, error)
	StatusCounts(ctx context.Context, campaignID string) ([]domain.RecipientStatusCount, error)
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

func (r *GormRecipientRepo) ListPending(ctx context.Context, campaignID string) ([]*domain.CampaignRecipient, error) {
	var models []CampaignRecipientModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ?", campaignID, domain.RecipientPending).
		Order("position ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	recipients := make([]*domain.CampaignRecipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, recipientModelToDomain(&models[i]))
	}
	return recipients, nil
}

func (r *GormRecipientRepo) List(ctx context.Context, params RecipientListParams) ([]domain.CampaignRecipient, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&CampaignRecipientModel{}).
		Where("campaign_id = ?", params.CampaignID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(params.Page, params.PageSize)

	var models []CampaignRecipientModel
	err := query.
		Order("position ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	recipients := make([]domain.CampaignRecipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}
	return recipients, total, nil
}

// MarkSent and MarkFailed only touch pending rows, so each recipient records
// exactly one delivery outcome.
func (r *GormRecipientRepo) MarkSent(ctx context.Context, id string, providerMessageID string, sentAt time.Time) error {
	var messageID *string
	if providerMessageID != "" {
		messageID = &providerMessageID
	}

	result := r.db.WithContext(ctx).
		Model(&CampaignRecipientModel{}).
		Where("id = ? AND status = ?", id, domain.RecipientPending).
		Updates(map[string]any{
			"status":              domain.RecipientSent,
			"sent_at":             sentAt,
			"provider_message_id": messageID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRecipientRepo) MarkFailed(ctx context.Context, id string, errMessage string) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignRecipientModel{}).
		Where("id = ? AND status = ?", id, domain.RecipientPending).
		Updates(map[string]any{
			"status":        domain.RecipientFailed,
			"error_message": errMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRecipientRepo) CountByStatus(ctx context.Context, campaignID string, status domain.RecipientStatus) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&CampaignRecipientModel{}).
		Where("campaign_id = ? AND status = ?", campaignID, status).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *GormRecipientRepo) StatusCounts(ctx context.Context, campaignID string) ([]domain.RecipientStatusCount, error) {
	var rows []struct {
		Status domain.RecipientStatus `gorm:"column:status"`
		Count  int                    `gorm:"column:count"`
	}
	err := r.db.WithContext(ctx).
		Model(&CampaignRecipientModel{}).
		Select("status, COUNT(*) as count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make([]domain.RecipientStatusCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, domain.RecipientStatusCount{Status: row.Status, Count: row.Count})
	}
	return counts, nil
}
