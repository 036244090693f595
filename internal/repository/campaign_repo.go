package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recipientInsertBatchSize = 500

type CampaignListParams struct {
	OrganizationID string
	Status         *domain.CampaignStatus
	Page           int
	PageSize       int
}

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, orgID, id string) (*domain.Campaign, error)
	GetStatus(ctx context.Context, id string) (domain.CampaignStatus, error)
	List(ctx context.Context, params CampaignListParams) ([]domain.Campaign, int64, error)
	// Update writes the editable fields. It fails with ErrInvalidState once the
	// campaign has left draft/scheduled.
	Update(ctx context.Context, c *domain.Campaign) error
	Delete(ctx context.Context, orgID, id string) error
	// Schedule sets scheduled_at and moves to scheduled; a nil time unschedules
	// back to draft.
	Schedule(ctx context.Context, orgID, id string, at *time.Time) error
	Transition(ctx context.Context, orgID, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error
	// StartSending moves the campaign to sending and inserts its pending
	// recipient rows in one transaction.
	StartSending(ctx context.Context, start domain.SendStart) error
	Checkpoint(ctx context.Context, id string, totalSent int) error
	// Complete marks the campaign sent if it is still in one of from. The
	// boolean reports whether the row changed.
	Complete(ctx context.Context, id string, from []domain.CampaignStatus, totalSent int, completedAt time.Time) (bool, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	model := campaignModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if c != nil {
		*c = *campaignModelToDomain(model)
	}
	return nil
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, orgID, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", id, orgID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

func (r *GormCampaignRepo) GetStatus(ctx context.Context, id string) (domain.CampaignStatus, error) {
	var statuses []domain.CampaignStatus
	err := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", id).
		Limit(1).
		Pluck("status", &statuses).Error
	if err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", domain.ErrNotFound
	}
	return statuses[0], nil
}

func (r *GormCampaignRepo) List(ctx context.Context, params CampaignListParams) ([]domain.Campaign, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("organization_id = ?", params.OrganizationID)

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(params.Page, params.PageSize)

	var models []CampaignModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	return campaignModelsToDomain(models), total, nil
}

func (r *GormCampaignRepo) Update(ctx context.Context, c *domain.Campaign) error {
	model := campaignModelFromDomain(c)
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND organization_id = ? AND status IN ?", model.ID, model.OrganizationID, domain.EditableStatuses).
		Updates(map[string]any{
			"name":             model.Name,
			"subject":          model.Subject,
			"from_name":        model.FromName,
			"from_email":       model.FromEmail,
			"reply_to":         model.ReplyTo,
			"html_content":     model.HTMLContent,
			"text_content":     model.TextContent,
			"template_id":      model.TemplateID,
			"segment_type":     model.SegmentType,
			"segment_tag_ids":  model.SegmentTagIDs,
			"segment_status":   model.SegmentStatus,
			"excluded_tag_ids": model.ExcludedTagIDs,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.guardError(r.db.WithContext(ctx), model.OrganizationID, model.ID, "edited")
	}
	return nil
}

func (r *GormCampaignRepo) Delete(ctx context.Context, orgID, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND organization_id = ? AND status <> ?", id, orgID, domain.CampaignSending).
		Delete(&CampaignModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.guardError(r.db.WithContext(ctx), orgID, id, "deleted")
	}
	return nil
}

func (r *GormCampaignRepo) Schedule(ctx context.Context, orgID, id string, at *time.Time) error {
	status := domain.CampaignScheduled
	action := "scheduled"
	if at == nil {
		status = domain.CampaignDraft
		action = "unscheduled"
	}

	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND organization_id = ? AND status IN ?", id, orgID, domain.EditableStatuses).
		Updates(map[string]any{
			"status":       status,
			"scheduled_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.guardError(r.db.WithContext(ctx), orgID, id, action)
	}
	return nil
}

func (r *GormCampaignRepo) Transition(
	ctx context.Context,
	orgID, id string,
	from []domain.CampaignStatus,
	to domain.CampaignStatus,
) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND organization_id = ? AND status IN ?", id, orgID, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.guardError(r.db.WithContext(ctx), orgID, id, "moved to "+to.String())
	}
	return nil
}

func (r *GormCampaignRepo) StartSending(ctx context.Context, start domain.SendStart) error {
	models := make([]CampaignRecipientModel, 0, len(start.Recipients))
	for _, recipient := range start.Recipients {
		if model := recipientModelFromDomain(recipient); model != nil {
			models = append(models, *model)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Model(&CampaignModel{}).
			Where("id = ? AND organization_id = ? AND status IN ?", start.CampaignID, start.OrganizationID, start.From).
			Updates(map[string]any{
				"status":           domain.CampaignSending,
				"started_at":       start.StartedAt,
				"total_recipients": start.TotalRecipients,
				"total_sent":       0,
				"completed_at":     nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return r.guardError(tx, start.OrganizationID, start.CampaignID, "sent")
		}

		if len(models) == 0 {
			return nil
		}
		return tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "contact_id"}},
				DoNothing: true,
			}).
			CreateInBatches(&models, recipientInsertBatchSize).Error
	})
}

func (r *GormCampaignRepo) Checkpoint(ctx context.Context, id string, totalSent int) error {
	return r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", id).
		Update("total_sent", totalSent).Error
}

func (r *GormCampaignRepo) Complete(
	ctx context.Context,
	id string,
	from []domain.CampaignStatus,
	totalSent int,
	completedAt time.Time,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":       domain.CampaignSent,
			"total_sent":   totalSent,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.CampaignScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return campaignModelsToDomain(models), nil
}

func (r *GormCampaignRepo) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("started_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return campaignModelsToDomain(models), nil
}

// guardError explains why a status-guarded write touched no rows.
func (r *GormCampaignRepo) guardError(db *gorm.DB, orgID, id, action string) error {
	var statuses []domain.CampaignStatus
	err := db.
		Model(&CampaignModel{}).
		Where("id = ? AND organization_id = ?", id, orgID).
		Limit(1).
		Pluck("status", &statuses).Error
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: campaign in status %s cannot be %s", domain.ErrInvalidState, statuses[0], action)
}

func campaignModelsToDomain(models []CampaignModel) []domain.Campaign {
	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i]))
	}
	return campaigns
}

func normalizePage(page, pageSize int) (int, int) {
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = 50
	}
	return page, min(pageSize, 100)
}
