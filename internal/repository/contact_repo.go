package repository

import (
	"context"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

// ContactRepository resolves campaign audiences.
type ContactRepository interface {
	// FindEligible returns every contact of orgID that can receive mail and
	// matches segment, in a stable order.
	FindEligible(ctx context.Context, orgID string, segment domain.Segment) ([]domain.Contact, error)
	CountEligible(ctx context.Context, orgID string, segment domain.Segment) (int64, error)
}

type GormContactRepo struct {
	db *gorm.DB
}

func NewGormContactRepo(db *gorm.DB) *GormContactRepo {
	return &GormContactRepo{db: db}
}

func (r *GormContactRepo) FindEligible(ctx context.Context, orgID string, segment domain.Segment) ([]domain.Contact, error) {
	var models []ContactModel
	err := r.eligible(ctx, orgID, segment).
		Order("contacts.created_at ASC, contacts.id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	contacts := make([]domain.Contact, 0, len(models))
	for i := range models {
		contacts = append(contacts, contactModelToDomain(&models[i]))
	}
	return contacts, nil
}

func (r *GormContactRepo) CountEligible(ctx context.Context, orgID string, segment domain.Segment) (int64, error) {
	var total int64
	if err := r.eligible(ctx, orgID, segment).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *GormContactRepo) eligible(ctx context.Context, orgID string, segment domain.Segment) *gorm.DB {
	segment = segment.Normalize()

	query := r.db.WithContext(ctx).
		Model(&ContactModel{}).
		Where("contacts.organization_id = ?", orgID).
		Where("contacts.email IS NOT NULL AND contacts.email <> ''").
		Where("contacts.unsubscribed = ? AND contacts.bounced = ?", false, false)

	if tagIDs := segment.TagFilter(); len(tagIDs) > 0 {
		query = query.Where(
			"EXISTS (SELECT 1 FROM contact_tags ct WHERE ct.contact_id = contacts.id AND ct.tag_id IN ?)",
			tagIDs,
		)
	}
	if status := segment.StatusFilter(); status != "" {
		query = query.Where("contacts.status = ?", status)
	}
	if len(segment.ExcludedTagIDs) > 0 {
		query = query.Where(
			"NOT EXISTS (SELECT 1 FROM contact_tags xt WHERE xt.contact_id = contacts.id AND xt.tag_id IN ?)",
			segment.ExcludedTagIDs,
		)
	}

	return query
}
