package repository

import (
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/lib/pq"
)

// SubscriptionModel is the persistence model for organization_subscriptions.
type SubscriptionModel struct {
	OrganizationID string                    `gorm:"type:varchar(64);primaryKey"`
	Plan           string                    `gorm:"type:varchar(50);not null"`
	Status         domain.SubscriptionStatus `gorm:"type:varchar(20);not null"`
	UpdatedAt      time.Time
}

func (SubscriptionModel) TableName() string {
	return "organization_subscriptions"
}

// UsageCounterModel is one metering period of one resource for one organization.
type UsageCounterModel struct {
	OrganizationID string              `gorm:"type:varchar(64);primaryKey"`
	ResourceType   domain.ResourceType `gorm:"type:varchar(20);primaryKey"`
	PeriodStart    time.Time           `gorm:"type:timestamptz;primaryKey"`
	Count          int64               `gorm:"not null;default:0"`
	UpdatedAt      time.Time
}

func (UsageCounterModel) TableName() string {
	return "usage_counters"
}

// ContactModel is the persistence model for contacts.
type ContactModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	OrganizationID string  `gorm:"type:varchar(64);not null;index"`
	Email          *string `gorm:"type:varchar(320)"`
	FirstName      string  `gorm:"type:varchar(255);not null;default:''"`
	LastName       string  `gorm:"type:varchar(255);not null;default:''"`
	Status         string  `gorm:"type:varchar(50);not null;default:''"`
	Unsubscribed   bool    `gorm:"not null;default:false"`
	Bounced        bool    `gorm:"not null;default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ContactModel) TableName() string {
	return "contacts"
}

// TagModel is the persistence model for tags.
type TagModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	OrganizationID string `gorm:"type:varchar(64);not null;index"`
	Name           string `gorm:"type:varchar(255);not null"`
	CreatedAt      time.Time
}

func (TagModel) TableName() string {
	return "tags"
}

// ContactTagModel links a contact to a tag.
type ContactTagModel struct {
	ContactID string `gorm:"type:uuid;primaryKey"`
	TagID     string `gorm:"type:uuid;primaryKey;index"`
}

func (ContactTagModel) TableName() string {
	return "contact_tags"
}

// EmailTemplateModel is the persistence model for email_templates.
type EmailTemplateModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	OrganizationID string `gorm:"type:varchar(64);not null;index"`
	Name           string `gorm:"type:varchar(255);not null"`
	Subject        string `gorm:"type:varchar(998);not null;default:''"`
	HTMLContent    string `gorm:"column:html_content;type:text;not null;default:''"`
	TextContent    string `gorm:"type:text;not null;default:''"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (EmailTemplateModel) TableName() string {
	return "email_templates"
}

// CampaignModel is the persistence model for campaigns. The segment is
// flattened into one column per variant field.
type CampaignModel struct {
	ID              string                `gorm:"type:uuid;primaryKey"`
	OrganizationID  string                `gorm:"type:varchar(64);not null;index"`
	Name            string                `gorm:"type:varchar(255);not null"`
	Subject         string                `gorm:"type:varchar(998);not null;default:''"`
	FromName        string                `gorm:"type:varchar(255);not null;default:''"`
	FromEmail       string                `gorm:"type:varchar(320);not null;default:''"`
	ReplyTo         string                `gorm:"type:varchar(320);not null;default:''"`
	HTMLContent     string                `gorm:"column:html_content;type:text;not null;default:''"`
	TextContent     string                `gorm:"type:text;not null;default:''"`
	TemplateID      *string               `gorm:"type:uuid"`
	SegmentType     domain.SegmentKind    `gorm:"type:varchar(20);not null"`
	SegmentTagIDs   pq.StringArray        `gorm:"column:segment_tag_ids;type:text[]"`
	SegmentStatus   string                `gorm:"type:varchar(50);not null;default:''"`
	ExcludedTagIDs  pq.StringArray        `gorm:"column:excluded_tag_ids;type:text[]"`
	Status          domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	ScheduledAt     *time.Time            `gorm:"type:timestamptz"`
	TotalRecipients int                   `gorm:"not null;default:0"`
	TotalSent       int                   `gorm:"not null;default:0"`
	StartedAt       *time.Time            `gorm:"type:timestamptz"`
	CompletedAt     *time.Time            `gorm:"type:timestamptz"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// CampaignRecipientModel is the persistence model for campaign_recipients.
type CampaignRecipientModel struct {
	ID                string                 `gorm:"type:uuid;primaryKey"`
	CampaignID        string                 `gorm:"type:uuid;not null"`
	ContactID         string                 `gorm:"type:uuid;not null"`
	Position          int                    `gorm:"not null"`
	Email             string                 `gorm:"type:varchar(320);not null"`
	FirstName         string                 `gorm:"type:varchar(255);not null;default:''"`
	LastName          string                 `gorm:"type:varchar(255);not null;default:''"`
	Status            domain.RecipientStatus `gorm:"type:varchar(20);not null"`
	SentAt            *time.Time             `gorm:"type:timestamptz"`
	ProviderMessageID *string                `gorm:"type:varchar(255)"`
	ErrorMessage      *string                `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (CampaignRecipientModel) TableName() string {
	return "campaign_recipients"
}

// SendJobModel is the persistence model for send_jobs.
type SendJobModel struct {
	ID             string           `gorm:"type:uuid;primaryKey"`
	CampaignID     string           `gorm:"type:uuid;not null;index"`
	OrganizationID string           `gorm:"type:varchar(64);not null"`
	Kind           domain.JobKind   `gorm:"type:varchar(10);not null"`
	Status         domain.JobStatus `gorm:"type:varchar(20);not null"`
	Total          int              `gorm:"not null;default:0"`
	Sent           int              `gorm:"not null;default:0"`
	Failed         int              `gorm:"not null;default:0"`
	Error          *string          `gorm:"type:text"`
	StartedAt      time.Time        `gorm:"type:timestamptz;not null"`
	FinishedAt     *time.Time       `gorm:"type:timestamptz"`
}

func (SendJobModel) TableName() string {
	return "send_jobs"
}

func subscriptionModelToDomain(m *SubscriptionModel) *domain.Subscription {
	if m == nil {
		return nil
	}

	return &domain.Subscription{
		OrganizationID: m.OrganizationID,
		Plan:           m.Plan,
		Status:         m.Status,
		UpdatedAt:      m.UpdatedAt,
	}
}

func contactModelToDomain(m *ContactModel) domain.Contact {
	c := domain.Contact{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		FirstName:      m.FirstName,
		LastName:       m.LastName,
		Status:         m.Status,
		Unsubscribed:   m.Unsubscribed,
		Bounced:        m.Bounced,
		CreatedAt:      m.CreatedAt,
	}
	if m.Email != nil {
		c.Email = *m.Email
	}
	return c
}

func templateModelToDomain(m *EmailTemplateModel) *domain.EmailTemplate {
	if m == nil {
		return nil
	}

	return &domain.EmailTemplate{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Subject:        m.Subject,
		HTMLContent:    m.HTMLContent,
		TextContent:    m.TextContent,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	segment := c.Segment.Normalize()
	return &CampaignModel{
		ID:              c.ID,
		OrganizationID:  c.OrganizationID,
		Name:            c.Name,
		Subject:         c.Subject,
		FromName:        c.FromName,
		FromEmail:       c.FromEmail,
		ReplyTo:         c.ReplyTo,
		HTMLContent:     c.HTMLContent,
		TextContent:     c.TextContent,
		TemplateID:      c.TemplateID,
		SegmentType:     segment.Kind,
		SegmentTagIDs:   pq.StringArray(segment.TagIDs),
		SegmentStatus:   segment.Status,
		ExcludedTagIDs:  pq.StringArray(segment.ExcludedTagIDs),
		Status:          c.Status,
		ScheduledAt:     c.ScheduledAt,
		TotalRecipients: c.TotalRecipients,
		TotalSent:       c.TotalSent,
		StartedAt:       c.StartedAt,
		CompletedAt:     c.CompletedAt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Subject:        m.Subject,
		FromName:       m.FromName,
		FromEmail:      m.FromEmail,
		ReplyTo:        m.ReplyTo,
		HTMLContent:    m.HTMLContent,
		TextContent:    m.TextContent,
		TemplateID:     m.TemplateID,
		Segment: domain.Segment{
			Kind:           m.SegmentType,
			TagIDs:         []string(m.SegmentTagIDs),
			Status:         m.SegmentStatus,
			ExcludedTagIDs: []string(m.ExcludedTagIDs),
		}.Normalize(),
		Status:          m.Status,
		ScheduledAt:     m.ScheduledAt,
		TotalRecipients: m.TotalRecipients,
		TotalSent:       m.TotalSent,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func recipientModelFromDomain(r *domain.CampaignRecipient) *CampaignRecipientModel {
	if r == nil {
		return nil
	}

	return &CampaignRecipientModel{
		ID:                r.ID,
		CampaignID:        r.CampaignID,
		ContactID:         r.ContactID,
		Position:          r.Position,
		Email:             r.Email,
		FirstName:         r.FirstName,
		LastName:          r.LastName,
		Status:            r.Status,
		SentAt:            r.SentAt,
		ProviderMessageID: r.ProviderMessageID,
		ErrorMessage:      r.ErrorMessage,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func recipientModelToDomain(m *CampaignRecipientModel) *domain.CampaignRecipient {
	if m == nil {
		return nil
	}

	return &domain.CampaignRecipient{
		ID:                m.ID,
		CampaignID:        m.CampaignID,
		ContactID:         m.ContactID,
		Position:          m.Position,
		Email:             m.Email,
		FirstName:         m.FirstName,
		LastName:          m.LastName,
		Status:            m.Status,
		SentAt:            m.SentAt,
		ProviderMessageID: m.ProviderMessageID,
		ErrorMessage:      m.ErrorMessage,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func jobModelFromDomain(j *domain.SendJob) *SendJobModel {
	if j == nil {
		return nil
	}

	return &SendJobModel{
		ID:             j.ID,
		CampaignID:     j.CampaignID,
		OrganizationID: j.OrganizationID,
		Kind:           j.Kind,
		Status:         j.Status,
		Total:          j.Total,
		Sent:           j.Sent,
		Failed:         j.Failed,
		Error:          j.Error,
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
	}
}

func jobModelToDomain(m *SendJobModel) *domain.SendJob {
	if m == nil {
		return nil
	}

	return &domain.SendJob{
		ID:             m.ID,
		CampaignID:     m.CampaignID,
		OrganizationID: m.OrganizationID,
		Kind:           m.Kind,
		Status:         m.Status,
		Total:          m.Total,
		Sent:           m.Sent,
		Failed:         m.Failed,
		Error:          m.Error,
		StartedAt:      m.StartedAt,
		FinishedAt:     m.FinishedAt,
	}
}
