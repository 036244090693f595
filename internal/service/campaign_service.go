package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// CampaignDetails is a campaign with its per-status recipient counts.
type CampaignDetails struct {
	Campaign *domain.Campaign
	Counts   []domain.RecipientStatusCount
}

// CampaignService handles campaign CRUD, scheduling and the read-only views.
type CampaignService struct {
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	contacts   repository.ContactRepository
	templates  repository.TemplateRepository
	jobs       repository.JobRepository
	logger     *zap.Logger
	now        func() time.Time
}

func NewCampaignService(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	contacts repository.ContactRepository,
	templates repository.TemplateRepository,
	jobs repository.JobRepository,
	logger *zap.Logger,
) (*CampaignService, error) {
	if campaigns == nil || recipients == nil || contacts == nil || templates == nil || jobs == nil {
		return nil, fmt.Errorf("campaign service repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		campaigns:  campaigns,
		recipients: recipients,
		contacts:   contacts,
		templates:  templates,
		jobs:       jobs,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Create stores a new draft campaign.
func (s *CampaignService) Create(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error) {
	if campaign == nil {
		return nil, fmt.Errorf("%w: campaign is required", domain.ErrValidation)
	}

	campaign.ID = uuid.NewString()
	campaign.OrganizationID = strings.TrimSpace(campaign.OrganizationID)
	campaign.Name = strings.TrimSpace(campaign.Name)
	campaign.Subject = strings.TrimSpace(campaign.Subject)
	campaign.FromName = strings.TrimSpace(campaign.FromName)
	campaign.FromEmail = strings.TrimSpace(campaign.FromEmail)
	campaign.ReplyTo = strings.TrimSpace(campaign.ReplyTo)
	campaign.TemplateID = normalizeOptionalString(campaign.TemplateID)
	campaign.Segment = campaign.Segment.Normalize()
	campaign.Status = domain.CampaignDraft
	campaign.ScheduledAt = nil
	campaign.TotalRecipients = 0
	campaign.TotalSent = 0
	campaign.StartedAt = nil
	campaign.CompletedAt = nil

	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureTemplate(ctx, campaign); err != nil {
		return nil, err
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *CampaignService) Get(ctx context.Context, orgID, campaignID string) (*CampaignDetails, error) {
	campaign, err := s.campaigns.GetByID(ctx, orgID, campaignID)
	if err != nil {
		return nil, err
	}

	counts, err := s.recipients.StatusCounts(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count recipients: %w", err)
	}
	return &CampaignDetails{Campaign: campaign, Counts: counts}, nil
}

func (s *CampaignService) List(ctx context.Context, params repository.CampaignListParams) ([]domain.Campaign, int64, error) {
	if strings.TrimSpace(params.OrganizationID) == "" {
		return nil, 0, fmt.Errorf("%w: organization is required", domain.ErrValidation)
	}
	return s.campaigns.List(ctx, params)
}

// Update applies patch while the campaign is still draft or scheduled.
func (s *CampaignService) Update(ctx context.Context, orgID, campaignID string, patch domain.CampaignPatch) (*domain.Campaign, error) {
	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: no fields to update", domain.ErrValidation)
	}

	campaign, err := s.campaigns.GetByID(ctx, orgID, campaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.Status.Editable() {
		return nil, fmt.Errorf("%w: campaign in status %s cannot be edited", domain.ErrInvalidState, campaign.Status)
	}

	patch.Apply(campaign)
	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	if patch.TemplateID != nil {
		if err := s.ensureTemplate(ctx, campaign); err != nil {
			return nil, err
		}
	}

	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *CampaignService) Delete(ctx context.Context, orgID, campaignID string) error {
	return s.campaigns.Delete(ctx, orgID, campaignID)
}

// Schedule sets a future send time. Due campaigns are picked up by the Scheduler.
func (s *CampaignService) Schedule(ctx context.Context, orgID, campaignID string, at time.Time) (*domain.Campaign, error) {
	if at.IsZero() {
		return nil, fmt.Errorf("%w: scheduledAt is required", domain.ErrValidation)
	}
	at = at.UTC()
	if !at.After(s.now()) {
		return nil, fmt.Errorf("%w: scheduledAt must be in the future", domain.ErrValidation)
	}

	if err := s.campaigns.Schedule(ctx, orgID, campaignID, &at); err != nil {
		return nil, err
	}
	return s.campaigns.GetByID(ctx, orgID, campaignID)
}

// Unschedule returns a draft or scheduled campaign to draft.
func (s *CampaignService) Unschedule(ctx context.Context, orgID, campaignID string) (*domain.Campaign, error) {
	if err := s.campaigns.Schedule(ctx, orgID, campaignID, nil); err != nil {
		return nil, err
	}
	return s.campaigns.GetByID(ctx, orgID, campaignID)
}

// Preview counts the audience the campaign would be sent to now. An empty
// audience is a valid answer here.
func (s *CampaignService) Preview(ctx context.Context, orgID, campaignID string) (int64, error) {
	campaign, err := s.campaigns.GetByID(ctx, orgID, campaignID)
	if err != nil {
		return 0, err
	}

	count, err := s.contacts.CountEligible(ctx, orgID, campaign.Segment)
	if err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return count, nil
}

func (s *CampaignService) ListRecipients(
	ctx context.Context,
	orgID string,
	params repository.RecipientListParams,
) ([]domain.CampaignRecipient, int64, error) {
	if _, err := s.campaigns.GetByID(ctx, orgID, params.CampaignID); err != nil {
		return nil, 0, err
	}
	return s.recipients.List(ctx, params)
}

func (s *CampaignService) GetJob(ctx context.Context, orgID, jobID string) (*domain.SendJob, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	return s.jobs.GetByID(ctx, orgID, strings.TrimSpace(jobID))
}

func (s *CampaignService) ensureTemplate(ctx context.Context, campaign *domain.Campaign) error {
	if campaign.TemplateID == nil {
		return nil
	}

	_, err := s.templates.GetByID(ctx, campaign.OrganizationID, *campaign.TemplateID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: template %s not found", domain.ErrValidation, *campaign.TemplateID)
	}
	if err != nil {
		return fmt.Errorf("failed to load template: %w", err)
	}
	return nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
