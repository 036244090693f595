package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/mailer"
	"github.com/itemize-cloud/campaign-engine/internal/observability"
	"github.com/itemize-cloud/campaign-engine/internal/queue"
	"github.com/itemize-cloud/campaign-engine/internal/render"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// SendOutcome is returned by Send.
type SendOutcome struct {
	Campaign       *domain.Campaign
	RecipientCount int
	JobID          string
}

// ResumeOutcome is returned by Resume. JobID is empty when nothing was left
// to send and the campaign went straight to sent.
type ResumeOutcome struct {
	Campaign *domain.Campaign
	JobID    string
}

// SendService drives the send-related campaign transitions.
type SendService struct {
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	contacts   repository.ContactRepository
	templates  repository.TemplateRepository
	usage      UsageAccountant
	runner     JobStarter
	mailer     mailer.Mailer
	events     *campaignEvents
	metrics    *observability.Metrics
	logger     *zap.Logger
	sender     Sender
	// atomicReserve admits with one conditional increment instead of check-then-commit.
	atomicReserve bool
	now           func() time.Time
}

func NewSendService(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	contacts repository.ContactRepository,
	templates repository.TemplateRepository,
	usage UsageAccountant,
	runner JobStarter,
	mailClient mailer.Mailer,
	sender Sender,
	logger *zap.Logger,
) (*SendService, error) {
	if campaigns == nil || recipients == nil || contacts == nil || templates == nil {
		return nil, fmt.Errorf("send service repositories are required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage accountant is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("job runner is required")
	}
	if mailClient == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &SendService{
		campaigns:  campaigns,
		recipients: recipients,
		contacts:   contacts,
		templates:  templates,
		usage:      usage,
		runner:     runner,
		mailer:     mailClient,
		logger:     logger,
		sender:     sender,
		now:        time.Now,
	}
	s.events = &campaignEvents{logger: logger, now: func() time.Time { return s.now() }}
	return s, nil
}

func (s *SendService) SetAtomicReserve(enabled bool) {
	s.atomicReserve = enabled
}

func (s *SendService) SetPublisher(publisher queue.Publisher) {
	s.events.publisher = publisher
}

func (s *SendService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
	s.events.metrics = metrics
}

// Send resolves the audience, admits it against the email quota, moves the
// campaign to sending with its pending recipient rows and starts the send
// loop. Everything up to the transition is reported to the caller; delivery
// outcomes are only visible on the job and recipient rows.
func (s *SendService) Send(ctx context.Context, orgID, campaignID string) (*SendOutcome, error) {
	logger := observability.WithContextLogger(s.logger, ctx)

	campaign, err := s.campaigns.GetByID(ctx, orgID, campaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.Status.Editable() {
		return nil, fmt.Errorf("%w: campaign in status %s cannot be sent", domain.ErrInvalidState, campaign.Status)
	}
	if _, err := resolveContent(ctx, s.templates, campaign); err != nil {
		return nil, err
	}

	contacts, err := s.contacts.FindEligible(ctx, orgID, campaign.Segment)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	if len(contacts) == 0 {
		return nil, domain.ErrNoRecipients
	}
	count := int64(len(contacts))

	if err := s.admit(ctx, orgID, count); err != nil {
		return nil, err
	}

	recipients := make([]*domain.CampaignRecipient, 0, len(contacts))
	for i, contact := range contacts {
		recipients = append(recipients, domain.RecipientFromContact(uuid.NewString(), campaign.ID, i, contact))
	}

	startedAt := s.now().UTC()
	start := domain.SendStart{
		CampaignID:      campaign.ID,
		OrganizationID:  orgID,
		From:            domain.EditableStatuses,
		StartedAt:       startedAt,
		TotalRecipients: len(recipients),
		Recipients:      recipients,
	}
	if err := s.campaigns.StartSending(ctx, start); err != nil {
		if s.atomicReserve {
			if releaseErr := s.usage.Release(context.WithoutCancel(ctx), orgID, domain.ResourceEmails, count); releaseErr != nil {
				logger.Error("failed to release usage reservation after send start failure",
					zap.String("campaignId", campaign.ID),
					zap.Int64("amount", count),
					zap.Error(releaseErr),
				)
			}
		}
		return nil, err
	}

	if !s.atomicReserve {
		// The campaign is already sending; a lost commit under-counts usage
		// rather than blocking delivery.
		if err := s.usage.Commit(ctx, orgID, domain.ResourceEmails, count); err != nil {
			logger.Error("failed to commit email usage",
				zap.String("campaignId", campaign.ID),
				zap.Int64("amount", count),
				zap.Error(err),
			)
		}
	}

	campaign.Status = domain.CampaignSending
	campaign.StartedAt = &startedAt
	campaign.TotalRecipients = len(recipients)
	campaign.TotalSent = 0
	campaign.CompletedAt = nil

	s.events.transitioned(ctx, campaign.ID, orgID, domain.CampaignSending, 0)

	job, err := s.runner.Start(ctx, campaign, domain.JobKindSend, len(recipients))
	if err != nil {
		return nil, fmt.Errorf("campaign is sending but its send job could not be started: %w", err)
	}

	logger.Info("campaign send started",
		zap.String("campaignId", campaign.ID),
		zap.String("jobId", job.ID),
		zap.Int("recipients", len(recipients)),
	)

	return &SendOutcome{
		Campaign:       campaign,
		RecipientCount: len(recipients),
		JobID:          job.ID,
	}, nil
}

func (s *SendService) admit(ctx context.Context, orgID string, count int64) error {
	var (
		check domain.UsageCheck
		err   error
	)
	if s.atomicReserve {
		check, err = s.usage.Reserve(ctx, orgID, domain.ResourceEmails, count)
	} else {
		check, err = s.usage.Check(ctx, orgID, domain.ResourceEmails, count)
	}
	if err != nil {
		return err
	}
	if !check.WithinLimits {
		return domain.NewQuotaExceededError(check)
	}
	return nil
}

// Pause moves a sending campaign to paused. The running loop notices before
// its next recipient.
func (s *SendService) Pause(ctx context.Context, orgID, campaignID string) (*domain.Campaign, error) {
	if err := s.campaigns.Transition(ctx, orgID, campaignID, []domain.CampaignStatus{domain.CampaignSending}, domain.CampaignPaused); err != nil {
		return nil, err
	}

	campaign, err := s.campaigns.GetByID(ctx, orgID, campaignID)
	if err != nil {
		return nil, err
	}
	s.events.transitioned(ctx, campaign.ID, orgID, domain.CampaignPaused, campaign.TotalSent)
	return campaign, nil
}

// Resume continues a paused campaign from its remaining pending rows. The
// audience is not resolved again.
func (s *SendService) Resume(ctx context.Context, orgID, campaignID string) (*ResumeOutcome, error) {
	campaign, err := s.campaigns.GetByID(ctx, orgID, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignPaused {
		return nil, fmt.Errorf("%w: campaign in status %s cannot be resumed", domain.ErrInvalidState, campaign.Status)
	}

	pending, err := s.recipients.CountByStatus(ctx, campaign.ID, domain.RecipientPending)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending recipients: %w", err)
	}

	if pending == 0 {
		sent, err := s.recipients.CountByStatus(ctx, campaign.ID, domain.RecipientSent)
		if err != nil {
			return nil, fmt.Errorf("failed to count sent recipients: %w", err)
		}
		applied, err := s.campaigns.Complete(ctx, campaign.ID, []domain.CampaignStatus{domain.CampaignPaused}, int(sent), s.now().UTC())
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, fmt.Errorf("%w: campaign changed status while resuming", domain.ErrInvalidState)
		}
		s.events.transitioned(ctx, campaign.ID, orgID, domain.CampaignSent, int(sent))

		completed, err := s.campaigns.GetByID(ctx, orgID, campaignID)
		if err != nil {
			return nil, err
		}
		return &ResumeOutcome{Campaign: completed}, nil
	}

	if err := s.campaigns.Transition(ctx, orgID, campaignID, []domain.CampaignStatus{domain.CampaignPaused}, domain.CampaignSending); err != nil {
		return nil, err
	}
	campaign.Status = domain.CampaignSending
	s.events.transitioned(ctx, campaign.ID, orgID, domain.CampaignSending, campaign.TotalSent)

	job, err := s.runner.Start(ctx, campaign, domain.JobKindResume, int(pending))
	if err != nil {
		return nil, fmt.Errorf("campaign is sending but its resume job could not be started: %w", err)
	}

	return &ResumeOutcome{Campaign: campaign, JobID: job.ID}, nil
}

// SendTest renders the campaign with sample values and sends it to address.
// It does not touch usage counters or recipient rows.
func (s *SendService) SendTest(ctx context.Context, orgID, campaignID, address string) (*mailer.SendResult, error) {
	if err := domain.ValidateEmailAddress("email", address); err != nil {
		return nil, err
	}

	campaign, err := s.campaigns.GetByID(ctx, orgID, campaignID)
	if err != nil {
		return nil, err
	}
	content, err := resolveContent(ctx, s.templates, campaign)
	if err != nil {
		return nil, err
	}

	rendered := render.RenderEmail(content, render.TestVariables(address))
	email := composeEmail(campaign, s.sender, address, rendered)
	email.Tags["test"] = "true"

	started := s.now()
	result, err := s.mailer.Send(ctx, email)
	s.metrics.ObserveEmailSendDuration(metricsSourceTest, s.now().Sub(started))
	if err != nil {
		s.metrics.IncEmailFailed(metricsSourceTest, mailer.FailureReason(err))
		return nil, fmt.Errorf("failed to send test email: %w", err)
	}
	s.metrics.IncEmailSent(metricsSourceTest)
	return result, nil
}
