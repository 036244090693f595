package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/mailer"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"github.com/itemize-cloud/campaign-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type CampaignService interface {
	Create(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error)
	Get(ctx context.Context, orgID, campaignID string) (*service.CampaignDetails, error)
	List(ctx context.Context, params repository.CampaignListParams) ([]domain.Campaign, int64, error)
	Update(ctx context.Context, orgID, campaignID string, patch domain.CampaignPatch) (*domain.Campaign, error)
	Delete(ctx context.Context, orgID, campaignID string) error
	Schedule(ctx context.Context, orgID, campaignID string, at time.Time) (*domain.Campaign, error)
	Unschedule(ctx context.Context, orgID, campaignID string) (*domain.Campaign, error)
	Preview(ctx context.Context, orgID, campaignID string) (int64, error)
	ListRecipients(ctx context.Context, orgID string, params repository.RecipientListParams) ([]domain.CampaignRecipient, int64, error)
	GetJob(ctx context.Context, orgID, jobID string) (*domain.SendJob, error)
}

type SendService interface {
	Send(ctx context.Context, orgID, campaignID string) (*service.SendOutcome, error)
	Pause(ctx context.Context, orgID, campaignID string) (*domain.Campaign, error)
	Resume(ctx context.Context, orgID, campaignID string) (*service.ResumeOutcome, error)
	SendTest(ctx context.Context, orgID, campaignID, address string) (*mailer.SendResult, error)
}

type CampaignHandler struct {
	campaigns CampaignService
	sends     SendService
}

func NewCampaignHandler(campaigns CampaignService, sends SendService) (*CampaignHandler, error) {
	if campaigns == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	if sends == nil {
		return nil, fmt.Errorf("send service is required")
	}
	return &CampaignHandler{campaigns: campaigns, sends: sends}, nil
}

func RegisterCampaignRoutes(router fiber.Router, campaigns CampaignService, sends SendService) error {
	h, err := NewCampaignHandler(campaigns, sends)
	if err != nil {
		return err
	}

	group := router.Group("/v1/campaigns", RequireOrganization())
	group.Post("/", h.CreateCampaign)
	group.Get("/", h.ListCampaigns)
	group.Get("/:id", h.GetCampaign)
	group.Put("/:id", h.UpdateCampaign)
	group.Delete("/:id", h.DeleteCampaign)
	group.Post("/:id/schedule", h.ScheduleCampaign)
	group.Post("/:id/unschedule", h.UnscheduleCampaign)
	group.Post("/:id/send", h.SendCampaign)
	group.Post("/:id/pause", h.PauseCampaign)
	group.Post("/:id/resume", h.ResumeCampaign)
	group.Get("/:id/preview", h.PreviewCampaign)
	group.Post("/:id/send-test", h.SendTestEmail)
	group.Get("/:id/recipients", h.ListRecipients)

	router.Get("/v1/jobs/:id", RequireOrganization(), h.GetJob)

	return nil
}

type segmentRequest struct {
	Type           string   `json:"type"`
	TagIDs         []string `json:"tagIds"`
	Status         string   `json:"status"`
	ExcludedTagIDs []string `json:"excludedTagIds"`
}

type createCampaignRequest struct {
	Name        string          `json:"name"`
	Subject     string          `json:"subject"`
	FromName    string          `json:"fromName"`
	FromEmail   string          `json:"fromEmail"`
	ReplyTo     string          `json:"replyTo"`
	HTMLContent string          `json:"htmlContent"`
	TextContent string          `json:"textContent"`
	TemplateID  *string         `json:"templateId"`
	Segment     *segmentRequest `json:"segment"`
}

type updateCampaignRequest struct {
	Name        *string         `json:"name"`
	Subject     *string         `json:"subject"`
	FromName    *string         `json:"fromName"`
	FromEmail   *string         `json:"fromEmail"`
	ReplyTo     *string         `json:"replyTo"`
	HTMLContent *string         `json:"htmlContent"`
	TextContent *string         `json:"textContent"`
	TemplateID  *string         `json:"templateId"`
	Segment     *segmentRequest `json:"segment"`
}

type scheduleRequest struct {
	ScheduledAt string `json:"scheduledAt"`
}

type sendTestRequest struct {
	Email string `json:"email"`
}

type segmentResponse struct {
	Type           string   `json:"type"`
	TagIDs         []string `json:"tagIds,omitempty"`
	Status         string   `json:"status,omitempty"`
	ExcludedTagIDs []string `json:"excludedTagIds,omitempty"`
}

type campaignResponse struct {
	ID              string          `json:"id"`
	OrganizationID  string          `json:"organizationId"`
	Name            string          `json:"name"`
	Subject         string          `json:"subject"`
	FromName        string          `json:"fromName,omitempty"`
	FromEmail       string          `json:"fromEmail,omitempty"`
	ReplyTo         string          `json:"replyTo,omitempty"`
	HTMLContent     string          `json:"htmlContent,omitempty"`
	TextContent     string          `json:"textContent,omitempty"`
	TemplateID      *string         `json:"templateId,omitempty"`
	Segment         segmentResponse `json:"segment"`
	Status          string          `json:"status"`
	ScheduledAt     *time.Time      `json:"scheduledAt,omitempty"`
	TotalRecipients int             `json:"totalRecipients"`
	TotalSent       int             `json:"totalSent"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt,omitempty"`
}

type campaignDetailsResponse struct {
	campaignResponse
	RecipientCounts []statusCountItem `json:"recipientCounts"`
}

type statusCountItem struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type listCampaignsResponse struct {
	Data []campaignResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type sendCampaignResponse struct {
	Campaign       campaignResponse `json:"campaign"`
	RecipientCount int              `json:"recipientCount"`
	JobID          string           `json:"jobId"`
}

type transitionResponse struct {
	Campaign campaignResponse `json:"campaign"`
	JobID    string           `json:"jobId,omitempty"`
}

type previewResponse struct {
	CampaignID     string `json:"campaignId"`
	RecipientCount int64  `json:"recipientCount"`
}

type sendTestResponse struct {
	To        string `json:"to"`
	MessageID string `json:"messageId"`
}

type recipientResponse struct {
	ID                string     `json:"id"`
	ContactID         string     `json:"contactId"`
	Email             string     `json:"email"`
	FirstName         string     `json:"firstName,omitempty"`
	LastName          string     `json:"lastName,omitempty"`
	Status            string     `json:"status"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
}

type listRecipientsResponse struct {
	Data []recipientResponse `json:"data"`
	Meta listMeta            `json:"meta"`
}

type jobResponse struct {
	ID         string     `json:"id"`
	CampaignID string     `json:"campaignId"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	campaign := &domain.Campaign{
		OrganizationID: organizationID(c),
		Name:           req.Name,
		Subject:        req.Subject,
		FromName:       req.FromName,
		FromEmail:      req.FromEmail,
		ReplyTo:        req.ReplyTo,
		HTMLContent:    req.HTMLContent,
		TextContent:    req.TextContent,
		TemplateID:     req.TemplateID,
		Segment:        domain.AllContacts(),
	}
	if req.Segment != nil {
		segment, err := requestToSegment(*req.Segment)
		if err != nil {
			return err
		}
		campaign.Segment = segment
	}

	created, err := h.campaigns.Create(c.UserContext(), campaign)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(created))
}

func (h *CampaignHandler) ListCampaigns(c *fiber.Ctx) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return err
	}

	params := repository.CampaignListParams{
		OrganizationID: organizationID(c),
		Page:           page,
		PageSize:       pageSize,
	}
	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseCampaignStatusFromString(rawStatus)
		if err != nil {
			return err
		}
		params.Status = &status
	}

	campaigns, total, err := h.campaigns.List(c.UserContext(), params)
	if err != nil {
		return err
	}

	data := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		data = append(data, toCampaignResponse(&campaigns[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listCampaignsResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	details, err := h.campaigns.Get(c.UserContext(), organizationID(c), campaignIDParam(c))
	if err != nil {
		return err
	}

	counts := make([]statusCountItem, 0, len(details.Counts))
	for _, count := range details.Counts {
		counts = append(counts, statusCountItem{Status: count.Status.String(), Count: count.Count})
	}

	return c.Status(fiber.StatusOK).JSON(campaignDetailsResponse{
		campaignResponse: toCampaignResponse(details.Campaign),
		RecipientCounts:  counts,
	})
}

func (h *CampaignHandler) UpdateCampaign(c *fiber.Ctx) error {
	var req updateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	patch := domain.CampaignPatch{
		Name:        req.Name,
		Subject:     req.Subject,
		FromName:    req.FromName,
		FromEmail:   req.FromEmail,
		ReplyTo:     req.ReplyTo,
		HTMLContent: req.HTMLContent,
		TextContent: req.TextContent,
		TemplateID:  req.TemplateID,
	}
	if req.Segment != nil {
		segment, err := requestToSegment(*req.Segment)
		if err != nil {
			return err
		}
		patch.Segment = &segment
	}

	updated, err := h.campaigns.Update(c.UserContext(), organizationID(c), campaignIDParam(c), patch)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(updated))
}

func (h *CampaignHandler) DeleteCampaign(c *fiber.Ctx) error {
	if err := h.campaigns.Delete(c.UserContext(), organizationID(c), campaignIDParam(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignHandler) ScheduleCampaign(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	at, err := parseRFC3339(req.ScheduledAt, "scheduledAt")
	if err != nil {
		return err
	}

	campaign, err := h.campaigns.Schedule(c.UserContext(), organizationID(c), campaignIDParam(c), at)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) UnscheduleCampaign(c *fiber.Ctx) error {
	campaign, err := h.campaigns.Unschedule(c.UserContext(), organizationID(c), campaignIDParam(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) SendCampaign(c *fiber.Ctx) error {
	outcome, err := h.sends.Send(c.UserContext(), organizationID(c), campaignIDParam(c))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(sendCampaignResponse{
		Campaign:       toCampaignResponse(outcome.Campaign),
		RecipientCount: outcome.RecipientCount,
		JobID:          outcome.JobID,
	})
}

func (h *CampaignHandler) PauseCampaign(c *fiber.Ctx) error {
	campaign, err := h.sends.Pause(c.UserContext(), organizationID(c), campaignIDParam(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(transitionResponse{Campaign: toCampaignResponse(campaign)})
}

func (h *CampaignHandler) ResumeCampaign(c *fiber.Ctx) error {
	outcome, err := h.sends.Resume(c.UserContext(), organizationID(c), campaignIDParam(c))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(transitionResponse{
		Campaign: toCampaignResponse(outcome.Campaign),
		JobID:    outcome.JobID,
	})
}

func (h *CampaignHandler) PreviewCampaign(c *fiber.Ctx) error {
	id := campaignIDParam(c)
	count, err := h.campaigns.Preview(c.UserContext(), organizationID(c), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(previewResponse{CampaignID: id, RecipientCount: count})
}

func (h *CampaignHandler) SendTestEmail(c *fiber.Ctx) error {
	var req sendTestRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	address := strings.TrimSpace(req.Email)
	result, err := h.sends.SendTest(c.UserContext(), organizationID(c), campaignIDParam(c), address)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(sendTestResponse{To: address, MessageID: result.MessageID})
}

func (h *CampaignHandler) ListRecipients(c *fiber.Ctx) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return err
	}

	params := repository.RecipientListParams{
		CampaignID: campaignIDParam(c),
		Page:       page,
		PageSize:   pageSize,
	}
	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseRecipientStatusFromString(rawStatus)
		if err != nil {
			return err
		}
		params.Status = &status
	}

	recipients, total, err := h.campaigns.ListRecipients(c.UserContext(), organizationID(c), params)
	if err != nil {
		return err
	}

	data := make([]recipientResponse, 0, len(recipients))
	for _, r := range recipients {
		data = append(data, recipientResponse{
			ID:                r.ID,
			ContactID:         r.ContactID,
			Email:             r.Email,
			FirstName:         r.FirstName,
			LastName:          r.LastName,
			Status:            r.Status.String(),
			SentAt:            r.SentAt,
			ProviderMessageID: r.ProviderMessageID,
			ErrorMessage:      r.ErrorMessage,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listRecipientsResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *CampaignHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.campaigns.GetJob(c.UserContext(), organizationID(c), c.Params("id"))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(jobResponse{
		ID:         job.ID,
		CampaignID: job.CampaignID,
		Kind:       job.Kind.String(),
		Status:     job.Status.String(),
		Total:      job.Total,
		Sent:       job.Sent,
		Failed:     job.Failed,
		Error:      job.Error,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	})
}

func campaignIDParam(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Params("id"))
}

func parsePagination(c *fiber.Ctx) (int, int, error) {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)

	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}
	return page, pageSize, nil
}

func parseRFC3339(value string, field string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return t, nil
}

func requestToSegment(req segmentRequest) (domain.Segment, error) {
	kind, err := domain.ParseSegmentKindFromString(req.Type)
	if err != nil {
		return domain.Segment{}, err
	}

	switch kind {
	case domain.SegmentTag:
		return domain.ContactsWithTags(req.TagIDs, req.ExcludedTagIDs...), nil
	case domain.SegmentStatus:
		return domain.ContactsWithStatus(req.Status, req.ExcludedTagIDs...), nil
	default:
		return domain.AllContacts(req.ExcludedTagIDs...), nil
	}
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	if c == nil {
		return campaignResponse{}
	}

	return campaignResponse{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		Name:           c.Name,
		Subject:        c.Subject,
		FromName:       c.FromName,
		FromEmail:      c.FromEmail,
		ReplyTo:        c.ReplyTo,
		HTMLContent:    c.HTMLContent,
		TextContent:    c.TextContent,
		TemplateID:     c.TemplateID,
		Segment: segmentResponse{
			Type:           c.Segment.Kind.String(),
			TagIDs:         c.Segment.TagIDs,
			Status:         c.Segment.Status,
			ExcludedTagIDs: c.Segment.ExcludedTagIDs,
		},
		Status:          c.Status.String(),
		ScheduledAt:     c.ScheduledAt,
		TotalRecipients: c.TotalRecipients,
		TotalSent:       c.TotalSent,
		StartedAt:       c.StartedAt,
		CompletedAt:     c.CompletedAt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}
