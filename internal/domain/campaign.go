package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignSent      CampaignStatus = "sent"
)

// EditableStatuses are the states in which content, audience and schedule may change.
var EditableStatuses = []CampaignStatus{CampaignDraft, CampaignScheduled}

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending, CampaignPaused, CampaignSent:
		return true
	}
	return false
}

func ParseCampaignStatusFromString(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign status %q", ErrValidation, s)
	}
	return st, nil
}

func (s CampaignStatus) Editable() bool {
	return s == CampaignDraft || s == CampaignScheduled
}

func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	switch s {
	case CampaignDraft, CampaignScheduled:
		return next == CampaignDraft || next == CampaignScheduled || next == CampaignSending
	case CampaignSending:
		return next == CampaignPaused || next == CampaignSent
	case CampaignPaused:
		return next == CampaignSending || next == CampaignSent
	}
	return false
}

// Content limits.
const (
	MaxCampaignNameLength = 255
	MaxSubjectLength      = 998
)

// Campaign is one email blast.
type Campaign struct {
	ID              string
	OrganizationID  string
	Name            string
	Subject         string
	FromName        string
	FromEmail       string
	ReplyTo         string
	HTMLContent     string
	TextContent     string
	TemplateID      *string
	Segment         Segment
	Status          CampaignStatus
	ScheduledAt     *time.Time
	TotalRecipients int
	TotalSent       int
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.OrganizationID) == "" {
		return fmt.Errorf("%w: organization is required", ErrValidation)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len([]rune(c.Name)) > MaxCampaignNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrValidation, MaxCampaignNameLength)
	}
	if c.TemplateID == nil && strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if len([]rune(c.Subject)) > MaxSubjectLength {
		return fmt.Errorf("%w: subject exceeds %d characters", ErrValidation, MaxSubjectLength)
	}
	if c.TemplateID == nil && strings.TrimSpace(c.HTMLContent) == "" && strings.TrimSpace(c.TextContent) == "" {
		return fmt.Errorf("%w: html content, text content or a template is required", ErrValidation)
	}
	if err := validateOptionalAddress("fromEmail", c.FromEmail); err != nil {
		return err
	}
	if err := validateOptionalAddress("replyTo", c.ReplyTo); err != nil {
		return err
	}
	if err := c.Segment.Validate(); err != nil {
		return err
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, c.Status)
	}
	return nil
}

// Content resolves the subject and bodies to send, falling back to the
// referenced template for anything the campaign leaves empty.
func (c *Campaign) Content(tpl *EmailTemplate) EmailContent {
	content := EmailContent{
		Subject: c.Subject,
		HTML:    c.HTMLContent,
		Text:    c.TextContent,
	}
	if tpl == nil {
		return content
	}
	if strings.TrimSpace(content.Subject) == "" {
		content.Subject = tpl.Subject
	}
	if strings.TrimSpace(content.HTML) == "" && strings.TrimSpace(content.Text) == "" {
		content.HTML = tpl.HTMLContent
		content.Text = tpl.TextContent
	}
	return content
}

// EmailContent is the subject and bodies of an email before personalization.
type EmailContent struct {
	Subject string
	HTML    string
	Text    string
}

// CampaignPatch carries the editable fields of a campaign; nil fields are left unchanged.
type CampaignPatch struct {
	Name        *string
	Subject     *string
	FromName    *string
	FromEmail   *string
	ReplyTo     *string
	HTMLContent *string
	TextContent *string
	TemplateID  *string
	Segment     *Segment
}

func (p CampaignPatch) IsEmpty() bool {
	return p.Name == nil && p.Subject == nil && p.FromName == nil && p.FromEmail == nil &&
		p.ReplyTo == nil && p.HTMLContent == nil && p.TextContent == nil && p.TemplateID == nil &&
		p.Segment == nil
}

// Apply copies the patch onto c. An empty TemplateID clears the reference.
func (p CampaignPatch) Apply(c *Campaign) {
	if p.Name != nil {
		c.Name = strings.TrimSpace(*p.Name)
	}
	if p.Subject != nil {
		c.Subject = strings.TrimSpace(*p.Subject)
	}
	if p.FromName != nil {
		c.FromName = strings.TrimSpace(*p.FromName)
	}
	if p.FromEmail != nil {
		c.FromEmail = strings.TrimSpace(*p.FromEmail)
	}
	if p.ReplyTo != nil {
		c.ReplyTo = strings.TrimSpace(*p.ReplyTo)
	}
	if p.HTMLContent != nil {
		c.HTMLContent = *p.HTMLContent
	}
	if p.TextContent != nil {
		c.TextContent = *p.TextContent
	}
	if p.TemplateID != nil {
		if id := strings.TrimSpace(*p.TemplateID); id != "" {
			c.TemplateID = &id
		} else {
			c.TemplateID = nil
		}
	}
	if p.Segment != nil {
		c.Segment = p.Segment.Normalize()
	}
}

// SendStart is the state written when a campaign enters sending.
type SendStart struct {
	CampaignID      string
	OrganizationID  string
	From            []CampaignStatus
	StartedAt       time.Time
	TotalRecipients int
	Recipients      []*CampaignRecipient
}

func validateOptionalAddress(field, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return fmt.Errorf("%w: %s is not a valid email address", ErrValidation, field)
	}
	return nil
}

// ValidateEmailAddress reports whether value is a single bare address.
func ValidateEmailAddress(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	return validateOptionalAddress(field, value)
}
