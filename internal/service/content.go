package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/mailer"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
)

// resolveContent returns the campaign content with template fallback applied.
func resolveContent(ctx context.Context, templates repository.TemplateRepository, c *domain.Campaign) (domain.EmailContent, error) {
	var tpl *domain.EmailTemplate
	if c.TemplateID != nil {
		loaded, err := templates.GetByID(ctx, c.OrganizationID, *c.TemplateID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.EmailContent{}, fmt.Errorf("%w: template %s not found", domain.ErrValidation, *c.TemplateID)
			}
			return domain.EmailContent{}, fmt.Errorf("failed to load template: %w", err)
		}
		tpl = loaded
	}

	content := c.Content(tpl)
	if strings.TrimSpace(content.Subject) == "" {
		return domain.EmailContent{}, fmt.Errorf("%w: campaign has no subject", domain.ErrValidation)
	}
	if strings.TrimSpace(content.HTML) == "" && strings.TrimSpace(content.Text) == "" {
		return domain.EmailContent{}, fmt.Errorf("%w: campaign has no content", domain.ErrValidation)
	}
	return content, nil
}

func composeEmail(c *domain.Campaign, sender Sender, to string, rendered domain.EmailContent) mailer.Email {
	email := mailer.Email{
		To:        to,
		Subject:   rendered.Subject,
		HTML:      rendered.HTML,
		Text:      rendered.Text,
		FromName:  c.FromName,
		FromEmail: c.FromEmail,
		ReplyTo:   c.ReplyTo,
		Tags: map[string]string{
			"campaign_id":     c.ID,
			"organization_id": c.OrganizationID,
		},
	}
	if strings.TrimSpace(email.FromEmail) == "" {
		email.FromEmail = sender.FromEmail
		if strings.TrimSpace(email.FromName) == "" {
			email.FromName = sender.FromName
		}
	}
	return email
}
