package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
)

// CampaignEvent is published on campaign status transitions.
type CampaignEvent struct {
	CampaignID     string                `json:"campaignId"`
	OrganizationID string                `json:"organizationId"`
	Status         domain.CampaignStatus `json:"status"`
	TotalSent      int                   `json:"totalSent"`
	OccurredAt     time.Time             `json:"occurredAt"`
}

func (e CampaignEvent) Validate() error {
	if strings.TrimSpace(e.CampaignID) == "" {
		return fmt.Errorf("campaignId is required")
	}
	if strings.TrimSpace(e.OrganizationID) == "" {
		return fmt.Errorf("organizationId is required")
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	return nil
}

func (e CampaignEvent) Key() string {
	return e.CampaignID + ":" + e.Status.String()
}

// SubscriptionEvent announces that an organization's plan or billing status changed.
type SubscriptionEvent struct {
	OrganizationID string                    `json:"organizationId"`
	Plan           string                    `json:"plan,omitempty"`
	Status         domain.SubscriptionStatus `json:"status,omitempty"`
}

func (e SubscriptionEvent) Validate() error {
	if strings.TrimSpace(e.OrganizationID) == "" {
		return fmt.Errorf("organizationId is required")
	}
	if e.Status != "" && !e.Status.IsValid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	return nil
}

func (e SubscriptionEvent) Key() string {
	return e.OrganizationID
}
