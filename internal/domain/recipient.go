package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecipientStatus is the per-recipient delivery state.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
)

func (s RecipientStatus) String() string { return string(s) }

func (s RecipientStatus) IsValid() bool {
	switch s {
	case RecipientPending, RecipientSent, RecipientFailed:
		return true
	}
	return false
}

func ParseRecipientStatusFromString(s string) (RecipientStatus, error) {
	st := RecipientStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid recipient status %q", ErrValidation, s)
	}
	return st, nil
}

// CampaignRecipient is one (campaign, contact) pair selected at send time.
// Email and names are a snapshot of the contact when the send started.
type CampaignRecipient struct {
	ID         string
	CampaignID string
	ContactID  string
	// Position is the index in the resolved audience; loops send in this order.
	Position          int
	Email             string
	FirstName         string
	LastName          string
	Status            RecipientStatus
	SentAt            *time.Time
	ProviderMessageID *string
	ErrorMessage      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r *CampaignRecipient) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// RecipientFromContact snapshots a contact into a pending recipient row.
func RecipientFromContact(id, campaignID string, position int, c Contact) *CampaignRecipient {
	return &CampaignRecipient{
		ID:         id,
		CampaignID: campaignID,
		ContactID:  c.ID,
		Position:   position,
		Email:      c.Email,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		Status:     RecipientPending,
	}
}

// RecipientStatusCount is a per-status aggregate for one campaign.
type RecipientStatusCount struct {
	Status RecipientStatus
	Count  int
}
