package domain

import (
	"strings"
	"time"
)

// Contact is a CRM contact that may receive campaigns.
type Contact struct {
	ID             string
	OrganizationID string
	Email          string
	FirstName      string
	LastName       string
	Status         string
	Unsubscribed   bool
	Bounced        bool
	CreatedAt      time.Time
}

func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// EmailTemplate is reusable campaign content.
type EmailTemplate struct {
	ID             string
	OrganizationID string
	Name           string
	Subject        string
	HTMLContent    string
	TextContent    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
