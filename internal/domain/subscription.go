package domain

import (
	"fmt"
	"strings"
	"time"
)

// SubscriptionStatus mirrors the billing provider's subscription state.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

func (s SubscriptionStatus) String() string { return string(s) }

func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionActive, SubscriptionTrialing, SubscriptionPastDue, SubscriptionCanceled:
		return true
	}
	return false
}

func ParseSubscriptionStatusFromString(s string) (SubscriptionStatus, error) {
	st := SubscriptionStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid subscription status %q", ErrValidation, s)
	}
	return st, nil
}

// Subscription links an organization to a plan tier.
type Subscription struct {
	OrganizationID string             `json:"organizationId"`
	Plan           string             `json:"plan"`
	Status         SubscriptionStatus `json:"status"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// Entitled reports whether the plan limits apply.
func (s *Subscription) Entitled() bool {
	if s == nil {
		return false
	}
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}
