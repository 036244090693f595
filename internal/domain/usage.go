package domain

import (
	"fmt"
	"strings"
	"time"
)

// ResourceType identifies a metered resource.
type ResourceType string

const (
	ResourceEmails   ResourceType = "emails"
	ResourceSMS      ResourceType = "sms"
	ResourceAPICalls ResourceType = "api_calls"
)

// Unlimited is the plan limit value meaning "no ceiling". A limit of 0 means
// the resource is not included in the plan.
const Unlimited int64 = -1

func (r ResourceType) String() string { return string(r) }

func (r ResourceType) IsValid() bool {
	switch r {
	case ResourceEmails, ResourceSMS, ResourceAPICalls:
		return true
	}
	return false
}

func ParseResourceTypeFromString(s string) (ResourceType, error) {
	r := ResourceType(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: invalid resource type %q", ErrValidation, s)
	}
	return r, nil
}

// UsageCheck is the answer to "are N more units within the limit".
type UsageCheck struct {
	Resource     ResourceType
	WithinLimits bool
	Current      int64
	Limit        int64
	Requested    int64
	// Remaining is -1 when the limit is unlimited.
	Remaining int64
}

// EvaluateLimit applies the plan limit semantics to a current count.
func EvaluateLimit(resource ResourceType, current, limit, requested int64) UsageCheck {
	check := UsageCheck{
		Resource:  resource,
		Current:   current,
		Limit:     limit,
		Requested: requested,
	}

	switch {
	case limit == Unlimited:
		check.WithinLimits = true
		check.Remaining = Unlimited
		return check
	case limit <= 0:
		check.WithinLimits = requested <= 0
		check.Remaining = 0
		return check
	}

	check.Remaining = max(limit-current, 0)
	check.WithinLimits = current+requested <= limit
	return check
}

// PeriodStart returns the start of the metering period containing t.
func PeriodStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
