package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid campaign state")
	ErrNoRecipients = errors.New("no eligible recipients")
)

// QuotaExceededError is returned when a usage admission check rejects a request.
type QuotaExceededError struct {
	Resource  ResourceType
	Current   int64
	Limit     int64
	Requested int64
	Remaining int64
}

func (e *QuotaExceededError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Limit == 0 {
		return fmt.Sprintf("usage limit exceeded: %s is not included in the current plan", e.Resource)
	}
	return fmt.Sprintf("usage limit exceeded for %s: current=%d limit=%d requested=%d",
		e.Resource, e.Current, e.Limit, e.Requested)
}

// NewQuotaExceededError builds the error from a rejected check.
func NewQuotaExceededError(check UsageCheck) *QuotaExceededError {
	return &QuotaExceededError{
		Resource:  check.Resource,
		Current:   check.Current,
		Limit:     check.Limit,
		Requested: check.Requested,
		Remaining: check.Remaining,
	}
}
