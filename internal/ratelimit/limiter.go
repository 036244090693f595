package ratelimit

import "context"

// ScopeEmail is the shared throttle bucket for outbound campaign email.
const ScopeEmail = "email"

// RateLimiter caps outbound sends per scope and second.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
