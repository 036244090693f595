package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	throttleKeyPrefix = "throttle"
	backoffStep       = 10 * time.Millisecond
	backoffMax        = 100 * time.Millisecond
	windowSeconds     = 1
)

// allowScript counts hits in a one-second bucket and rejects past the limit.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*SendThrottle)(nil)

// SendThrottle is a fixed-window limiter shared by every send loop talking
// to the same Redis, so concurrent campaigns stay under the mail provider's
// rate together.
type SendThrottle struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewSendThrottle(client *goredis.Client, limitPerSec int) (*SendThrottle, error) {
	return newSendThrottle(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newSendThrottle(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*SendThrottle, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		return nil, fmt.Errorf("limit per second must be positive")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &SendThrottle{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (t *SendThrottle) Allow(ctx context.Context, scope string) (bool, error) {
	if t == nil || t.client == nil {
		return false, fmt.Errorf("send throttle is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(scope))
	if normalized == "" {
		return false, fmt.Errorf("throttle scope is required")
	}

	key := fmt.Sprintf("%s:%s:%d", throttleKeyPrefix, normalized, t.now().UTC().Unix())
	result, err := allowScript.Run(ctx, t.client, []string{key}, t.limitPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate send throttle: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until the scope has capacity in the current window or ctx ends.
func (t *SendThrottle) Wait(ctx context.Context, scope string) error {
	backoff := backoffStep
	for {
		allowed, err := t.Allow(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := t.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff = min(backoff+backoffStep, backoffMax)
	}
}
