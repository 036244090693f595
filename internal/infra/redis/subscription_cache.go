package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/subscription"
	goredis "github.com/redis/go-redis/v9"
)

const subscriptionKeyPrefix = "subscription:"

var _ subscription.Cache = (*SubscriptionCache)(nil)

// SubscriptionCache shares resolved subscriptions between API replicas.
type SubscriptionCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewSubscriptionCache(client *goredis.Client, ttl time.Duration) (*SubscriptionCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("subscription cache ttl must be positive")
	}
	return &SubscriptionCache{client: client, ttl: ttl}, nil
}

func (c *SubscriptionCache) Get(ctx context.Context, orgID string) (*domain.Subscription, bool, error) {
	raw, err := c.client.Get(ctx, subscriptionKeyPrefix+orgID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read subscription cache: %w", err)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached subscription: %w", err)
	}
	return &sub, true, nil
}

func (c *SubscriptionCache) Set(ctx context.Context, sub *domain.Subscription) error {
	if sub == nil {
		return nil
	}

	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}
	if err := c.client.Set(ctx, subscriptionKeyPrefix+sub.OrganizationID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write subscription cache: %w", err)
	}
	return nil
}

func (c *SubscriptionCache) Invalidate(ctx context.Context, orgID string) error {
	if err := c.client.Del(ctx, subscriptionKeyPrefix+orgID).Err(); err != nil {
		return fmt.Errorf("failed to delete cached subscription: %w", err)
	}
	return nil
}
