package service

import (
	"context"
	"fmt"

	"github.com/itemize-cloud/campaign-engine/internal/queue"
	"go.uber.org/zap"
)

// NewSubscriptionEventHandler returns the consumer callback for plan and
// billing changes. Returning an error sends the delivery to the dead-letter
// queue.
func NewSubscriptionEventHandler(subscriptions SubscriptionInvalidator, logger *zap.Logger) (queue.SubscriptionHandler, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription invalidator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ctx context.Context, event queue.SubscriptionEvent) error {
		if err := subscriptions.Invalidate(ctx, event.OrganizationID); err != nil {
			return err
		}
		logger.Info("subscription changed, cache invalidated",
			zap.String("organizationId", event.OrganizationID),
			zap.String("plan", event.Plan),
			zap.String("status", event.Status.String()),
		)
		return nil
	}, nil
}
