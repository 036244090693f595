package service

import (
	"context"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/observability"
	"github.com/itemize-cloud/campaign-engine/internal/queue"
	"go.uber.org/zap"
)

// campaignEvents records status transitions as metrics and broker events.
// Publishing is best effort; a nil publisher only records metrics.
type campaignEvents struct {
	publisher queue.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func (e *campaignEvents) transitioned(ctx context.Context, campaignID, orgID string, status domain.CampaignStatus, totalSent int) {
	e.metrics.IncCampaignTransition(status.String())
	if e.publisher == nil {
		return
	}

	event := queue.CampaignEvent{
		CampaignID:     campaignID,
		OrganizationID: orgID,
		Status:         status,
		TotalSent:      totalSent,
		OccurredAt:     e.now().UTC(),
	}
	if err := e.publisher.Publish(context.WithoutCancel(ctx), queue.CampaignEventsQueue, event); err != nil {
		e.logger.Warn("failed to publish campaign event",
			zap.String("campaignId", campaignID),
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}
}
