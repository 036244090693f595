package queue

import (
	"context"
	"fmt"
)

const (
	// CampaignEventsQueue carries campaign lifecycle transitions for downstream consumers.
	CampaignEventsQueue = "campaign.events"
	// SubscriptionEventsQueue carries plan changes published by billing.
	SubscriptionEventsQueue = "subscription.events"
)

var eventQueues = []string{
	CampaignEventsQueue,
	SubscriptionEventsQueue,
}

// Message is a broker payload.
type Message interface {
	Validate() error
	// Key identifies the message for broker-level deduplication and tracing.
	Key() string
}

// Publisher publishes messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Close() error
}

// SubscriptionHandler handles a consumed subscription event.
type SubscriptionHandler func(ctx context.Context, event SubscriptionEvent) error

// Consumer consumes subscription events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler SubscriptionHandler) error
	Close() error
}

// DLQName returns the dead-letter queue for a queue, e.g. dlq.campaign.events.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// QueueNames returns the event queues declared on every channel.
func QueueNames() []string {
	return append([]string(nil), eventQueues...)
}

// DLQNames returns the dead-letter queue of every event queue.
func DLQNames() []string {
	queues := make([]string, 0, len(eventQueues))
	for _, name := range eventQueues {
		queues = append(queues, DLQName(name))
	}
	return queues
}
