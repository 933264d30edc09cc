package subscription

import (
	"context"

	"github.com/subkit/subkit/pkg/broadcast"
)

// Domain event names published by the engine for external listeners such as
// the analytics aggregator. Delivery is best-effort.
const (
	EventCreated     = "subscription.created"
	EventUpgraded    = "subscription.upgraded"
	EventDowngraded  = "subscription.downgraded"
	EventCancelled   = "subscription.cancelled"
	EventReactivated = "subscription.reactivated"
)

// DomainEvent is an outbound notification about a subscription change.
type DomainEvent struct {
	Name    string
	Payload map[string]any
}

// EventPublisher publishes domain events with no delivery guarantee stronger
// than best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent)
}

// BroadcastPublisher adapts a broadcast.Broadcaster to the EventPublisher
// contract.
type BroadcastPublisher struct {
	b broadcast.Broadcaster[DomainEvent]
}

// NewBroadcastPublisher wraps b; a nil broadcaster yields a no-op publisher.
func NewBroadcastPublisher(b broadcast.Broadcaster[DomainEvent]) *BroadcastPublisher {
	return &BroadcastPublisher{b: b}
}

func (p *BroadcastPublisher) Publish(ctx context.Context, event DomainEvent) {
	if p == nil || p.b == nil {
		return
	}
	_ = p.b.Broadcast(ctx, broadcast.Message[DomainEvent]{Data: event})
}
