package application

import (
	"context"

	"order-intake/internal/domain"
)

// Broadcaster publishes live events. Publish must not block on slow
// subscribers and has no delivery guarantee.
type Broadcaster interface {
	Publish(ctx context.Context, event domain.LiveEvent)
}

type NoopBroadcaster struct{}

func (n *NoopBroadcaster) Publish(_ context.Context, _ domain.LiveEvent) {}

type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) Publish(ctx context.Context, event domain.LiveEvent) {
	for _, b := range m {
		b.Publish(ctx, event)
	}
}
