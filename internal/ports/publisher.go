package ports

import (
	"context"

	"fractalTrader/internal/domain"
)

// EventPublisher forwards position lifecycle events to an outside system.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LifecycleEvent) error
}
