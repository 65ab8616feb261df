package ports

import (
	"context"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
)

// EventPublisher is the outbound integration-event port.
// The partition key keeps one account's events ordered on the broker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// DomainEventHandler consumes one decoded outbox event.
type DomainEventHandler interface {
	Handle(ctx context.Context, event domain.DomainEvent) error
}
