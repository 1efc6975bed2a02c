package events

import "context"

// EventPublisher is the interface for publishing invalidation events.
type EventPublisher interface {
	PublishInvalidated(ctx context.Context, event *InvalidatedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for deployments without NATS).
type NoOpPublisher struct{}

// PublishInvalidated is a no-op.
func (p *NoOpPublisher) PublishInvalidated(_ context.Context, _ *InvalidatedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *InvalidatedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *InvalidatedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishInvalidated calls the callback.
func (p *CallbackPublisher) PublishInvalidated(ctx context.Context, event *InvalidatedEvent) error {
	return p.callback(ctx, event)
}
