package events

import "context"

// EventPublisher mirrors events emitted through the hub to other consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *Event) error
}

// NoOpPublisher is an EventPublisher that does nothing.
type NoOpPublisher struct{}

// PublishEvent is a no-op.
func (p *NoOpPublisher) PublishEvent(_ context.Context, _ *Event) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *Event) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *Event) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishEvent calls the callback.
func (p *CallbackPublisher) PublishEvent(ctx context.Context, event *Event) error {
	return p.callback(ctx, event)
}
