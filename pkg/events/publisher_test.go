package events

import (
	"context"
	"testing"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	if err := pub.PublishEvent(context.Background(), &Event{Event: "ping"}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *Event

	pub := NewCallbackPublisher(func(_ context.Context, event *Event) error {
		captured = event
		return nil
	})

	label := "main"
	if err := pub.PublishEvent(context.Background(), &Event{Event: "ping", WindowLabel: &label}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	if captured == nil {
		t.Fatal("expected callback to be called")
	}
	if captured.Event != "ping" {
		t.Errorf("expected event ping, got %s", captured.Event)
	}
	if captured.Label() != "main" {
		t.Errorf("expected label main, got %s", captured.Label())
	}
}
