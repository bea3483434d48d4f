package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/morezero/desktop-bridge/pkg/callback"
	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/ipc"
)

const busLogPrefix = "events:bus"

// Unlistener stops a subscription. Calling it more than once is safe; only
// the first call reaches the backend.
type Unlistener func(ctx context.Context) error

// Bus is the frontend side of the event system. Ordinary events are
// registered with the backend through the Event module; pseudo-events stay in
// a local table.
type Bus struct {
	inv   *ipc.Invoker
	reg   *callback.Registry
	local *localTable
}

// NewBus creates a Bus that registers handlers on the invoker's registry.
func NewBus(inv *ipc.Invoker) *Bus {
	return &Bus{inv: inv, reg: inv.Registry(), local: newLocalTable()}
}

// Emit sends an event. An empty label broadcasts to every window.
func (b *Bus) Emit(ctx context.Context, event, label string, payload interface{}) error {
	if err := checkTarget(event, label); err != nil {
		return err
	}
	raw, err := encodeEventPayload(payload)
	if err != nil {
		return err
	}
	if IsPseudo(event) {
		b.local.emit(event, label, raw)
		return nil
	}
	_, err = b.inv.Invoke(ctx, envelope.ModuleEvent, emitMessage{
		Cmd:         "emit",
		Event:       event,
		WindowLabel: labelPtr(label),
		Payload:     raw,
	})
	return err
}

// Listen subscribes handler to event. An empty label listens to events for
// any window. The call returns once the backend has assigned a listener ID.
func (b *Bus) Listen(ctx context.Context, event, label string, handler Handler) (Unlistener, error) {
	if err := checkTarget(event, label); err != nil {
		return nil, err
	}
	if IsPseudo(event) {
		id := b.local.add(event, label, handler)
		return onceUnlistener(func(context.Context) error {
			b.local.remove(id)
			return nil
		}), nil
	}

	handlerID := b.reg.Register(func(payload json.RawMessage) {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			slog.Warn(fmt.Sprintf("%s - dropped undecodable %s delivery: %v", busLogPrefix, event, err))
			return
		}
		handler(ev)
	}, false)

	listenerID, err := ipc.InvokeAs[uint64](ctx, b.inv, envelope.ModuleEvent, listenMessage{
		Cmd:         "listen",
		Event:       event,
		WindowLabel: labelPtr(label),
		Handler:     uint32(handlerID),
	})
	if err != nil {
		b.reg.Remove(handlerID)
		return nil, err
	}
	slog.Debug(fmt.Sprintf("%s - listening to %s as %d", busLogPrefix, event, listenerID))

	return onceUnlistener(func(ctx context.Context) error {
		b.reg.Remove(handlerID)
		_, err := b.inv.Invoke(ctx, envelope.ModuleEvent, unlistenMessage{
			Cmd:     "unlisten",
			Event:   event,
			EventID: listenerID,
		})
		return err
	}), nil
}

// Once is Listen for a single delivery. After the handler runs the
// subscription is dropped in the background; a failure to do so is ignored.
func (b *Bus) Once(ctx context.Context, event, label string, handler Handler) (Unlistener, error) {
	var fired atomic.Bool
	ready := make(chan Unlistener, 1)

	un, err := b.Listen(ctx, event, label, func(ev Event) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		handler(ev)
		go func() {
			un, ok := <-ready
			if !ok {
				return
			}
			if err := un(context.Background()); err != nil {
				slog.Debug(fmt.Sprintf("%s - once unlisten for %s ignored: %v", busLogPrefix, event, err))
			}
		}()
	})
	if err != nil {
		close(ready)
		return nil, err
	}
	ready <- un
	return un, nil
}

func checkTarget(event, label string) error {
	if err := ValidateName(event); err != nil {
		return err
	}
	if label != "" {
		return ValidateLabel(label)
	}
	return nil
}

func encodeEventPayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode payload: %w", busLogPrefix, err)
	}
	return raw, nil
}

func onceUnlistener(fn func(ctx context.Context) error) Unlistener {
	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() { err = fn(ctx) })
		return err
	}
}

// localTable holds pseudo-event listeners.
type localTable struct {
	mu        sync.Mutex
	next      uint64
	listeners []localListener
}

type localListener struct {
	id      uint64
	event   string
	label   string
	handler Handler
}

func newLocalTable() *localTable {
	return &localTable{}
}

func (t *localTable) add(event, label string, h Handler) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.listeners = append(t.listeners, localListener{id: t.next, event: event, label: label, handler: h})
	return t.next
}

func (t *localTable) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, l := range t.listeners {
		if l.id == id {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

// emit calls matching handlers in registration order, outside the lock.
func (t *localTable) emit(event, label string, payload json.RawMessage) {
	t.mu.Lock()
	var targets []localListener
	for _, l := range t.listeners {
		if l.event == event && scopeMatches(l.label, label) {
			targets = append(targets, l)
		}
	}
	t.mu.Unlock()

	for _, l := range targets {
		l.handler(Event{Event: event, WindowLabel: labelPtr(label), ID: l.id, Payload: payload})
	}
}

// scopeMatches reports whether a listener scoped to scope receives an event
// aimed at target. Empty target is a broadcast; empty scope accepts any target.
func scopeMatches(scope, target string) bool {
	return target == "" || scope == "" || scope == target
}
