package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/router"
)

const hubLogPrefix = "events:hub"

type listener struct {
	id      uint64
	event   string
	scope   string
	owner   string
	handler uint32
}

type nativeListener struct {
	id    uint64
	event string
	once  bool
	fn    Handler
}

// Hub is the backend end of the event system. It knows which windows are
// attached, which frontend listeners each one holds, and which Go-side
// listeners want frontend emits.
type Hub struct {
	mu        sync.Mutex
	windows   map[string]router.Replier
	listeners map[uint64]*listener
	natives   map[uint64]*nativeListener
	nextID    uint64

	// deliverMu keeps frontend deliveries of one emit contiguous.
	deliverMu sync.Mutex
	publisher EventPublisher
}

// NewHub creates a Hub. A nil publisher disables mirroring.
func NewHub(pub EventPublisher) *Hub {
	if pub == nil {
		pub = &NoOpPublisher{}
	}
	return &Hub{
		windows:   make(map[string]router.Replier),
		listeners: make(map[uint64]*listener),
		natives:   make(map[uint64]*nativeListener),
		publisher: pub,
	}
}

// Attach makes a window reachable for deliveries. Re-attaching a label
// replaces its replier and keeps its listeners.
func (h *Hub) Attach(label string, rp router.Replier) error {
	if err := ValidateLabel(label); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.windows[label] = rp
	slog.Debug(fmt.Sprintf("%s - attached window %s", hubLogPrefix, label))
	return nil
}

// Detach forgets a window and drops every listener it registered. It returns
// the number of listeners dropped.
func (h *Hub) Detach(label string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.windows, label)
	dropped := 0
	for id, l := range h.listeners {
		if l.owner == label {
			delete(h.listeners, id)
			dropped++
		}
	}
	slog.Debug(fmt.Sprintf("%s - detached window %s, dropped %d listeners", hubLogPrefix, label, dropped))
	return dropped
}

// Attached reports whether label has a replier.
func (h *Hub) Attached(label string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.windows[label]
	return ok
}

// Windows lists attached window labels.
func (h *Hub) Windows() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.windows))
	for label := range h.windows {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// ListenerCount returns the number of frontend listeners.
func (h *Hub) ListenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *Hub) addListener(event, scope, owner string, handler uint32) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.windows[owner]; !ok {
		return 0, router.Errorf(router.CodeWindowNotFound, "window `%s` is not attached", owner)
	}
	h.nextID++
	h.listeners[h.nextID] = &listener{id: h.nextID, event: event, scope: scope, owner: owner, handler: handler}
	return h.nextID, nil
}

// removeListener deletes a frontend listener; unknown IDs are ignored.
func (h *Hub) removeListener(event string, id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.listeners[id]
	if !ok || l.event != event {
		return false
	}
	delete(h.listeners, id)
	return true
}

// receives reports whether l gets an event aimed at target ("" broadcasts).
// A scoped listener receives events for its scope; an unscoped one receives
// events for the window that registered it.
func (l *listener) receives(event, target string) bool {
	if l.event != event {
		return false
	}
	if target == "" {
		return true
	}
	if l.scope != "" {
		return l.scope == target
	}
	return l.owner == target
}

type delivery struct {
	rp    router.Replier
	reply *envelope.Reply
}

// Emit delivers an event to matching frontend listeners in listener order
// and mirrors it to the publisher.
func (h *Hub) Emit(ctx context.Context, event, label string, payload json.RawMessage) error {
	if err := checkTarget(event, label); err != nil {
		return err
	}

	h.deliverMu.Lock()
	h.mu.Lock()
	matched := make([]*listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		if l.receives(event, label) {
			matched = append(matched, l)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	deliveries := make([]delivery, 0, len(matched))
	for _, l := range matched {
		rp, ok := h.windows[l.owner]
		if !ok {
			continue
		}
		data, err := json.Marshal(Event{Event: event, WindowLabel: labelPtr(label), ID: l.id, Payload: payload})
		if err != nil {
			h.mu.Unlock()
			h.deliverMu.Unlock()
			return fmt.Errorf("%s - failed to encode event %s: %w", hubLogPrefix, event, err)
		}
		deliveries = append(deliveries, delivery{rp: rp, reply: &envelope.Reply{Callback: l.handler, Payload: data}})
	}
	h.mu.Unlock()

	for _, d := range deliveries {
		if err := d.rp.Reply(ctx, d.reply); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to deliver %s to callback %d: %v", hubLogPrefix, event, d.reply.Callback, err))
		}
	}
	h.deliverMu.Unlock()

	if err := h.publisher.PublishEvent(ctx, &Event{Event: event, WindowLabel: labelPtr(label), Payload: payload}); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to mirror %s: %v", hubLogPrefix, event, err))
	}
	slog.Debug(fmt.Sprintf("%s - emitted %s to %d listeners", hubLogPrefix, event, len(deliveries)))
	return nil
}

// Listen registers a Go-side listener for events emitted by frontends.
func (h *Hub) Listen(event string, fn Handler) uint64 {
	return h.addNative(event, false, fn)
}

// Once registers a Go-side listener that is dropped after its first event.
func (h *Hub) Once(event string, fn Handler) uint64 {
	return h.addNative(event, true, fn)
}

func (h *Hub) addNative(event string, once bool, fn Handler) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.natives[h.nextID] = &nativeListener{id: h.nextID, event: event, once: once, fn: fn}
	return h.nextID
}

// Unlisten removes a Go-side listener. Unknown IDs are ignored.
func (h *Hub) Unlisten(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.natives, id)
}

// Trigger calls the Go-side listeners for event in registration order.
func (h *Hub) Trigger(event, label string, payload json.RawMessage) {
	h.mu.Lock()
	var targets []*nativeListener
	for id, n := range h.natives {
		if n.event != event {
			continue
		}
		targets = append(targets, n)
		if n.once {
			delete(h.natives, id)
		}
	}
	h.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, n := range targets {
		n.fn(Event{Event: event, WindowLabel: labelPtr(label), ID: n.id, Payload: payload})
	}
}

// Register installs the Event module on r. The commands run synchronously so
// emits from one window are delivered in the order they arrived.
func (h *Hub) Register(r *router.Router) {
	r.Register(envelope.ModuleEvent, "listen", h.handleListen, router.Sync)
	r.Register(envelope.ModuleEvent, "unlisten", h.handleUnlisten, router.Sync)
	r.Register(envelope.ModuleEvent, "emit", h.handleEmit, router.Sync)
}

func (h *Hub) handleListen(_ context.Context, call *router.Call) (interface{}, error) {
	var msg listenMessage
	if err := call.Decode(&msg); err != nil {
		return nil, err
	}
	scope := ""
	if msg.WindowLabel != nil {
		scope = *msg.WindowLabel
	}
	if err := targetError(msg.Event, scope); err != nil {
		return nil, err
	}
	if msg.Handler == 0 {
		return nil, router.NewError(router.CodeInvalidArgs, "listen requires a handler callback id")
	}
	return h.addListener(msg.Event, scope, call.Label, msg.Handler)
}

func (h *Hub) handleUnlisten(_ context.Context, call *router.Call) (interface{}, error) {
	var msg unlistenMessage
	if err := call.Decode(&msg); err != nil {
		return nil, err
	}
	if err := targetError(msg.Event, ""); err != nil {
		return nil, err
	}
	if !h.removeListener(msg.Event, msg.EventID) {
		slog.Debug(fmt.Sprintf("%s - unlisten of unknown listener %d ignored", hubLogPrefix, msg.EventID))
	}
	return nil, nil
}

func (h *Hub) handleEmit(ctx context.Context, call *router.Call) (interface{}, error) {
	var msg emitMessage
	if err := call.Decode(&msg); err != nil {
		return nil, err
	}
	label := ""
	if msg.WindowLabel != nil {
		label = *msg.WindowLabel
	}
	if err := targetError(msg.Event, label); err != nil {
		return nil, err
	}
	if err := h.Emit(ctx, msg.Event, label, msg.Payload); err != nil {
		return nil, err
	}
	h.Trigger(msg.Event, label, msg.Payload)
	return nil, nil
}

// targetError maps validation failures to router error codes.
func targetError(event, label string) error {
	err := checkTarget(event, label)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidEventName):
		return router.NewError(router.CodeInvalidEventName, err.Error())
	default:
		return router.NewError(router.CodeInvalidLabel, err.Error())
	}
}
