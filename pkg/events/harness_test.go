package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/desktop-bridge/pkg/callback"
	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/ipc"
	"github.com/morezero/desktop-bridge/pkg/router"
)

const eventsTestPrefix = "events:bus_test"

// testBackend is a router with the Event module and a hub.
type testBackend struct {
	router *router.Router
	hub    *Hub
}

func newTestBackend(pub EventPublisher) *testBackend {
	b := &testBackend{router: router.New(router.Options{}), hub: NewHub(pub)}
	b.hub.Register(b.router)
	return b
}

// testWindow is a frontend attached to a testBackend. Replies are delivered
// to its registry from one goroutine, in order.
type testWindow struct {
	label   string
	backend *testBackend
	reg     *callback.Registry
	inv     *ipc.Invoker
	bus     *Bus
	posted  atomic.Int32

	queue chan *envelope.Reply
	done  chan struct{}
}

func (b *testBackend) window(t *testing.T, label string) *testWindow {
	t.Helper()
	w := &testWindow{
		label:   label,
		backend: b,
		reg:     callback.New(),
		queue:   make(chan *envelope.Reply, 256),
		done:    make(chan struct{}),
	}
	w.inv = ipc.NewInvoker(w.reg, w)
	w.bus = NewBus(w.inv)
	if err := b.hub.Attach(label, w); err != nil {
		t.Fatalf("%s - Attach(%s): %v", eventsTestPrefix, label, err)
	}
	go func() {
		defer close(w.done)
		for r := range w.queue {
			w.reg.Invoke(callback.ID(r.Callback), r.Payload)
		}
	}()
	t.Cleanup(func() {
		close(w.queue)
		<-w.done
	})
	return w
}

func (w *testWindow) Post(ctx context.Context, env *envelope.Envelope) error {
	w.posted.Add(1)
	w.backend.router.Route(ctx, w.label, env, w)
	return nil
}

func (w *testWindow) Reply(_ context.Context, r *envelope.Reply) error {
	w.queue <- r
	return nil
}

// collector gathers payloads delivered to a handler.
type collector struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newCollector() *collector {
	return &collector{signal: make(chan struct{}, 64)}
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *collector) payloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = string(ev.Payload)
	}
	return out
}

func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.signal:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s - timed out waiting for event %d of %d", eventsTestPrefix, i+1, n)
		}
	}
}

// settle waits long enough for stray deliveries to show up.
func settle() {
	time.Sleep(50 * time.Millisecond)
}
