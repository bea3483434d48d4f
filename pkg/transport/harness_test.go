package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/morezero/desktop-bridge/pkg/callback"
	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/ipc"
	"github.com/morezero/desktop-bridge/pkg/router"
)

const transportTestPrefix = "transport:transport_test"

// testBackend routes to a router with a small App module and the Event
// module.
type testBackend struct {
	router *router.Router
	hub    *events.Hub
}

func newTestBackend() *testBackend {
	r := router.New(router.Options{})
	r.Register(envelope.ModuleApp, "getAppVersion", func(context.Context, *router.Call) (interface{}, error) {
		return "1.2.3", nil
	}, router.Sync)
	r.Register(envelope.ModuleApp, "echo", func(_ context.Context, call *router.Call) (interface{}, error) {
		var msg struct {
			N int `json:"n"`
		}
		if err := call.Decode(&msg); err != nil {
			return nil, err
		}
		return msg.N, nil
	}, router.Sync)
	hub := events.NewHub(nil)
	hub.Register(r)
	return &testBackend{router: r, hub: hub}
}

func (b *testBackend) Attach(label string, rp router.Replier) error {
	return b.hub.Attach(label, rp)
}

func (b *testBackend) Detach(label string) {
	b.hub.Detach(label)
}

func (b *testBackend) Handle(ctx context.Context, label string, env *envelope.Envelope, rp router.Replier) {
	b.router.Route(ctx, label, env, rp)
}

// exerciseBridge runs the same checks over any transport.
func exerciseBridge(t *testing.T, bridge ipc.Bridge, reg *callback.Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inv := ipc.NewInvoker(reg, bridge)

	version, err := ipc.InvokeAs[string](ctx, inv, envelope.ModuleApp, map[string]string{"cmd": "getAppVersion"})
	if err != nil {
		t.Fatalf("%s - getAppVersion: %v", transportTestPrefix, err)
	}
	if version != "1.2.3" {
		t.Errorf("%s - version = %q, want 1.2.3", transportTestPrefix, version)
	}

	_, err = inv.Invoke(ctx, envelope.ModuleApp, map[string]string{"cmd": "nope"})
	if ipc.ErrorCode(err) != router.CodeUnknownCommand {
		t.Errorf("%s - unknown command err = %v", transportTestPrefix, err)
	}

	bus := events.NewBus(inv)
	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	const n = 20
	unlisten, err := bus.Listen(ctx, "tick", "", func(ev events.Event) {
		mu.Lock()
		got = append(got, string(ev.Payload))
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("%s - Listen: %v", transportTestPrefix, err)
	}
	for i := 0; i < n; i++ {
		if err := bus.Emit(ctx, "tick", "", i); err != nil {
			t.Fatalf("%s - Emit %d: %v", transportTestPrefix, i, err)
		}
	}
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("%s - timed out waiting for ticks", transportTestPrefix)
	}
	mu.Lock()
	for i, p := range got {
		if p != fmt.Sprint(i) {
			t.Errorf("%s - tick %d payload %s, want %d", transportTestPrefix, i, p, i)
		}
	}
	mu.Unlock()
	if err := unlisten(ctx); err != nil {
		t.Errorf("%s - unlisten: %v", transportTestPrefix, err)
	}
	if reg.Len() != 0 {
		t.Errorf("%s - %d callbacks left registered", transportTestPrefix, reg.Len())
	}
}

// exerciseOrdering starts many invocations before waiting on any and checks
// each gets its own answer.
func exerciseOrdering(t *testing.T, bridge ipc.Bridge, reg *callback.Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inv := ipc.NewInvoker(reg, bridge)

	pending := make([]*ipc.Pending, 50)
	for i := range pending {
		p, err := inv.Start(ctx, envelope.ModuleApp, map[string]interface{}{"cmd": "echo", "n": i})
		if err != nil {
			t.Fatalf("%s - Start %d: %v", transportTestPrefix, i, err)
		}
		pending[i] = p
	}
	for i, p := range pending {
		raw, err := p.Wait(ctx)
		if err != nil {
			t.Fatalf("%s - Wait %d: %v", transportTestPrefix, i, err)
		}
		var got int
		if err := json.Unmarshal(raw, &got); err != nil || got != i {
			t.Errorf("%s - echo %d returned %s", transportTestPrefix, i, raw)
		}
	}
}

// expectAbsent checks a closed bridge fails fast.
func expectAbsent(t *testing.T, bridge ipc.Bridge, reg *callback.Registry) {
	t.Helper()
	inv := ipc.NewInvoker(reg, bridge)
	_, err := inv.Invoke(context.Background(), envelope.ModuleApp, map[string]string{"cmd": "getAppVersion"})
	if !errors.Is(err, ipc.ErrTransportAbsent) {
		t.Errorf("%s - after close err = %v, want ErrTransportAbsent", transportTestPrefix, err)
	}
	if reg.Len() != 0 {
		t.Errorf("%s - failed invoke left %d callbacks", transportTestPrefix, reg.Len())
	}
}

// expectInvalidArgs checks data is a reply to error callback id carrying
// INVALID_ARGS.
func expectInvalidArgs(t *testing.T, data []byte, id uint32) {
	t.Helper()
	reply, err := envelope.DecodeReply(data)
	if err != nil {
		t.Fatalf("%s - DecodeReply: %v", transportTestPrefix, err)
	}
	if reply.Callback != id {
		t.Errorf("%s - reply callback = %d, want %d", transportTestPrefix, reply.Callback, id)
	}
	var detail router.ErrorDetail
	if err := json.Unmarshal(reply.Payload, &detail); err != nil {
		t.Fatalf("%s - error payload %s: %v", transportTestPrefix, reply.Payload, err)
	}
	if detail.Code != router.CodeInvalidArgs {
		t.Errorf("%s - error code = %s, want %s", transportTestPrefix, detail.Code, router.CodeInvalidArgs)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s - timed out waiting for %s", transportTestPrefix, what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
