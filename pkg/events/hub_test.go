package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/morezero/desktop-bridge/pkg/ipc"
	"github.com/morezero/desktop-bridge/pkg/router"
)

const hubTestPrefix = "events:hub_test"

func TestListener_Receives(t *testing.T) {
	tests := []struct {
		name   string
		l      listener
		target string
		want   bool
	}{
		{"broadcast reaches scoped", listener{event: "ping", scope: "main", owner: "main"}, "", true},
		{"broadcast reaches unscoped", listener{event: "ping", owner: "other"}, "", true},
		{"targeted reaches matching scope", listener{event: "ping", scope: "main", owner: "other"}, "main", true},
		{"targeted skips other scope", listener{event: "ping", scope: "other", owner: "main"}, "main", false},
		{"targeted reaches unscoped owner", listener{event: "ping", owner: "main"}, "main", true},
		{"targeted skips unscoped elsewhere", listener{event: "ping", owner: "other"}, "main", false},
		{"other event never matches", listener{event: "pong", owner: "main"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.l.receives("ping", tt.target); got != tt.want {
				t.Errorf("%s - receives(ping, %q) = %v, want %v", hubTestPrefix, tt.target, got, tt.want)
			}
		})
	}
}

func TestHub_ListenerIDsIncrease(t *testing.T) {
	backend := newTestBackend(nil)
	main := backend.window(t, "main")
	ctx := context.Background()

	var prev uint64
	for i := 0; i < 3; i++ {
		id, err := ipc.InvokeAs[uint64](ctx, main.inv, "Event", listenMessage{Cmd: "listen", Event: "ping", Handler: uint32(100 + i)})
		if err != nil {
			t.Fatalf("%s - listen failed: %v", hubTestPrefix, err)
		}
		if id <= prev {
			t.Errorf("%s - listener id %d not greater than %d", hubTestPrefix, id, prev)
		}
		prev = id
	}
}

func TestHub_EventModuleErrors(t *testing.T) {
	backend := newTestBackend(nil)
	main := backend.window(t, "main")
	ctx := context.Background()

	tests := []struct {
		name     string
		msg      interface{}
		wantCode string
	}{
		{"listen bad name", listenMessage{Cmd: "listen", Event: "a b", Handler: 1}, router.CodeInvalidEventName},
		{"listen bad scope", listenMessage{Cmd: "listen", Event: "ping", WindowLabel: labelPtr("x y"), Handler: 1}, router.CodeInvalidLabel},
		{"listen without handler", listenMessage{Cmd: "listen", Event: "ping"}, router.CodeInvalidArgs},
		{"emit bad name", emitMessage{Cmd: "emit", Event: "a.b"}, router.CodeInvalidEventName},
		{"unknown command", map[string]string{"cmd": "subscribe"}, router.CodeUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := main.inv.Invoke(ctx, "Event", tt.msg)
			if code := ipc.ErrorCode(err); code != tt.wantCode {
				t.Errorf("%s - code = %q (err %v), want %q", hubTestPrefix, code, err, tt.wantCode)
			}
		})
	}
}

func TestHub_UnlistenUnknownIsNoOp(t *testing.T) {
	backend := newTestBackend(nil)
	main := backend.window(t, "main")

	_, err := main.inv.Invoke(context.Background(), "Event", unlistenMessage{Cmd: "unlisten", Event: "ping", EventID: 999})
	if err != nil {
		t.Errorf("%s - unlisten of unknown id returned %v", hubTestPrefix, err)
	}
}

func TestHub_NativeListeners(t *testing.T) {
	backend := newTestBackend(nil)
	main := backend.window(t, "main")
	ctx := context.Background()

	var (
		mu       sync.Mutex
		always   []string
		onceSeen []string
	)
	id := backend.hub.Listen("saved", func(ev Event) {
		mu.Lock()
		always = append(always, string(ev.Payload))
		mu.Unlock()
	})
	backend.hub.Once("saved", func(ev Event) {
		mu.Lock()
		onceSeen = append(onceSeen, ev.Label())
		mu.Unlock()
	})

	if err := main.bus.Emit(ctx, "saved", "main", 1); err != nil {
		t.Fatalf("%s - Emit failed: %v", hubTestPrefix, err)
	}
	if err := main.bus.Emit(ctx, "saved", "", 2); err != nil {
		t.Fatalf("%s - Emit failed: %v", hubTestPrefix, err)
	}
	backend.hub.Unlisten(id)
	if err := main.bus.Emit(ctx, "saved", "", 3); err != nil {
		t.Fatalf("%s - Emit failed: %v", hubTestPrefix, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(always) != 2 || always[0] != "1" || always[1] != "2" {
		t.Errorf("%s - native listener saw %v, want [1 2]", hubTestPrefix, always)
	}
	if len(onceSeen) != 1 || onceSeen[0] != "main" {
		t.Errorf("%s - once listener saw %v, want [main]", hubTestPrefix, onceSeen)
	}
}

func TestHub_GoSideEmitSkipsNativeListeners(t *testing.T) {
	backend := newTestBackend(nil)
	main := backend.window(t, "main")
	ctx := context.Background()

	nativeCalls := 0
	backend.hub.Listen("progress", func(Event) { nativeCalls++ })
	got := newCollector()
	if _, err := main.bus.Listen(ctx, "progress", "", got.handle); err != nil {
		t.Fatalf("%s - Listen failed: %v", hubTestPrefix, err)
	}

	if err := backend.hub.Emit(ctx, "progress", "main", json.RawMessage(`50`)); err != nil {
		t.Fatalf("%s - Emit failed: %v", hubTestPrefix, err)
	}
	got.waitFor(t, 1)
	if nativeCalls != 0 {
		t.Errorf("%s - Go-side emit should not trigger native listeners", hubTestPrefix)
	}
}

func TestHub_MirrorsToPublisher(t *testing.T) {
	var (
		mu       sync.Mutex
		mirrored []*Event
	)
	backend := newTestBackend(NewCallbackPublisher(func(_ context.Context, ev *Event) error {
		mu.Lock()
		defer mu.Unlock()
		mirrored = append(mirrored, ev)
		return errors.New("mirror down")
	}))
	main := backend.window(t, "main")

	// A failing mirror does not fail the emit.
	if err := main.bus.Emit(context.Background(), "ping", "main", "x"); err != nil {
		t.Fatalf("%s - Emit failed: %v", hubTestPrefix, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(mirrored) != 1 || mirrored[0].Event != "ping" || mirrored[0].Label() != "main" {
		t.Errorf("%s - mirrored = %+v", hubTestPrefix, mirrored)
	}
}

func TestHub_AttachDetach(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Attach("bad label", nil); !errors.Is(err, ErrInvalidLabel) {
		t.Errorf("%s - Attach(bad label) err = %v, want ErrInvalidLabel", hubTestPrefix, err)
	}
	if err := hub.Attach("main", nil); err != nil {
		t.Fatalf("%s - Attach failed: %v", hubTestPrefix, err)
	}
	if err := hub.Attach("settings", nil); err != nil {
		t.Fatalf("%s - Attach failed: %v", hubTestPrefix, err)
	}
	if got := hub.Windows(); len(got) != 2 || got[0] != "main" || got[1] != "settings" {
		t.Errorf("%s - Windows() = %v", hubTestPrefix, got)
	}
	if _, err := hub.addListener("ping", "", "main", 7); err != nil {
		t.Fatalf("%s - addListener failed: %v", hubTestPrefix, err)
	}
	if dropped := hub.Detach("main"); dropped != 1 {
		t.Errorf("%s - Detach dropped %d, want 1", hubTestPrefix, dropped)
	}
	if hub.Attached("main") {
		t.Errorf("%s - main still attached", hubTestPrefix)
	}
}
