package host

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/morezero/desktop-bridge/pkg/app"
	"github.com/morezero/desktop-bridge/pkg/callback"
	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/ipc"
	"github.com/morezero/desktop-bridge/pkg/router"
	"github.com/morezero/desktop-bridge/pkg/transport"
	"github.com/morezero/desktop-bridge/pkg/window"
)

const hostTestPrefix = "host:host_test"

type memJournal struct {
	mu      sync.Mutex
	records []router.InvocationRecord
	pingErr error
}

func (j *memJournal) RecordInvocation(_ context.Context, rec *router.InvocationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, *rec)
	return nil
}

func (j *memJournal) Ping(context.Context) error {
	return j.pingErr
}

type onlyApp struct{}

func (onlyApp) Allowed(module envelope.Module, _ string) bool {
	return module == envelope.ModuleApp || module == envelope.ModuleEvent
}

// attach connects a loopback window and returns its invoker.
func attach(t *testing.T, h *Host, label string) *ipc.Invoker {
	t.Helper()
	reg := callback.New()
	l, err := transport.NewLoopback(h, label, reg)
	if err != nil {
		t.Fatalf("%s - NewLoopback(%s): %v", hostTestPrefix, label, err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return ipc.NewInvoker(reg, l)
}

func TestNew_CreatesStartupWindows(t *testing.T) {
	h, err := New(context.Background(), Options{
		Info:    app.Info{Name: "notes", Version: "1.0.0"},
		Windows: []window.Options{{Label: "main"}, {Label: "about"}},
	})
	if err != nil {
		t.Fatalf("%s - New: %v", hostTestPrefix, err)
	}
	defer h.Close()

	labels := h.Windows().Labels()
	if len(labels) != 2 || labels[0] != "about" || labels[1] != "main" {
		t.Errorf("%s - windows = %v", hostTestPrefix, labels)
	}

	_, err = New(context.Background(), Options{Windows: []window.Options{{Label: "a"}, {Label: "a"}}})
	if err == nil {
		t.Errorf("%s - duplicate startup label accepted", hostTestPrefix)
	}
}

func TestHost_AllowlistAndJournal(t *testing.T) {
	j := &memJournal{}
	h, err := New(context.Background(), Options{
		Info:      app.Info{Name: "notes", Version: "1.0.0"},
		Windows:   []window.Options{{Label: "main"}},
		Allowlist: onlyApp{},
		Journal:   j,
	})
	if err != nil {
		t.Fatalf("%s - New: %v", hostTestPrefix, err)
	}
	inv := attach(t, h, "main")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := inv.Invoke(ctx, envelope.ModuleApp, map[string]string{"cmd": "getAppName"}); err != nil {
		t.Fatalf("%s - getAppName: %v", hostTestPrefix, err)
	}
	_, err = window.NewProxy("main", inv).Title(ctx)
	if ipc.ErrorCode(err) != router.CodeNotAllowlisted {
		t.Errorf("%s - Window.manage err = %v, want NOT_ALLOWLISTED", hostTestPrefix, err)
	}

	h.Close()
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.records) != 2 {
		t.Fatalf("%s - journal has %d records, want 2", hostTestPrefix, len(j.records))
	}
	codes := map[string]bool{}
	for _, rec := range j.records {
		codes[rec.Module+"."+rec.Command+":"+rec.ErrorCode] = rec.Ok
	}
	if ok, seen := codes["App.getAppName:"]; !seen || !ok {
		t.Errorf("%s - getAppName not journaled as ok: %+v", hostTestPrefix, j.records)
	}
	if ok, seen := codes["Window.manage:"+router.CodeNotAllowlisted]; !seen || ok {
		t.Errorf("%s - denied call not journaled: %+v", hostTestPrefix, j.records)
	}
}

func TestHost_EmitReachesFrontend(t *testing.T) {
	h, err := New(context.Background(), Options{Windows: []window.Options{{Label: "main"}}})
	if err != nil {
		t.Fatalf("%s - New: %v", hostTestPrefix, err)
	}
	defer h.Close()
	inv := attach(t, h, "main")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan events.Event, 1)
	if _, err := events.NewBus(inv).Listen(ctx, "progress", "", func(ev events.Event) { got <- ev }); err != nil {
		t.Fatalf("%s - Listen: %v", hostTestPrefix, err)
	}
	if err := h.Emit(ctx, "progress", "main", map[string]int{"done": 3}); err != nil {
		t.Fatalf("%s - Emit: %v", hostTestPrefix, err)
	}
	select {
	case ev := <-got:
		var body map[string]int
		if err := ev.Decode(&body); err != nil || body["done"] != 3 {
			t.Errorf("%s - payload %s (%v)", hostTestPrefix, ev.Payload, err)
		}
		if ev.Label() != "main" {
			t.Errorf("%s - label = %q", hostTestPrefix, ev.Label())
		}
	case <-ctx.Done():
		t.Fatalf("%s - event not delivered", hostTestPrefix)
	}
}

func TestHost_ClosingWindowDropsListeners(t *testing.T) {
	h, err := New(context.Background(), Options{Windows: []window.Options{{Label: "main"}, {Label: "tool"}}})
	if err != nil {
		t.Fatalf("%s - New: %v", hostTestPrefix, err)
	}
	defer h.Close()
	inv := attach(t, h, "tool")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := events.NewBus(inv).Listen(ctx, "tick", "", func(events.Event) {}); err != nil {
		t.Fatalf("%s - Listen: %v", hostTestPrefix, err)
	}
	if h.Hub().ListenerCount() != 1 {
		t.Fatalf("%s - listener count = %d", hostTestPrefix, h.Hub().ListenerCount())
	}
	if err := window.NewProxy("tool", inv).Close(ctx); err != nil {
		t.Fatalf("%s - Close: %v", hostTestPrefix, err)
	}
	if h.Hub().ListenerCount() != 0 || h.Hub().Attached("tool") {
		t.Errorf("%s - closed window still has listeners or is attached", hostTestPrefix)
	}
}

func TestHost_Health(t *testing.T) {
	tests := []struct {
		name       string
		journal    *memJournal
		wantStatus string
	}{
		{"no journal", nil, "healthy"},
		{"journal up", &memJournal{}, "healthy"},
		{"journal down", &memJournal{pingErr: errors.New("refused")}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Info: app.Info{Name: "notes", Version: "1.0.0"}, Windows: []window.Options{{Label: "main"}}}
			if tt.journal != nil {
				opts.Journal = tt.journal
			}
			h, err := New(context.Background(), opts)
			if err != nil {
				t.Fatalf("%s - New: %v", hostTestPrefix, err)
			}
			defer h.Close()

			out := h.Health(context.Background())
			if out.Status != tt.wantStatus {
				t.Errorf("%s - status = %q, want %q", hostTestPrefix, out.Status, tt.wantStatus)
			}
			if (out.Checks.Journal == nil) != (tt.journal == nil) {
				t.Errorf("%s - journal check = %v", hostTestPrefix, out.Checks.Journal)
			}
			if len(out.Windows) != 1 || len(out.Modules) != 3 {
				t.Errorf("%s - windows %v modules %v", hostTestPrefix, out.Windows, out.Modules)
			}
			if _, err := json.Marshal(out); err != nil {
				t.Errorf("%s - health does not encode: %v", hostTestPrefix, err)
			}
		})
	}
}

func TestHost_UpdaterModuleOptional(t *testing.T) {
	h, err := New(context.Background(), Options{Updater: app.NewUpdater(app.UpdaterConfig{}, "1.0.0", nil)})
	if err != nil {
		t.Fatalf("%s - New: %v", hostTestPrefix, err)
	}
	defer h.Close()
	found := false
	for _, m := range h.Router().Modules() {
		if m == string(envelope.ModuleUpdater) {
			found = true
		}
	}
	if !found {
		t.Errorf("%s - Updater module not registered: %v", hostTestPrefix, h.Router().Modules())
	}
}
