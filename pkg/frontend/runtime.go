// Package frontend is the API a window's code sees: command invocation, the
// event bus, window proxies and the App getters. A Runtime only hands out
// values and proxies, so callers cannot reach into the callback registry or
// the transport behind it.
package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/desktop-bridge/pkg/app"
	"github.com/morezero/desktop-bridge/pkg/callback"
	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/ipc"
	"github.com/morezero/desktop-bridge/pkg/transport"
	"github.com/morezero/desktop-bridge/pkg/window"
)

const logPrefix = "frontend:runtime"

// Transport is a bridge the Runtime owns and closes.
type Transport interface {
	ipc.Bridge
	Close() error
}

// Runtime is the frontend API for one window.
type Runtime struct {
	label     string
	inv       *ipc.Invoker
	bus       *events.Bus
	transport Transport
	closeOnce sync.Once
	closeErr  error
}

// New builds a Runtime over a transport that delivers replies into reg. A
// nil transport gives a Runtime whose calls fail with ipc.ErrTransportAbsent,
// which is what code running outside the desktop shell sees.
func New(label string, reg *callback.Registry, t Transport) *Runtime {
	if reg == nil {
		reg = callback.New()
	}
	var bridge ipc.Bridge
	if t != nil {
		bridge = t
	}
	inv := ipc.NewInvoker(reg, bridge)
	return &Runtime{label: label, inv: inv, bus: events.NewBus(inv), transport: t}
}

// Connect attaches a window to an in-process backend.
func Connect(backend transport.Backend, label string) (*Runtime, error) {
	reg := callback.New()
	t, err := transport.NewLoopback(backend, label, reg)
	if err != nil {
		return nil, err
	}
	return New(label, reg, t), nil
}

// ConnectNATS attaches a window to a backend serving NATS subjects under
// prefix.
func ConnectNATS(nc *comms.Conn, prefix, label string) (*Runtime, error) {
	reg := callback.New()
	t, err := transport.DialNATS(nc, prefix, label, reg)
	if err != nil {
		return nil, err
	}
	return New(label, reg, t), nil
}

// ConnectWS attaches a window to a backend's WebSocket endpoint.
func ConnectWS(ctx context.Context, url, label string) (*Runtime, error) {
	reg := callback.New()
	t, err := transport.DialWS(ctx, url, label, reg)
	if err != nil {
		return nil, err
	}
	return New(label, reg, t), nil
}

// Label returns the window this Runtime speaks for.
func (r *Runtime) Label() string {
	return r.label
}

// Available reports whether a transport is attached.
func (r *Runtime) Available() bool {
	return r.inv.Available()
}

// Invoke sends a command to module and waits for the reply.
func (r *Runtime) Invoke(ctx context.Context, module envelope.Module, message any) (json.RawMessage, error) {
	return r.inv.Invoke(ctx, module, message)
}

// Start sends a command without waiting for it.
func (r *Runtime) Start(ctx context.Context, module envelope.Module, message any) (*ipc.Pending, error) {
	return r.inv.Start(ctx, module, message)
}

// Events returns the event bus.
func (r *Runtime) Events() *events.Bus {
	return r.bus
}

// Window returns a proxy for the window with label.
func (r *Runtime) Window(label string) *window.Proxy {
	return window.NewProxy(label, r.inv)
}

// Current returns a proxy for this Runtime's own window.
func (r *Runtime) Current() *window.Proxy {
	return r.Window(r.label)
}

// CreateWindow asks the backend for a new window. The outcome is also
// reported locally as window-created or window-error.
func (r *Runtime) CreateWindow(ctx context.Context, opts window.Options) (*window.Proxy, error) {
	return window.Create(ctx, r.bus, r.inv, opts)
}

// App returns the App and Updater getters.
func (r *Runtime) App() *App {
	return &App{inv: r.inv}
}

// Pending returns how many callbacks are registered; zero when idle.
func (r *Runtime) Pending() int {
	return r.inv.Registry().Len()
}

// Close closes the transport. Later calls fail with ipc.ErrTransportAbsent.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		if r.transport == nil {
			return
		}
		if err := r.transport.Close(); err != nil {
			r.closeErr = fmt.Errorf("%s - failed to close %s: %w", logPrefix, r.label, err)
			return
		}
		slog.Debug(fmt.Sprintf("%s - runtime for %s closed", logPrefix, r.label))
	})
	return r.closeErr
}

// App exposes the App and Updater modules.
type App struct {
	inv *ipc.Invoker
}

func (a *App) get(ctx context.Context, cmd string) (string, error) {
	return ipc.InvokeAs[string](ctx, a.inv, envelope.ModuleApp, map[string]string{"cmd": cmd})
}

// Version returns the packaged application's version.
func (a *App) Version(ctx context.Context) (string, error) {
	return a.get(ctx, "getAppVersion")
}

// Name returns the packaged application's name.
func (a *App) Name(ctx context.Context) (string, error) {
	return a.get(ctx, "getAppName")
}

// FrameworkVersion returns the bridge version.
func (a *App) FrameworkVersion(ctx context.Context) (string, error) {
	return a.get(ctx, "getFrameworkVersion")
}

// Show shows every window.
func (a *App) Show(ctx context.Context) error {
	_, err := a.inv.Invoke(ctx, envelope.ModuleApp, map[string]string{"cmd": "show"})
	return err
}

// Hide hides every window.
func (a *App) Hide(ctx context.Context) error {
	_, err := a.inv.Invoke(ctx, envelope.ModuleApp, map[string]string{"cmd": "hide"})
	return err
}

// CheckUpdate asks the backend's updater for a newer release.
func (a *App) CheckUpdate(ctx context.Context) (*app.Update, error) {
	return ipc.InvokeAs[*app.Update](ctx, a.inv, envelope.ModuleUpdater, map[string]string{"cmd": "checkUpdate"})
}
