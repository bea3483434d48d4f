// Package host assembles the backend: the command router, the event hub,
// the window manager and the App and Updater modules.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/desktop-bridge/pkg/app"
	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/router"
	"github.com/morezero/desktop-bridge/pkg/window"
)

const logPrefix = "host:host"

// Options configures a Host.
type Options struct {
	Info app.Info
	// Windows are created when the Host starts.
	Windows []window.Options
	// Manager defaults to a headless manager on a 1920x1080 monitor.
	Manager   window.Manager
	Allowlist router.Allowlist
	Journal   router.Journal
	Publisher events.EventPublisher
	// Updater enables the Updater module when set.
	Updater        *app.Updater
	HandlerTimeout time.Duration
}

// Host is the native side of the bridge. Transports feed it envelopes.
type Host struct {
	router  *router.Router
	hub     *events.Hub
	windows window.Manager
	journal router.Journal
	info    app.Info
	started time.Time
}

// New builds a Host and creates the startup windows.
func New(ctx context.Context, opts Options) (*Host, error) {
	h := &Host{
		router: router.New(router.Options{
			Allowlist:      opts.Allowlist,
			Journal:        opts.Journal,
			HandlerTimeout: opts.HandlerTimeout,
		}),
		hub:     events.NewHub(opts.Publisher),
		windows: opts.Manager,
		journal: opts.Journal,
		info:    opts.Info,
		started: time.Now(),
	}
	if h.windows == nil {
		headless := window.NewHeadless(window.Monitor{})
		headless.OnClose(func(label string) {
			if n := h.hub.Detach(label); n > 0 {
				slog.Debug(fmt.Sprintf("%s - window %s closed, dropped %d listeners", logPrefix, label, n))
			}
		})
		h.windows = headless
	}

	h.hub.Register(h.router)
	window.RegisterModule(h.router, h.windows)
	app.Register(h.router, opts.Info, h.windows)
	if opts.Updater != nil {
		app.RegisterUpdater(h.router, opts.Updater, h.hub)
	}

	for _, w := range opts.Windows {
		if _, err := h.windows.Create(ctx, w); err != nil {
			return nil, fmt.Errorf("%s - failed to create window %s: %w", logPrefix, w.Label, err)
		}
	}

	slog.Info(fmt.Sprintf("%s - %s %s ready with modules %v", logPrefix, opts.Info.Name, opts.Info.Version, h.router.Modules()))
	return h, nil
}

// Attach makes a window reachable for replies and events.
func (h *Host) Attach(label string, rp router.Replier) error {
	return h.hub.Attach(label, rp)
}

// Detach drops a window and its listeners.
func (h *Host) Detach(label string) {
	n := h.hub.Detach(label)
	slog.Debug(fmt.Sprintf("%s - detached %s, dropped %d listeners", logPrefix, label, n))
}

// Handle routes one envelope from the window label.
func (h *Host) Handle(ctx context.Context, label string, env *envelope.Envelope, rp router.Replier) {
	h.router.Route(ctx, label, env, rp)
}

// Emit sends an event from the native side to the windows.
func (h *Host) Emit(ctx context.Context, event, label string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s - failed to encode %s payload: %w", logPrefix, event, err)
		}
		raw = data
	}
	return h.hub.Emit(ctx, event, label, raw)
}

// Hub returns the event hub, for Go-side listeners.
func (h *Host) Hub() *events.Hub {
	return h.hub
}

// Router returns the command router, for registering extra modules.
func (h *Host) Router() *router.Router {
	return h.router
}

// Windows returns the window manager.
func (h *Host) Windows() window.Manager {
	return h.windows
}

// Close waits for running handlers and journal writes.
func (h *Host) Close() {
	h.router.Wait()
	slog.Info(fmt.Sprintf("%s - host stopped", logPrefix))
}
