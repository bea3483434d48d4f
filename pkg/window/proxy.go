package window

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/ipc"
)

const proxyLogPrefix = "window:proxy"

// Options describes a window to create. Nil pointers leave the backend default.
type Options struct {
	Label       string   `json:"label" yaml:"label"`
	URL         string   `json:"url,omitempty" yaml:"url"`
	Title       string   `json:"title,omitempty" yaml:"title"`
	Width       *float64 `json:"width,omitempty" yaml:"width"`
	Height      *float64 `json:"height,omitempty" yaml:"height"`
	X           *float64 `json:"x,omitempty" yaml:"x"`
	Y           *float64 `json:"y,omitempty" yaml:"y"`
	Center      bool     `json:"center,omitempty" yaml:"center"`
	Resizable   *bool    `json:"resizable,omitempty" yaml:"resizable"`
	Fullscreen  bool     `json:"fullscreen,omitempty" yaml:"fullscreen"`
	Visible     *bool    `json:"visible,omitempty" yaml:"visible"`
	Decorations *bool    `json:"decorations,omitempty" yaml:"decorations"`
	AlwaysOnTop bool     `json:"alwaysOnTop,omitempty" yaml:"alwaysOnTop"`
}

// Proxy is a handle on a window identified by label. It owns nothing; every
// method is a Window.manage invocation.
type Proxy struct {
	label string
	inv   *ipc.Invoker
}

// NewProxy creates a handle for label.
func NewProxy(label string, inv *ipc.Invoker) *Proxy {
	return &Proxy{label: label, inv: inv}
}

// Label returns the window label.
func (p *Proxy) Label() string {
	return p.label
}

type managedCmd struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type manageData struct {
	Label string     `json:"label"`
	Cmd   managedCmd `json:"cmd"`
}

type manageMessage struct {
	Cmd  string     `json:"cmd"`
	Data manageData `json:"data"`
}

func (p *Proxy) manage(ctx context.Context, typ string, payload interface{}) (json.RawMessage, error) {
	return p.inv.Invoke(ctx, envelope.ModuleWindow, manageMessage{
		Cmd:  "manage",
		Data: manageData{Label: p.label, Cmd: managedCmd{Type: typ, Payload: payload}},
	})
}

func query[T any](ctx context.Context, p *Proxy, typ string) (T, error) {
	var out T
	raw, err := p.manage(ctx, typ, nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%s - failed to decode %s result: %w", proxyLogPrefix, typ, err)
	}
	return out, nil
}

func (p *Proxy) do(ctx context.Context, typ string, payload interface{}) error {
	_, err := p.manage(ctx, typ, payload)
	return err
}

// ScaleFactor returns the DPI scale factor of the window's monitor.
func (p *Proxy) ScaleFactor(ctx context.Context) (float64, error) {
	return query[float64](ctx, p, "scaleFactor")
}

// InnerPosition returns the position of the client area.
func (p *Proxy) InnerPosition(ctx context.Context) (PhysicalPosition, error) {
	return query[PhysicalPosition](ctx, p, "innerPosition")
}

// OuterPosition returns the position of the window including decorations.
func (p *Proxy) OuterPosition(ctx context.Context) (PhysicalPosition, error) {
	return query[PhysicalPosition](ctx, p, "outerPosition")
}

// InnerSize returns the size of the client area.
func (p *Proxy) InnerSize(ctx context.Context) (PhysicalSize, error) {
	return query[PhysicalSize](ctx, p, "innerSize")
}

// OuterSize returns the size of the window including decorations.
func (p *Proxy) OuterSize(ctx context.Context) (PhysicalSize, error) {
	return query[PhysicalSize](ctx, p, "outerSize")
}

// IsFullscreen reports whether the window is fullscreen.
func (p *Proxy) IsFullscreen(ctx context.Context) (bool, error) {
	return query[bool](ctx, p, "isFullscreen")
}

// IsMaximized reports whether the window is maximized.
func (p *Proxy) IsMaximized(ctx context.Context) (bool, error) {
	return query[bool](ctx, p, "isMaximized")
}

// IsMinimized reports whether the window is minimized.
func (p *Proxy) IsMinimized(ctx context.Context) (bool, error) {
	return query[bool](ctx, p, "isMinimized")
}

// IsDecorated reports whether the window has decorations.
func (p *Proxy) IsDecorated(ctx context.Context) (bool, error) {
	return query[bool](ctx, p, "isDecorated")
}

// IsResizable reports whether the user can resize the window.
func (p *Proxy) IsResizable(ctx context.Context) (bool, error) {
	return query[bool](ctx, p, "isResizable")
}

// IsVisible reports whether the window is shown.
func (p *Proxy) IsVisible(ctx context.Context) (bool, error) {
	return query[bool](ctx, p, "isVisible")
}

// Title returns the window title.
func (p *Proxy) Title(ctx context.Context) (string, error) {
	return query[string](ctx, p, "title")
}

// Center moves the window to the center of its monitor.
func (p *Proxy) Center(ctx context.Context) error {
	return p.do(ctx, "center", nil)
}

// SetResizable allows or prevents resizing by the user.
func (p *Proxy) SetResizable(ctx context.Context, resizable bool) error {
	return p.do(ctx, "setResizable", resizable)
}

// SetTitle changes the window title.
func (p *Proxy) SetTitle(ctx context.Context, title string) error {
	return p.do(ctx, "setTitle", title)
}

// Maximize maximizes the window.
func (p *Proxy) Maximize(ctx context.Context) error {
	return p.do(ctx, "maximize", nil)
}

// Unmaximize restores a maximized window.
func (p *Proxy) Unmaximize(ctx context.Context) error {
	return p.do(ctx, "unmaximize", nil)
}

// ToggleMaximize maximizes the window, or restores it when already maximized.
func (p *Proxy) ToggleMaximize(ctx context.Context) error {
	return p.do(ctx, "toggleMaximize", nil)
}

// Minimize minimizes the window.
func (p *Proxy) Minimize(ctx context.Context) error {
	return p.do(ctx, "minimize", nil)
}

// Unminimize restores a minimized window.
func (p *Proxy) Unminimize(ctx context.Context) error {
	return p.do(ctx, "unminimize", nil)
}

// Show makes the window visible.
func (p *Proxy) Show(ctx context.Context) error {
	return p.do(ctx, "show", nil)
}

// Hide hides the window.
func (p *Proxy) Hide(ctx context.Context) error {
	return p.do(ctx, "hide", nil)
}

// Close asks the backend to close the window.
func (p *Proxy) Close(ctx context.Context) error {
	return p.do(ctx, "close", nil)
}

// SetDecorations turns the window decorations on or off.
func (p *Proxy) SetDecorations(ctx context.Context, decorations bool) error {
	return p.do(ctx, "setDecorations", decorations)
}

// SetAlwaysOnTop keeps the window above other windows.
func (p *Proxy) SetAlwaysOnTop(ctx context.Context, alwaysOnTop bool) error {
	return p.do(ctx, "setAlwaysOnTop", alwaysOnTop)
}

// SetSize resizes the window. An invalid size fails without contacting the backend.
func (p *Proxy) SetSize(ctx context.Context, size Size) error {
	if err := size.Validate(); err != nil {
		return err
	}
	return p.do(ctx, "setSize", size)
}

// SetMinSize sets or, with nil, clears the minimum size.
func (p *Proxy) SetMinSize(ctx context.Context, size *Size) error {
	return p.setOptionalSize(ctx, "setMinSize", size)
}

// SetMaxSize sets or, with nil, clears the maximum size.
func (p *Proxy) SetMaxSize(ctx context.Context, size *Size) error {
	return p.setOptionalSize(ctx, "setMaxSize", size)
}

func (p *Proxy) setOptionalSize(ctx context.Context, typ string, size *Size) error {
	if size == nil {
		return p.do(ctx, typ, nil)
	}
	if err := size.Validate(); err != nil {
		return err
	}
	return p.do(ctx, typ, *size)
}

// SetPosition moves the window. An invalid position fails without contacting the backend.
func (p *Proxy) SetPosition(ctx context.Context, pos Position) error {
	if err := pos.Validate(); err != nil {
		return err
	}
	return p.do(ctx, "setPosition", pos)
}

// SetFullscreen enters or leaves fullscreen.
func (p *Proxy) SetFullscreen(ctx context.Context, fullscreen bool) error {
	return p.do(ctx, "setFullscreen", fullscreen)
}

// SetFocus brings the window to the front and focuses it.
func (p *Proxy) SetFocus(ctx context.Context) error {
	return p.do(ctx, "setFocus", nil)
}

type createMessage struct {
	Cmd     string  `json:"cmd"`
	Options Options `json:"options"`
}

// Create asks the backend for a new webview window and reports the outcome
// to local listeners as window-created or window-error scoped to the new
// label. The returned error is the creation error, if any.
func Create(ctx context.Context, bus *events.Bus, inv *ipc.Invoker, opts Options) (*Proxy, error) {
	if err := events.ValidateLabel(opts.Label); err != nil {
		return nil, err
	}
	proxy := NewProxy(opts.Label, inv)

	_, err := inv.Invoke(ctx, envelope.ModuleWindow, createMessage{Cmd: "createWebview", Options: opts})
	if err != nil {
		if emitErr := bus.Emit(ctx, events.WindowError, opts.Label, err.Error()); emitErr != nil {
			return nil, fmt.Errorf("%s - failed to report window error: %w", proxyLogPrefix, emitErr)
		}
		return nil, err
	}
	if err := bus.Emit(ctx, events.WindowCreated, opts.Label, nil); err != nil {
		return nil, fmt.Errorf("%s - failed to report window creation: %w", proxyLogPrefix, err)
	}
	return proxy, nil
}
