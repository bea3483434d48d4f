package window

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/router"
)

const headlessLogPrefix = "window:headless"

// Default geometry for windows created without explicit values.
const (
	DefaultWidth  = 800
	DefaultHeight = 600
)

// Monitor is the screen Headless places windows on.
type Monitor struct {
	Size  PhysicalSize
	Scale float64
}

// Headless is an in-memory Manager. It backs the bridge when no native
// toolkit is attached, e.g. for browser-preview frontends and tests.
type Headless struct {
	mu      sync.Mutex
	monitor Monitor
	windows map[string]*headlessWindow
	onClose []func(label string)
}

// NewHeadless creates a Headless manager on the given monitor. A zero scale
// is treated as 1.
func NewHeadless(m Monitor) *Headless {
	if m.Scale == 0 {
		m.Scale = 1
	}
	if m.Size.Width == 0 || m.Size.Height == 0 {
		m.Size = PhysicalSize{Width: 1920, Height: 1080}
	}
	return &Headless{monitor: m, windows: make(map[string]*headlessWindow)}
}

// OnClose registers fn to run after a window closes.
func (h *Headless) OnClose(fn func(label string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClose = append(h.onClose, fn)
}

// Get returns the window with label.
func (h *Headless) Get(label string) (Native, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.windows[label]
	if !ok {
		return nil, false
	}
	return w, true
}

// Labels lists open windows.
func (h *Headless) Labels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.windows))
	for label := range h.windows {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Create opens a window from opts.
func (h *Headless) Create(_ context.Context, opts Options) (Native, error) {
	if err := events.ValidateLabel(opts.Label); err != nil {
		return nil, router.NewError(router.CodeInvalidLabel, err.Error())
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.windows[opts.Label]; exists {
		return nil, router.Errorf(router.CodeWindowLabelExists, "a window with label `%s` already exists", opts.Label)
	}

	scale := h.monitor.Scale
	width, height := float64(DefaultWidth), float64(DefaultHeight)
	if opts.Width != nil {
		width = *opts.Width
	}
	if opts.Height != nil {
		height = *opts.Height
	}
	w := &headlessWindow{
		manager:     h,
		label:       opts.Label,
		title:       opts.Title,
		scale:       scale,
		size:        LogicalSize(width, height).ToPhysical(scale),
		resizable:   boolOr(opts.Resizable, true),
		visible:     boolOr(opts.Visible, true),
		decorations: boolOr(opts.Decorations, true),
		fullscreen:  opts.Fullscreen,
		alwaysOnTop: opts.AlwaysOnTop,
	}
	if opts.X != nil && opts.Y != nil {
		w.position = LogicalPosition(*opts.X, *opts.Y).ToPhysical(scale)
	}
	if opts.Center {
		w.position = h.centered(w.size)
	}
	h.windows[opts.Label] = w
	slog.Info(fmt.Sprintf("%s - created window %s (%dx%d)", headlessLogPrefix, opts.Label, w.size.Width, w.size.Height))
	return w, nil
}

func (h *Headless) centered(size PhysicalSize) PhysicalPosition {
	return PhysicalPosition{
		X: (int32(h.monitor.Size.Width) - int32(size.Width)) / 2,
		Y: (int32(h.monitor.Size.Height) - int32(size.Height)) / 2,
	}
}

func (h *Headless) remove(label string) {
	h.mu.Lock()
	delete(h.windows, label)
	hooks := append([]func(string){}, h.onClose...)
	h.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - closed window %s", headlessLogPrefix, label))
	for _, fn := range hooks {
		fn(label)
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// headlessWindow decorations are modeled as a fixed title bar.
const titleBarHeight = 30

type headlessWindow struct {
	manager *Headless

	mu          sync.Mutex
	label       string
	title       string
	scale       float64
	position    PhysicalPosition
	size        PhysicalSize
	minSize     *PhysicalSize
	maxSize     *PhysicalSize
	resizable   bool
	visible     bool
	decorations bool
	fullscreen  bool
	maximized   bool
	minimized   bool
	alwaysOnTop bool
	focused     bool
}

func (w *headlessWindow) Label() string { return w.label }

func (w *headlessWindow) ScaleFactor() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scale
}

func (w *headlessWindow) InnerPosition() PhysicalPosition {
	w.mu.Lock()
	defer w.mu.Unlock()
	pos := w.position
	if w.decorations {
		pos.Y += w.titleBar()
	}
	return pos
}

func (w *headlessWindow) OuterPosition() PhysicalPosition {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position
}

func (w *headlessWindow) InnerSize() PhysicalSize {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

func (w *headlessWindow) OuterSize() PhysicalSize {
	w.mu.Lock()
	defer w.mu.Unlock()
	size := w.size
	if w.decorations {
		size.Height += uint32(w.titleBar())
	}
	return size
}

func (w *headlessWindow) titleBar() int32 {
	return int32(titleBarHeight * w.scale)
}

func (w *headlessWindow) IsFullscreen() bool { return w.get(func() bool { return w.fullscreen }) }
func (w *headlessWindow) IsMaximized() bool  { return w.get(func() bool { return w.maximized }) }
func (w *headlessWindow) IsMinimized() bool  { return w.get(func() bool { return w.minimized }) }
func (w *headlessWindow) IsDecorated() bool  { return w.get(func() bool { return w.decorations }) }
func (w *headlessWindow) IsResizable() bool  { return w.get(func() bool { return w.resizable }) }
func (w *headlessWindow) IsVisible() bool    { return w.get(func() bool { return w.visible }) }

func (w *headlessWindow) Title() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.title
}

func (w *headlessWindow) get(fn func() bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn()
}

func (w *headlessWindow) set(fn func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn()
	return nil
}

func (w *headlessWindow) Center() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.position = w.manager.centered(w.size)
	return nil
}

func (w *headlessWindow) SetResizable(v bool) error   { return w.set(func() { w.resizable = v }) }
func (w *headlessWindow) SetTitle(v string) error     { return w.set(func() { w.title = v }) }
func (w *headlessWindow) SetMaximized(v bool) error   { return w.set(func() { w.maximized = v }) }
func (w *headlessWindow) SetMinimized(v bool) error   { return w.set(func() { w.minimized = v }) }
func (w *headlessWindow) SetVisible(v bool) error     { return w.set(func() { w.visible = v }) }
func (w *headlessWindow) SetDecorations(v bool) error { return w.set(func() { w.decorations = v }) }
func (w *headlessWindow) SetAlwaysOnTop(v bool) error { return w.set(func() { w.alwaysOnTop = v }) }
func (w *headlessWindow) SetFullscreen(v bool) error  { return w.set(func() { w.fullscreen = v }) }
func (w *headlessWindow) SetFocus() error             { return w.set(func() { w.focused = true }) }

func (w *headlessWindow) SetPosition(pos PhysicalPosition) error {
	return w.set(func() { w.position = pos })
}

// SetSize applies size clamped to the min and max sizes.
func (w *headlessWindow) SetSize(size PhysicalSize) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.resizable {
		return router.Errorf(router.CodeInvalidArgs, "window `%s` is not resizable", w.label)
	}
	w.size = w.clamp(size)
	return nil
}

func (w *headlessWindow) SetMinSize(size *PhysicalSize) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.minSize = size
	w.size = w.clamp(w.size)
	return nil
}

func (w *headlessWindow) SetMaxSize(size *PhysicalSize) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maxSize = size
	w.size = w.clamp(w.size)
	return nil
}

func (w *headlessWindow) clamp(size PhysicalSize) PhysicalSize {
	if w.minSize != nil {
		size.Width = max(size.Width, w.minSize.Width)
		size.Height = max(size.Height, w.minSize.Height)
	}
	if w.maxSize != nil {
		size.Width = min(size.Width, w.maxSize.Width)
		size.Height = min(size.Height, w.maxSize.Height)
	}
	return size
}

func (w *headlessWindow) Close() error {
	w.manager.remove(w.label)
	return nil
}
