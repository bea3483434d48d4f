package window

import "context"

// Native is the backend view of one window. Implementations wrap the OS
// toolkit; Headless keeps the state in memory.
type Native interface {
	Label() string

	ScaleFactor() float64
	InnerPosition() PhysicalPosition
	OuterPosition() PhysicalPosition
	InnerSize() PhysicalSize
	OuterSize() PhysicalSize
	IsFullscreen() bool
	IsMaximized() bool
	IsMinimized() bool
	IsDecorated() bool
	IsResizable() bool
	IsVisible() bool
	Title() string

	Center() error
	SetResizable(resizable bool) error
	SetTitle(title string) error
	SetMaximized(maximized bool) error
	SetMinimized(minimized bool) error
	SetVisible(visible bool) error
	SetDecorations(decorations bool) error
	SetAlwaysOnTop(alwaysOnTop bool) error
	SetSize(size PhysicalSize) error
	SetMinSize(size *PhysicalSize) error
	SetMaxSize(size *PhysicalSize) error
	SetPosition(pos PhysicalPosition) error
	SetFullscreen(fullscreen bool) error
	SetFocus() error
	Close() error
}

// Manager owns the set of windows.
type Manager interface {
	// Get returns the window with label.
	Get(label string) (Native, bool)
	// Create opens a window. It fails with WINDOW_LABEL_EXISTS if the label is taken.
	Create(ctx context.Context, opts Options) (Native, error)
	// Labels lists open windows.
	Labels() []string
}
