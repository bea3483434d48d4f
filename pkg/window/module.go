package window

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/router"
)

const moduleLogPrefix = "window:module"

// manageFunc applies one Window.manage sub-command. payload is the raw
// "payload" field and may be empty.
type manageFunc func(w Native, payload json.RawMessage) (interface{}, error)

func getter[T any](fn func(Native) T) manageFunc {
	return func(w Native, _ json.RawMessage) (interface{}, error) {
		return fn(w), nil
	}
}

func action(fn func(Native) error) manageFunc {
	return func(w Native, _ json.RawMessage) (interface{}, error) {
		return nil, fn(w)
	}
}

func withArg[T any](fn func(Native, T) error) manageFunc {
	return func(w Native, payload json.RawMessage) (interface{}, error) {
		var arg T
		if err := decodePayload(payload, &arg); err != nil {
			return nil, err
		}
		return nil, fn(w, arg)
	}
}

func decodePayload(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return router.NewError(router.CodeInvalidArgs, "missing payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return router.Errorf(router.CodeInvalidArgs, "invalid payload: %v", err)
	}
	return nil
}

// optionalSize decodes a nullable tagged size into device pixels.
func optionalSize(w Native, payload json.RawMessage) (*PhysicalSize, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return nil, nil
	}
	var s Size
	if err := decodePayload(payload, &s); err != nil {
		return nil, err
	}
	ps := s.ToPhysical(w.ScaleFactor())
	return &ps, nil
}

var manageTable = map[string]manageFunc{
	"scaleFactor":   getter(Native.ScaleFactor),
	"innerPosition": getter(Native.InnerPosition),
	"outerPosition": getter(Native.OuterPosition),
	"innerSize":     getter(Native.InnerSize),
	"outerSize":     getter(Native.OuterSize),
	"isFullscreen":  getter(Native.IsFullscreen),
	"isMaximized":   getter(Native.IsMaximized),
	"isMinimized":   getter(Native.IsMinimized),
	"isDecorated":   getter(Native.IsDecorated),
	"isResizable":   getter(Native.IsResizable),
	"isVisible":     getter(Native.IsVisible),
	"title":         getter(Native.Title),

	"center":     action(Native.Center),
	"maximize":   action(func(w Native) error { return w.SetMaximized(true) }),
	"unmaximize": action(func(w Native) error { return w.SetMaximized(false) }),
	"toggleMaximize": action(func(w Native) error {
		return w.SetMaximized(!w.IsMaximized())
	}),
	"minimize":   action(func(w Native) error { return w.SetMinimized(true) }),
	"unminimize": action(func(w Native) error { return w.SetMinimized(false) }),
	"show":       action(func(w Native) error { return w.SetVisible(true) }),
	"hide":       action(func(w Native) error { return w.SetVisible(false) }),
	"close":      action(Native.Close),
	"setFocus":   action(Native.SetFocus),

	"setResizable":   withArg(Native.SetResizable),
	"setTitle":       withArg(Native.SetTitle),
	"setDecorations": withArg(Native.SetDecorations),
	"setAlwaysOnTop": withArg(Native.SetAlwaysOnTop),
	"setFullscreen":  withArg(Native.SetFullscreen),
	"setSize": withArg(func(w Native, s Size) error {
		return w.SetSize(s.ToPhysical(w.ScaleFactor()))
	}),
	"setPosition": withArg(func(w Native, p Position) error {
		return w.SetPosition(p.ToPhysical(w.ScaleFactor()))
	}),
	"setMinSize": func(w Native, payload json.RawMessage) (interface{}, error) {
		size, err := optionalSize(w, payload)
		if err != nil {
			return nil, err
		}
		return nil, w.SetMinSize(size)
	},
	"setMaxSize": func(w Native, payload json.RawMessage) (interface{}, error) {
		size, err := optionalSize(w, payload)
		if err != nil {
			return nil, err
		}
		return nil, w.SetMaxSize(size)
	},
}

// ManageTypes lists the Window.manage sub-commands in order.
func ManageTypes() []string {
	out := make([]string, 0, len(manageTable))
	for typ := range manageTable {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

type inboundManage struct {
	Data struct {
		Label string `json:"label"`
		Cmd   struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		} `json:"cmd"`
	} `json:"data"`
}

type inboundCreate struct {
	Options Options `json:"options"`
}

// RegisterModule installs the Window module on r. manage runs synchronously so
// a window's commands apply in the order they were sent; createWebview runs
// asynchronously.
func RegisterModule(r *router.Router, mgr Manager) {
	r.Register(envelope.ModuleWindow, "manage", func(_ context.Context, call *router.Call) (interface{}, error) {
		var msg inboundManage
		if err := call.Decode(&msg); err != nil {
			return nil, err
		}
		label := msg.Data.Label
		if label == "" {
			label = call.Label
		}
		typ := msg.Data.Cmd.Type
		fn, ok := manageTable[typ]
		if !ok {
			return nil, router.Errorf(router.CodeUnknownCommand, "unknown window command type: %s", typ)
		}
		w, ok := mgr.Get(label)
		if !ok {
			return nil, router.Errorf(router.CodeWindowNotFound, "window `%s` not found", label)
		}
		slog.Debug(fmt.Sprintf("%s - %s.%s", moduleLogPrefix, label, typ))
		return fn(w, msg.Data.Cmd.Payload)
	}, router.Sync)

	r.Register(envelope.ModuleWindow, "createWebview", func(ctx context.Context, call *router.Call) (interface{}, error) {
		var msg inboundCreate
		if err := call.Decode(&msg); err != nil {
			return nil, err
		}
		if err := events.ValidateLabel(msg.Options.Label); err != nil {
			return nil, router.NewError(router.CodeInvalidLabel, err.Error())
		}
		w, err := mgr.Create(ctx, msg.Options)
		if err != nil {
			return nil, err
		}
		return w.Label(), nil
	}, router.Async)
}
