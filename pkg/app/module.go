// Package app implements the App and Updater modules: package metadata,
// application-wide visibility, and release checks.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/router"
	"github.com/morezero/desktop-bridge/pkg/window"
)

const logPrefix = "app:module"

// FrameworkVersion is the version of the bridge itself.
const FrameworkVersion = "0.4.0"

// UpdateAvailable is broadcast when a check finds a newer release.
const UpdateAvailable = "updater:update-available"

// Info describes the packaged application.
type Info struct {
	Name    string
	Version string
}

// Emitter broadcasts events to windows.
type Emitter interface {
	Emit(ctx context.Context, event, label string, payload json.RawMessage) error
}

// Register installs the App module. show and hide apply to every window the
// manager knows.
func Register(r *router.Router, info Info, mgr window.Manager) {
	r.Register(envelope.ModuleApp, "getAppVersion", func(context.Context, *router.Call) (interface{}, error) {
		return info.Version, nil
	}, router.Sync)
	r.Register(envelope.ModuleApp, "getAppName", func(context.Context, *router.Call) (interface{}, error) {
		return info.Name, nil
	}, router.Sync)
	r.Register(envelope.ModuleApp, "getFrameworkVersion", func(context.Context, *router.Call) (interface{}, error) {
		return FrameworkVersion, nil
	}, router.Sync)
	r.Register(envelope.ModuleApp, "show", func(context.Context, *router.Call) (interface{}, error) {
		return nil, setAllVisible(mgr, true)
	}, router.Sync)
	r.Register(envelope.ModuleApp, "hide", func(context.Context, *router.Call) (interface{}, error) {
		return nil, setAllVisible(mgr, false)
	}, router.Sync)
}

func setAllVisible(mgr window.Manager, visible bool) error {
	var errs []error
	for _, label := range mgr.Labels() {
		w, ok := mgr.Get(label)
		if !ok {
			continue
		}
		if err := w.SetVisible(visible); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
	}
	return errors.Join(errs...)
}

// RegisterUpdater installs the Updater module. When em is non-nil a found
// update is also broadcast as UpdateAvailable.
func RegisterUpdater(r *router.Router, u *Updater, em Emitter) {
	r.Register(envelope.ModuleUpdater, "checkUpdate", func(ctx context.Context, call *router.Call) (interface{}, error) {
		update, err := u.Check(ctx)
		switch {
		case errors.Is(err, ErrUpToDate):
			return &Update{ShouldUpdate: false, CurrentVersion: u.current, Version: u.current}, nil
		case errors.Is(err, ErrInactive):
			return nil, router.NewError(router.CodeUpdaterError, "updater is not active")
		case err != nil:
			return nil, router.Errorf(router.CodeUpdaterError, "update check failed: %v", err)
		}

		if update.ShouldUpdate && em != nil {
			payload, mErr := json.Marshal(update)
			if mErr == nil {
				mErr = em.Emit(ctx, UpdateAvailable, "", payload)
			}
			if mErr != nil {
				slog.Warn(fmt.Sprintf("%s - failed to broadcast update: %v", logPrefix, mErr))
			}
		}
		return update, nil
	}, router.Async)
}
