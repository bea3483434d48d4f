// Package commsutil connects to NATS and names the subjects the bridge uses.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// Connect opens a NATS connection that keeps reconnecting while the desktop
// process lives. Extra options are applied after the defaults.
func Connect(url, name string, extra ...comms.Option) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - connecting to NATS at %s as %s", logPrefix, url, name))

	opts := []comms.Option{
		comms.Name(name),
		comms.Timeout(5 * time.Second),
		comms.ReconnectWait(time.Second),
		comms.MaxReconnects(-1),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - NATS disconnected: %v", logPrefix, err))
			}
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - NATS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Debug(fmt.Sprintf("%s - NATS connection closed", logPrefix))
		}),
	}
	nc, err := comms.Connect(url, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - connected to NATS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}
