package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const embedLogPrefix = "server:embed"

// embeddedReadyTimeout bounds how long startup waits for the in-process server.
const embeddedReadyTimeout = 5 * time.Second

// embeddedOptions derives nats-server options from a client URL such as
// nats://127.0.0.1:4222.
func embeddedOptions(rawURL string) (*commsserver.Options, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid COMMS_URL %q: %w", embedLogPrefix, rawURL, err)
	}
	if u.Scheme != "nats" {
		return nil, fmt.Errorf("%s - COMMS_URL %q must use nats:// to embed a server", embedLogPrefix, rawURL)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		host, portStr = u.Host, "4222"
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%s - COMMS_URL %q has an invalid port", embedLogPrefix, rawURL)
	}
	return &commsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}, nil
}

// startEmbeddedNATS runs a NATS server inside the process.
func startEmbeddedNATS(rawURL string) (*commsserver.Server, error) {
	opts, err := embeddedOptions(rawURL)
	if err != nil {
		return nil, err
	}
	ns, err := commsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create NATS server: %w", embedLogPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(embeddedReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("%s - embedded NATS server not ready on %s:%d", embedLogPrefix, opts.Host, opts.Port)
	}
	slog.Info(fmt.Sprintf("%s - Embedded NATS server listening on %s:%d", embedLogPrefix, opts.Host, opts.Port))
	return ns, nil
}
