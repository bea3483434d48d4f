package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/morezero/desktop-bridge/pkg/callback"
	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/ipc"
)

const loopbackLogPrefix = "transport:loopback"

var errWindowClosed = errors.New("transport: window closed")

// Loopback connects a frontend to a backend in the same process. One
// goroutine routes posted envelopes and another delivers replies.
type Loopback struct {
	label   string
	backend Backend
	reg     *callback.Registry

	inbound  *queue[*envelope.Envelope]
	outbound *queue[*envelope.Reply]
	closed   atomic.Bool
	routing  sync.WaitGroup
	delivery sync.WaitGroup
}

// NewLoopback attaches label to backend and starts both directions.
func NewLoopback(backend Backend, label string, reg *callback.Registry) (*Loopback, error) {
	l := &Loopback{
		label:    label,
		backend:  backend,
		reg:      reg,
		inbound:  newQueue[*envelope.Envelope](),
		outbound: newQueue[*envelope.Reply](),
	}
	if err := backend.Attach(label, l); err != nil {
		return nil, fmt.Errorf("%s - failed to attach %s: %w", loopbackLogPrefix, label, err)
	}

	l.routing.Add(1)
	go func() {
		defer l.routing.Done()
		l.inbound.drain(func(env *envelope.Envelope) {
			l.backend.Handle(context.Background(), l.label, env, l)
		})
	}()
	l.delivery.Add(1)
	go func() {
		defer l.delivery.Done()
		l.outbound.drain(func(r *envelope.Reply) {
			deliver(loopbackLogPrefix, l.reg, r)
		})
	}()

	slog.Debug(fmt.Sprintf("%s - window %s attached", loopbackLogPrefix, label))
	return l, nil
}

// Label returns the window label.
func (l *Loopback) Label() string {
	return l.label
}

// Post implements ipc.Bridge.
func (l *Loopback) Post(_ context.Context, env *envelope.Envelope) error {
	if l.closed.Load() || !l.inbound.push(env) {
		return ipc.ErrTransportAbsent
	}
	return nil
}

// Reply implements router.Replier.
func (l *Loopback) Reply(_ context.Context, r *envelope.Reply) error {
	if !l.outbound.push(r) {
		return errWindowClosed
	}
	return nil
}

// Close detaches the window. Envelopes already posted are still routed and
// their replies delivered before Close returns.
func (l *Loopback) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.inbound.close()
	l.routing.Wait()
	l.backend.Detach(l.label)
	l.outbound.close()
	l.delivery.Wait()
	slog.Debug(fmt.Sprintf("%s - window %s closed", loopbackLogPrefix, l.label))
	return nil
}
