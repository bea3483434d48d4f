// Package ipc turns typed command calls into envelopes and resolves them when
// the backend answers on one of the two callback IDs.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/desktop-bridge/pkg/callback"
	"github.com/morezero/desktop-bridge/pkg/envelope"
)

const logPrefix = "ipc:invoker"

// Bridge delivers envelopes to the native side. Implementations route replies
// back by invoking callback IDs on the registry they were built with.
type Bridge interface {
	Post(ctx context.Context, env *envelope.Envelope) error
}

// Invoker issues commands over a Bridge.
type Invoker struct {
	registry *callback.Registry
	bridge   Bridge
}

// NewInvoker creates an Invoker. A nil bridge yields an Invoker whose calls
// fail immediately with ErrTransportAbsent.
func NewInvoker(reg *callback.Registry, bridge Bridge) *Invoker {
	return &Invoker{registry: reg, bridge: bridge}
}

// Registry returns the callback registry replies are delivered to.
func (i *Invoker) Registry() *callback.Registry {
	return i.registry
}

// Available reports whether a bridge is attached.
func (i *Invoker) Available() bool {
	return i.bridge != nil
}

// Start sends a command and returns its pending result without waiting.
func (i *Invoker) Start(ctx context.Context, module envelope.Module, message any) (*Pending, error) {
	if i.bridge == nil {
		return nil, ErrTransportAbsent
	}

	p := &Pending{registry: i.registry, done: make(chan struct{})}
	p.okID = i.registry.Register(func(payload json.RawMessage) {
		p.settle(payload, nil)
	}, true)
	p.errID = i.registry.Register(func(payload json.RawMessage) {
		p.settle(nil, decodeError(payload))
	}, true)

	env, err := envelope.New(module, message, uint32(p.okID), uint32(p.errID))
	if err != nil {
		i.registry.Remove(p.okID, p.errID)
		return nil, fmt.Errorf("%s - failed to build envelope: %w", logPrefix, err)
	}

	if err := i.bridge.Post(ctx, env); err != nil {
		i.registry.Remove(p.okID, p.errID)
		return nil, fmt.Errorf("%s - failed to post %s envelope: %w", logPrefix, module, err)
	}
	slog.Debug(fmt.Sprintf("%s - posted module=%s ok=%d err=%d", logPrefix, module, p.okID, p.errID))
	return p, nil
}

// Invoke sends a command and waits for its reply. If ctx ends first the
// invocation is cancelled and both callback IDs are deregistered.
func (i *Invoker) Invoke(ctx context.Context, module envelope.Module, message any) (json.RawMessage, error) {
	p, err := i.Start(ctx, module, message)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// InvokeAs is Invoke with the success payload decoded into T.
func InvokeAs[T any](ctx context.Context, inv *Invoker, module envelope.Module, message any) (T, error) {
	var out T
	raw, err := inv.Invoke(ctx, module, message)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%s - failed to decode %s result: %w", logPrefix, module, err)
	}
	return out, nil
}

// Pending is an invocation waiting for exactly one of its two callbacks.
type Pending struct {
	registry *callback.Registry
	okID     callback.ID
	errID    callback.ID

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

// IDs returns the success and error callback IDs.
func (p *Pending) IDs() (ok, errID callback.ID) {
	return p.okID, p.errID
}

// Done is closed once the invocation is settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled outcome. It must only be called after Done is closed.
func (p *Pending) Result() (json.RawMessage, error) {
	return p.result, p.err
}

// Wait blocks until the invocation settles or ctx ends, cancelling on the latter.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		p.Cancel()
		<-p.done
		if p.err == ErrCancelled {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return p.result, p.err
	}
}

// Cancel deregisters both callback IDs. A reply arriving later finds no
// handler and is dropped. Cancelling a settled invocation has no effect.
func (p *Pending) Cancel() {
	p.settle(nil, ErrCancelled)
}

func (p *Pending) settle(result json.RawMessage, err error) {
	p.once.Do(func() {
		p.registry.Remove(p.okID, p.errID)
		p.result = result
		p.err = err
		close(p.done)
	})
}
