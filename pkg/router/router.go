// Package router resolves incoming envelopes to registered backend handlers
// and answers each one exactly once.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/morezero/desktop-bridge/pkg/envelope"
)

const logPrefix = "router:route"

// Mode selects how a handler is scheduled.
type Mode int

const (
	// Sync handlers run on the routing goroutine in arrival order. They must
	// be short.
	Sync Mode = iota
	// Async handlers run on their own goroutine so slow work never delays
	// other envelopes.
	Async
)

// Call is one routed envelope.
type Call struct {
	Label    string
	Module   envelope.Module
	Command  string
	Envelope *envelope.Envelope
}

// Decode unmarshals the command message into v, reporting failures as
// INVALID_ARGS.
func (c *Call) Decode(v interface{}) error {
	if err := json.Unmarshal(c.Envelope.Message, v); err != nil {
		return Errorf(CodeInvalidArgs, "invalid args for command `%s.%s`: %v", c.Module, c.Command, err)
	}
	return nil
}

// HandlerFunc executes one command. The result is JSON-encoded into the
// success reply.
type HandlerFunc func(ctx context.Context, call *Call) (interface{}, error)

// Replier sends a reply to the frontend an envelope came from.
type Replier interface {
	Reply(ctx context.Context, r *envelope.Reply) error
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(ctx context.Context, r *envelope.Reply) error

// Reply calls f.
func (f ReplierFunc) Reply(ctx context.Context, r *envelope.Reply) error {
	return f(ctx, r)
}

// Allowlist decides whether a module command may be invoked.
type Allowlist interface {
	Allowed(module envelope.Module, cmd string) bool
}

// InvocationRecord is the journal entry for one routed envelope.
type InvocationRecord struct {
	Label     string
	Module    string
	Command   string
	Callback  uint32
	Error     uint32
	Ok        bool
	ErrorCode string
	Duration  time.Duration
	At        time.Time
}

// Journal persists invocation records.
type Journal interface {
	RecordInvocation(ctx context.Context, rec *InvocationRecord) error
}

// Options configures a Router. Zero values use defaults.
type Options struct {
	Allowlist Allowlist
	Journal   Journal
	// HandlerTimeout bounds each handler's context; zero means no bound.
	HandlerTimeout time.Duration
	// ReplayWindow is how many recent envelopes are remembered for replay detection.
	ReplayWindow int
}

const defaultReplayWindow = 4096

type route struct {
	handler HandlerFunc
	mode    Mode
}

// Router maps module and command names to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[envelope.Module]map[string]route

	allowlist      Allowlist
	journal        Journal
	handlerTimeout time.Duration
	replay         *replayGuard

	inflight sync.WaitGroup
}

// New creates a Router.
func New(opts Options) *Router {
	window := opts.ReplayWindow
	if window <= 0 {
		window = defaultReplayWindow
	}
	return &Router{
		handlers:       make(map[envelope.Module]map[string]route),
		allowlist:      opts.Allowlist,
		journal:        opts.Journal,
		handlerTimeout: opts.HandlerTimeout,
		replay:         newReplayGuard(window),
	}
}

// Register installs a handler for module.cmd, replacing any previous one.
func (r *Router) Register(module envelope.Module, cmd string, h HandlerFunc, mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmds, ok := r.handlers[module]
	if !ok {
		cmds = make(map[string]route)
		r.handlers[module] = cmds
	}
	cmds[cmd] = route{handler: h, mode: mode}
}

// Modules lists the modules that have at least one handler.
func (r *Router) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, string(m))
	}
	sort.Strings(out)
	return out
}

// Route resolves env and replies through rp. Every envelope receives exactly
// one reply except replays of an envelope already routed, which are dropped.
func (r *Router) Route(ctx context.Context, label string, env *envelope.Envelope, rp Replier) {
	if !r.replay.firstSeen(replayKey{label: label, callback: env.Callback, errID: env.Error}) {
		slog.Warn(fmt.Sprintf("%s - dropped replayed envelope label=%s module=%s callback=%d", logPrefix, label, env.Module, env.Callback))
		return
	}

	call := &Call{Label: label, Module: env.Module, Envelope: env}
	start := time.Now()

	cmd, err := env.Command()
	if err != nil {
		r.finish(ctx, call, rp, start, nil, Errorf(CodeInvalidArgs, "invalid message for module `%s`: %v", env.Module, err))
		return
	}
	call.Command = cmd
	slog.Debug(fmt.Sprintf("%s - label=%s module=%s cmd=%s", logPrefix, label, env.Module, cmd))

	rt, rErr := r.lookup(env.Module, cmd)
	if rErr != nil {
		r.finish(ctx, call, rp, start, nil, rErr)
		return
	}
	if r.allowlist != nil && !r.allowlist.Allowed(env.Module, cmd) {
		r.finish(ctx, call, rp, start, nil, Errorf(CodeNotAllowlisted, "'%s > %s' not on the allowlist", env.Module, cmd))
		return
	}

	if rt.mode == Sync {
		r.execute(ctx, call, rt.handler, rp, start)
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		r.execute(context.WithoutCancel(ctx), call, rt.handler, rp, start)
	}()
}

func (r *Router) lookup(module envelope.Module, cmd string) (route, *Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds, ok := r.handlers[module]
	if !ok {
		return route{}, Errorf(CodeUnknownModule, "unknown module: %s", module)
	}
	rt, ok := cmds[cmd]
	if !ok {
		return route{}, Errorf(CodeUnknownCommand, "unknown command: %s.%s", module, cmd)
	}
	return rt, nil
}

func (r *Router) execute(ctx context.Context, call *Call, h HandlerFunc, rp Replier, start time.Time) {
	if r.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.handlerTimeout)
		defer cancel()
	}

	var (
		result interface{}
		err    error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				slog.Error(fmt.Sprintf("%s - handler %s.%s panicked: %v\n%s", logPrefix, call.Module, call.Command, p, debug.Stack()))
				err = Errorf(CodeInternalError, "handler panicked: %v", p)
			}
		}()
		result, err = h(ctx, call)
	}()
	r.finish(ctx, call, rp, start, result, err)
}

// finish sends the single reply for call and journals it.
func (r *Router) finish(ctx context.Context, call *Call, rp Replier, start time.Time, result interface{}, err error) {
	reply := &envelope.Reply{}
	rec := &InvocationRecord{
		Label:    call.Label,
		Module:   string(call.Module),
		Command:  call.Command,
		Callback: call.Envelope.Callback,
		Error:    call.Envelope.Error,
		At:       start.UTC(),
	}

	if err == nil {
		data, mErr := json.Marshal(result)
		if mErr != nil {
			err = Errorf(CodeInternalError, "failed to encode result: %v", mErr)
		} else {
			reply.Callback = call.Envelope.Callback
			reply.Payload = data
			rec.Ok = true
		}
	}
	if err != nil {
		reply.Callback = call.Envelope.Error
		reply.Payload, rec.ErrorCode = errorPayload(err)
		slog.Debug(fmt.Sprintf("%s - %s.%s failed: %v", logPrefix, call.Module, call.Command, err))
	}
	rec.Duration = time.Since(start)

	if rErr := rp.Reply(ctx, reply); rErr != nil {
		slog.Error(fmt.Sprintf("%s - failed to reply to label=%s callback=%d: %v", logPrefix, call.Label, reply.Callback, rErr))
	}

	if r.journal != nil {
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			if jErr := r.journal.RecordInvocation(context.WithoutCancel(ctx), rec); jErr != nil {
				slog.Warn(fmt.Sprintf("%s - failed to journal %s.%s: %v", logPrefix, rec.Module, rec.Command, jErr))
			}
		}()
	}
}

// Wait blocks until all async handlers and journal writes have finished.
func (r *Router) Wait() {
	r.inflight.Wait()
}
