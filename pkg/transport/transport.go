// Package transport carries envelopes from a frontend to the backend and
// replies back. Every transport keeps one ordered path per window in each
// direction, so commands are routed in the order they were posted and
// replies reach the callback registry in the order they were sent.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/desktop-bridge/pkg/callback"
	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/router"
)

const transportLogPrefix = "transport:transport"

// Backend is the native side a transport feeds. host.Host implements it.
type Backend interface {
	Attach(label string, rp router.Replier) error
	Detach(label string)
	Handle(ctx context.Context, label string, env *envelope.Envelope, rp router.Replier)
}

// queue is an unbounded FIFO drained by a single goroutine. push never
// blocks, so a backend handler can reply to the window that called it.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{notify: make(chan struct{}, 1)}
}

func (q *queue[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain calls fn for every item in order until the queue is closed and empty.
func (q *queue[T]) drain(fn func(T)) {
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, v := range items {
			fn(v)
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.notify
	}
}

// deliver hands a reply to the registry. Unknown callback IDs are dropped.
func deliver(logPrefix string, reg *callback.Registry, r *envelope.Reply) {
	if !reg.Invoke(callback.ID(r.Callback), r.Payload) {
		slog.Debug(fmt.Sprintf("%s - reply for unknown callback %d dropped", logPrefix, r.Callback))
	}
}

// attachment is one client session holding a window label.
type attachment struct {
	session string
	rp      router.Replier
}

// attachments tracks which client sessions hold each window label. Several
// sessions may share a label; the most recent one owns the backend replier.
// A label is detached from the backend only when its last session leaves,
// so a short-lived client reusing a label cannot drop the listeners of the
// window that registered them.
type attachments struct {
	backend Backend

	mu     sync.Mutex
	labels map[string][]attachment
}

func newAttachments(backend Backend) *attachments {
	return &attachments{backend: backend, labels: make(map[string][]attachment)}
}

// attach adds session to label and makes rp the backend replier. A session
// already holding label is left as is. It reports whether the backend was
// attached.
func (a *attachments) attach(label, session string, rp router.Replier) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	held := a.labels[label]
	for _, at := range held {
		if at.session == session {
			return false, nil
		}
	}
	if err := a.backend.Attach(label, rp); err != nil {
		return false, err
	}
	a.labels[label] = append(held, attachment{session: session, rp: rp})
	return true, nil
}

// detach removes session from label. When other sessions remain, the newest
// of them gets the replier back; otherwise the backend forgets the window.
// It reports whether the window was detached from the backend.
func (a *attachments) detach(label, session string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	held := a.labels[label]
	idx := -1
	for i, at := range held {
		if at.session == session {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	wasOwner := idx == len(held)-1
	held = append(held[:idx], held[idx+1:]...)
	if len(held) == 0 {
		delete(a.labels, label)
		a.backend.Detach(label)
		return true
	}
	a.labels[label] = held
	if wasOwner {
		if err := a.backend.Attach(label, held[len(held)-1].rp); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to hand %s back to session %s: %v", transportLogPrefix, label, held[len(held)-1].session, err))
		}
	}
	return false
}

// sessions returns how many sessions hold label.
func (a *attachments) sessions(label string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.labels[label])
}

// windows returns the held labels in order.
func (a *attachments) windows() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.labels))
	for label := range a.labels {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// detachAll forgets every session and detaches every label.
func (a *attachments) detachAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for label := range a.labels {
		a.backend.Detach(label)
	}
	a.labels = make(map[string][]attachment)
}

// rejectUnroutable answers an envelope that names its error callback but
// cannot be routed. It reports false when there is nothing to answer.
func rejectUnroutable(ctx context.Context, env *envelope.Envelope, cause error, rp router.Replier) bool {
	if env == nil || env.Error == 0 {
		return false
	}
	reply := router.ErrorReply(env.Error, router.NewError(router.CodeInvalidArgs, cause.Error()))
	if err := rp.Reply(ctx, reply); err != nil {
		slog.Debug(fmt.Sprintf("%s - reply to rejected envelope failed: %v", transportLogPrefix, err))
	}
	return true
}
