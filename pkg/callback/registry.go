// Package callback holds the frontend-side table of reply handlers addressed by
// numeric callback IDs.
package callback

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
)

const logPrefix = "callback:registry"

// ID identifies a registered handler. Zero is never allocated.
type ID uint32

// Handler receives the JSON payload the backend attached to a reply.
type Handler func(payload json.RawMessage)

type entry struct {
	handler Handler
	once    bool
}

// Registry maps callback IDs to handlers. It is safe for concurrent use; handlers
// are always called with the table lock released so they may register or invoke
// other callbacks.
type Registry struct {
	mu      sync.Mutex
	entries map[ID]entry
	next    func() uint32
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[ID]entry),
		next:    rand.Uint32,
	}
}

// Register stores h under a fresh random ID. One-shot handlers are removed the
// first time they are invoked.
func (r *Registry) Register(h Handler, once bool) ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.allocate()
	r.entries[id] = entry{handler: h, once: once}
	slog.Debug(fmt.Sprintf("%s - registered id=%d once=%t", logPrefix, id, once))
	return id
}

// allocate draws IDs until one is non-zero and unused. Callers hold r.mu.
func (r *Registry) allocate() ID {
	for {
		id := ID(r.next())
		if id == 0 {
			continue
		}
		if _, taken := r.entries[id]; taken {
			continue
		}
		return id
	}
}

// Invoke calls the handler registered under id with payload and reports whether
// one was found. A missing ID is not an error: the backend may reply after the
// handler was consumed or cancelled.
func (r *Registry) Invoke(id ID, payload json.RawMessage) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok && e.once {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		slog.Debug(fmt.Sprintf("%s - dropped reply for unknown id=%d", logPrefix, id))
		return false
	}
	e.handler(payload)
	return true
}

// Remove deletes the given IDs. Unknown IDs are ignored.
func (r *Registry) Remove(ids ...ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.entries, id)
	}
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
