package router

import "sync"

type replayKey struct {
	label    string
	callback uint32
	errID    uint32
}

// replayGuard remembers the most recent envelope keys in a fixed-size ring.
type replayGuard struct {
	mu    sync.Mutex
	seen  map[replayKey]struct{}
	ring  []replayKey
	next  int
	count int
}

func newReplayGuard(size int) *replayGuard {
	return &replayGuard{
		seen: make(map[replayKey]struct{}, size),
		ring: make([]replayKey, size),
	}
}

// firstSeen records k and reports whether it was new.
func (g *replayGuard) firstSeen(k replayKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.seen[k]; dup {
		return false
	}
	if g.count == len(g.ring) {
		delete(g.seen, g.ring[g.next])
	} else {
		g.count++
	}
	g.ring[g.next] = k
	g.next = (g.next + 1) % len(g.ring)
	g.seen[k] = struct{}{}
	return true
}
