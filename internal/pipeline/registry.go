package pipeline

import (
	"sort"
	"sync"
)

// registry is the owned collection of attached receivers, keyed by
// opaque handles. It is thread-safe for concurrent access.
//
// Mutation replaces the whole map under the write lock, so snapshot
// readers always observe a complete before/after state, never a partial
// one.
type registry struct {
	mu     sync.RWMutex
	recs   map[uint64]Receiver
	nextID uint64
}

func newRegistry() *registry {
	return &registry{recs: make(map[uint64]Receiver)}
}

// attach inserts a receiver and returns its handle id.
func (r *registry) attach(recv Receiver) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID

	next := make(map[uint64]Receiver, len(r.recs)+1)
	for k, v := range r.recs {
		next[k] = v
	}
	next[id] = recv
	r.recs = next
	return id
}

// detach removes a receiver by handle id. Absent ids are a no-op;
// detach reports whether anything was removed.
func (r *registry) detach(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.recs[id]; !ok {
		return false
	}

	next := make(map[uint64]Receiver, len(r.recs)-1)
	for k, v := range r.recs {
		if k != id {
			next[k] = v
		}
	}
	r.recs = next
	return true
}

// snapshot returns a defensive copy of all attached receivers.
func (r *registry) snapshot() []Receiver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.recs) == 0 {
		return nil
	}
	out := make([]Receiver, 0, len(r.recs))
	for _, recv := range r.recs {
		out = append(out, recv)
	}
	return out
}

// activeSnapshot returns the enabled receivers sorted ascending by
// priority. The sort is not stable; ordering among equal priorities is
// undefined.
func (r *registry) activeSnapshot() []Receiver {
	all := r.snapshot()
	if len(all) == 0 {
		return nil
	}

	active := all[:0]
	for _, recv := range all {
		if recv.Enabled() {
			active = append(active, recv)
		}
	}
	if len(active) == 0 {
		return nil
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].Priority() < active[j].Priority()
	})
	return active
}

// count returns the number of attached receivers.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.recs)
}
