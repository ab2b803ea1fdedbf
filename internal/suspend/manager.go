// Package suspend implements the reference-counted suspension set that
// can force the dispatch pipeline inactive.
package suspend

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Manager holds the set of active suspension tokens. The pipeline is
// suspended while the set is non-empty; independently acquired
// suspensions compose by plain set union, so unrelated callers never
// need to coordinate.
type Manager struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}

	notify func()
}

// NewManager creates a manager. notify is invoked after every change to
// the active set.
func NewManager(notify func()) *Manager {
	if notify == nil {
		notify = func() {}
	}
	return &Manager{
		active: make(map[uuid.UUID]struct{}),
		notify: notify,
	}
}

// Acquire inserts a fresh suspension into the active set and returns its
// token. The caller releases it via Token.Release; a token that goes out
// of scope without an explicit release is released by the runtime.
func (m *Manager) Acquire() *Token {
	id := uuid.New()

	m.mu.Lock()
	m.active[id] = struct{}{}
	m.mu.Unlock()
	m.notify()

	t := &Token{id: id, mgr: m}
	// Safety net for discarded tokens. release is idempotent, so an
	// explicit Release followed by the cleanup firing is harmless.
	runtime.AddCleanup(t, func(id uuid.UUID) { m.release(id) }, id)
	return t
}

// Suspended reports whether any suspension is active.
func (m *Manager) Suspended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) > 0
}

// Active returns the number of active suspensions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// release removes one suspension. Removing an absent id is a no-op and
// does not notify.
func (m *Manager) release(id uuid.UUID) {
	m.mu.Lock()
	_, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()

	if ok {
		m.notify()
	}
}

// Token is an opaque handle for one acquired suspension.
type Token struct {
	id       uuid.UUID
	mgr      *Manager
	released atomic.Bool
}

// ID returns the token's unique identifier.
func (t *Token) ID() uuid.UUID {
	return t.id
}

// Release removes this suspension from the active set. Calling Release
// more than once is safe; only the first call has an effect.
func (t *Token) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.mgr.release(t.id)
	}
}
