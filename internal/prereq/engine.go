package prereq

import (
	"context"
	"log/slog"
	"sync"
)

// Op is a change operation on the external flag cache.
type Op int

const (
	// OpAdd sets a flag.
	OpAdd Op = iota

	// OpRemove clears a flag.
	OpRemove
)

// String returns a human-readable operation name.
func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change is a single update to one of the externally sourced flags.
// Changes naming any other flag are ignored.
type Change struct {
	Op   Op
	Flag Flag
}

// Engine caches the externally sourced prerequisite flags and notifies
// the dispatcher whenever the effective cached set changes.
//
// The engine never decides pipeline liveness on its own; it only owns
// the cached external flags. The dispatcher combines them with its
// derived flags via External().
type Engine struct {
	mu       sync.Mutex
	external Set

	notify func()
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine.
//
// The accessibility probe is queried exactly once; screens and device are
// assumed awake at boot. notify is invoked after every effective change
// to the cached set and must not call back into the engine while holding
// its own locks across the call.
func NewEngine(accessibilityProbe func() bool, notify func(), opts ...EngineOption) *Engine {
	e := &Engine{
		external: Set(0).Insert(ScreensAwake).Insert(DeviceAwake),
		notify:   notify,
		logger:   slog.Default(),
	}
	if accessibilityProbe != nil && accessibilityProbe() {
		e.external = e.external.Insert(AccessibilityGranted)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// External returns the cached externally sourced flag set.
func (e *Engine) External() Set {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.external
}

// Run consumes the change sequence until ctx is cancelled or the channel
// closes. It is intended to run on its own goroutine for the lifetime of
// the dispatcher. The sequence is contractually infallible; a close
// before shutdown stops consumption and is logged.
func (e *Engine) Run(ctx context.Context, changes <-chan Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				e.logger.Error("prerequisite change sequence closed before shutdown")
				return
			}
			if e.apply(c) {
				e.notify()
			}
		}
	}
}

// apply updates the cache and reports whether the effective set changed.
// Consecutive changes that collapse to the same set are deduplicated so
// redundant reconciliation is skipped.
func (e *Engine) apply(c Change) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !externalMask.Contains(c.Flag) {
		e.logger.Warn("ignoring change for non-external flag",
			slog.String("flag", c.Flag.String()),
			slog.String("op", c.Op.String()))
		return false
	}

	next := e.external
	switch c.Op {
	case OpAdd:
		next = next.Insert(c.Flag)
	case OpRemove:
		next = next.Remove(c.Flag)
	}

	if next == e.external {
		return false
	}

	e.external = next
	e.logger.Debug("prerequisite change applied",
		slog.String("op", c.Op.String()),
		slog.String("flag", c.Flag.String()),
		slog.String("external", next.String()))
	return true
}
