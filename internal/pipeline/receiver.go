package pipeline

import (
	"math"
	"sync/atomic"

	"github.com/tapline/tapline/internal/hid"
)

// Mode specifies how a receiver's processor is executed during dispatch.
type Mode int

const (
	// ModeSync runs the processor inline on the delivery goroutine.
	ModeSync Mode = iota

	// ModeAsync runs the processor on its own goroutine; the delivery
	// goroutine blocks until it reports a verdict. Use for receivers
	// that need concurrency-safe constructs, never for long work: the
	// OS revokes the tap when delivery stalls.
	ModeAsync
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	default:
		return "unknown"
	}
}

// DefaultPriority is the priority assigned to receivers that do not set
// one. Higher values take precedence, so the default runs first.
const DefaultPriority uint64 = math.MaxUint64

// Receiver is a unit of event-handling logic attached to the dispatcher.
// Priority and Enabled may be read on every dispatch from the delivery
// goroutine while mutated from others; implementations must make both
// safe for that.
type Receiver interface {
	// Priority orders receivers for a single event. Higher values are
	// invoked first. Ordering among equal priorities is undefined.
	Priority() uint64

	// Enabled reports whether the receiver currently takes part in
	// dispatch.
	Enabled() bool

	// Mode returns the processing mode.
	Mode() Mode

	// Process handles one independent copy of an event.
	Process(ev *hid.Event) Verdict
}

// ProcessorFunc is a receiver processor in function form.
type ProcessorFunc func(ev *hid.Event) Verdict

// ObserverFunc is a processor that only observes; the verdict comes from
// the receiver's configured default.
type ObserverFunc func(ev *hid.Event)

// ReceiverOption configures a function-backed receiver.
type ReceiverOption func(*funcReceiver)

// WithPriority sets the receiver priority. Higher values are invoked
// first.
func WithPriority(p uint64) ReceiverOption {
	return func(r *funcReceiver) {
		r.priority.Store(p)
	}
}

// WithAsync switches the receiver to asynchronous processing.
func WithAsync() ReceiverOption {
	return func(r *funcReceiver) {
		r.mode = ModeAsync
	}
}

// WithDisabled attaches the receiver in the disabled state.
func WithDisabled() ReceiverOption {
	return func(r *funcReceiver) {
		r.disabled.Store(true)
	}
}

// WithDefaultVerdict sets the verdict an observer-form receiver reports.
func WithDefaultVerdict(v Verdict) ReceiverOption {
	return func(r *funcReceiver) {
		r.fallback = v
	}
}

// funcReceiver backs receivers created from closures. Priority and
// enabled state are atomics so any holder of the handle may mutate them
// concurrently with dispatch.
type funcReceiver struct {
	priority atomic.Uint64
	disabled atomic.Bool
	mode     Mode
	fallback Verdict
	fn       ProcessorFunc
}

func newFuncReceiver(fn ProcessorFunc, opts ...ReceiverOption) *funcReceiver {
	r := &funcReceiver{fn: fn}
	r.priority.Store(DefaultPriority)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *funcReceiver) Priority() uint64 { return r.priority.Load() }
func (r *funcReceiver) Enabled() bool    { return !r.disabled.Load() }
func (r *funcReceiver) Mode() Mode       { return r.mode }

func (r *funcReceiver) Process(ev *hid.Event) Verdict {
	if r.fn == nil {
		return r.fallback
	}
	return r.fn(ev)
}

func (r *funcReceiver) setPriority(p uint64) { r.priority.Store(p) }
func (r *funcReceiver) setEnabled(v bool)    { r.disabled.Store(!v) }

// adjustable is implemented by receivers whose priority and enabled
// state can be changed through their handle.
type adjustable interface {
	setPriority(p uint64)
	setEnabled(v bool)
}

// Handle identifies one attached receiver. Removal is by handle
// identity, never by receiver value.
type Handle struct {
	id      uint64
	d       *Dispatcher
	recv    Receiver
	removed atomic.Bool
}

// Remove detaches the receiver. It fires exactly once; later calls are
// no-ops.
func (h *Handle) Remove() {
	if h.removed.CompareAndSwap(false, true) {
		h.d.detach(h.id)
	}
}

// SetPriority updates the receiver's priority. Only receivers created
// from closures are adjustable; for object-implemented receivers this is
// a no-op.
func (h *Handle) SetPriority(p uint64) {
	if a, ok := h.recv.(adjustable); ok {
		a.setPriority(p)
	}
}

// SetEnabled flips the receiver in or out of dispatch without detaching
// it. Only adjustable receivers are affected.
func (h *Handle) SetEnabled(v bool) {
	if a, ok := h.recv.(adjustable); ok {
		a.setEnabled(v)
	}
}
