// Package tap defines the event-source boundary of the pipeline: the
// abstract tap that observes raw HID events, and a run-loop-backed
// implementation that pumps events from a blocking reader.
package tap

import "github.com/tapline/tapline/internal/hid"

// Delegate is invoked by a source for every observed event. Returning
// nil consumes (suppresses) the event; returning the event back forwards
// it unmodified.
type Delegate func(t hid.EventType, ev *hid.Event) *hid.Event

// Source is an event tap that can be enabled and disabled at runtime.
// Implementations must be safe for concurrent use: SetEnabled and
// IsEnabled may be called from any goroutine while the delegate is being
// invoked from the source's own delivery goroutine.
type Source interface {
	// SetEnabled starts or stops event delivery. It is idempotent.
	// Enabling may fail when the underlying OS resource cannot be
	// acquired.
	SetEnabled(enabled bool) error

	// IsEnabled reports whether the source is currently delivering.
	IsEnabled() bool

	// SetDelegate installs the event callback. A nil delegate drops
	// observed events.
	SetDelegate(d Delegate)
}

// EventReader is a blocking reader over an OS input device. RunLoopSource
// drives one reader per enable cycle.
type EventReader interface {
	// Open acquires the underlying device.
	Open() error

	// Read blocks until the next event. After Close it returns an error.
	Read() (*hid.Event, error)

	// Close releases the device and unblocks a pending Read.
	Close() error
}
