// Package hid defines the raw human-interface-device event model shared
// by the tap layer and the dispatch pipeline.
package hid

import (
	"errors"
	"time"
)

// ErrNilEvent is returned when cloning a nil event.
var ErrNilEvent = errors.New("hid: nil event")

// EventType identifies the kind of raw event delivered by an event tap.
type EventType int

const (
	// KeyDown is a key press.
	KeyDown EventType = iota

	// KeyUp is a key release.
	KeyUp

	// FlagsChanged is a modifier-key state change.
	FlagsChanged

	// MouseMoved is a pointer movement.
	MouseMoved

	// MouseDown is a pointer button press.
	MouseDown

	// MouseUp is a pointer button release.
	MouseUp

	// ScrollWheel is a scroll event.
	ScrollWheel

	// TapDisabledByTimeout is an out-of-band control event: the OS revoked
	// the tap because a callback exceeded its time budget.
	TapDisabledByTimeout

	// TapDisabledByUserInput is an out-of-band control event: the OS
	// suspended the tap during protected input.
	TapDisabledByUserInput
)

// String returns a human-readable event type name.
func (t EventType) String() string {
	switch t {
	case KeyDown:
		return "key-down"
	case KeyUp:
		return "key-up"
	case FlagsChanged:
		return "flags-changed"
	case MouseMoved:
		return "mouse-moved"
	case MouseDown:
		return "mouse-down"
	case MouseUp:
		return "mouse-up"
	case ScrollWheel:
		return "scroll-wheel"
	case TapDisabledByTimeout:
		return "tap-disabled-by-timeout"
	case TapDisabledByUserInput:
		return "tap-disabled-by-user-input"
	default:
		return "unknown"
	}
}

// IsControl returns true for the out-of-band tap-disable types.
// Control events never reach receivers.
func (t EventType) IsControl() bool {
	return t == TapDisabledByTimeout || t == TapDisabledByUserInput
}

// Flags is a modifier-key bitmask.
type Flags uint32

const (
	// FlagShift indicates a shift key is held.
	FlagShift Flags = 1 << iota

	// FlagControl indicates a control key is held.
	FlagControl

	// FlagAlt indicates an alt/option key is held.
	FlagAlt

	// FlagMeta indicates a meta/command key is held.
	FlagMeta
)

// Event is a single raw HID event as captured from the OS.
//
// Code and Value follow the evdev convention: for key events Code is the
// scan code and Value the press state; for scroll events Value is the
// wheel delta. X and Y carry the pointer position for mouse events.
type Event struct {
	Type    EventType
	Code    uint16
	Value   int32
	X       int32
	Y       int32
	Flags   Flags
	Time    time.Time
	Payload []byte
}

// Clone returns an independent deep copy of the event. The payload is
// copied so that receivers may retain or mutate their copy freely.
func (e *Event) Clone() (*Event, error) {
	if e == nil {
		return nil, ErrNilEvent
	}

	cp := *e
	if e.Payload != nil {
		cp.Payload = make([]byte, len(e.Payload))
		copy(cp.Payload, e.Payload)
	}
	return &cp, nil
}
