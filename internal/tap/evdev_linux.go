//go:build linux

package tap

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tapline/tapline/internal/hid"
)

// evdev event type and code constants, from linux/input-event-codes.h.
const (
	evKey = 0x01
	evRel = 0x02

	relX     = 0x00
	relY     = 0x01
	relWheel = 0x08
	btnMouse = 0x110 // BTN_LEFT
	btnTask  = 0x117 // last mouse button code
	keyMax   = 0x2ff

	// struct input_event: a struct timeval (two C longs, so the size
	// differs between 32- and 64-bit ABIs) followed by type, code, value.
	timevalSize = int(unsafe.Sizeof(unix.Timeval{}))
	eventSize   = timevalSize + 8

	// Poll timeout bounding how long a pending Read takes to observe
	// Close.
	pollMillis = 200
)

// EvdevReader reads raw events from a /dev/input event device. It
// implements EventReader for use with RunLoopSource on Linux hosts.
//
// The device is opened nonblocking and pumped through poll so that
// Close is observed within one poll interval even while no input
// arrives.
type EvdevReader struct {
	path string

	mu     sync.Mutex
	fd     int
	opened bool
}

// NewEvdevReader creates a reader for the given event device path, e.g.
// /dev/input/event0.
func NewEvdevReader(path string) *EvdevReader {
	return &EvdevReader{path: path, fd: -1}
}

// Open opens the device.
func (r *EvdevReader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opened {
		return nil
	}

	fd, err := unix.Open(r.path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", r.path, err)
	}
	r.fd = fd
	r.opened = true
	return nil
}

// Read blocks until the next translatable event. Sync reports and other
// untranslatable records are skipped.
func (r *EvdevReader) Read() (*hid.Event, error) {
	var buf [eventSize]byte
	for {
		fd, err := r.currentFd()
		if err != nil {
			return nil, err
		}

		pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfds, pollMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("poll %s: %w", r.path, err)
		}
		if n == 0 {
			// Timeout; re-check the closed state.
			continue
		}
		if pfds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return nil, fmt.Errorf("%s: device gone", r.path)
		}

		nr, err := unix.Read(fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", r.path, err)
		}
		if nr != eventSize {
			return nil, fmt.Errorf("short read from %s: %d bytes", r.path, nr)
		}

		if ev := translateEvdev(buf[:]); ev != nil {
			return ev, nil
		}
	}
}

// Close closes the device. A pending Read observes the closed state
// within one poll interval.
func (r *EvdevReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.opened {
		return nil
	}
	r.opened = false
	fd := r.fd
	r.fd = -1
	return unix.Close(fd)
}

func (r *EvdevReader) currentFd() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opened {
		return -1, fmt.Errorf("%s: device closed", r.path)
	}
	return r.fd, nil
}

// translateEvdev maps one struct input_event record onto the hid event
// model. Records are kernel-native endianness. Returns nil for records
// with no mapping.
func translateEvdev(buf []byte) *hid.Event {
	sec, usec := decodeTimeval(buf)
	typ := binary.NativeEndian.Uint16(buf[timevalSize:])
	code := binary.NativeEndian.Uint16(buf[timevalSize+2:])
	value := int32(binary.NativeEndian.Uint32(buf[timevalSize+4:]))

	ev := &hid.Event{
		Code:    code,
		Value:   value,
		Time:    time.Unix(sec, usec*int64(time.Microsecond)),
		Payload: append([]byte(nil), buf...),
	}

	switch typ {
	case evKey:
		switch {
		case code >= btnMouse && code <= btnTask:
			if value == 0 {
				ev.Type = hid.MouseUp
			} else {
				ev.Type = hid.MouseDown
			}
		case code <= keyMax:
			// Value 2 is key repeat; surface it as a press.
			if value == 0 {
				ev.Type = hid.KeyUp
			} else {
				ev.Type = hid.KeyDown
			}
		default:
			return nil
		}
	case evRel:
		switch code {
		case relX:
			ev.Type = hid.MouseMoved
			ev.X = value
		case relY:
			ev.Type = hid.MouseMoved
			ev.Y = value
		case relWheel:
			ev.Type = hid.ScrollWheel
		default:
			return nil
		}
	default:
		return nil
	}

	return ev
}

// decodeTimeval reads the leading struct timeval, whose field width is
// the platform's C long.
func decodeTimeval(buf []byte) (sec, usec int64) {
	if timevalSize == 16 {
		sec = int64(binary.NativeEndian.Uint64(buf[0:8]))
		usec = int64(binary.NativeEndian.Uint64(buf[8:16]))
		return sec, usec
	}
	sec = int64(int32(binary.NativeEndian.Uint32(buf[0:4])))
	usec = int64(int32(binary.NativeEndian.Uint32(buf[4:8])))
	return sec, usec
}
