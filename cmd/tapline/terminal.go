package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/tapline/tapline/internal/hid"
	"github.com/tapline/tapline/internal/tap"
)

// terminalReader adapts a tcell screen to tap.EventReader so the monitor
// can run without access to a raw input device. It owns the terminal
// while open and renders the last observed events in place.
type terminalReader struct {
	mu     sync.Mutex
	screen tcell.Screen
	lines  []string
}

var _ tap.EventReader = (*terminalReader)(nil)

func newTerminalReader() *terminalReader {
	return &terminalReader{}
}

func (r *terminalReader) Open() error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	screen.EnableMouse()

	r.mu.Lock()
	r.screen = screen
	r.mu.Unlock()

	r.Show("tapline monitor - press ESC to quit")
	return nil
}

func (r *terminalReader) Read() (*hid.Event, error) {
	for {
		r.mu.Lock()
		screen := r.screen
		r.mu.Unlock()
		if screen == nil {
			return nil, errors.New("terminal closed")
		}

		ev := screen.PollEvent()
		if ev == nil {
			// Fini unblocks PollEvent with a nil event.
			return nil, errors.New("terminal closed")
		}
		if out := translateTcell(ev); out != nil {
			return out, nil
		}
	}
}

func (r *terminalReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.screen != nil {
		r.screen.Fini()
		r.screen = nil
	}
	return nil
}

// Show appends a line to the on-screen event log.
func (r *terminalReader) Show(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.screen == nil {
		return
	}

	const keep = 20
	r.lines = append(r.lines, line)
	if len(r.lines) > keep {
		r.lines = r.lines[len(r.lines)-keep:]
	}

	r.screen.Clear()
	for row, l := range r.lines {
		for col, ch := range l {
			r.screen.SetContent(col, row, ch, nil, tcell.StyleDefault)
		}
	}
	r.screen.Show()
}

// translateTcell maps a tcell event onto the hid event model. Events
// with no mapping (resize, paste) return nil.
func translateTcell(ev tcell.Event) *hid.Event {
	switch e := ev.(type) {
	case *tcell.EventKey:
		return &hid.Event{
			Type:  hid.KeyDown,
			Code:  uint16(e.Key()),
			Value: int32(e.Rune()),
			Flags: translateMods(e.Modifiers()),
			Time:  e.When(),
		}
	case *tcell.EventMouse:
		x, y := e.Position()
		out := &hid.Event{
			Type:  hid.MouseMoved,
			X:     int32(x),
			Y:     int32(y),
			Flags: translateMods(e.Modifiers()),
			Time:  e.When(),
		}
		switch {
		case e.Buttons()&tcell.WheelUp != 0:
			out.Type = hid.ScrollWheel
			out.Value = 1
		case e.Buttons()&tcell.WheelDown != 0:
			out.Type = hid.ScrollWheel
			out.Value = -1
		case e.Buttons()&tcell.ButtonMask(0xFF) != 0:
			out.Type = hid.MouseDown
			out.Code = uint16(e.Buttons())
		}
		return out
	default:
		return nil
	}
}

func translateMods(m tcell.ModMask) hid.Flags {
	var f hid.Flags
	if m&tcell.ModShift != 0 {
		f |= hid.FlagShift
	}
	if m&tcell.ModCtrl != 0 {
		f |= hid.FlagControl
	}
	if m&tcell.ModAlt != 0 {
		f |= hid.FlagAlt
	}
	if m&tcell.ModMeta != 0 {
		f |= hid.FlagMeta
	}
	return f
}

// eventLine formats an event for the on-screen log.
func eventLine(ev *hid.Event) string {
	line := ev.Time.Format("15:04:05.000") + "  " + ev.Type.String()
	switch ev.Type {
	case hid.KeyDown, hid.KeyUp:
		if ev.Value > 0 {
			line += "  " + string(rune(ev.Value))
		}
	case hid.MouseMoved, hid.MouseDown, hid.MouseUp:
		line += fmt.Sprintf("  (%d,%d)", ev.X, ev.Y)
	}
	return line
}

// throttle suppresses repeats within the given window, keeping the event
// log readable under mouse movement.
type throttle struct {
	mu   sync.Mutex
	last map[hid.EventType]time.Time
}

func newThrottle() *throttle {
	return &throttle{last: make(map[hid.EventType]time.Time)}
}

func (t *throttle) allow(typ hid.EventType, window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if prev, ok := t.last[typ]; ok && now.Sub(prev) < window {
		return false
	}
	t.last[typ] = now
	return true
}
