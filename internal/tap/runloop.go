package tap

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// runState is the lifecycle phase of a RunLoopSource.
type runState int

const (
	stateIdle runState = iota
	stateStarting
	stateRunning
)

// RunLoopSource is a Source backed by an EventReader pumped on a
// dedicated run-loop goroutine.
//
// Enabling is asynchronous: SetEnabled(true) hands the work to a
// supervisor goroutine, so no caller blocks on reader.Open while
// holding the lifecycle lock. The supervisor spawns the run loop on its
// own OS-locked thread, waits for the reader to open, then records the
// running state; an open failure is logged and leaves the source idle.
// Disabling closes the reader and resets the lifecycle state
// synchronously. The loop goroutine itself drains on its next Read; it
// is never waited on, because the delegate it may be inside of is
// allowed to call back into SetEnabled.
type RunLoopSource struct {
	newReader func() EventReader
	logger    *slog.Logger

	delegate atomic.Pointer[Delegate]

	mu     sync.Mutex // lifecycle lock
	state  runState
	gen    uint64 // enable-cycle counter; stale supervisors detect themselves
	reader EventReader
}

// RunLoopOption configures a RunLoopSource.
type RunLoopOption func(*RunLoopSource)

// WithLogger sets the source's logger.
func WithLogger(l *slog.Logger) RunLoopOption {
	return func(s *RunLoopSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewRunLoopSource creates a source that opens a fresh reader from
// newReader on every enable cycle.
func NewRunLoopSource(newReader func() EventReader, opts ...RunLoopOption) *RunLoopSource {
	s := &RunLoopSource{
		newReader: newReader,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDelegate installs the event callback.
func (s *RunLoopSource) SetDelegate(d Delegate) {
	if d == nil {
		s.delegate.Store(nil)
		return
	}
	s.delegate.Store(&d)
}

// IsEnabled reports whether the run loop is active. An enable still in
// flight on the supervisor reports false.
func (s *RunLoopSource) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// SetEnabled starts or stops the run loop. Starting is handed to a
// supervisor goroutine and this call returns immediately; an open
// failure is logged rather than returned. Redundant transitions are
// no-ops.
func (s *RunLoopSource) SetEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if enabled {
		if s.state != stateIdle {
			return nil
		}
		s.gen++
		s.state = stateStarting
		go s.supervise(s.gen)
		return nil
	}

	switch s.state {
	case stateStarting:
		// The supervisor notices the abandoned cycle and closes the
		// reader it opened.
		s.state = stateIdle
	case stateRunning:
		s.disableLocked()
	}
	return nil
}

// supervise stands up one enable cycle: it spawns the run loop on its
// own OS-locked thread, waits for the reader to open, and commits the
// result. A cycle disabled or superseded while starting is rolled back
// by closing the freshly opened reader.
func (s *RunLoopSource) supervise(gen uint64) {
	reader := s.newReader()
	ready := make(chan error, 1)

	go func() {
		// The run loop owns its thread for the lifetime of the cycle,
		// matching the OS expectation that tap delivery stays on one
		// thread.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if err := reader.Open(); err != nil {
			ready <- err
			return
		}
		ready <- nil

		s.loop(reader)
	}()

	err := <-ready

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.logger.Error("event reader failed to open", slog.String("error", err.Error()))
		if s.state == stateStarting && s.gen == gen {
			s.state = stateIdle
		}
		return
	}

	if s.state != stateStarting || s.gen != gen {
		if cerr := reader.Close(); cerr != nil {
			s.logger.Warn("event reader close failed", slog.String("error", cerr.Error()))
		}
		return
	}

	s.reader = reader
	s.state = stateRunning
	s.logger.Debug("event source enabled")
}

// disableLocked invalidates the handles and resets the lifecycle state.
// Closing the reader unblocks the loop's pending Read; the goroutine
// exits on its own.
func (s *RunLoopSource) disableLocked() {
	if err := s.reader.Close(); err != nil {
		s.logger.Warn("event reader close failed", slog.String("error", err.Error()))
	}

	s.reader = nil
	s.state = stateIdle
	s.logger.Debug("event source disabled")
}

// loop pumps events from the reader into the delegate until the reader
// is closed.
func (s *RunLoopSource) loop(reader EventReader) {
	for {
		ev, err := reader.Read()
		if err != nil {
			// Closed reader is the normal shutdown path.
			return
		}
		if ev == nil {
			continue
		}
		if d := s.delegate.Load(); d != nil {
			// The delegate's verdict controls suppression at the OS
			// boundary. A reader-backed source only observes, so the
			// returned event is dropped here.
			(*d)(ev.Type, ev)
		}
	}
}
