package pipeline

import (
	"context"
	"sync"

	"github.com/tapline/tapline/internal/hid"
)

// streamSink bridges a receiver to a consumer channel. The mutex orders
// pushes against the close performed on consumer cancellation, so a
// late in-flight dispatch can never send on a closed channel.
type streamSink struct {
	mu     sync.Mutex
	ch     chan *hid.Event
	closed bool
}

func (s *streamSink) push(d *Dispatcher, ev *hid.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// A stalled consumer must not stall the delivery goroutine.
		d.stats.streamDrops.Add(1)
	}
}

func (s *streamSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Stream exposes the event flow as a channel. Every observed event is
// forwarded onwards with Pass; the backing receiver is detached and the
// channel closed when ctx is cancelled or the dispatcher closes,
// whichever comes first. Slow consumers lose events rather than
// blocking delivery.
func (d *Dispatcher) Stream(ctx context.Context, priority uint64) <-chan *hid.Event {
	sink := &streamSink{ch: make(chan *hid.Event, d.streamBuf)}

	h := d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		sink.push(d, ev)
		return Pass
	}, WithPriority(priority))

	go func() {
		select {
		case <-ctx.Done():
		case <-d.ctx.Done():
		}
		h.Remove()
		sink.close()
	}()

	return sink.ch
}
