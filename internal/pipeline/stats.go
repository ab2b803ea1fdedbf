package pipeline

import "sync/atomic"

// stats holds the dispatcher's lock-free counters.
type stats struct {
	dispatched    atomic.Uint64
	consumed      atomic.Uint64
	forwarded     atomic.Uint64
	bypassed      atomic.Uint64
	invocations   atomic.Uint64
	cloneFailures atomic.Uint64
	panics        atomic.Uint64
	restarts      atomic.Uint64
	streamDrops   atomic.Uint64
}

// Stats is a point-in-time snapshot of dispatcher counters.
// Counters are read individually, so a snapshot taken during dispatch
// may be slightly inconsistent across fields.
type Stats struct {
	// Dispatched is the number of events delivered into the pipeline.
	Dispatched uint64

	// Consumed is the number of events retained by a receiver.
	Consumed uint64

	// Forwarded is the number of events that passed every receiver.
	Forwarded uint64

	// Bypassed is the number of events forwarded by an explicit bypass.
	Bypassed uint64

	// Invocations is the number of receiver processor calls.
	Invocations uint64

	// CloneFailures is the number of per-receiver event copies that
	// failed and were skipped.
	CloneFailures uint64

	// Panics is the number of recovered receiver panics.
	Panics uint64

	// Restarts is the number of OS revocation signals observed.
	Restarts uint64

	// StreamDrops is the number of events dropped by slow stream
	// consumers.
	StreamDrops uint64
}

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:    d.stats.dispatched.Load(),
		Consumed:      d.stats.consumed.Load(),
		Forwarded:     d.stats.forwarded.Load(),
		Bypassed:      d.stats.bypassed.Load(),
		Invocations:   d.stats.invocations.Load(),
		CloneFailures: d.stats.cloneFailures.Load(),
		Panics:        d.stats.panics.Load(),
		Restarts:      d.stats.restarts.Load(),
		StreamDrops:   d.stats.streamDrops.Load(),
	}
}
