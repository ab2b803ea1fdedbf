package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tapline/tapline/internal/hid"
	"github.com/tapline/tapline/internal/observability"
	"github.com/tapline/tapline/internal/prereq"
	"github.com/tapline/tapline/internal/suspend"
	"github.com/tapline/tapline/internal/tap"
)

// Dispatcher routes raw HID events from an event source through the
// attached receivers and keeps the source enabled exactly while every
// prerequisite holds.
//
// Each independently mutable piece of state carries its own lock (or is
// atomic); no lock is held across a call into another component, which
// keeps the hot delivery path free of lock-ordering deadlocks. The only
// place the delivery goroutine blocks is the async-receiver bridge in
// dispatch.
type Dispatcher struct {
	reg    *registry
	susp   *suspend.Manager
	engine *prereq.Engine

	// manual is the Enabled prerequisite. Lock-free: read on every
	// reconciliation, written rarely.
	manual atomic.Bool

	srcMu sync.Mutex
	src   tap.Source

	// ctx spans the dispatcher's lifetime; Close cancels it. Stream
	// goroutines watch it so teardown detaches every streaming receiver.
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	streamBuf  int
	stats      stats
	restarting atomic.Bool
}

// Option configures a Dispatcher.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	probe     func() bool
	changes   <-chan prereq.Change
	source    tap.Source
	streamBuf int
	enabled   bool
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithAccessibilityProbe sets the probe queried once at construction for
// the initial accessibility-permission state.
func WithAccessibilityProbe(probe func() bool) Option {
	return func(c *config) {
		c.probe = probe
	}
}

// WithChanges sets the prerequisite change sequence. Consumption starts
// at construction and stops when the dispatcher is closed.
func WithChanges(ch <-chan prereq.Change) Option {
	return func(c *config) {
		c.changes = ch
	}
}

// WithSource sets the initial event source.
func WithSource(src tap.Source) Option {
	return func(c *config) {
		c.source = src
	}
}

// WithStreamBuffer sets the per-stream channel capacity.
func WithStreamBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.streamBuf = n
		}
	}
}

// WithDisabledAtStart constructs the dispatcher with the manual override
// off.
func WithDisabledAtStart() Option {
	return func(c *config) {
		c.enabled = false
	}
}

// New creates a dispatcher and starts consuming the prerequisite change
// sequence, if one was provided.
func New(opts ...Option) *Dispatcher {
	cfg := config{
		logger:    slog.Default(),
		metrics:   observability.NoopMetrics{},
		probe:     func() bool { return true },
		streamBuf: 64,
		enabled:   true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Dispatcher{
		reg:       newRegistry(),
		logger:    cfg.logger,
		metrics:   cfg.metrics,
		streamBuf: cfg.streamBuf,
	}
	d.manual.Store(cfg.enabled)
	d.susp = suspend.NewManager(d.reconcile)
	d.engine = prereq.NewEngine(cfg.probe, d.reconcile, prereq.WithLogger(cfg.logger))

	d.ctx, d.cancel = context.WithCancel(context.Background())
	if cfg.changes != nil {
		go d.engine.Run(d.ctx, cfg.changes)
	}

	if cfg.source != nil {
		d.SetSource(cfg.source)
	}
	return d
}

// Close tears the dispatcher down: change consumption stops, streaming
// receivers are detached and their channels closed, the source is
// detached and disabled. Ordinary receivers stay attached but no events
// reach them.
func (d *Dispatcher) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.cancel()
	d.SetSource(nil)
}

// AddReceiver attaches an object-implemented receiver and returns its
// handle.
func (d *Dispatcher) AddReceiver(r Receiver) *Handle {
	id := d.reg.attach(r)
	d.reconcile()
	return &Handle{id: id, d: d, recv: r}
}

// AddReceiverFunc attaches a closure receiver that decides its own
// verdict per event.
func (d *Dispatcher) AddReceiverFunc(fn ProcessorFunc, opts ...ReceiverOption) *Handle {
	return d.AddReceiver(newFuncReceiver(fn, opts...))
}

// AddObserverFunc attaches a closure receiver that only observes events;
// every invocation reports the configured default verdict (Pass unless
// WithDefaultVerdict says otherwise).
func (d *Dispatcher) AddObserverFunc(fn ObserverFunc, opts ...ReceiverOption) *Handle {
	r := newFuncReceiver(nil, opts...)
	if fn != nil {
		fb := r.fallback
		r.fn = func(ev *hid.Event) Verdict {
			fn(ev)
			return fb
		}
	}
	return d.AddReceiver(r)
}

// detach removes a receiver by handle id and re-evaluates prerequisites.
func (d *Dispatcher) detach(id uint64) {
	if d.reg.detach(id) {
		d.reconcile()
	}
}

// SetEnabled flips the manual on/off override.
func (d *Dispatcher) SetEnabled(v bool) {
	d.manual.Store(v)
	d.reconcile()
}

// IsEnabled reports the manual override state.
func (d *Dispatcher) IsEnabled() bool {
	return d.manual.Load()
}

// IsSuspended reports whether any suspension token is held.
func (d *Dispatcher) IsSuspended() bool {
	return d.susp.Suspended()
}

// AcquireSuspension forces the pipeline inactive until the returned
// token is released. Suspensions from unrelated callers compose.
func (d *Dispatcher) AcquireSuspension() *suspend.Token {
	return d.susp.Acquire()
}

// Prerequisites returns the current aggregate prerequisite set: the
// cached external flags plus the three conditions derived from
// dispatcher state.
func (d *Dispatcher) Prerequisites() prereq.Set {
	s := d.engine.External()
	if d.manual.Load() {
		s = s.Insert(prereq.Enabled)
	}
	if d.reg.count() > 0 {
		s = s.Insert(prereq.HasReceivers)
	}
	if !d.susp.Suspended() {
		s = s.Insert(prereq.NoSuspensions)
	}
	return s
}

// SetSource swaps the event source. The old source, if any, is detached
// and disabled; the new one receives the dispatch delegate and is then
// reconciled against the current prerequisite state. A nil source leaves
// the dispatcher tracking prerequisites with nothing to toggle.
func (d *Dispatcher) SetSource(src tap.Source) {
	d.srcMu.Lock()
	old := d.src
	d.src = src
	d.srcMu.Unlock()

	if old != nil && old != src {
		old.SetDelegate(nil)
		if err := old.SetEnabled(false); err != nil {
			d.logger.Warn("failed to disable replaced source", slog.String("error", err.Error()))
		}
	}
	if src != nil {
		src.SetDelegate(d.Dispatch)
	}
	d.reconcile()
}

// currentSource returns the source reference under its own lock.
func (d *Dispatcher) currentSource() tap.Source {
	d.srcMu.Lock()
	defer d.srcMu.Unlock()
	return d.src
}

// reconcile synchronizes the event source with the prerequisite state.
// It is idempotent and safe to invoke redundantly from any goroutine:
// the decision is recomputed from current state every time, and the
// expensive enable/disable transition happens only on an observed
// difference. Concurrent calls race benignly; the last recomputation
// wins.
func (d *Dispatcher) reconcile() {
	if d.closed.Load() {
		return
	}

	desired := d.Prerequisites().Satisfied()
	src := d.currentSource()
	if src == nil {
		return
	}
	if src.IsEnabled() == desired {
		return
	}

	if err := src.SetEnabled(desired); err != nil {
		d.logger.Error("event source toggle failed",
			slog.Bool("desired", desired),
			slog.String("error", err.Error()))
		return
	}
	observability.LogSourceToggle(d.logger, desired, d.Prerequisites().String())
}

// Dispatch is the event-source delegate. It runs on the source's
// delivery goroutine, which the OS expects back within a hard time
// budget. The only unbounded wait here is the async receiver join.
//
// Returning nil consumes the event; returning ev forwards it unmodified.
func (d *Dispatcher) Dispatch(t hid.EventType, ev *hid.Event) *hid.Event {
	if t.IsControl() {
		// The OS revoked the tap. Self-heal off the delivery goroutine
		// and swallow the control event.
		d.scheduleRestart(t)
		return nil
	}

	start := time.Now()
	d.stats.dispatched.Add(1)

	recvs := d.reg.activeSnapshot()
	// The snapshot is ascending by priority and precedence is
	// highest-value-first, so walk from the end.
	for i := len(recvs) - 1; i >= 0; i-- {
		recv := recvs[i]
		cp, err := ev.Clone()
		if err != nil {
			// Copy failure affects this receiver only.
			d.stats.cloneFailures.Add(1)
			continue
		}

		switch d.invoke(recv, cp) {
		case Retain:
			d.stats.consumed.Add(1)
			d.metrics.RecordDispatch("consumed", time.Since(start))
			return nil
		case Bypass:
			d.stats.bypassed.Add(1)
			d.metrics.RecordDispatch("bypassed", time.Since(start))
			return ev
		case Pass:
			// Next receiver.
		}
	}

	d.stats.forwarded.Add(1)
	d.metrics.RecordDispatch("forwarded", time.Since(start))
	return ev
}

// invoke runs one receiver's processor in its configured mode and
// returns the verdict. Async receivers run on their own goroutine while
// the delivery goroutine blocks on a one-shot completion signal; this is
// the single sanctioned suspension point on the hot path.
func (d *Dispatcher) invoke(recv Receiver, ev *hid.Event) Verdict {
	d.stats.invocations.Add(1)

	if recv.Mode() == ModeAsync {
		result := make(chan Verdict, 1)
		go func() {
			result <- d.safeProcess(recv, ev)
		}()
		return <-result
	}
	return d.safeProcess(recv, ev)
}

// safeProcess isolates receiver panics: a panicking receiver is treated
// as Pass so one bad receiver cannot stall the pipeline.
func (d *Dispatcher) safeProcess(recv Receiver, ev *hid.Event) (v Verdict) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.stats.panics.Add(1)
			observability.LogReceiverPanic(d.logger, r)
			v = Pass
		}
		d.metrics.RecordReceiver(v.String(), time.Since(start))
	}()

	return recv.Process(ev)
}

// scheduleRestart runs the disable-then-reconcile cycle on its own
// goroutine. Overlapping revocation signals collapse into one restart.
func (d *Dispatcher) scheduleRestart(t hid.EventType) {
	d.stats.restarts.Add(1)
	if !d.restarting.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer d.restarting.Store(false)

		observability.LogRestart(d.logger, t.String())
		d.metrics.RecordRestart()

		src := d.currentSource()
		if src == nil {
			return
		}
		if err := src.SetEnabled(false); err != nil {
			d.logger.Error("self-heal disable failed", slog.String("error", err.Error()))
			return
		}
		// Re-enable happens through the ordinary reconciliation path, so
		// a revocation that races with a prerequisite loss stays off.
		d.reconcile()
	}()
}
