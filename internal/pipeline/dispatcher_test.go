package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tapline/tapline/internal/hid"
	"github.com/tapline/tapline/internal/prereq"
	"github.com/tapline/tapline/internal/tap"
)

// fakeSource is a Source double: an enabled flag plus direct injection.
type fakeSource struct {
	mu          sync.Mutex
	enabled     bool
	delegate    tap.Delegate
	transitions []bool
}

func (s *fakeSource) SetEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	s.transitions = append(s.transitions, enabled)
	return nil
}

func (s *fakeSource) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeSource) SetDelegate(d tap.Delegate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = d
}

// inject delivers an event the way the OS callback would.
func (s *fakeSource) inject(ev *hid.Event) *hid.Event {
	s.mu.Lock()
	d := s.delegate
	s.mu.Unlock()
	if d == nil {
		return ev
	}
	return d(ev.Type, ev)
}

func (s *fakeSource) transitionLog() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.transitions))
	copy(out, s.transitions)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func keyEvent() *hid.Event {
	return &hid.Event{Type: hid.KeyDown, Code: 30, Value: 1, Payload: []byte{0x1e}}
}

func TestDispatcher_PriorityOrdering(t *testing.T) {
	d := New()
	defer d.Close()

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		record("low")
		return Pass
	}, WithPriority(5))
	d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		record("high")
		return Pass
	}, WithPriority(50))

	d.Dispatch(hid.KeyDown, keyEvent())

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Errorf("expected high priority first, got %v", order)
	}
}

func TestDispatcher_VerdictChain(t *testing.T) {
	d := New()
	defer d.Close()

	var aCalls, bCalls, cCalls atomic.Int64
	d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		aCalls.Add(1)
		return Pass
	}, WithPriority(30))
	d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		bCalls.Add(1)
		return Retain
	}, WithPriority(20))
	d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		cCalls.Add(1)
		return Pass
	}, WithPriority(10))

	out := d.Dispatch(hid.KeyDown, keyEvent())

	if out != nil {
		t.Error("retain must consume the event")
	}
	if aCalls.Load() != 1 || bCalls.Load() != 1 {
		t.Errorf("expected A and B invoked once, got %d and %d", aCalls.Load(), bCalls.Load())
	}
	if cCalls.Load() != 0 {
		t.Error("receiver after a retain must never be invoked")
	}
}

func TestDispatcher_Bypass(t *testing.T) {
	d := New()
	defer d.Close()

	var later atomic.Int64
	d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		return Bypass
	}, WithPriority(20))
	d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		later.Add(1)
		return Retain
	}, WithPriority(10))

	ev := keyEvent()
	out := d.Dispatch(hid.KeyDown, ev)

	if out != ev {
		t.Error("bypass must forward the original event")
	}
	if later.Load() != 0 {
		t.Error("bypass must skip the remaining receivers")
	}
}

func TestDispatcher_DefaultForward(t *testing.T) {
	d := New()
	defer d.Close()

	d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Pass })

	ev := keyEvent()
	if out := d.Dispatch(hid.KeyDown, ev); out != ev {
		t.Error("an exhausted pipeline must forward the event unmodified")
	}
}

func TestDispatcher_ReceiverGetsIndependentCopy(t *testing.T) {
	d := New()
	defer d.Close()

	ev := keyEvent()
	d.AddReceiverFunc(func(got *hid.Event) Verdict {
		if got == ev {
			t.Error("receiver must get an independent copy")
		}
		got.Payload[0] = 0xFF
		return Pass
	})

	d.Dispatch(hid.KeyDown, ev)
	if ev.Payload[0] != 0x1e {
		t.Error("mutating a receiver's copy must not touch the original")
	}
}

func TestDispatcher_CloneFailureSkipsReceiver(t *testing.T) {
	d := New()
	defer d.Close()

	var calls atomic.Int64
	d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		calls.Add(1)
		return Retain
	})

	// A nil event cannot be copied; the receiver is skipped and the
	// pipeline falls through to the default.
	out := d.Dispatch(hid.KeyDown, nil)

	if calls.Load() != 0 {
		t.Error("receiver must be skipped when the event copy fails")
	}
	if out != nil {
		t.Error("expected nil out for nil in")
	}
	if got := d.Stats().CloneFailures; got != 1 {
		t.Errorf("expected 1 clone failure, got %d", got)
	}
}

func TestDispatcher_AsyncReceiver(t *testing.T) {
	d := New()
	defer d.Close()

	var calls atomic.Int64
	d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		calls.Add(1)
		return Retain
	}, WithAsync())

	out := d.Dispatch(hid.KeyDown, keyEvent())

	// The delivery goroutine must have blocked until the async receiver
	// reported its verdict.
	if calls.Load() != 1 {
		t.Errorf("expected async receiver invoked once, got %d", calls.Load())
	}
	if out != nil {
		t.Error("async retain must consume the event")
	}
}

func TestDispatcher_PanicIsolation(t *testing.T) {
	d := New()
	defer d.Close()

	var survived atomic.Int64
	d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		panic("bad receiver")
	}, WithPriority(20))
	d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		survived.Add(1)
		return Pass
	}, WithPriority(10))

	ev := keyEvent()
	out := d.Dispatch(hid.KeyDown, ev)

	if out != ev {
		t.Error("a panicking receiver must be treated as pass")
	}
	if survived.Load() != 1 {
		t.Error("receivers after a panic must still run")
	}
	if got := d.Stats().Panics; got != 1 {
		t.Errorf("expected 1 recorded panic, got %d", got)
	}
}

func TestDispatcher_ObserverFuncDefaultVerdict(t *testing.T) {
	d := New()
	defer d.Close()

	var seen atomic.Int64
	d.AddObserverFunc(func(ev *hid.Event) {
		seen.Add(1)
	}, WithDefaultVerdict(Retain))

	out := d.Dispatch(hid.KeyDown, keyEvent())

	if seen.Load() != 1 {
		t.Errorf("expected observer invoked once, got %d", seen.Load())
	}
	if out != nil {
		t.Error("observer's default verdict must apply")
	}
}

func TestDispatcher_SourceGating(t *testing.T) {
	src := &fakeSource{}
	d := New(WithSource(src))
	defer d.Close()

	// No receivers yet: HasReceivers is missing.
	if src.IsEnabled() {
		t.Fatal("source must stay disabled without receivers")
	}

	h := d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Pass })
	if !src.IsEnabled() {
		t.Error("source must enable once every prerequisite holds")
	}

	h.Remove()
	if src.IsEnabled() {
		t.Error("source must disable when the last receiver detaches")
	}
}

func TestDispatcher_PrerequisiteToggle(t *testing.T) {
	src := &fakeSource{}
	changes := make(chan prereq.Change)
	d := New(WithSource(src), WithChanges(changes))
	defer d.Close()

	d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Pass })
	waitFor(t, func() bool { return src.IsEnabled() })
	if !d.Prerequisites().Satisfied() {
		t.Fatalf("expected satisfied prerequisites, got %s", d.Prerequisites())
	}

	changes <- prereq.Change{Op: prereq.OpRemove, Flag: prereq.DeviceAwake}
	waitFor(t, func() bool { return !src.IsEnabled() })
	if d.Prerequisites().Satisfied() {
		t.Error("prerequisites must not be satisfied with DeviceAwake removed")
	}

	changes <- prereq.Change{Op: prereq.OpAdd, Flag: prereq.DeviceAwake}
	waitFor(t, func() bool { return src.IsEnabled() })
}

func TestDispatcher_ManualOverride(t *testing.T) {
	src := &fakeSource{}
	d := New(WithSource(src))
	defer d.Close()

	d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Pass })
	if !src.IsEnabled() {
		t.Fatal("expected source enabled")
	}

	d.SetEnabled(false)
	if src.IsEnabled() {
		t.Error("manual disable must turn the source off")
	}
	if d.IsEnabled() {
		t.Error("IsEnabled must report the override")
	}

	d.SetEnabled(true)
	if !src.IsEnabled() {
		t.Error("manual re-enable must turn the source back on")
	}
}

func TestDispatcher_SuspensionComposition(t *testing.T) {
	src := &fakeSource{}
	d := New(WithSource(src))
	defer d.Close()

	d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Pass })
	if !src.IsEnabled() {
		t.Fatal("expected source enabled")
	}

	a := d.AcquireSuspension()
	b := d.AcquireSuspension()
	if !d.IsSuspended() || src.IsEnabled() {
		t.Error("any held suspension must force the pipeline inactive")
	}

	a.Release()
	if !d.IsSuspended() || src.IsEnabled() {
		t.Error("releasing one of two suspensions must keep the pipeline suspended")
	}

	b.Release()
	if d.IsSuspended() {
		t.Error("releasing every suspension must lift the suspension")
	}
	if !src.IsEnabled() {
		t.Error("releasing every suspension must restore prior enablement")
	}
}

func TestDispatcher_SuspensionReleaseIdempotent(t *testing.T) {
	src := &fakeSource{}
	d := New(WithSource(src))
	defer d.Close()

	d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Pass })

	a := d.AcquireSuspension()
	b := d.AcquireSuspension()

	// Double-releasing one token must not count the other down.
	a.Release()
	a.Release()
	if !d.IsSuspended() {
		t.Error("double release must not double-affect the suspension count")
	}
	b.Release()
}

func TestDispatcher_RemoveIdempotent(t *testing.T) {
	src := &fakeSource{}
	d := New(WithSource(src))
	defer d.Close()

	keep := d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Pass })
	h := d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Pass })

	h.Remove()
	h.Remove()

	if !src.IsEnabled() {
		t.Error("double remove must not affect the remaining receiver's prerequisites")
	}
	keep.Remove()
}

func TestDispatcher_TimeoutSelfHeal(t *testing.T) {
	src := &fakeSource{}
	d := New(WithSource(src))
	defer d.Close()

	d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Retain })
	if !src.IsEnabled() {
		t.Fatal("expected source enabled")
	}

	out := src.inject(&hid.Event{Type: hid.TapDisabledByTimeout})
	if out != nil {
		t.Error("the revocation signal itself must be consumed")
	}

	// The restart cycle runs asynchronously: disabled, then re-enabled.
	waitFor(t, func() bool {
		log := src.transitionLog()
		return len(log) >= 3 && src.IsEnabled()
	})

	log := src.transitionLog()
	if log[len(log)-2] != false || log[len(log)-1] != true {
		t.Errorf("expected a disable/enable cycle, got %v", log)
	}
	if got := d.Stats().Restarts; got != 1 {
		t.Errorf("expected 1 recorded restart, got %d", got)
	}

	// Ordinary dispatch still works after the heal.
	if out := src.inject(keyEvent()); out != nil {
		t.Error("expected the retain receiver to keep consuming after self-heal")
	}
}

func TestDispatcher_SetSourceSwap(t *testing.T) {
	first := &fakeSource{}
	d := New(WithSource(first))
	defer d.Close()

	d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Retain })
	if !first.IsEnabled() {
		t.Fatal("expected first source enabled")
	}

	second := &fakeSource{}
	d.SetSource(second)

	if first.IsEnabled() {
		t.Error("replaced source must be disabled")
	}
	if !second.IsEnabled() {
		t.Error("new source must be reconciled to enabled")
	}
	if out := second.inject(keyEvent()); out != nil {
		t.Error("new source must deliver through the dispatcher")
	}
	if out := first.inject(keyEvent()); out == nil {
		t.Error("replaced source must have no delegate consuming events")
	}
}

func TestDispatcher_NilSourceReconcileIsNoop(t *testing.T) {
	d := New()
	defer d.Close()

	// No source attached: mutations must not crash, state is tracked.
	h := d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Pass })
	tok := d.AcquireSuspension()
	tok.Release()
	d.SetEnabled(false)
	d.SetEnabled(true)
	h.Remove()

	if got := d.Prerequisites(); got.Contains(prereq.HasReceivers) {
		t.Errorf("expected HasReceivers absent after remove, got %s", got)
	}
}

func TestDispatcher_HandleAdjustments(t *testing.T) {
	d := New()
	defer d.Close()

	var calls atomic.Int64
	h := d.AddReceiverFunc(func(ev *hid.Event) Verdict {
		calls.Add(1)
		return Pass
	}, WithPriority(10))

	h.SetEnabled(false)
	d.Dispatch(hid.KeyDown, keyEvent())
	if calls.Load() != 0 {
		t.Error("disabled receiver must not be invoked")
	}

	h.SetEnabled(true)
	h.SetPriority(99)
	d.Dispatch(hid.KeyDown, keyEvent())
	if calls.Load() != 1 {
		t.Error("re-enabled receiver must be invoked")
	}
}

func TestDispatcher_Close(t *testing.T) {
	src := &fakeSource{}
	changes := make(chan prereq.Change)
	d := New(WithSource(src), WithChanges(changes))

	d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Pass })
	if !src.IsEnabled() {
		t.Fatal("expected source enabled")
	}

	d.Close()
	d.Close() // idempotent

	if src.IsEnabled() {
		t.Error("close must disable the source")
	}
}

func TestDispatcher_ConcurrentMutationDuringDispatch(t *testing.T) {
	src := &fakeSource{}
	d := New(WithSource(src))
	defer d.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup

	// Mutators: attach/detach receivers and toggle suspensions.
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h := d.AddReceiverFunc(func(ev *hid.Event) Verdict { return Pass },
					WithPriority(uint64(time.Now().UnixNano()%100)))
				tok := d.AcquireSuspension()
				tok.Release()
				h.Remove()
			}
		}()
	}

	// Delivery: keep injecting events concurrently.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				src.inject(keyEvent())
			}
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(stop)
	wg.Wait()

	if d.IsSuspended() {
		t.Error("expected no suspensions after symmetric acquire/release")
	}
	if got := d.reg.count(); got != 0 {
		t.Errorf("expected empty registry after symmetric attach/remove, got %d", got)
	}
}
