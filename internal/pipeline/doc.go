// Package pipeline implements the dispatch layer between a low-level
// event tap and application receivers.
//
// # Architecture
//
// The Dispatcher owns three pieces of state and one swappable
// collaborator:
//
//   - the receiver registry: attached receivers behind opaque handles
//   - the prerequisite engine: cached external conditions (power,
//     permission) merged with dispatcher-derived ones
//   - the suspension manager: a reference-counted set of tokens that
//     force the pipeline inactive while held
//   - the event source: the OS tap (or a test double), enabled exactly
//     while every prerequisite holds
//
// # Dispatch
//
// Raw events arrive on the source's delivery goroutine. Enabled
// receivers are snapshotted, ordered by priority (higher values first),
// and each gets an independent copy of the event. A receiver's verdict
// steers the pipeline:
//
//   - Retain: consume the event; remaining receivers are skipped and the
//     event never reaches the OS
//   - Pass: continue to the next receiver
//   - Bypass: skip remaining receivers but forward the event unmodified
//
// Synchronous receivers run inline. Asynchronous receivers run on their
// own goroutine while the delivery goroutine blocks on a one-shot
// completion signal - the single sanctioned suspension point on the hot
// path. Receivers must not do long work in either mode: delivery that
// exceeds the OS time budget gets the tap revoked.
//
// # Reconciliation
//
// Every mutation that can change the aggregate prerequisite state
// (attach/detach, suspension acquire/release, the manual override,
// external condition changes, source swaps) funnels into one idempotent
// reconciliation step that compares the desired liveness with the
// source's observed state and toggles only on a difference. Races
// between concurrent mutations cost at most one redundant toggle; the
// decision is always recomputed from current state.
//
// # Self-healing
//
// When the OS revokes the tap (a timeout control event), the dispatcher
// schedules a disable-then-reconcile cycle off the delivery goroutine
// and consumes the control event. Receivers never observe the outage.
//
// # Thread safety
//
// All public methods are safe for concurrent use from any goroutine,
// including while events are in flight. Each piece of state has its own
// lock, never held across a call into another component.
package pipeline
