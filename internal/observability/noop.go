package observability

import "time"

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordDispatch does nothing.
func (NoopMetrics) RecordDispatch(_ string, _ time.Duration) {}

// RecordReceiver does nothing.
func (NoopMetrics) RecordReceiver(_ string, _ time.Duration) {}

// RecordRestart does nothing.
func (NoopMetrics) RecordRestart() {}
