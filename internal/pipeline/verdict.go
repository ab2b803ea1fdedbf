package pipeline

// Verdict is the three-way decision a receiver returns after seeing an
// event.
type Verdict int

const (
	// Pass continues delivery to the next receiver.
	Pass Verdict = iota

	// Retain consumes the event: delivery halts and the event never
	// reaches the OS.
	Retain

	// Bypass halts delivery but still forwards the event to the OS
	// unmodified.
	Bypass
)

// String returns a human-readable verdict name.
func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Retain:
		return "retain"
	case Bypass:
		return "bypass"
	default:
		return "unknown"
	}
}
