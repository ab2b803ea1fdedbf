// Package prereq tracks the conditions required for the dispatch pipeline
// to be live.
//
// Six independent flags make up the aggregate state. Three are sourced
// from the outside world (screen power, device power, accessibility
// permission) and cached by the Engine; the remaining three are derived
// on demand by the dispatcher from its own state. The pipeline should be
// active if and only if every flag is present.
package prereq

import "strings"

// Flag is a single prerequisite condition.
type Flag uint8

const (
	// Enabled is the manual on/off override.
	Enabled Flag = 1 << iota

	// ScreensAwake is set while at least one display is awake.
	ScreensAwake

	// DeviceAwake is set while the device is not asleep.
	DeviceAwake

	// AccessibilityGranted is set while the process holds the
	// accessibility permission required to observe input.
	AccessibilityGranted

	// HasReceivers is set while at least one receiver is attached.
	HasReceivers

	// NoSuspensions is set while no suspension tokens are held.
	NoSuspensions
)

// AllFlags is the full prerequisite set.
const AllFlags Set = Set(Enabled | ScreensAwake | DeviceAwake | AccessibilityGranted | HasReceivers | NoSuspensions)

// externalMask covers the three externally sourced flags the Engine is
// allowed to cache.
const externalMask Set = Set(ScreensAwake | DeviceAwake | AccessibilityGranted)

// String returns a human-readable flag name.
func (f Flag) String() string {
	switch f {
	case Enabled:
		return "enabled"
	case ScreensAwake:
		return "screens-awake"
	case DeviceAwake:
		return "device-awake"
	case AccessibilityGranted:
		return "accessibility-granted"
	case HasReceivers:
		return "has-receivers"
	case NoSuspensions:
		return "no-suspensions"
	default:
		return "unknown"
	}
}

// Set is a combination of prerequisite flags.
type Set uint8

// Contains reports whether every flag in f is present.
func (s Set) Contains(f Flag) bool {
	return s&Set(f) == Set(f)
}

// Insert returns s with f added.
func (s Set) Insert(f Flag) Set {
	return s | Set(f)
}

// Remove returns s with f removed.
func (s Set) Remove(f Flag) Set {
	return s &^ Set(f)
}

// Satisfied reports whether the set equals the full prerequisite set.
func (s Set) Satisfied() bool {
	return s == AllFlags
}

// String returns the names of the present flags joined by "|".
func (s Set) String() string {
	if s == 0 {
		return "none"
	}

	var names []string
	for _, f := range []Flag{Enabled, ScreensAwake, DeviceAwake, AccessibilityGranted, HasReceivers, NoSuspensions} {
		if s.Contains(f) {
			names = append(names, f.String())
		}
	}
	return strings.Join(names, "|")
}
