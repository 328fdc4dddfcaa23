package activity

import "fmt"

// State represents the lifecycle state of an activity.
//
// Transitions:
//
//	Idle -> Queued -> Running -> Complete
//	Queued|Running -> Stopped
//	Complete|Stopped -> Idle (on restart)
type State int32

const (
	// Idle indicates the activity has not been started, or has been reset for a restart
	Idle State = iota

	// Queued indicates the activity is owned by a manager and waits for CanStart
	Queued

	// Running indicates the activity is being stepped every pass
	Running

	// Complete indicates a hook reported finished and the completion callbacks ran
	Complete

	// Stopped indicates the activity was cancelled before completing
	Stopped
)

// String returns a human-readable representation of the State
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Complete:
		return "complete"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the activity finished its current run.
func (s State) IsTerminal() bool {
	return s == Complete || s == Stopped
}

// IsActive returns true if a manager currently owns the activity.
func (s State) IsActive() bool {
	return s == Queued || s == Running
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st := Idle; st <= Stopped; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}
