package activity

import (
	"fmt"
	"strings"
)

// Context is the execution regime an activity runs under.
type Context int

const (
	// Update runs once per host Update phase.
	Update Context = iota
	// LateUpdate runs once per host LateUpdate phase.
	LateUpdate
	// FixedUpdate runs once per host FixedUpdate phase.
	FixedUpdate
	// Async runs during the Update phase within a time budget, resuming where
	// the previous pass stopped.
	Async
	// Thread runs on the background worker pool.
	Thread

	// All matches every context. It is only meaningful to Find and FindAll.
	All Context = -1
)

// phaseContexts are the contexts driven from the calling goroutine.
var phaseContexts = [...]Context{Update, LateUpdate, FixedUpdate, Async}

// String returns a human-readable representation of the Context
func (c Context) String() string {
	switch c {
	case Update:
		return "update"
	case LateUpdate:
		return "late_update"
	case FixedUpdate:
		return "fixed_update"
	case Async:
		return "async"
	case Thread:
		return "thread"
	case All:
		return "all"
	default:
		return "unknown"
	}
}

// Valid reports whether c names a concrete context.
func (c Context) Valid() bool {
	return c >= Update && c <= Thread
}

// ParseContext converts a context name as produced by String back into a Context.
func ParseContext(s string) (Context, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "update":
		return Update, nil
	case "late_update", "lateupdate":
		return LateUpdate, nil
	case "fixed_update", "fixedupdate":
		return FixedUpdate, nil
	case "async":
		return Async, nil
	case "thread":
		return Thread, nil
	case "all", "":
		return All, nil
	default:
		return All, fmt.Errorf("unknown context %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so contexts render by name in
// JSON values and map keys.
func (c Context) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Context) UnmarshalText(text []byte) error {
	parsed, err := ParseContext(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
