package endpoint

import "fmt"

// State is a step of the endpoint lifecycle.
type State int32

const (
	Created State = iota
	// Inactive endpoints were not enabled; they never open a session.
	Inactive
	Starting
	Running
	ShutdownRequested
	Destroyed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Inactive:
		return "inactive"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case ShutdownRequested:
		return "shutdown-requested"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Final reports whether no further ticks can happen in s.
func (s State) Final() bool {
	return s == Inactive || s == Destroyed
}
