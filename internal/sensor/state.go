package sensor

import (
	"errors"
	"fmt"
)

// State is the connection state of a sensor, owned by its actor.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	NotificationsActive
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case NotificationsActive:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// IsConnected reports whether s has an established connection.
func (s State) IsConnected() bool {
	return s == Connected || s == NotificationsActive
}

// OutcomeKind classifies a connection change reported by a sensor.
type OutcomeKind uint8

const (
	OutcomeConnected OutcomeKind = iota + 1
	OutcomeFailedToConnect
	OutcomeDisconnected
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeConnected:
		return "connected"
	case OutcomeFailedToConnect:
		return "failed-to-connect"
	case OutcomeDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(k))
	}
}

// Outcome is pushed by a sensor actor when a connection attempt finishes or
// an established connection ends.
type Outcome struct {
	Sensor Sensor
	Kind   OutcomeKind
	// Err is the reason of a failed attempt, nil otherwise.
	Err error
}

// StateError reports a command that is not valid in the current state.
type StateError struct {
	Sensor string
	Op     string
	State  State
}

// Error implements the error interface
func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("sensor %q: cannot %s while %s", e.Sensor, e.Op, e.State)
}

// Is makes every StateError match ErrState.
func (e *StateError) Is(target error) bool {
	_, ok := target.(*StateError)
	return ok
}

var (
	ErrState = &StateError{}

	// ErrStopped is returned by commands sent to an actor that has exited.
	ErrStopped = errors.New("sensor actor stopped")
)
