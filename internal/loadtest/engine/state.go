package engine

import (
	"errors"
	"fmt"
)

// State is the run controller's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateSetup
	StateRunning
	StateTearingDown
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateTearingDown:
		return "tearing_down"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrAlreadyRunning is returned by Run on an engine that has already been
// started. An engine runs once.
var ErrAlreadyRunning = errors.New("engine: already started")

// ConfigError reports invalid options. It is returned before setup runs
// and before any VU is spawned.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
