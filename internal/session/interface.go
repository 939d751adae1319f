package session

import (
	"context"
	"time"

	"codeberg.org/mutker/bmsmon/internal/errors"
	"codeberg.org/mutker/bmsmon/internal/telemetry"
)

// State is the lifecycle state of a monitoring session.
type State int32

const (
	// Idle means no polling loop exists.
	Idle State = iota
	// Running means a polling loop owns the source connection.
	Running
	// Stopping means cancellation was requested and the loop has not yet
	// released the connection.
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Recorder persists published snapshots.
type Recorder interface {
	Record(ctx context.Context, snapshot *telemetry.Snapshot) error
}

// Observer receives poll outcomes and lifecycle transitions. Calls come from
// the polling goroutine and from Start/Stop callers.
type Observer interface {
	PollSucceeded(elapsed time.Duration)
	PollFailed(code errors.ErrorCode)
	SessionStateChanged(state State)
}

type noopObserver struct{}

func (noopObserver) PollSucceeded(time.Duration) {}
func (noopObserver) PollFailed(errors.ErrorCode) {}
func (noopObserver) SessionStateChanged(State) {}
