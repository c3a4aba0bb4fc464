package ethercat

import (
	"errors"
	"fmt"
)

var (
	ErrAdapterUnavailable       = errors.New("adapter unavailable or already in use")
	ErrNoSlavesFound            = errors.New("no slaves found on the bus")
	ErrStateTransitionFailed    = errors.New("bus state transition failed")
	ErrInvalidStateForOperation = errors.New("operation not allowed in the current bus state")
	ErrSlaveUnreachable         = errors.New("slave unreachable, mailbox timeout")
	ErrInvalidAddress           = errors.New("index or subindex not mapped in object dictionary")
	ErrWidthMismatch            = errors.New("width does not match object dictionary entry")
	ErrCycleMissed              = errors.New("process data cycle missed")
	ErrLinkLost                 = errors.New("link lost, session must be closed and reopened")
	ErrEnableSequenceFailed     = errors.New("drive enable sequence failed")
	ErrAlreadyClosed            = errors.New("session already closed")
	ErrSessionClosed            = errors.New("session is not open")
)

// StateTransitionError is returned when the bus does not read back
// the requested state after a state request.
type StateTransitionError struct {
	Requested BusState
	Actual    BusState
	// Position of the first slave that did not reach the requested state, -1 if unknown
	Position int
	// AL status code reported by that slave
	StatusCode  uint16
	Description string
}

func (e *StateTransitionError) Error() string {
	msg := fmt.Sprintf("state transition failed : requested %v, actual %v", e.Requested, e.Actual)
	if e.Position >= 0 {
		msg += fmt.Sprintf(" (slave %d, AL status code x%x", e.Position, e.StatusCode)
		if e.Description != "" {
			msg += " : " + e.Description
		}
		msg += ")"
	}
	return msg
}

func (e *StateTransitionError) Is(target error) bool {
	return target == ErrStateTransitionFailed
}
