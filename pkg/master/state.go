package master

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/esc"
)

// OnStateChange registers a callback called after every bus state change,
// with the previous and the new state. Callbacks run without the session lock.
func (s *Session) OnStateChange(callback func(old ethercat.BusState, new ethercat.BusState)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, callback)
}

func (s *Session) notify(old ethercat.BusState, new ethercat.BusState) {
	if old == new {
		return
	}
	s.listenersMu.Lock()
	listeners := append([]func(ethercat.BusState, ethercat.BusState){}, s.listeners...)
	s.listenersMu.Unlock()
	for _, callback := range listeners {
		callback(old, new)
	}
}

// RequestState drives every slave to target and reads the state back.
// The returned state is the lowest state read on the bus. When one slave
// does not reach target, a [*ethercat.StateTransitionError] is returned.
func (s *Session) RequestState(target ethercat.BusState) (ethercat.BusState, error) {
	s.mu.Lock()
	old := s.state
	actual, err := s.requestState(target)
	s.mu.Unlock()
	s.notify(old, actual)
	return actual, err
}

// requestState is called with s.mu held
func (s *Session) requestState(target ethercat.BusState) (ethercat.BusState, error) {
	if err := s.checkUsable(); err != nil {
		return s.state, err
	}
	if len(s.slaves) == 0 {
		return s.state, ethercat.ErrNoSlavesFound
	}
	switch target {
	case ethercat.StateInit, ethercat.StatePreOperational, ethercat.StateSafeOperational, ethercat.StateOperational:
	default:
		return s.state, fmt.Errorf("%w : cannot request %v", ethercat.ErrInvalidStateForOperation, target)
	}
	if s.state == target && !s.alError {
		return s.state, nil
	}
	steps := forwardSteps(s.state, target)
	if steps == nil {
		if !ethercat.CanTransition(s.state, target) {
			return s.state, fmt.Errorf("%w : %v -> %v", ethercat.ErrInvalidStateForOperation, s.state, target)
		}
		steps = []ethercat.BusState{target}
	}
	for _, step := range steps {
		actual, err := s.writeState(step)
		if err != nil {
			var stateErr *ethercat.StateTransitionError
			if errors.As(err, &stateErr) {
				stateErr.Requested = target
			}
			return actual, err
		}
	}
	return s.state, nil
}

var forwardPath = []ethercat.BusState{
	ethercat.StateInit,
	ethercat.StatePreOperational,
	ethercat.StateSafeOperational,
	ethercat.StateOperational,
}

// forwardSteps returns the states to go through from current up to target,
// nil when target is not ahead of current on the forward path
func forwardSteps(current ethercat.BusState, target ethercat.BusState) []ethercat.BusState {
	if current.Rank() == 0 || target.Rank() <= current.Rank() {
		return nil
	}
	return forwardPath[current.Rank():target.Rank()]
}

// writeState requests one transition and polls until every slave reads it back
func (s *Session) writeState(target ethercat.BusState) (ethercat.BusState, error) {
	s.logger.Infof("[MASTER] requesting %v (current %v)", target, s.state)

	if s.state == ethercat.StatePreOperational && target == ethercat.StateSafeOperational {
		if err := s.buildProcessImage(); err != nil {
			return s.state, err
		}
	}
	control := uint16(target)
	if s.alError {
		control |= uint16(ethercat.StateErrorFlag)
	}
	if _, err := s.bwr(esc.ALControl, binary.LittleEndian.AppendUint16(nil, control)); err != nil {
		return s.state, fmt.Errorf("writing AL control : %w", err)
	}

	deadline := time.Now().Add(s.options.StateTimeout)
	for {
		actual, failed, err := s.readStates()
		if err == nil {
			s.state = actual
			if failed == nil && actual == target {
				s.logger.Infof("[MASTER] bus in %v", actual)
				return actual, nil
			}
			if failed != nil || time.Now().After(deadline) {
				return actual, s.transitionError(target, actual, failed)
			}
		} else if time.Now().After(deadline) {
			return s.state, fmt.Errorf("%w : reading back %v : %w", ethercat.ErrStateTransitionFailed, target, err)
		}
		time.Sleep(s.options.StatePollInterval)
	}
}

// alStatus of one slave as read back during a state request
type alStatus struct {
	position int
	state    ethercat.BusState
	code     uint16
}

// readStates reads AL status of every slave. It returns the lowest state and
// the first slave indicating an error, nil if none. Called with s.mu held.
func (s *Session) readStates() (ethercat.BusState, *alStatus, error) {
	lowest := ethercat.StateUnknown
	var failed *alStatus
	alError := false
	for _, slave := range s.slaves {
		state, errorFlag, code, err := s.readALStatus(slave)
		if err != nil {
			return ethercat.StateUnknown, nil, fmt.Errorf("slave %d : %w", slave.Position, err)
		}
		if errorFlag {
			alError = true
			if failed == nil {
				failed = &alStatus{position: slave.Position, state: state, code: code}
			}
		}
		if lowest == ethercat.StateUnknown || state.Rank() < lowest.Rank() {
			lowest = state
		}
	}
	s.alError = alError
	return lowest, failed, nil
}

// transitionError builds the error for a slave that did not reach target
func (s *Session) transitionError(target ethercat.BusState, actual ethercat.BusState, failed *alStatus) error {
	e := &ethercat.StateTransitionError{Requested: target, Actual: actual, Position: -1}
	if failed == nil {
		// Timed out without error indication, report the first lagging slave
		for _, slave := range s.slaves {
			state, _, code, err := s.readALStatus(slave)
			if err == nil && state != target {
				failed = &alStatus{position: slave.Position, state: state, code: code}
				break
			}
		}
	}
	if failed != nil {
		e.Position = failed.position
		e.StatusCode = failed.code
		e.Description = esc.DescribeALStatusCode(failed.code)
	}
	s.logger.Warnf("[MASTER] %v", e)
	return e
}
