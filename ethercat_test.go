package ethercat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]BusState{
		{StateInit, StatePreOperational},
		{StatePreOperational, StateSafeOperational},
		{StateSafeOperational, StateOperational},
		{StateOperational, StatePreOperational},
		{StateOperational, StateInit},
		{StateSafeOperational, StateInit},
		{StateUnknown, StateInit},
		{StatePreOperational, StatePreOperational},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%v -> %v", tr[0], tr[1])
	}
	refused := [][2]BusState{
		{StateInit, StateOperational},
		{StateInit, StateSafeOperational},
		{StateSafeOperational, StatePreOperational},
		{StateOperational, StateSafeOperational},
		{StatePreOperational, StateBootstrap},
		{StateUnknown, StatePreOperational},
	}
	for _, tr := range refused {
		assert.False(t, CanTransition(tr[0], tr[1]), "%v -> %v", tr[0], tr[1])
	}
}

func TestParseBusState(t *testing.T) {
	for s, expected := range map[string]BusState{
		"init":             StateInit,
		"PreOp":            StatePreOperational,
		"safeop":           StateSafeOperational,
		"OPERATIONAL":      StateOperational,
		"pre-operational":  StatePreOperational,
		"safe-operational": StateSafeOperational,
	} {
		state, err := ParseBusState(s)
		assert.Nil(t, err)
		assert.Equal(t, expected, state)
	}
	_, err := ParseBusState("bootstrap")
	assert.NotNil(t, err)
	assert.Equal(t, "UNKNOWN(x20)", BusState(0x20).String())
	assert.Less(t, StatePreOperational.Rank(), StateSafeOperational.Rank())
	assert.Equal(t, 0, StateBootstrap.Rank())
}

func TestStateTransitionError(t *testing.T) {
	e := &StateTransitionError{
		Requested:   StateOperational,
		Actual:      StateSafeOperational,
		Position:    0,
		StatusCode:  0x1D,
		Description: "invalid output configuration",
	}
	err := fmt.Errorf("slave not ready : %w", e)
	assert.ErrorIs(t, err, ErrStateTransitionFailed)
	var stateErr *StateTransitionError
	assert.True(t, errors.As(err, &stateErr))
	assert.Equal(t, StateSafeOperational, stateErr.Actual)
	assert.Contains(t, e.Error(), "slave 0")
	assert.Contains(t, e.Error(), "invalid output configuration")

	unknown := &StateTransitionError{Requested: StatePreOperational, Actual: StateInit, Position: -1}
	assert.NotContains(t, unknown.Error(), "slave")
}
