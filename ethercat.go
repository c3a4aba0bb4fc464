package ethercat

import (
	"fmt"
	"strings"
)

// BusState is an EtherCAT application layer state.
// Values are the AL control / AL status encodings, so they can be
// written to and compared with the ESC registers directly.
type BusState uint8

const (
	StateUnknown         BusState = 0x00
	StateInit            BusState = 0x01
	StatePreOperational  BusState = 0x02
	StateBootstrap       BusState = 0x03
	StateSafeOperational BusState = 0x04
	StateOperational     BusState = 0x08
)

// Error indication flag of AL status / error acknowledge flag of AL control
const StateErrorFlag uint8 = 0x10

var stateMap = map[BusState]string{
	StateUnknown:         "UNKNOWN",
	StateInit:            "INIT",
	StatePreOperational:  "PRE-OPERATIONAL",
	StateBootstrap:       "BOOTSTRAP",
	StateSafeOperational: "SAFE-OPERATIONAL",
	StateOperational:     "OPERATIONAL",
}

func (s BusState) String() string {
	str, ok := stateMap[s]
	if !ok {
		return fmt.Sprintf("UNKNOWN(x%x)", uint8(s))
	}
	return str
}

// ParseBusState accepts the usual short names (init, preop, safeop, op)
// as well as the full names returned by [BusState.String].
func ParseBusState(s string) (BusState, error) {
	switch strings.ToLower(s) {
	case "init", "initializing":
		return StateInit, nil
	case "preop", "pre-operational", "preoperational":
		return StatePreOperational, nil
	case "safeop", "safe-operational", "safeoperational":
		return StateSafeOperational, nil
	case "op", "operational":
		return StateOperational, nil
	}
	return StateUnknown, fmt.Errorf("unknown bus state %q", s)
}

// Rank orders states along the forward path Init < PreOp < SafeOp < Op.
func (s BusState) Rank() int {
	switch s {
	case StateInit:
		return 1
	case StatePreOperational:
		return 2
	case StateSafeOperational:
		return 3
	case StateOperational:
		return 4
	}
	return 0
}

// CanTransition reports whether the master allows requesting to from from.
// Allowed: Init -> PreOp -> SafeOp -> Op, Op -> PreOp and any state -> Init.
func CanTransition(from, to BusState) bool {
	if from == to || to == StateInit {
		return true
	}
	switch from {
	case StateInit:
		return to == StatePreOperational
	case StatePreOperational:
		return to == StateSafeOperational
	case StateSafeOperational:
		return to == StateOperational
	case StateOperational:
		return to == StatePreOperational
	}
	return false
}

// Identity of a slave, as stored in SII and mirrored in object 0x1018
type Identity struct {
	VendorId       uint32
	ProductCode    uint32
	RevisionNumber uint32
	SerialNumber   uint32
}

func (id Identity) String() string {
	return fmt.Sprintf("vendor x%08x product x%08x rev x%08x serial x%08x",
		id.VendorId, id.ProductCode, id.RevisionNumber, id.SerialNumber)
}
