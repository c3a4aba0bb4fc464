// Package motion drives CiA402 servo drives through a master session.
// Commands go through the process data image when the bus is operational
// and the object is mapped, through SDO otherwise.
package motion

import (
	"errors"
	"fmt"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/od"
)

var (
	ErrNotEnabled      = errors.New("drive is not enabled")
	ErrUnsupportedMode = errors.New("unsupported mode of operation")
	ErrFaultNotCleared = errors.New("drive fault not cleared")
)

// Control words
const (
	ControlWordDisableVoltage  uint16 = 0x0000
	ControlWordShutdown        uint16 = 0x0006
	ControlWordSwitchOn        uint16 = 0x0007
	ControlWordEnableOperation uint16 = 0x000F
	ControlWordFaultReset      uint16 = 0x0080
)

// Mode of operation (0x6060)
type Mode int8

const (
	NoMode             Mode = 0
	ProfilePosition    Mode = 1
	ProfileVelocity    Mode = 3
	ProfileTorque      Mode = 4
	Homing             Mode = 6
	CyclicSyncPosition Mode = 8
	CyclicSyncVelocity Mode = 9
	CyclicSyncTorque   Mode = 10
)

var modeMap = map[Mode]string{
	NoMode:             "NO MODE",
	ProfilePosition:    "PROFILE POSITION",
	ProfileVelocity:    "PROFILE VELOCITY",
	ProfileTorque:      "PROFILE TORQUE",
	Homing:             "HOMING",
	CyclicSyncPosition: "CYCLIC SYNC POSITION",
	CyclicSyncVelocity: "CYCLIC SYNC VELOCITY",
	CyclicSyncTorque:   "CYCLIC SYNC TORQUE",
}

func (m Mode) String() string {
	str, ok := modeMap[m]
	if !ok {
		return fmt.Sprintf("MODE(%d)", int8(m))
	}
	return str
}

func (m Mode) Valid() bool {
	_, ok := modeMap[m]
	return ok
}

// ParseMode accepts the mode number or the short names pp, pv, pt, hm, csp, csv, cst
func ParseMode(s string) (Mode, error) {
	switch s {
	case "none":
		return NoMode, nil
	case "pp":
		return ProfilePosition, nil
	case "pv":
		return ProfileVelocity, nil
	case "pt":
		return ProfileTorque, nil
	case "hm":
		return Homing, nil
	case "csp":
		return CyclicSyncPosition, nil
	case "csv":
		return CyclicSyncVelocity, nil
	case "cst":
		return CyclicSyncTorque, nil
	}
	raw, err := od.EncodeFromString(s, od.INTEGER8)
	if err != nil {
		return NoMode, fmt.Errorf("%w : %q", ErrUnsupportedMode, s)
	}
	mode := Mode(int8(raw[0]))
	if !mode.Valid() {
		return NoMode, fmt.Errorf("%w : %v", ErrUnsupportedMode, mode)
	}
	return mode, nil
}

// State of the drive power state machine, as seen by the master
type State uint8

const (
	Disabled State = iota
	Ready
	Enabled
	Faulted
)

var stateMap = map[State]string{
	Disabled: "DISABLED",
	Ready:    "READY",
	Enabled:  "ENABLED",
	Faulted:  "FAULTED",
}

func (s State) String() string {
	return stateMap[s]
}

// Status word patterns
const (
	statusMask                uint16 = 0x006F
	statusReadyToSwitchOn     uint16 = 0x0021
	statusSwitchedOn          uint16 = 0x0023
	statusOperationEnabled    uint16 = 0x0027
	faultMask                 uint16 = 0x004F
	statusFault               uint16 = 0x0008
	statusFaultReactionActive uint16 = 0x000F
)

// DecodeStatusWord maps a status word (0x6041) to a [State]
func DecodeStatusWord(sw uint16) State {
	switch {
	case sw&faultMask == statusFault, sw&faultMask == statusFaultReactionActive:
		return Faulted
	case sw&statusMask == statusOperationEnabled:
		return Enabled
	case sw&statusMask == statusReadyToSwitchOn, sw&statusMask == statusSwitchedOn:
		return Ready
	}
	return Disabled
}

// Channel an object was written through
type Channel uint8

const (
	ChannelSDO Channel = iota
	ChannelPDO
)

func (c Channel) String() string {
	if c == ChannelPDO {
		return "PDO"
	}
	return "SDO"
}

// Command is one object write issued by a [Drive]
type Command struct {
	Position int
	Index    uint16
	Subindex uint8
	Value    []byte
	Channel  Channel
}

func (c Command) String() string {
	return fmt.Sprintf("slave %d x%x|x%x <- %x (%v)", c.Position, c.Index, c.Subindex, c.Value, c.Channel)
}

// EnableStage is one step of the enable sequence
type EnableStage string

const (
	StageShutdown        EnableStage = "shutdown"
	StageSwitchOn        EnableStage = "switch on"
	StageEnableOperation EnableStage = "enable operation"
)

// EnableSequenceError is returned when the status word does not follow
// the enable sequence
type EnableSequenceError struct {
	Stage       EnableStage
	ControlWord uint16
	StatusWord  uint16
}

func (e *EnableSequenceError) Error() string {
	return fmt.Sprintf("drive enable sequence failed at %v : control word x%04x, status word x%04x (%v)",
		e.Stage, e.ControlWord, e.StatusWord, DecodeStatusWord(e.StatusWord))
}

func (e *EnableSequenceError) Is(target error) bool {
	return target == ethercat.ErrEnableSequenceFailed
}

const (
	DefaultStatusPolls  = 10
	DefaultPollInterval = 5 * time.Millisecond
)

// Options of a [Drive]
type Options struct {
	// Status word reads after each control word before giving up
	StatusPolls int
	// Wait between status word reads, one or more cycles when using PDO
	PollInterval time.Duration
}

func DefaultOptions() Options {
	return Options{StatusPolls: DefaultStatusPolls, PollInterval: DefaultPollInterval}
}
