package motion

import (
	"fmt"
	"sync"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/od"
	log "github.com/sirupsen/logrus"
)

// Bus is the master session seen by a drive, satisfied by [master.Session]
type Bus interface {
	State() ethercat.BusState
	Read(position int, index uint16, subindex uint8, width od.Width) ([]byte, error)
	Write(position int, index uint16, subindex uint8, value []byte) error
	WriteOutput(position int, index uint16, subindex uint8, value []byte) error
	ReadInput(position int, index uint16, subindex uint8) ([]byte, error)
	IsOutputMapped(position int, index uint16, subindex uint8) bool
	IsInputMapped(position int, index uint16, subindex uint8) bool
	OnStateChange(callback func(old ethercat.BusState, new ethercat.BusState))
}

// Drive is a CiA402 drive at one position of the bus.
// A drive is driven by a single goroutine, the process data loop may run
// on another one.
type Drive struct {
	mu         sync.Mutex
	bus        Bus
	position   int
	options    Options
	logger     *log.Entry
	state      State
	statusWord uint16
	mode       Mode
	modeSet    bool
	// mode written before the bus went back to PreOp, re-applied on enable
	modeStale bool

	commandsMu sync.Mutex
	commands   []func(Command)
}

// NewDrive creates a drive for the slave at position
func NewDrive(bus Bus, position int, options Options, logger *log.Entry) *Drive {
	if options.StatusPolls <= 0 {
		options.StatusPolls = DefaultStatusPolls
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	d := &Drive{
		bus:      bus,
		position: position,
		options:  options,
		logger:   logger.WithField("drive", position),
	}
	bus.OnStateChange(d.busStateChanged)
	return d
}

func (d *Drive) Position() int {
	return d.position
}

// State as of the last status word read
func (d *Drive) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// StatusWord as of the last read
func (d *Drive) StatusWord() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusWord
}

// Mode last set with [Drive.SetMode]
func (d *Drive) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// OnCommand registers a callback called after every object written by the drive
func (d *Drive) OnCommand(callback func(Command)) {
	d.commandsMu.Lock()
	defer d.commandsMu.Unlock()
	d.commands = append(d.commands, callback)
}

func (d *Drive) busStateChanged(old ethercat.BusState, new ethercat.BusState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.modeSet && new.Rank() < old.Rank() && new.Rank() <= ethercat.StatePreOperational.Rank() {
		d.logger.Debugf("[MOTION] bus went back to %v, mode %v will be re-applied", new, d.mode)
		d.modeStale = true
	}
}

// channel picks PDO when the bus is operational and index is an output
func (d *Drive) channel(index uint16) Channel {
	if d.bus.State() == ethercat.StateOperational && d.bus.IsOutputMapped(d.position, index, 0) {
		return ChannelPDO
	}
	return ChannelSDO
}

func (d *Drive) write(index uint16, value []byte) (Channel, error) {
	channel := d.channel(index)
	var err error
	if channel == ChannelPDO {
		err = d.bus.WriteOutput(d.position, index, 0, value)
	} else {
		err = d.bus.Write(d.position, index, 0, value)
	}
	if err != nil {
		return channel, err
	}
	command := Command{Position: d.position, Index: index, Value: value, Channel: channel}
	d.logger.Debugf("[MOTION] %v", command)
	d.commandsMu.Lock()
	callbacks := append([]func(Command){}, d.commands...)
	d.commandsMu.Unlock()
	for _, callback := range callbacks {
		callback(command)
	}
	return channel, nil
}

func (d *Drive) writeControlWord(cw uint16) error {
	value, _ := od.EncodeUint(uint32(cw), od.Width16)
	_, err := d.write(od.EntryControlWord, value)
	return err
}

// readStatusWord from the inputs when available, over SDO otherwise.
// Called with d.mu held.
func (d *Drive) readStatusWord() (uint16, error) {
	var raw []byte
	var err error
	if d.bus.State() == ethercat.StateOperational && d.bus.IsInputMapped(d.position, od.EntryStatusWord, 0) {
		raw, err = d.bus.ReadInput(d.position, od.EntryStatusWord, 0)
	} else {
		raw, err = d.bus.Read(d.position, od.EntryStatusWord, 0, od.Width16)
	}
	if err != nil {
		return 0, err
	}
	sw, err := od.DecodeUint(raw)
	if err != nil {
		return 0, err
	}
	d.statusWord = uint16(sw)
	d.state = DecodeStatusWord(d.statusWord)
	return d.statusWord, nil
}

// Refresh reads the status word and returns the drive state
func (d *Drive) Refresh() (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.readStatusWord()
	return d.state, err
}

// SetMode writes the mode of operation. The bus must be in PreOp or higher.
func (d *Drive) SetMode(mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setMode(mode)
}

func (d *Drive) setMode(mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w : %v", ErrUnsupportedMode, mode)
	}
	if state := d.bus.State(); state.Rank() < ethercat.StatePreOperational.Rank() {
		return fmt.Errorf("%w : setting mode needs at least %v, bus is %v",
			ethercat.ErrInvalidStateForOperation, ethercat.StatePreOperational, state)
	}
	channel, err := d.write(od.EntryModesOfOperation, []byte{byte(mode)})
	if err != nil {
		return fmt.Errorf("setting mode %v : %w", mode, err)
	}
	d.mode, d.modeSet, d.modeStale = mode, true, false
	d.logger.Infof("[MOTION] mode %v set through %v", mode, channel)
	return nil
}

type enableStep struct {
	stage       EnableStage
	controlWord uint16
	expected    uint16
}

var enableSequence = []enableStep{
	{StageShutdown, ControlWordShutdown, statusReadyToSwitchOn},
	{StageSwitchOn, ControlWordSwitchOn, statusSwitchedOn},
	{StageEnableOperation, ControlWordEnableOperation, statusOperationEnabled},
}

// Enable walks the drive to operation enabled with control words
// 0x06, 0x07 then 0x0F, checking the status word after each one.
// An already enabled drive is left untouched.
func (d *Drive) Enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.modeStale {
		if err := d.setMode(d.mode); err != nil {
			return err
		}
	}
	sw, err := d.readStatusWord()
	if err != nil {
		return err
	}
	switch d.state {
	case Enabled:
		d.logger.Debugf("[MOTION] already enabled")
		return nil
	case Faulted:
		d.logger.Warnf("[MOTION] drive in fault, reset it first")
		return &EnableSequenceError{Stage: StageShutdown, StatusWord: sw}
	}
	for _, step := range enableSequence {
		if err := d.writeControlWord(step.controlWord); err != nil {
			return fmt.Errorf("%w : %v : %w", ethercat.ErrEnableSequenceFailed, step.stage, err)
		}
		if err := d.waitStatus(step); err != nil {
			return err
		}
	}
	d.logger.Infof("[MOTION] drive enabled")
	return nil
}

// waitStatus polls the status word for the pattern expected after step
func (d *Drive) waitStatus(step enableStep) error {
	var sw uint16
	var err error
	for i := 0; i < d.options.StatusPolls; i++ {
		if i > 0 {
			time.Sleep(d.options.PollInterval)
		}
		sw, err = d.readStatusWord()
		if err != nil {
			continue
		}
		if sw&statusMask == step.expected {
			return nil
		}
		if d.state == Faulted {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("%w : %v : %w", ethercat.ErrEnableSequenceFailed, step.stage, err)
	}
	e := &EnableSequenceError{Stage: step.stage, ControlWord: step.controlWord, StatusWord: sw}
	d.logger.Warnf("[MOTION] %v", e)
	return e
}

func (d *Drive) setTarget(index uint16, value []byte) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.readStatusWord(); err != nil {
		return ChannelSDO, err
	}
	if d.state != Enabled {
		return ChannelSDO, fmt.Errorf("%w : drive is %v", ErrNotEnabled, d.state)
	}
	channel, err := d.write(index, value)
	if err != nil {
		return channel, err
	}
	d.logger.Infof("[MOTION] x%x set to %x through %v", index, value, channel)
	return channel, nil
}

// SetTargetVelocity writes the target velocity (0x60FF), the drive must be enabled.
// The returned channel tells whether the value goes out with the next PDO cycle.
func (d *Drive) SetTargetVelocity(velocity int32) (Channel, error) {
	value, _ := od.EncodeInt(velocity, od.Width32)
	return d.setTarget(od.EntryTargetVelocity, value)
}

// SetTargetTorque writes the target torque (0x6071), the drive must be enabled
func (d *Drive) SetTargetTorque(torque int16) (Channel, error) {
	value, _ := od.EncodeInt(int32(torque), od.Width16)
	return d.setTarget(od.EntryTargetTorque, value)
}

// Disable zeroes target velocity and target torque, then writes the
// shutdown control word. The drive ends ready to switch on.
func (d *Drive) Disable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.write(od.EntryTargetVelocity, make([]byte, 4)); err != nil {
		return fmt.Errorf("zeroing target velocity : %w", err)
	}
	if _, err := d.write(od.EntryTargetTorque, make([]byte, 2)); err != nil {
		return fmt.Errorf("zeroing target torque : %w", err)
	}
	if err := d.writeControlWord(ControlWordShutdown); err != nil {
		return err
	}
	d.logger.Infof("[MOTION] drive disabled")
	return nil
}

// ResetFault sends a fault reset and waits for the fault to clear.
// A drive without fault is left untouched.
func (d *Drive) ResetFault() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.readStatusWord(); err != nil {
		return err
	}
	if d.state != Faulted {
		return nil
	}
	if err := d.writeControlWord(ControlWordFaultReset); err != nil {
		return err
	}
	for i := 0; i < d.options.StatusPolls; i++ {
		if i > 0 {
			time.Sleep(d.options.PollInterval)
		}
		if _, err := d.readStatusWord(); err == nil && d.state != Faulted {
			d.logger.Infof("[MOTION] fault cleared")
			// end of the reset pulse, next reset needs a new rising edge
			return d.writeControlWord(ControlWordDisableVoltage)
		}
	}
	return fmt.Errorf("%w : status word x%04x", ErrFaultNotCleared, d.statusWord)
}
