package sim

import (
	"github.com/samsamfire/goethercat/pkg/od"
	log "github.com/sirupsen/logrus"
)

// CiA402 power state machine states, as reported in the status word
const (
	swSwitchOnDisabled uint16 = 0x0240
	swReadyToSwitchOn  uint16 = 0x0221
	swSwitchedOn       uint16 = 0x0223
	swOperationEnabled uint16 = 0x0227
	swFault            uint16 = 0x0208
)

const cwFaultReset uint16 = 0x0080

// Modes of operation
const (
	modeProfileVelocity int8 = 3
	modeProfileTorque   int8 = 4
	modeCSV             int8 = 9
	modeCST             int8 = 10
)

// drive runs the CiA402 state machine over the slave dictionary
type drive struct {
	od                *od.ObjectDictionary
	logger            *log.Entry
	state             uint16
	lastControlWord   uint16
	ignoreControlWord bool
}

func newDrive(dictionary *od.ObjectDictionary, logger *log.Entry) *drive {
	d := &drive{od: dictionary, logger: logger, state: swSwitchOnDisabled}
	d.publish()
	return d
}

func (d *drive) variable(index uint16) *od.Variable {
	v, err := d.od.Lookup(index, 0)
	if err != nil {
		return nil
	}
	return v
}

func (d *drive) statusWord() uint16 {
	return d.state
}

func (d *drive) supportsMode(mode int8) bool {
	if mode <= 0 || mode > 32 {
		return false
	}
	v := d.variable(od.EntrySupportedDriveModes)
	if v == nil {
		return true
	}
	return v.Uint()&(1<<(mode-1)) != 0
}

func (d *drive) fault(code uint16) {
	d.logger.Infof("[SIM] drive fault x%04x", code)
	d.state = swFault
	if v := d.variable(od.EntryErrorCode); v != nil {
		_ = v.PutUint(uint32(code))
	}
	d.publish()
}

// tick evaluates the control word and updates the actual values
func (d *drive) tick() {
	if !d.ignoreControlWord {
		d.applyControlWord()
	}
	d.publish()
}

func (d *drive) applyControlWord() {
	cwVar := d.variable(od.EntryControlWord)
	if cwVar == nil {
		return
	}
	cw := uint16(cwVar.Uint())
	risingReset := cw&cwFaultReset != 0 && d.lastControlWord&cwFaultReset == 0
	d.lastControlWord = cw
	previous := d.state
	switch {
	case d.state == swFault:
		if risingReset {
			d.state = swSwitchOnDisabled
			if v := d.variable(od.EntryErrorCode); v != nil {
				_ = v.PutUint(0)
			}
		}
	case cw&0x82 == 0x00:
		// disable voltage
		d.state = swSwitchOnDisabled
	case cw&0x86 == 0x02:
		// quick stop
		d.state = swSwitchOnDisabled
	case cw&0x87 == 0x06:
		if d.state == swSwitchOnDisabled || d.state == swSwitchedOn || d.state == swOperationEnabled {
			d.state = swReadyToSwitchOn
		}
	case cw&0x8F == 0x07:
		if d.state == swReadyToSwitchOn || d.state == swOperationEnabled {
			d.state = swSwitchedOn
		}
	case cw&0x8F == 0x0F:
		if d.state == swSwitchedOn {
			d.state = swOperationEnabled
		}
	}
	if previous != d.state {
		d.logger.Debugf("[SIM] drive x%04x -> x%04x (control word x%04x)", previous, d.state, cw)
	}
}

// publish mirrors the internal state into the dictionary
func (d *drive) publish() {
	if v := d.variable(od.EntryStatusWord); v != nil {
		_ = v.PutUint(uint32(d.state))
	}
	mode := int8(0)
	if v := d.variable(od.EntryModesOfOperation); v != nil {
		mode = int8(v.Int())
	}
	if v := d.variable(od.EntryModesDisplay); v != nil {
		_ = v.PutInt(int32(mode))
	}
	enabled := d.state == swOperationEnabled
	velocity := int32(0)
	if enabled && (mode == modeProfileVelocity || mode == modeCSV) {
		if v := d.variable(od.EntryTargetVelocity); v != nil {
			velocity = v.Int()
		}
	}
	if v := d.variable(od.EntryVelocityActual); v != nil {
		_ = v.PutInt(velocity)
	}
	if v := d.variable(od.EntryPositionActual); v != nil && velocity != 0 {
		_ = v.PutInt(v.Int() + velocity/1000)
	}
	torque := int32(0)
	if enabled && (mode == modeProfileTorque || mode == modeCST) {
		if v := d.variable(od.EntryTargetTorque); v != nil {
			torque = v.Int()
		}
	}
	if v := d.variable(od.EntryTorqueActual); v != nil {
		_ = v.PutInt(torque)
	}
}
