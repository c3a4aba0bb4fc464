package motion

import (
	"context"
	"sync"
	"testing"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/link/virtual"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/od"
	"github.com/samsamfire/goethercat/pkg/sdo"
	"github.com/samsamfire/goethercat/pkg/sim"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.SetLevel(log.DebugLevel)
}

var rxMapping = []config.PDOMappingParameter{
	{Index: od.EntryControlWord, Subindex: 0, LengthBits: 16},
	{Index: od.EntryTargetVelocity, Subindex: 0, LengthBits: 32},
	{Index: od.EntryTargetTorque, Subindex: 0, LengthBits: 16},
	{Index: od.EntryModesOfOperation, Subindex: 0, LengthBits: 8},
}

var txMapping = []config.PDOMappingParameter{
	{Index: od.EntryStatusWord, Subindex: 0, LengthBits: 16},
	{Index: od.EntryVelocityActual, Subindex: 0, LengthBits: 32},
	{Index: od.EntryModesDisplay, Subindex: 0, LengthBits: 8},
}

// commandLog records the commands issued by a drive
type commandLog struct {
	mu       sync.Mutex
	commands []Command
}

func (l *commandLog) record(c Command) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = append(l.commands, c)
}

func (l *commandLog) since(n int) []Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Command(nil), l.commands[n:]...)
}

func (l *commandLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.commands)
}

func createDrive(t *testing.T, adapter string) (*sim.Slave, *master.Session, *Drive, *commandLog) {
	t.Helper()
	servo := sim.NewServo("Y7-Servo")
	virtual.Attach(adapter, "virtual "+adapter, sim.NewSegment(servo))
	t.Cleanup(func() { virtual.Detach(adapter) })
	m := master.NewMaster(master.Options{
		Drivers:      []string{virtual.DriverName},
		SDOTimeout:   20 * time.Millisecond,
		StateTimeout: 200 * time.Millisecond,
	})
	session, err := m.Open(adapter)
	assert.Nil(t, err)
	t.Cleanup(func() { _ = session.Close() })
	drive := NewDrive(session, 0, Options{StatusPolls: 50, PollInterval: 2 * time.Millisecond}, nil)
	commands := &commandLog{}
	drive.OnCommand(commands.record)
	return servo, session, drive, commands
}

func controlWord(cw uint16) []byte {
	value, _ := od.EncodeUint(uint32(cw), od.Width16)
	return value
}

func TestDecodeStatusWord(t *testing.T) {
	assert.Equal(t, Disabled, DecodeStatusWord(0x0240))
	assert.Equal(t, Ready, DecodeStatusWord(0x0221))
	assert.Equal(t, Ready, DecodeStatusWord(0x0223))
	assert.Equal(t, Enabled, DecodeStatusWord(0x0227))
	assert.Equal(t, Enabled, DecodeStatusWord(0x1637))
	assert.Equal(t, Faulted, DecodeStatusWord(0x0208))
	assert.Equal(t, Faulted, DecodeStatusWord(0x021F))
	assert.Equal(t, Disabled, DecodeStatusWord(0))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("pv")
	assert.Nil(t, err)
	assert.Equal(t, ProfileVelocity, mode)
	mode, err = ParseMode("10")
	assert.Nil(t, err)
	assert.Equal(t, CyclicSyncTorque, mode)
	_, err = ParseMode("5")
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	_, err = ParseMode("fast")
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestMoveSequence(t *testing.T) {
	servo, session, drive, commands := createDrive(t, "motion0")
	slaves, err := session.EnumerateSlaves()
	assert.Nil(t, err)
	assert.Equal(t, "Y7-Servo", slaves[0].Name)

	t.Run("mode needs preop", func(t *testing.T) {
		err := drive.SetMode(ProfileVelocity)
		assert.ErrorIs(t, err, ethercat.ErrInvalidStateForOperation)
		assert.Equal(t, 0, commands.len())
	})
	_, err = session.RequestState(ethercat.StatePreOperational)
	assert.Nil(t, err)

	t.Run("mode", func(t *testing.T) {
		assert.Nil(t, drive.SetMode(ProfileVelocity))
		mode, _ := servo.Value(od.EntryModesOfOperation, 0)
		assert.EqualValues(t, ProfileVelocity, mode)
		assert.Equal(t, ProfileVelocity, drive.Mode())
	})
	t.Run("velocity needs an enabled drive", func(t *testing.T) {
		_, err := drive.SetTargetVelocity(100)
		assert.ErrorIs(t, err, ErrNotEnabled)
	})
	t.Run("enable over sdo", func(t *testing.T) {
		n := commands.len()
		assert.Nil(t, drive.Enable())
		assert.Equal(t, Enabled, drive.State())
		assert.EqualValues(t, 0x0227, servo.StatusWord())
		issued := commands.since(n)
		assert.Len(t, issued, 3)
		for i, cw := range []uint16{ControlWordShutdown, ControlWordSwitchOn, ControlWordEnableOperation} {
			assert.Equal(t, od.EntryControlWord, issued[i].Index)
			assert.Equal(t, controlWord(cw), issued[i].Value)
			assert.Equal(t, ChannelSDO, issued[i].Channel)
		}
	})
	t.Run("enable when enabled is a no-op", func(t *testing.T) {
		n := commands.len()
		assert.Nil(t, drive.Enable())
		assert.Equal(t, n, commands.len())
		assert.Equal(t, Enabled, drive.State())
	})
	t.Run("velocity over sdo outside op", func(t *testing.T) {
		channel, err := drive.SetTargetVelocity(100)
		assert.Nil(t, err)
		assert.Equal(t, ChannelSDO, channel)
		velocity, _ := servo.Value(od.EntryTargetVelocity, 0)
		assert.EqualValues(t, 100, velocity)
	})

	assert.Nil(t, session.ConfigurePDO(0, rxMapping, txMapping))
	_, err = session.RequestState(ethercat.StateOperational)
	assert.Nil(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- session.Run(ctx, time.Millisecond, 10*time.Millisecond)
	}()
	assert.Eventually(t, func() bool {
		state, err := drive.Refresh()
		return err == nil && state == Enabled
	}, time.Second, 5*time.Millisecond)

	t.Run("velocity over pdo in op", func(t *testing.T) {
		frames := commands.len()
		channel, err := drive.SetTargetVelocity(500)
		assert.Nil(t, err)
		assert.Equal(t, ChannelPDO, channel)
		issued := commands.since(frames)
		assert.Len(t, issued, 1)
		assert.Equal(t, ChannelPDO, issued[0].Channel)
		assert.Eventually(t, func() bool {
			velocity, _ := servo.Value(od.EntryVelocityActual, 0)
			return velocity == 500
		}, time.Second, 5*time.Millisecond)
	})
	t.Run("disable zeroes targets first", func(t *testing.T) {
		n := commands.len()
		assert.Nil(t, drive.Disable())
		issued := commands.since(n)
		assert.Len(t, issued, 3)
		assert.Equal(t, od.EntryTargetVelocity, issued[0].Index)
		assert.Equal(t, []byte{0, 0, 0, 0}, issued[0].Value)
		assert.Equal(t, od.EntryTargetTorque, issued[1].Index)
		assert.Equal(t, []byte{0, 0}, issued[1].Value)
		assert.Equal(t, od.EntryControlWord, issued[2].Index)
		assert.Equal(t, controlWord(ControlWordShutdown), issued[2].Value)
		for _, command := range issued {
			assert.Equal(t, ChannelPDO, command.Channel)
		}
		assert.Eventually(t, func() bool {
			return servo.StatusWord() == 0x0221
		}, time.Second, 5*time.Millisecond)
		velocity, _ := servo.Value(od.EntryVelocityActual, 0)
		assert.EqualValues(t, 0, velocity)
	})
	t.Run("enable over pdo", func(t *testing.T) {
		n := commands.len()
		assert.Nil(t, drive.Enable())
		for _, command := range commands.since(n) {
			assert.Equal(t, ChannelPDO, command.Channel)
		}
		assert.EqualValues(t, 0x0227, servo.StatusWord())
	})

	cancel()
	assert.Nil(t, <-done)
	assert.Equal(t, ethercat.StatePreOperational, session.State())
}

func TestEnableFailures(t *testing.T) {
	servo, session, drive, _ := createDrive(t, "motion1")
	_, err := session.RequestState(ethercat.StatePreOperational)
	assert.Nil(t, err)

	t.Run("stuck control word", func(t *testing.T) {
		servo.SetIgnoreControlWord(true)
		defer servo.SetIgnoreControlWord(false)
		err := drive.Enable()
		assert.ErrorIs(t, err, ethercat.ErrEnableSequenceFailed)
		var enableErr *EnableSequenceError
		assert.ErrorAs(t, err, &enableErr)
		assert.Equal(t, StageShutdown, enableErr.Stage)
		assert.EqualValues(t, 0x0240, enableErr.StatusWord)
		assert.Equal(t, Disabled, drive.State())
	})
	t.Run("fault", func(t *testing.T) {
		servo.InjectFault(0x7500)
		err := drive.Enable()
		assert.ErrorIs(t, err, ethercat.ErrEnableSequenceFailed)
		assert.Equal(t, Faulted, drive.State())
		_, err = drive.SetTargetTorque(10)
		assert.ErrorIs(t, err, ErrNotEnabled)
	})
	t.Run("reset fault", func(t *testing.T) {
		assert.Nil(t, drive.ResetFault())
		assert.Equal(t, Disabled, drive.State())
		code, _ := servo.Value(od.EntryErrorCode, 0)
		assert.EqualValues(t, 0, code)
		assert.Nil(t, drive.ResetFault())
		assert.Nil(t, drive.Enable())
		assert.Equal(t, Enabled, drive.State())
	})
	t.Run("torque over sdo", func(t *testing.T) {
		assert.Nil(t, drive.SetMode(ProfileTorque))
		channel, err := drive.SetTargetTorque(-120)
		assert.Nil(t, err)
		assert.Equal(t, ChannelSDO, channel)
		torque, _ := servo.Value(od.EntryTorqueActual, 0)
		assert.EqualValues(t, -120, torque)
		assert.Nil(t, drive.Disable())
		torque, _ = servo.Value(od.EntryTorqueActual, 0)
		assert.EqualValues(t, 0, torque)
		assert.EqualValues(t, 0x0221, servo.StatusWord())
	})
}

func TestModeReapplied(t *testing.T) {
	servo, session, drive, commands := createDrive(t, "motion2")
	_, err := session.RequestState(ethercat.StatePreOperational)
	assert.Nil(t, err)

	t.Run("invalid modes", func(t *testing.T) {
		assert.ErrorIs(t, drive.SetMode(Mode(5)), ErrUnsupportedMode)
		assert.Equal(t, 0, commands.len())
		assert.ErrorIs(t, drive.SetMode(NoMode), sdo.AbortInvalidValue)
	})

	assert.Nil(t, drive.SetMode(CyclicSyncVelocity))
	assert.Nil(t, session.ConfigurePDO(0, rxMapping, txMapping))
	_, err = session.RequestState(ethercat.StateOperational)
	assert.Nil(t, err)
	_, err = session.RequestState(ethercat.StatePreOperational)
	assert.Nil(t, err)

	// the drive lost its mode while the bus was cycled
	mode, err := servo.OD().Lookup(od.EntryModesOfOperation, 0)
	assert.Nil(t, err)
	assert.Nil(t, mode.PutInt(0))

	n := commands.len()
	assert.Nil(t, drive.Enable())
	issued := commands.since(n)
	assert.Equal(t, od.EntryModesOfOperation, issued[0].Index)
	assert.Equal(t, []byte{byte(CyclicSyncVelocity)}, issued[0].Value)
	value, _ := servo.Value(od.EntryModesOfOperation, 0)
	assert.EqualValues(t, CyclicSyncVelocity, value)
}

// staticBus is a PreOp bus whose status word never changes
type staticBus struct {
	statusWord uint16
	writes     int
}

func (b *staticBus) State() ethercat.BusState { return ethercat.StatePreOperational }

func (b *staticBus) Read(position int, index uint16, subindex uint8, width od.Width) ([]byte, error) {
	if index != od.EntryStatusWord {
		return nil, sdo.AbortNotExist
	}
	return controlWord(b.statusWord), nil
}

func (b *staticBus) Write(position int, index uint16, subindex uint8, value []byte) error {
	b.writes++
	return nil
}

func (b *staticBus) WriteOutput(position int, index uint16, subindex uint8, value []byte) error {
	return ethercat.ErrInvalidStateForOperation
}

func (b *staticBus) ReadInput(position int, index uint16, subindex uint8) ([]byte, error) {
	return nil, ethercat.ErrInvalidStateForOperation
}

func (b *staticBus) IsOutputMapped(int, uint16, uint8) bool                   { return false }
func (b *staticBus) IsInputMapped(int, uint16, uint8) bool                    { return false }
func (b *staticBus) OnStateChange(func(ethercat.BusState, ethercat.BusState)) {}

func TestEnableDuringFaultReaction(t *testing.T) {
	for _, sw := range []uint16{0x021F, 0x000F, 0x0218} {
		bus := &staticBus{statusWord: sw}
		drive := NewDrive(bus, 0, Options{StatusPolls: 3, PollInterval: time.Millisecond}, nil)
		err := drive.Enable()
		assert.ErrorIs(t, err, ethercat.ErrEnableSequenceFailed)
		var enableErr *EnableSequenceError
		assert.ErrorAs(t, err, &enableErr)
		assert.Equal(t, StageShutdown, enableErr.Stage)
		assert.Equal(t, sw, enableErr.StatusWord)
		assert.Equal(t, Faulted, drive.State())
		assert.Equal(t, 0, bus.writes, "x%04x", sw)
	}
}
