package sim

import (
	"encoding/binary"
	"testing"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/ecfr"
	"github.com/samsamfire/goethercat/pkg/esc"
	"github.com/samsamfire/goethercat/pkg/od"
	"github.com/samsamfire/goethercat/pkg/sdo"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.SetLevel(log.DebugLevel)
}

func exchange(t *testing.T, seg *Segment, dgs ...*ecfr.Datagram) []*ecfr.Datagram {
	t.Helper()
	frame := ecfr.Frame{Datagrams: dgs}
	payload, err := frame.MarshalBinary()
	assert.Nil(t, err)
	if !seg.Process(payload) {
		return nil
	}
	reply := ecfr.Frame{}
	assert.Nil(t, reply.UnmarshalBinary(payload))
	return reply.Datagrams
}

func u16(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

func createSegment(t *testing.T, names ...string) *Segment {
	t.Helper()
	seg := NewSegment()
	for i, name := range names {
		seg.Add(NewServo(name))
		adp := uint16(-i)
		reply := exchange(t, seg, ecfr.NewDatagram(ecfr.APWR, adp, esc.ConfiguredStationAddress, u16(uint16(0x1001+i))))
		assert.EqualValues(t, 1, reply[0].WorkingCounter)
	}
	return seg
}

func configureMailbox(t *testing.T, seg *Segment, station uint16) {
	sm0, _ := esc.SyncManager{PhysStart: mailboxOutStart, Length: mailboxSize, Control: esc.SyncManagerCtrlMailboxOut, Activate: 1}.MarshalBinary()
	sm1, _ := esc.SyncManager{PhysStart: mailboxInStart, Length: mailboxSize, Control: esc.SyncManagerCtrlMailboxIn, Activate: 1}.MarshalBinary()
	reply := exchange(t, seg, ecfr.NewDatagram(ecfr.FPWR, station, esc.SyncManagerAddr(0), append(sm0, sm1...)))
	assert.EqualValues(t, 1, reply[0].WorkingCounter)
}

func requestState(t *testing.T, seg *Segment, state ethercat.BusState) {
	exchange(t, seg, ecfr.NewDatagram(ecfr.BWR, 0, esc.ALControl, u16(uint16(state))))
}

func TestAddressing(t *testing.T) {
	seg := createSegment(t, "Y7-Servo", "Y7-Servo-2")
	t.Run("broadcast counts slaves", func(t *testing.T) {
		reply := exchange(t, seg, ecfr.NewDatagram(ecfr.BRD, 0, esc.Type, make([]byte, 2)))
		assert.EqualValues(t, 2, reply[0].WorkingCounter)
	})
	t.Run("fixed address", func(t *testing.T) {
		reply := exchange(t, seg, ecfr.NewDatagram(ecfr.FPRD, 0x1002, esc.ConfiguredStationAddress, make([]byte, 2)))
		assert.EqualValues(t, 1, reply[0].WorkingCounter)
		assert.EqualValues(t, 0x1002, binary.LittleEndian.Uint16(reply[0].Data))
		reply = exchange(t, seg, ecfr.NewDatagram(ecfr.FPRD, 0x1003, esc.ConfiguredStationAddress, make([]byte, 2)))
		assert.EqualValues(t, 0, reply[0].WorkingCounter)
	})
	t.Run("muted slave", func(t *testing.T) {
		seg.Slaves()[1].SetMuted(true)
		defer seg.Slaves()[1].SetMuted(false)
		reply := exchange(t, seg, ecfr.NewDatagram(ecfr.BRD, 0, esc.Type, make([]byte, 2)))
		assert.EqualValues(t, 1, reply[0].WorkingCounter)
	})
	t.Run("dropped frames", func(t *testing.T) {
		seg.DropFrames(1)
		assert.Nil(t, exchange(t, seg, ecfr.NewDatagram(ecfr.BRD, 0, esc.Type, make([]byte, 2))))
		assert.NotNil(t, exchange(t, seg, ecfr.NewDatagram(ecfr.BRD, 0, esc.Type, make([]byte, 2))))
	})
}

func TestEEPROM(t *testing.T) {
	seg := createSegment(t, "Y7-Servo")
	read := func(addr uint32) uint32 {
		data := append(u16(esc.EEPROMCommandRead), binary.LittleEndian.AppendUint32(nil, addr)...)
		exchange(t, seg, ecfr.NewDatagram(ecfr.FPWR, 0x1001, esc.EEPROMControlStatus, data))
		reply := exchange(t, seg, ecfr.NewDatagram(ecfr.FPRD, 0x1001, esc.EEPROMData, make([]byte, 4)))
		return binary.LittleEndian.Uint32(reply[0].Data)
	}
	assert.Equal(t, od.ServoVendorId, read(esc.SIIVendorId))
	assert.Equal(t, od.ServoProductCode, read(esc.SIIProductCode))
	assert.EqualValues(t, mailboxSize, read(esc.SIIStdRxMailboxSize)&0xFFFF)
	assert.EqualValues(t, esc.CategoryStrings, read(esc.SIIFirstCategory)&0xFFFF)
}

func TestStateMachine(t *testing.T) {
	seg := createSegment(t, "Y7-Servo")
	slave := seg.Slaves()[0]

	t.Run("preop needs mailbox", func(t *testing.T) {
		requestState(t, seg, ethercat.StatePreOperational)
		assert.Equal(t, ethercat.StateInit, slave.State())
		assert.Equal(t, esc.ALCodeInvalidMailboxConfig, slave.StatusCode())
	})
	t.Run("error needs acknowledge", func(t *testing.T) {
		configureMailbox(t, seg, 0x1001)
		requestState(t, seg, ethercat.StatePreOperational)
		assert.Equal(t, ethercat.StateInit, slave.State())
		exchange(t, seg, ecfr.NewDatagram(ecfr.BWR, 0, esc.ALControl, u16(uint16(ethercat.StatePreOperational)|uint16(ethercat.StateErrorFlag))))
		assert.Equal(t, ethercat.StatePreOperational, slave.State())
	})
	t.Run("safeop without mapping", func(t *testing.T) {
		requestState(t, seg, ethercat.StateSafeOperational)
		assert.Equal(t, ethercat.StateSafeOperational, slave.State())
	})
	t.Run("op without mapping is refused", func(t *testing.T) {
		requestState(t, seg, ethercat.StateOperational)
		assert.Equal(t, ethercat.StateSafeOperational, slave.State())
		assert.Equal(t, esc.ALCodeInvalidOutputConfig, slave.StatusCode())
	})
	t.Run("back to init", func(t *testing.T) {
		requestState(t, seg, ethercat.StateInit)
		assert.Equal(t, ethercat.StateInit, slave.State())
		assert.Equal(t, esc.ALCodeNoError, slave.StatusCode())
	})
}

func sdoRequest(t *testing.T, seg *Segment, request sdo.SDOMessage) sdo.SDOMessage {
	raw, err := sdo.EncodeMailbox(mailboxSize, 1, sdo.ServiceSDORequest, request.Bytes())
	assert.Nil(t, err)
	exchange(t, seg, ecfr.NewDatagram(ecfr.FPWR, 0x1001, mailboxOutStart, raw))
	status := exchange(t, seg, ecfr.NewDatagram(ecfr.FPRD, 0x1001, esc.SyncManagerAddr(1)+esc.SyncManagerStatusOffset, make([]byte, 1)))
	assert.NotZero(t, status[0].Data[0]&esc.SyncManagerMailboxFull)
	reply := exchange(t, seg, ecfr.NewDatagram(ecfr.FPRD, 0x1001, mailboxInStart, make([]byte, mailboxSize)))
	msg, err := sdo.DecodeMailbox(reply[0].Data)
	assert.Nil(t, err)
	response, err := sdo.NewSDOMessage(msg.Payload)
	assert.Nil(t, err)
	return response
}

func TestSDOServer(t *testing.T) {
	seg := createSegment(t, "Y7-Servo")
	configureMailbox(t, seg, 0x1001)
	requestState(t, seg, ethercat.StatePreOperational)

	t.Run("upload status word", func(t *testing.T) {
		response := sdoRequest(t, seg, sdo.NewUploadRequest(od.EntryStatusWord, 0))
		data, err := response.ExpeditedData()
		assert.Nil(t, err)
		assert.Equal(t, u16(swSwitchOnDisabled), data)
	})
	t.Run("aborts", func(t *testing.T) {
		response := sdoRequest(t, seg, sdo.NewUploadRequest(0x2000, 0))
		assert.True(t, response.IsAbort())
		assert.Equal(t, sdo.AbortNotExist, response.AbortCode())
		request, _ := sdo.NewDownloadRequest(od.EntryStatusWord, 0, u16(0))
		response = sdoRequest(t, seg, request)
		assert.Equal(t, sdo.AbortReadOnly, response.AbortCode())
		request, _ = sdo.NewDownloadRequest(od.EntryControlWord, 0, []byte{1})
		response = sdoRequest(t, seg, request)
		assert.Equal(t, sdo.AbortTypeMismatch, response.AbortCode())
		request, _ = sdo.NewDownloadRequest(od.EntryModesOfOperation, 0, []byte{2})
		response = sdoRequest(t, seg, request)
		assert.Equal(t, sdo.AbortInvalidValue, response.AbortCode())
	})
	t.Run("control word drives state machine", func(t *testing.T) {
		for _, step := range []struct {
			cw uint16
			sw uint16
		}{{0x06, swReadyToSwitchOn}, {0x07, swSwitchedOn}, {0x0F, swOperationEnabled}, {0x06, swReadyToSwitchOn}} {
			request, _ := sdo.NewDownloadRequest(od.EntryControlWord, 0, u16(step.cw))
			response := sdoRequest(t, seg, request)
			assert.False(t, response.IsAbort())
			assert.Equal(t, step.sw, seg.Slaves()[0].StatusWord())
		}
	})
	t.Run("fault and reset", func(t *testing.T) {
		slave := seg.Slaves()[0]
		slave.InjectFault(0x7500)
		assert.Equal(t, swFault, slave.StatusWord())
		// emergency is waiting in the mailbox
		reply := exchange(t, seg, ecfr.NewDatagram(ecfr.FPRD, 0x1001, mailboxInStart, make([]byte, mailboxSize)))
		msg, err := sdo.DecodeMailbox(reply[0].Data)
		assert.Nil(t, err)
		assert.Equal(t, sdo.ServiceEmergency, msg.Service)
		request, _ := sdo.NewDownloadRequest(od.EntryControlWord, 0, u16(0x80))
		sdoRequest(t, seg, request)
		assert.Equal(t, swSwitchOnDisabled, slave.StatusWord())
		code, _ := slave.Value(od.EntryErrorCode, 0)
		assert.EqualValues(t, 0, code)
	})
}

func TestDriveModel(t *testing.T) {
	dictionary := od.DefaultServo()
	d := newDrive(dictionary, log.NewEntry(log.StandardLogger()))
	cw, _ := dictionary.Lookup(od.EntryControlWord, 0)
	mode, _ := dictionary.Lookup(od.EntryModesOfOperation, 0)
	target, _ := dictionary.Lookup(od.EntryTargetVelocity, 0)
	actual, _ := dictionary.Lookup(od.EntryVelocityActual, 0)

	assert.True(t, d.supportsMode(modeCSV))
	assert.False(t, d.supportsMode(2))
	_ = mode.PutInt(int32(modeProfileVelocity))
	_ = target.PutInt(500)
	for _, c := range []uint32{0x06, 0x07, 0x0F} {
		_ = cw.PutUint(c)
		d.tick()
	}
	assert.Equal(t, swOperationEnabled, d.statusWord())
	assert.EqualValues(t, 500, actual.Int())

	// 0x0F straight from switch on disabled is not a valid transition
	_ = cw.PutUint(0)
	d.tick()
	_ = cw.PutUint(0x0F)
	d.tick()
	assert.Equal(t, swSwitchOnDisabled, d.statusWord())
	assert.EqualValues(t, 0, actual.Int())

	d.ignoreControlWord = true
	_ = cw.PutUint(0x06)
	d.tick()
	assert.Equal(t, swSwitchOnDisabled, d.statusWord())
}
