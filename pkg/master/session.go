package master

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/ecfr"
	"github.com/samsamfire/goethercat/pkg/esc"
	"github.com/samsamfire/goethercat/pkg/link"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	ErrNoResponse     = errors.New("no response frame")
	ErrWorkingCounter = errors.New("unexpected working counter")
	ErrUnknownSlave   = errors.New("no slave at this position")
	ErrEEPROMBusy     = errors.New("eeprom busy")
)

const (
	FirstStationAddress    uint16 = 0x1001
	fmmuClearLen                  = 3 * esc.FMMULen
	syncManagerClearLen           = 4 * esc.SyncManagerLen
	eepromBusyPollAttempts        = 10
)

// Session is an open master on one adapter.
// All frame exchanges are serialized, a whole SDO transfer or process
// data exchange holds the session for its duration.
type Session struct {
	mu      sync.Mutex
	master  *Master
	adapter link.Adapter
	link    link.Link
	options Options
	logger  *log.Entry
	slaves  []*Slave
	state   ethercat.BusState
	// Error flag seen in AL status, next state request acknowledges it
	alError  bool
	closed   bool
	linkLost bool
	index    uint8

	listenersMu sync.Mutex
	listeners   []func(old ethercat.BusState, new ethercat.BusState)

	// Process image, buffers of every slave are guarded by pdoMu
	pdoMu       sync.RWMutex
	outputsSize int
	inputsSize  int
	expectedWkc uint16
	missed      int
}

func newSession(m *Master, adapter link.Adapter, lnk link.Link) *Session {
	return &Session{
		master:  m,
		adapter: adapter,
		link:    lnk,
		options: m.options,
		logger:  m.logger.WithField("adapter", adapter.Name),
		state:   ethercat.StateUnknown,
	}
}

func (s *Session) Adapter() link.Adapter {
	return s.adapter
}

// State returns the bus state as last read back
func (s *Session) State() ethercat.BusState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// checkUsable is called with s.mu held
func (s *Session) checkUsable() error {
	if s.closed {
		return ethercat.ErrSessionClosed
	}
	if s.linkLost {
		return ethercat.ErrLinkLost
	}
	return nil
}

// EnumerateSlaves returns the slaves found when the session was opened, in bus order
func (s *Session) EnumerateSlaves() ([]*Slave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ethercat.ErrSessionClosed
	}
	if len(s.slaves) == 0 {
		return nil, ethercat.ErrNoSlavesFound
	}
	return append([]*Slave(nil), s.slaves...), nil
}

// Slave returns the slave at position
func (s *Session) Slave(position int) (*Slave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slave(position)
}

func (s *Session) slave(position int) (*Slave, error) {
	if position < 0 || position >= len(s.slaves) {
		return nil, fmt.Errorf("%w : %w %d", ethercat.ErrSlaveUnreachable, ErrUnknownSlave, position)
	}
	return s.slaves[position], nil
}

// Close forces the bus to Init and releases the adapter.
// Calling Close twice returns [ethercat.ErrAlreadyClosed].
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ethercat.ErrAlreadyClosed
	}
	var errs error
	old := s.state
	if !s.linkLost && len(s.slaves) > 0 && s.state != ethercat.StateInit {
		control := uint16(ethercat.StateInit) | uint16(ethercat.StateErrorFlag)
		if _, err := s.bwr(esc.ALControl, binary.LittleEndian.AppendUint16(nil, control)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("forcing init : %w", err))
		} else {
			s.state = ethercat.StateInit
		}
	}
	s.closed = true
	errs = multierr.Append(errs, s.link.Close())
	s.master.release(s.adapter.Name)
	current := s.state
	s.mu.Unlock()
	s.notify(old, current)
	s.logger.Infof("[MASTER] session closed")
	return errs
}

// transceive sends datagrams in one frame and waits for the same frame
// to come back. Called with s.mu held.
func (s *Session) transceive(timeout time.Duration, datagrams ...*ecfr.Datagram) ([]*ecfr.Datagram, error) {
	// every datagram of the frame gets its own index
	first := s.index + 1
	for i, dg := range datagrams {
		dg.Index = first + uint8(i)
	}
	s.index += uint8(len(datagrams))
	frame := ecfr.Frame{Datagrams: datagrams}
	payload, err := frame.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := s.link.Send(ecfr.EncodeETHFrame(ecfr.Broadcast, s.link.HardwareAddr(), payload)); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNoResponse
		}
		raw, err := s.link.Recv(remaining)
		if errors.Is(err, link.ErrRecvTimeout) {
			return nil, ErrNoResponse
		}
		if err != nil {
			return nil, err
		}
		_, rxPayload, err := ecfr.DecodeETHFrame(raw)
		if err != nil {
			continue
		}
		reply := ecfr.Frame{}
		if err := reply.UnmarshalBinary(rxPayload); err != nil {
			s.logger.Debugf("[MASTER] discarding frame : %v", err)
			continue
		}
		if len(reply.Datagrams) != len(datagrams) || reply.Datagrams[0].Index != first {
			s.logger.Debugf("[MASTER] discarding stale frame")
			continue
		}
		return reply.Datagrams, nil
	}
}

// single datagram helpers, they return the working counter
func (s *Session) command(cmd ecfr.CommandType, adp uint16, ado uint16, data []byte) ([]byte, uint16, error) {
	reply, err := s.transceive(s.options.FrameTimeout, ecfr.NewDatagram(cmd, adp, ado, data))
	if err != nil {
		return nil, 0, err
	}
	return reply[0].Data, reply[0].WorkingCounter, nil
}

func (s *Session) bwr(ado uint16, data []byte) (uint16, error) {
	_, wkc, err := s.command(ecfr.BWR, 0, ado, data)
	return wkc, err
}

func (s *Session) fprd(station uint16, ado uint16, length int) ([]byte, error) {
	data, wkc, err := s.command(ecfr.FPRD, station, ado, make([]byte, length))
	if err != nil {
		return nil, err
	}
	if wkc != 1 {
		return nil, fmt.Errorf("%w : FPRD x%x|x%x returned %d", ErrWorkingCounter, station, ado, wkc)
	}
	return data, nil
}

func (s *Session) fpwr(station uint16, ado uint16, data []byte) error {
	_, wkc, err := s.command(ecfr.FPWR, station, ado, data)
	if err != nil {
		return err
	}
	if wkc != 1 {
		return fmt.Errorf("%w : FPWR x%x|x%x returned %d", ErrWorkingCounter, station, ado, wkc)
	}
	return nil
}

// configInit counts slaves, assigns station addresses and reads their SII
func (s *Session) configInit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, count, err := s.command(ecfr.BRD, 0, esc.Type, make([]byte, 2))
	if errors.Is(err, ErrNoResponse) {
		s.logger.Warnf("[MASTER] no frame came back, assuming an empty segment")
		s.state = ethercat.StateInit
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Infof("[MASTER] %d slaves detected", count)
	if count == 0 {
		s.state = ethercat.StateInit
		return nil
	}

	// Reset to init with error acknowledge, clear FMMUs and sync managers
	control := uint16(ethercat.StateInit) | uint16(ethercat.StateErrorFlag)
	if _, err := s.bwr(esc.ALControl, binary.LittleEndian.AppendUint16(nil, control)); err != nil {
		return err
	}
	if _, err := s.bwr(esc.FMMUBase, make([]byte, fmmuClearLen)); err != nil {
		return err
	}
	if _, err := s.bwr(esc.SyncManagerBase, make([]byte, syncManagerClearLen)); err != nil {
		return err
	}

	for position := 0; position < int(count); position++ {
		address := FirstStationAddress + uint16(position)
		adp := uint16(-position)
		_, wkc, err := s.command(ecfr.APWR, adp, esc.ConfiguredStationAddress, binary.LittleEndian.AppendUint16(nil, address))
		if err != nil {
			return err
		}
		if wkc != 1 {
			return fmt.Errorf("%w : station address of slave %d", ErrWorkingCounter, position)
		}
		slave := &Slave{Position: position, Address: address}
		if err := s.readSII(slave); err != nil {
			return fmt.Errorf("slave %d : %w", position, err)
		}
		slave.dictionary = s.master.dictionary(slave.Identity)
		if slave.dictionary == nil {
			s.logger.Warnf("[MASTER] no dictionary for slave %d (%v), accesses will not be validated", position, slave.Identity)
		}
		if err := s.configureMailbox(slave); err != nil {
			return fmt.Errorf("slave %d : %w", position, err)
		}
		s.logger.Infof("[MASTER] slave %d at x%x : %v, %v", position, address, slave.Name, slave.Identity)
		s.slaves = append(s.slaves, slave)
	}
	actual, _, err := s.readStates()
	if err != nil {
		return err
	}
	s.state = actual
	return nil
}

// readSIIWords reads two consecutive EEPROM words at word address
func (s *Session) readSIIWords(station uint16, address uint16) (uint32, error) {
	cmd := binary.LittleEndian.AppendUint16(nil, esc.EEPROMCommandRead)
	cmd = binary.LittleEndian.AppendUint32(cmd, uint32(address))
	if err := s.fpwr(station, esc.EEPROMControlStatus, cmd); err != nil {
		return 0, err
	}
	for i := 0; ; i++ {
		status, err := s.fprd(station, esc.EEPROMControlStatus, 2)
		if err != nil {
			return 0, err
		}
		ctrl := binary.LittleEndian.Uint16(status)
		if ctrl&esc.EEPROMErrorMask != 0 {
			return 0, fmt.Errorf("eeprom error x%x reading word x%x", ctrl, address)
		}
		if ctrl&esc.EEPROMBusy == 0 {
			break
		}
		if i >= eepromBusyPollAttempts {
			return 0, ErrEEPROMBusy
		}
	}
	data, err := s.fprd(station, esc.EEPROMData, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (s *Session) readSII(slave *Slave) error {
	read := func(address uint16) (uint32, error) {
		return s.readSIIWords(slave.Address, address)
	}
	var err error
	if slave.Identity.VendorId, err = read(esc.SIIVendorId); err != nil {
		return err
	}
	if slave.Identity.ProductCode, err = read(esc.SIIProductCode); err != nil {
		return err
	}
	if slave.Identity.RevisionNumber, err = read(esc.SIIRevisionNumber); err != nil {
		return err
	}
	if slave.Identity.SerialNumber, err = read(esc.SIISerialNumber); err != nil {
		return err
	}
	rx, err := read(esc.SIIStdRxMailboxStart)
	if err != nil {
		return err
	}
	tx, err := read(esc.SIIStdTxMailboxStart)
	if err != nil {
		return err
	}
	protocols, err := read(esc.SIIMailboxProtocol)
	if err != nil {
		return err
	}
	slave.Mailbox = MailboxConfig{
		RxOffset:  uint16(rx),
		RxSize:    uint16(rx >> 16),
		TxOffset:  uint16(tx),
		TxSize:    uint16(tx >> 16),
		Protocols: uint16(protocols),
	}
	slave.Name = s.readSIIName(slave.Address)
	if slave.Name == "" {
		slave.Name = fmt.Sprintf("slave %d", slave.Position)
	}
	return nil
}

// readSIIName walks the SII categories for the device name
func (s *Session) readSIIName(station uint16) string {
	var strs []string
	nameIndex := -1
	address := uint16(esc.SIIFirstCategory)
	for address < esc.SIIMaxWordAddress && (strs == nil || nameIndex < 0) {
		header, err := s.readSIIWords(station, address)
		if err != nil {
			s.logger.Warnf("[MASTER] reading sii category at x%x : %v", address, err)
			return ""
		}
		categoryType, size := uint16(header), uint16(header>>16)
		if categoryType == esc.CategoryEnd {
			break
		}
		switch categoryType {
		case esc.CategoryStrings:
			data := make([]byte, 0, int(size)*2+2)
			for w := uint16(0); w < size; w += 2 {
				words, err := s.readSIIWords(station, address+2+w)
				if err != nil {
					return ""
				}
				data = binary.LittleEndian.AppendUint32(data, words)
			}
			strs, err = esc.ParseStrings(data[:int(size)*2])
			if err != nil {
				s.logger.Warnf("[MASTER] %v", err)
				return ""
			}
		case esc.CategoryGeneral:
			words, err := s.readSIIWords(station, address+2+esc.GeneralNameIndexOffset/2)
			if err != nil {
				return ""
			}
			nameIndex = int(words >> (8 * (esc.GeneralNameIndexOffset % 2)) & 0xFF)
		}
		address += 2 + size
	}
	if nameIndex <= 0 || nameIndex > len(strs) {
		return ""
	}
	return strs[nameIndex-1]
}

// configureMailbox sets up SM0 / SM1 for slaves supporting CoE
func (s *Session) configureMailbox(slave *Slave) error {
	mbx := slave.Mailbox
	if !mbx.CoE() {
		s.logger.Debugf("[MASTER] slave %d has no CoE mailbox", slave.Position)
		return nil
	}
	sm0, _ := esc.SyncManager{PhysStart: mbx.RxOffset, Length: mbx.RxSize, Control: esc.SyncManagerCtrlMailboxOut, Activate: 1}.MarshalBinary()
	sm1, _ := esc.SyncManager{PhysStart: mbx.TxOffset, Length: mbx.TxSize, Control: esc.SyncManagerCtrlMailboxIn, Activate: 1}.MarshalBinary()
	if err := s.fpwr(slave.Address, esc.SyncManagerAddr(0), append(sm0, sm1...)); err != nil {
		return err
	}
	slave.client = newSDOClient(s, slave)
	return nil
}
