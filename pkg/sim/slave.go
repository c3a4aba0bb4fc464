package sim

import (
	"encoding/binary"
	"fmt"
	"sync"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/ecfr"
	"github.com/samsamfire/goethercat/pkg/esc"
	"github.com/samsamfire/goethercat/pkg/od"
	"github.com/samsamfire/goethercat/pkg/sdo"
	log "github.com/sirupsen/logrus"
)

const (
	memorySize = 0x1400
	// Mailbox and process data layout advertised in SII
	mailboxOutStart = 0x1000
	mailboxInStart  = 0x1080
	mailboxSize     = 128
	maxFMMU         = 3
)

var serialCounter uint32

// Slave is a simulated EtherCAT slave controller with a CiA402 application
type Slave struct {
	mu       sync.Mutex
	name     string
	identity ethercat.Identity
	od       *od.ObjectDictionary
	logger   *log.Entry
	mem      [memorySize]byte
	eeprom   []uint16
	state    ethercat.BusState
	// Responses waiting in the send mailbox (SM1)
	mailboxQueue [][]byte
	rxMapping    []*od.Variable
	txMapping    []*od.Variable
	muted        bool
	drive        *drive
}

// NewServo creates a slave running the default servo dictionary
func NewServo(name string) *Slave {
	serialCounter++
	dictionary := od.DefaultServo()
	if v, err := dictionary.Lookup(od.EntryIdentity, 4); err == nil {
		_ = v.PutUint(serialCounter)
	}
	return NewSlave(name, dictionary)
}

// NewSlave creates a slave for any dictionary, identity is taken from 0x1018
func NewSlave(name string, dictionary *od.ObjectDictionary) *Slave {
	s := &Slave{
		name:   name,
		od:     dictionary,
		state:  ethercat.StateInit,
		logger: log.WithField("slave", name),
	}
	if entry := dictionary.Index(od.EntryIdentity); entry != nil {
		s.identity.VendorId, _ = entry.Uint32(1)
		s.identity.ProductCode, _ = entry.Uint32(2)
		s.identity.RevisionNumber, _ = entry.Uint32(3)
		s.identity.SerialNumber, _ = entry.Uint32(4)
	}
	s.eeprom = buildEEPROM(name, s.identity)
	s.drive = newDrive(dictionary, s.logger)
	s.setALStatus(ethercat.StateInit, false, esc.ALCodeNoError)
	return s
}

func buildEEPROM(name string, identity ethercat.Identity) []uint16 {
	words := make([]uint16, esc.SIIFirstCategory)
	put32 := func(addr int, v uint32) {
		words[addr] = uint16(v)
		words[addr+1] = uint16(v >> 16)
	}
	put32(esc.SIIVendorId, identity.VendorId)
	put32(esc.SIIProductCode, identity.ProductCode)
	put32(esc.SIIRevisionNumber, identity.RevisionNumber)
	put32(esc.SIISerialNumber, identity.SerialNumber)
	words[esc.SIIStdRxMailboxStart] = mailboxOutStart
	words[esc.SIIStdRxMailboxSize] = mailboxSize
	words[esc.SIIStdTxMailboxStart] = mailboxInStart
	words[esc.SIIStdTxMailboxSize] = mailboxSize
	words[esc.SIIMailboxProtocol] = esc.MailboxProtocolCoE

	appendCategory := func(categoryType uint16, data []byte) {
		if len(data)%2 != 0 {
			data = append(data, 0)
		}
		words = append(words, categoryType, uint16(len(data)/2))
		for i := 0; i < len(data); i += 2 {
			words = append(words, binary.LittleEndian.Uint16(data[i:]))
		}
	}
	appendCategory(esc.CategoryStrings, esc.EncodeStrings([]string{name, "CiA402 drive"}))
	general := make([]byte, 32)
	general[esc.GeneralNameIndexOffset] = 1
	appendCategory(esc.CategoryGeneral, general)
	return append(words, esc.CategoryEnd)
}

func (s *Slave) Name() string {
	return s.name
}

func (s *Slave) Identity() ethercat.Identity {
	return s.identity
}

// OD returns the dictionary served by the slave
func (s *Slave) OD() *od.ObjectDictionary {
	return s.od
}

func (s *Slave) State() ethercat.BusState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StatusCode returns the AL status code register
func (s *Slave) StatusCode() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return binary.LittleEndian.Uint16(s.mem[esc.ALStatusCode:])
}

// SetMuted makes the slave forward frames without processing them
func (s *Slave) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

// SetIgnoreControlWord freezes the drive state machine
func (s *Slave) SetIgnoreControlWord(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drive.ignoreControlWord = ignore
}

// InjectFault puts the drive in fault and queues an emergency with code
func (s *Slave) InjectFault(code uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drive.fault(code)
	emcy := sdo.Emergency{ErrorCode: code, ErrorRegister: 0x01}
	raw, err := sdo.EncodeMailbox(mailboxSize, 0, sdo.ServiceEmergency, emcy.Bytes())
	if err == nil {
		s.mailboxQueue = append(s.mailboxQueue, raw)
	}
}

// StatusWord of the drive (0x6041)
func (s *Slave) StatusWord() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drive.statusWord()
}

// Value returns the current value of (index, subindex) as a signed integer
func (s *Slave) Value(index uint16, subindex uint8) (int32, error) {
	v, err := s.od.Lookup(index, subindex)
	if err != nil {
		return 0, err
	}
	return v.Int(), nil
}

func (s *Slave) stationAddress() uint16 {
	return binary.LittleEndian.Uint16(s.mem[esc.ConfiguredStationAddress:])
}

func (s *Slave) setALStatus(state ethercat.BusState, errorFlag bool, code uint16) {
	s.state = state
	status := uint16(state)
	if errorFlag {
		status |= uint16(ethercat.StateErrorFlag)
	}
	binary.LittleEndian.PutUint16(s.mem[esc.ALStatus:], status)
	binary.LittleEndian.PutUint16(s.mem[esc.ALStatusCode:], code)
}

func (s *Slave) errorIndicated() bool {
	return s.mem[esc.ALStatus]&ethercat.StateErrorFlag != 0
}

func (s *Slave) syncManager(n int) esc.SyncManager {
	sm := esc.SyncManager{}
	addr := esc.SyncManagerAddr(n)
	_ = sm.UnmarshalBinary(s.mem[addr : addr+esc.SyncManagerLen])
	return sm
}

func (s *Slave) fmmu(n int) esc.FMMU {
	f := esc.FMMU{}
	addr := esc.FMMUAddr(n)
	_ = f.UnmarshalBinary(s.mem[addr : addr+esc.FMMULen])
	return f
}

// handle one datagram passing through the slave
func (s *Slave) handle(dg *ecfr.Datagram) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := dg.Command
	addressed := false
	switch {
	case cmd.Positional():
		addressed = dg.SlaveAddr() == 0
		dg.SetSlaveAddr(dg.SlaveAddr() + 1)
	case cmd.Broadcast():
		addressed = true
		dg.SetSlaveAddr(dg.SlaveAddr() + 1)
	case cmd.Fixed():
		addressed = dg.SlaveAddr() == s.stationAddress()
	case cmd.Logical():
		if !s.muted {
			s.handleLogical(dg)
		}
		return
	}
	if !addressed || s.muted {
		return
	}
	start := int(dg.OffsetAddr())
	end := start + len(dg.Data)
	if end > memorySize {
		s.logger.Warnf("[SIM] %v out of slave memory", dg)
		return
	}
	if cmd.Reads() {
		s.beforeRead(start, end)
		if cmd.Broadcast() {
			for i := range dg.Data {
				dg.Data[i] |= s.mem[start+i]
			}
		} else if cmd.Writes() {
			// read and write in one pass, data goes back with old memory
			incoming := append([]byte(nil), dg.Data...)
			copy(dg.Data, s.mem[start:end])
			s.write(start, incoming)
			dg.WorkingCounter += 3
			return
		} else {
			copy(dg.Data, s.mem[start:end])
		}
		s.afterRead(start, end)
		dg.WorkingCounter++
		return
	}
	if cmd.Writes() {
		s.write(start, dg.Data)
		dg.WorkingCounter++
	}
}

func overlaps(start, end, regStart, regLen int) bool {
	return start < regStart+regLen && regStart < end
}

// refresh registers computed on demand
func (s *Slave) beforeRead(start, end int) {
	sm1 := s.syncManager(1)
	statusAddr := int(esc.SyncManagerAddr(1)) + esc.SyncManagerStatusOffset
	if overlaps(start, end, statusAddr, 1) {
		if len(s.mailboxQueue) > 0 && sm1.Enabled() {
			s.mem[statusAddr] |= esc.SyncManagerMailboxFull
		} else {
			s.mem[statusAddr] &^= esc.SyncManagerMailboxFull
		}
	}
	if sm1.Enabled() && len(s.mailboxQueue) > 0 && overlaps(start, end, int(sm1.PhysStart), 1) {
		copy(s.mem[sm1.PhysStart:int(sm1.PhysStart)+int(sm1.Length)], s.mailboxQueue[0])
	}
}

// reading the last byte of the send mailbox frees it
func (s *Slave) afterRead(start, end int) {
	sm1 := s.syncManager(1)
	last := int(sm1.PhysStart) + int(sm1.Length) - 1
	if sm1.Enabled() && sm1.Length > 0 && len(s.mailboxQueue) > 0 && overlaps(start, end, last, 1) {
		s.mailboxQueue = s.mailboxQueue[1:]
	}
}

func (s *Slave) write(start int, data []byte) {
	end := start + len(data)
	// AL status and EEPROM data are read only from the bus
	copy(s.mem[start:end], data)
	if overlaps(start, end, esc.ALControl, 2) {
		s.requestState(binary.LittleEndian.Uint16(s.mem[esc.ALControl:]))
	}
	if overlaps(start, end, esc.EEPROMControlStatus, 2) {
		s.eepromCommand()
	}
	sm0 := s.syncManager(0)
	last := int(sm0.PhysStart) + int(sm0.Length) - 1
	if sm0.Enabled() && sm0.Length > 0 && s.state != ethercat.StateInit && overlaps(start, end, last, 1) {
		request := append([]byte(nil), s.mem[sm0.PhysStart:int(sm0.PhysStart)+int(sm0.Length)]...)
		s.handleMailbox(request)
	}
}

func (s *Slave) eepromCommand() {
	ctrl := binary.LittleEndian.Uint16(s.mem[esc.EEPROMControlStatus:])
	if ctrl&esc.EEPROMCommandRead == 0 {
		return
	}
	addr := int(binary.LittleEndian.Uint32(s.mem[esc.EEPROMAddress:]))
	for i := 0; i < 2; i++ {
		word := uint16(0xFFFF)
		if addr+i < len(s.eeprom) {
			word = s.eeprom[addr+i]
		}
		binary.LittleEndian.PutUint16(s.mem[esc.EEPROMData+2*i:], word)
	}
	binary.LittleEndian.PutUint16(s.mem[esc.EEPROMControlStatus:], ctrl&^(esc.EEPROMCommandRead|esc.EEPROMBusy))
}

// requestState runs the AL control -> AL status state machine
func (s *Slave) requestState(control uint16) {
	requested := ethercat.BusState(control & 0x0F)
	ack := uint8(control)&ethercat.StateErrorFlag != 0
	current := s.state
	if s.errorIndicated() && !ack && requested != ethercat.StateInit {
		return
	}
	if requested == current {
		s.setALStatus(current, false, esc.ALCodeNoError)
		return
	}
	refuse := func(code uint16) {
		s.logger.Infof("[SIM] refusing %v -> %v : %v", current, requested, esc.DescribeALStatusCode(code))
		s.setALStatus(current, true, code)
	}
	switch requested {
	case ethercat.StateInit:
		s.mailboxQueue = nil
	case ethercat.StatePreOperational:
		if current == ethercat.StateInit && !s.mailboxConfigured() {
			refuse(esc.ALCodeInvalidMailboxConfig)
			return
		}
	case ethercat.StateSafeOperational:
		switch current {
		case ethercat.StatePreOperational:
			if code := s.checkProcessData(); code != esc.ALCodeNoError {
				refuse(code)
				return
			}
		case ethercat.StateOperational:
		default:
			refuse(esc.ALCodeInvalidStateChange)
			return
		}
	case ethercat.StateOperational:
		if current != ethercat.StateSafeOperational {
			refuse(esc.ALCodeInvalidStateChange)
			return
		}
		if len(s.rxMapping) == 0 && len(s.txMapping) == 0 {
			refuse(esc.ALCodeInvalidOutputConfig)
			return
		}
	case ethercat.StateBootstrap:
		refuse(esc.ALCodeBootstrapNotSupported)
		return
	default:
		refuse(esc.ALCodeUnknownState)
		return
	}
	s.logger.Debugf("[SIM] %v -> %v", current, requested)
	s.setALStatus(requested, false, esc.ALCodeNoError)
}

func (s *Slave) mailboxConfigured() bool {
	sm0, sm1 := s.syncManager(0), s.syncManager(1)
	return sm0.Enabled() && sm1.Enabled() &&
		sm0.Length >= sdo.MinMailboxLen && sm1.Length >= sdo.MinMailboxLen
}

// resolve a PDO assignment into the list of mapped variables
func (s *Slave) resolveMapping(assignIndex uint16) ([]*od.Variable, error) {
	assign := s.od.Index(assignIndex)
	if assign == nil {
		return nil, nil
	}
	count, err := assign.Uint8(0)
	if err != nil {
		return nil, err
	}
	vars := make([]*od.Variable, 0)
	for i := uint8(1); i <= count; i++ {
		mapIndex, err := assign.Uint16(i)
		if err != nil {
			return nil, err
		}
		mapping := s.od.Index(mapIndex)
		if mapping == nil {
			return nil, fmt.Errorf("assigned pdo x%x does not exist", mapIndex)
		}
		mapped, err := mapping.Uint8(0)
		if err != nil {
			return nil, err
		}
		for j := uint8(1); j <= mapped; j++ {
			raw, err := mapping.Uint32(j)
			if err != nil {
				return nil, err
			}
			index, subindex, bits := od.SplitMappingValue(raw)
			v, err := s.od.Lookup(index, subindex)
			if err != nil {
				return nil, err
			}
			if int(bits) != v.DataLength()*8 {
				return nil, fmt.Errorf("mapping of x%x|x%x has %d bits", index, subindex, bits)
			}
			vars = append(vars, v)
		}
	}
	return vars, nil
}

func mappingSize(vars []*od.Variable) int {
	size := 0
	for _, v := range vars {
		size += v.DataLength()
	}
	return size
}

// checkProcessData validates SM2/SM3 and FMMUs against the PDO assignment
func (s *Slave) checkProcessData() uint16 {
	rx, err := s.resolveMapping(od.EntryRxPDOAssign)
	if err != nil {
		s.logger.Warnf("[SIM] invalid rx mapping : %v", err)
		return esc.ALCodeInvalidOutputConfig
	}
	tx, err := s.resolveMapping(od.EntryTxPDOAssign)
	if err != nil {
		s.logger.Warnf("[SIM] invalid tx mapping : %v", err)
		return esc.ALCodeInvalidInputConfig
	}
	if !s.processDataMatches(2, esc.FMMUWrite, mappingSize(rx)) {
		return esc.ALCodeInvalidOutputConfig
	}
	if !s.processDataMatches(3, esc.FMMURead, mappingSize(tx)) {
		return esc.ALCodeInvalidInputConfig
	}
	s.rxMapping, s.txMapping = rx, tx
	return esc.ALCodeNoError
}

func (s *Slave) processDataMatches(smIndex int, fmmuType uint8, size int) bool {
	sm := s.syncManager(smIndex)
	if size == 0 {
		return true
	}
	if !sm.Enabled() || int(sm.Length) != size {
		return false
	}
	for i := 0; i < maxFMMU; i++ {
		f := s.fmmu(i)
		if f.Enabled() && f.Type == fmmuType {
			return int(f.Length) == size && f.PhysStart == sm.PhysStart
		}
	}
	return false
}

// handleLogical serves LRD, LWR and LRW through the configured FMMUs
func (s *Slave) handleLogical(dg *ecfr.Datagram) {
	if s.state != ethercat.StateSafeOperational && s.state != ethercat.StateOperational {
		return
	}
	s.refreshInputs()
	readHit, writeHit := false, false
	dgStart := dg.LogicalAddr()
	for i := 0; i < maxFMMU; i++ {
		f := s.fmmu(i)
		if !f.Enabled() || !f.Overlaps(dgStart, len(dg.Data)) {
			continue
		}
		start := max(dgStart, f.LogicalStart)
		end := min(dgStart+uint32(len(dg.Data)), f.LogicalStart+uint32(f.Length))
		phys := int(f.PhysStart) + int(start-f.LogicalStart)
		data := dg.Data[start-dgStart : end-dgStart]
		switch {
		case f.Type == esc.FMMURead && dg.Command.Reads():
			copy(data, s.mem[phys:phys+len(data)])
			readHit = true
		case f.Type == esc.FMMUWrite && dg.Command.Writes():
			copy(s.mem[phys:phys+len(data)], data)
			writeHit = true
		}
	}
	switch dg.Command {
	case ecfr.LRW:
		if readHit {
			dg.WorkingCounter++
		}
		if writeHit {
			dg.WorkingCounter += 2
		}
	default:
		if readHit || writeHit {
			dg.WorkingCounter++
		}
	}
	if writeHit && s.state == ethercat.StateOperational {
		s.applyOutputs()
	}
	s.drive.tick()
}

// serialize tx mapped objects into the SM3 buffer
func (s *Slave) refreshInputs() {
	sm := s.syncManager(3)
	offset := int(sm.PhysStart)
	for _, v := range s.txMapping {
		copy(s.mem[offset:], v.Bytes())
		offset += v.DataLength()
	}
}

// deserialize the SM2 buffer into rx mapped objects
func (s *Slave) applyOutputs() {
	sm := s.syncManager(2)
	offset := int(sm.PhysStart)
	for _, v := range s.rxMapping {
		raw := s.mem[offset : offset+v.DataLength()]
		offset += v.DataLength()
		if v.Index == od.EntryModesOfOperation && !s.drive.supportsMode(int8(raw[0])) {
			continue
		}
		_ = v.SetBytes(raw)
	}
}
