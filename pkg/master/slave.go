package master

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/esc"
	"github.com/samsamfire/goethercat/pkg/od"
	"github.com/samsamfire/goethercat/pkg/sdo"
)

// MailboxConfig is the standard mailbox layout read from SII
type MailboxConfig struct {
	RxOffset  uint16 `json:"rx_offset"`
	RxSize    uint16 `json:"rx_size"`
	TxOffset  uint16 `json:"tx_offset"`
	TxSize    uint16 `json:"tx_size"`
	Protocols uint16 `json:"protocols"`
}

// CoE reports whether the slave has a usable CoE mailbox
func (mbx MailboxConfig) CoE() bool {
	return mbx.Protocols&esc.MailboxProtocolCoE != 0 &&
		mbx.RxSize >= sdo.MinMailboxLen && mbx.TxSize >= sdo.MinMailboxLen
}

// end of the mailbox area in slave memory, process data goes after it
func (mbx MailboxConfig) end() uint16 {
	return max(mbx.RxOffset+mbx.RxSize, mbx.TxOffset+mbx.TxSize)
}

// PDOEntry is one object of the process image of a slave
type PDOEntry struct {
	config.PDOMappingParameter
	// Byte offset inside the slave's outputs or inputs
	Offset int `json:"offset"`
}

func (e PDOEntry) size() int {
	return int(e.LengthBits) / 8
}

// Slave found on the bus, position and address are stable for the session
type Slave struct {
	Position int               `json:"position"`
	Address  uint16            `json:"address"`
	Name     string            `json:"name"`
	Identity ethercat.Identity `json:"identity"`
	Mailbox  MailboxConfig     `json:"mailbox"`
	// Outputs (RxPDO) and inputs (TxPDO) as of the last transition to SafeOp
	RxPDO []PDOEntry `json:"rx_pdo"`
	TxPDO []PDOEntry `json:"tx_pdo"`

	dictionary    *od.ObjectDictionary
	client        *sdo.SDOClient
	outputs       []byte
	inputs        []byte
	outputsOffset uint32
	inputsOffset  uint32

	emcyMu        sync.Mutex
	lastEmergency *sdo.Emergency
}

// Dictionary bound to the slave by identity, nil for unknown devices
func (slave *Slave) Dictionary() *od.ObjectDictionary {
	return slave.dictionary
}

// LastEmergency returns the last emergency received, nil if none
func (slave *Slave) LastEmergency() *sdo.Emergency {
	slave.emcyMu.Lock()
	defer slave.emcyMu.Unlock()
	return slave.lastEmergency
}

func (slave *Slave) setLastEmergency(emcy sdo.Emergency) {
	slave.emcyMu.Lock()
	defer slave.emcyMu.Unlock()
	slave.lastEmergency = &emcy
}

func (slave *Slave) outputsSize() int {
	return pdoSize(slave.RxPDO)
}

func (slave *Slave) inputsSize() int {
	return pdoSize(slave.TxPDO)
}

func pdoSize(entries []PDOEntry) int {
	size := 0
	for _, e := range entries {
		size += e.size()
	}
	return size
}

func findEntry(entries []PDOEntry, index uint16, subindex uint8) (PDOEntry, bool) {
	for _, e := range entries {
		if e.Index == index && e.Subindex == subindex {
			return e, true
		}
	}
	return PDOEntry{}, false
}

func layout(mappings []config.PDOMappingParameter) []PDOEntry {
	entries := make([]PDOEntry, 0, len(mappings))
	offset := 0
	for _, m := range mappings {
		entries = append(entries, PDOEntry{PDOMappingParameter: m, Offset: offset})
		offset += int(m.LengthBits) / 8
	}
	return entries
}

// slaveMailbox gives the SDO client access to SM0 / SM1 of one slave.
// It is only used with the session lock held.
type slaveMailbox struct {
	session *Session
	slave   *Slave
}

func newSDOClient(s *Session, slave *Slave) *sdo.SDOClient {
	client := sdo.NewSDOClient(&slaveMailbox{session: s, slave: slave}, slave.Position, s.logger)
	client.SetTimeout(s.options.SDOTimeout)
	client.OnEmergency(slave.setLastEmergency)
	return client
}

func (m *slaveMailbox) Size() int {
	return int(m.slave.Mailbox.RxSize)
}

func (m *slaveMailbox) Send(b []byte) error {
	return m.session.fpwr(m.slave.Address, m.slave.Mailbox.RxOffset, b)
}

func (m *slaveMailbox) Receive(deadline time.Time) ([]byte, error) {
	statusAddr := esc.SyncManagerAddr(1) + esc.SyncManagerStatusOffset
	for {
		status, err := m.session.fprd(m.slave.Address, statusAddr, 1)
		if err == nil && status[0]&esc.SyncManagerMailboxFull != 0 {
			return m.session.fprd(m.slave.Address, m.slave.Mailbox.TxOffset, int(m.slave.Mailbox.TxSize))
		}
		if time.Now().After(deadline) {
			if err != nil {
				return nil, fmt.Errorf("%w : %w", sdo.ErrMailboxTimeout, err)
			}
			return nil, sdo.ErrMailboxTimeout
		}
	}
}

// readALStatus returns state, error flag and AL status code of one slave
func (s *Session) readALStatus(slave *Slave) (ethercat.BusState, bool, uint16, error) {
	data, err := s.fprd(slave.Address, esc.ALStatus, 6)
	if err != nil {
		return ethercat.StateUnknown, false, 0, err
	}
	status := binary.LittleEndian.Uint16(data)
	code := binary.LittleEndian.Uint16(data[4:])
	return ethercat.BusState(status & 0x0F), uint8(status)&ethercat.StateErrorFlag != 0, code, nil
}
