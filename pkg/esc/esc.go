// Package esc describes the EtherCAT slave controller as seen from the
// master: register addresses, SII EEPROM layout, FMMU and SyncManager
// records and AL status codes.
package esc

import (
	"encoding/binary"
	"fmt"
)

// Register addresses
const (
	Type                     = 0x0000
	ConfiguredStationAddress = 0x0010
	ConfiguredStationAlias   = 0x0012
	DLStatus                 = 0x0110
	ALControl                = 0x0120
	ALStatus                 = 0x0130
	ALStatusCode             = 0x0134
	EEPROMControlStatus      = 0x0502
	EEPROMAddress            = 0x0504
	EEPROMData               = 0x0508

	FMMUBase = 0x0600
	FMMULen  = 0x10

	SyncManagerBase           = 0x0800
	SyncManagerLen            = 0x08
	SyncManagerStatusOffset   = 0x05
	SyncManagerActivateOffset = 0x06
)

// EEPROM control / status bits (16 bit register)
const (
	EEPROMCommandRead uint16 = 0x0100
	EEPROMBusy        uint16 = 0x8000
	EEPROMErrorMask   uint16 = 0x6000
)

// SyncManager status bit : mailbox full
const SyncManagerMailboxFull uint8 = 0x08

// SyncManager control bytes for standard mailbox and process data channels
const (
	SyncManagerCtrlMailboxOut uint8 = 0x26 // mailbox, ecat writes, interrupt
	SyncManagerCtrlMailboxIn  uint8 = 0x22 // mailbox, ecat reads, interrupt
	SyncManagerCtrlOutputs    uint8 = 0x64 // buffered, ecat writes, watchdog
	SyncManagerCtrlInputs     uint8 = 0x20 // buffered, ecat reads
)

// FMMU types
const (
	FMMURead  uint8 = 0x01 // slave memory -> frame (inputs)
	FMMUWrite uint8 = 0x02 // frame -> slave memory (outputs)
)

// SyncManagerAddr returns the register address of SyncManager n
func SyncManagerAddr(n int) uint16 {
	return uint16(SyncManagerBase + n*SyncManagerLen)
}

// FMMUAddr returns the register address of FMMU n
func FMMUAddr(n int) uint16 {
	return uint16(FMMUBase + n*FMMULen)
}

// SyncManager channel configuration record
type SyncManager struct {
	PhysStart  uint16
	Length     uint16
	Control    uint8
	Status     uint8
	Activate   uint8
	PDIControl uint8
}

func (sm SyncManager) Enabled() bool {
	return sm.Activate&0x01 != 0
}

func (sm SyncManager) MarshalBinary() ([]byte, error) {
	b := make([]byte, SyncManagerLen)
	binary.LittleEndian.PutUint16(b[0:], sm.PhysStart)
	binary.LittleEndian.PutUint16(b[2:], sm.Length)
	b[4] = sm.Control
	b[5] = sm.Status
	b[6] = sm.Activate
	b[7] = sm.PDIControl
	return b, nil
}

func (sm *SyncManager) UnmarshalBinary(b []byte) error {
	if len(b) < SyncManagerLen {
		return fmt.Errorf("need %d bytes for sync manager, have %d", SyncManagerLen, len(b))
	}
	sm.PhysStart = binary.LittleEndian.Uint16(b[0:])
	sm.Length = binary.LittleEndian.Uint16(b[2:])
	sm.Control = b[4]
	sm.Status = b[5]
	sm.Activate = b[6]
	sm.PDIControl = b[7]
	return nil
}

// FMMU maps a logical address range of the process image onto slave memory
type FMMU struct {
	LogicalStart    uint32
	Length          uint16
	LogicalStartBit uint8
	LogicalStopBit  uint8
	PhysStart       uint16
	PhysStartBit    uint8
	Type            uint8
	Activate        uint8
}

func (f FMMU) Enabled() bool {
	return f.Activate&0x01 != 0
}

// Overlaps reports whether [start, start+length) hits the FMMU logical range
func (f FMMU) Overlaps(start uint32, length int) bool {
	end := start + uint32(length)
	return f.Length > 0 && start < f.LogicalStart+uint32(f.Length) && f.LogicalStart < end
}

func (f FMMU) MarshalBinary() ([]byte, error) {
	b := make([]byte, FMMULen)
	binary.LittleEndian.PutUint32(b[0:], f.LogicalStart)
	binary.LittleEndian.PutUint16(b[4:], f.Length)
	b[6] = f.LogicalStartBit
	b[7] = f.LogicalStopBit
	binary.LittleEndian.PutUint16(b[8:], f.PhysStart)
	b[10] = f.PhysStartBit
	b[11] = f.Type
	b[12] = f.Activate
	return b, nil
}

func (f *FMMU) UnmarshalBinary(b []byte) error {
	if len(b) < FMMULen {
		return fmt.Errorf("need %d bytes for fmmu, have %d", FMMULen, len(b))
	}
	f.LogicalStart = binary.LittleEndian.Uint32(b[0:])
	f.Length = binary.LittleEndian.Uint16(b[4:])
	f.LogicalStartBit = b[6]
	f.LogicalStopBit = b[7]
	f.PhysStart = binary.LittleEndian.Uint16(b[8:])
	f.PhysStartBit = b[10]
	f.Type = b[11]
	f.Activate = b[12]
	return nil
}
