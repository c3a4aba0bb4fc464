package ecfr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	FrameOverheadLen      = 2
	DatagramHeaderLen     = 10
	WorkingCounterLen     = 2
	DatagramOverheadLen   = DatagramHeaderLen + WorkingCounterLen
	MaxFrameLen           = 1500 - FrameOverheadLen
	MaxDatagramDataLen    = MaxFrameLen - DatagramOverheadLen
	FrameTypeCommands     = 0x1
	lengthMask            = (1 << 11) - 1
	roundtripBit          = 14
	moreFollowsBit        = 15
	frameHeaderTypeOffset = 12
)

var (
	ErrFrameTooLong  = errors.New("datagrams too long for one frame")
	ErrFrameTooShort = errors.New("buffer too short for ecat frame")
	ErrNoDatagram    = errors.New("ecat frame needs at least one datagram")
)

// Datagram is one EtherCAT command inside a frame
type Datagram struct {
	Command CommandType
	Index   uint8
	// Slave address (ADP) in the lower 16 bits and register offset (ADO) in
	// the upper 16 bits for physical commands, logical address otherwise
	Addr32         uint32
	Roundtrip      bool
	Interrupt      uint16
	Data           []byte
	WorkingCounter uint16
}

// NewDatagram for a physical command (auto increment, fixed or broadcast)
func NewDatagram(command CommandType, adp uint16, ado uint16, data []byte) *Datagram {
	return &Datagram{Command: command, Addr32: uint32(ado)<<16 | uint32(adp), Data: data}
}

// NewLogicalDatagram for LRD, LWR or LRW
func NewLogicalDatagram(command CommandType, address uint32, data []byte) *Datagram {
	return &Datagram{Command: command, Addr32: address, Data: data}
}

func (dg *Datagram) SlaveAddr() uint16 {
	return uint16(dg.Addr32)
}

func (dg *Datagram) SetSlaveAddr(adp uint16) {
	dg.Addr32 = dg.Addr32&0xFFFF0000 | uint32(adp)
}

func (dg *Datagram) OffsetAddr() uint16 {
	return uint16(dg.Addr32 >> 16)
}

func (dg *Datagram) LogicalAddr() uint32 {
	return dg.Addr32
}

func (dg *Datagram) ByteLen() int {
	return DatagramOverheadLen + len(dg.Data)
}

func (dg *Datagram) String() string {
	if dg.Command.Logical() {
		return fmt.Sprintf("%v idx %d log x%08x len %d wkc %d", dg.Command, dg.Index, dg.Addr32, len(dg.Data), dg.WorkingCounter)
	}
	return fmt.Sprintf("%v idx %d adp x%04x ado x%04x len %d wkc %d",
		dg.Command, dg.Index, dg.SlaveAddr(), dg.OffsetAddr(), len(dg.Data), dg.WorkingCounter)
}

// Frame is the EtherCAT payload of an ethernet frame
type Frame struct {
	Datagrams []*Datagram
}

func (f *Frame) ByteLen() int {
	clen := FrameOverheadLen
	for _, dg := range f.Datagrams {
		clen += dg.ByteLen()
	}
	return clen
}

// MarshalBinary encodes the frame header followed by every datagram
func (f *Frame) MarshalBinary() ([]byte, error) {
	if len(f.Datagrams) == 0 {
		return nil, ErrNoDatagram
	}
	clen := f.ByteLen()
	if clen-FrameOverheadLen > MaxFrameLen {
		return nil, ErrFrameTooLong
	}
	b := make([]byte, 0, clen)
	header := uint16(clen-FrameOverheadLen)&lengthMask | FrameTypeCommands<<frameHeaderTypeOffset
	b = binary.LittleEndian.AppendUint16(b, header)
	for i, dg := range f.Datagrams {
		lenWord := uint16(len(dg.Data)) & lengthMask
		if dg.Roundtrip {
			lenWord |= 1 << roundtripBit
		}
		if i < len(f.Datagrams)-1 {
			lenWord |= 1 << moreFollowsBit
		}
		b = append(b, byte(dg.Command), dg.Index)
		b = binary.LittleEndian.AppendUint32(b, dg.Addr32)
		b = binary.LittleEndian.AppendUint16(b, lenWord)
		b = binary.LittleEndian.AppendUint16(b, dg.Interrupt)
		b = append(b, dg.Data...)
		b = binary.LittleEndian.AppendUint16(b, dg.WorkingCounter)
	}
	return b, nil
}

// UnmarshalBinary decodes a frame, trailing padding is ignored.
// Datagram data does not alias b.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) < FrameOverheadLen {
		return ErrFrameTooShort
	}
	header := binary.LittleEndian.Uint16(b)
	if header>>frameHeaderTypeOffset != FrameTypeCommands {
		return fmt.Errorf("unsupported ecat frame type %d", header>>frameHeaderTypeOffset)
	}
	flen := int(header & lengthMask)
	b = b[FrameOverheadLen:]
	if flen > len(b) {
		return fmt.Errorf("frame expected %d bytes, only have %d", flen, len(b))
	}
	b = b[:flen]
	f.Datagrams = f.Datagrams[:0]
	for {
		if len(b) < DatagramHeaderLen {
			return fmt.Errorf("need %d bytes for dgram header, have %d", DatagramHeaderLen, len(b))
		}
		dg := &Datagram{
			Command:   CommandType(b[0]),
			Index:     b[1],
			Addr32:    binary.LittleEndian.Uint32(b[2:]),
			Interrupt: binary.LittleEndian.Uint16(b[8:]),
		}
		lenWord := binary.LittleEndian.Uint16(b[6:])
		dlen := int(lenWord & lengthMask)
		dg.Roundtrip = lenWord&(1<<roundtripBit) != 0
		b = b[DatagramHeaderLen:]
		if len(b) < dlen+WorkingCounterLen {
			return fmt.Errorf("need %d bytes for dgram data and working counter, have %d", dlen+WorkingCounterLen, len(b))
		}
		dg.Data = make([]byte, dlen)
		copy(dg.Data, b[:dlen])
		dg.WorkingCounter = binary.LittleEndian.Uint16(b[dlen:])
		b = b[dlen+WorkingCounterLen:]
		f.Datagrams = append(f.Datagrams, dg)
		if lenWord&(1<<moreFollowsBit) == 0 {
			return nil
		}
	}
}
