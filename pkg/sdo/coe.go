package sdo

import (
	"encoding/binary"
	"fmt"
)

// Mailbox types
const (
	MailboxTypeError uint8 = 0x00
	MailboxTypeCoE   uint8 = 0x03
)

// CoE services
const (
	ServiceEmergency   uint8 = 0x01
	ServiceSDORequest  uint8 = 0x02
	ServiceSDOResponse uint8 = 0x03
)

const (
	MailboxHeaderLen = 6
	CoEHeaderLen     = 2
	SDOLen           = 8
	// Smallest usable mailbox : header, CoE header and one expedited SDO
	MinMailboxLen = MailboxHeaderLen + CoEHeaderLen + SDOLen
)

// SDO command specifiers
const (
	cmdDownloadRequest  uint8 = 0x20
	cmdDownloadResponse uint8 = 0x60
	cmdUploadRequest    uint8 = 0x40
	cmdUploadResponse   uint8 = 0x40
	cmdAbort            uint8 = 0x80
	cmdMask             uint8 = 0xE0
	flagExpedited       uint8 = 0x02
	flagSizeIndicated   uint8 = 0x01
)

// MailboxMessage is a decoded mailbox buffer carrying a CoE message
type MailboxMessage struct {
	Address uint16
	Type    uint8
	Counter uint8
	Service uint8
	Payload []byte
}

// EncodeMailbox builds a full mailbox buffer of size bytes with a CoE header
func EncodeMailbox(size int, counter uint8, service uint8, payload []byte) ([]byte, error) {
	dlen := CoEHeaderLen + len(payload)
	if size < MailboxHeaderLen+dlen {
		return nil, fmt.Errorf("mailbox of %d bytes too small for %d bytes of data", size, dlen)
	}
	b := make([]byte, size)
	binary.LittleEndian.PutUint16(b[0:], uint16(dlen))
	// address 0 (master), channel 0, priority 0
	b[5] = MailboxTypeCoE | (counter&0x07)<<4
	binary.LittleEndian.PutUint16(b[6:], uint16(service)<<12)
	copy(b[8:], payload)
	return b, nil
}

// DecodeMailbox decodes a mailbox buffer, payload aliases b
func DecodeMailbox(b []byte) (*MailboxMessage, error) {
	if len(b) < MailboxHeaderLen {
		return nil, fmt.Errorf("mailbox too short (%d bytes)", len(b))
	}
	dlen := int(binary.LittleEndian.Uint16(b[0:]))
	if MailboxHeaderLen+dlen > len(b) {
		return nil, fmt.Errorf("mailbox announces %d bytes, only %d available", dlen, len(b)-MailboxHeaderLen)
	}
	msg := &MailboxMessage{
		Address: binary.LittleEndian.Uint16(b[2:]),
		Type:    b[5] & 0x0F,
		Counter: (b[5] >> 4) & 0x07,
	}
	data := b[MailboxHeaderLen : MailboxHeaderLen+dlen]
	if msg.Type != MailboxTypeCoE {
		msg.Payload = data
		return msg, nil
	}
	if len(data) < CoEHeaderLen {
		return nil, fmt.Errorf("coe header truncated")
	}
	msg.Service = uint8(binary.LittleEndian.Uint16(data) >> 12)
	msg.Payload = data[CoEHeaderLen:]
	return msg, nil
}

// SDOMessage is an 8 byte SDO body, expedited transfers only
type SDOMessage struct {
	raw [SDOLen]byte
}

func NewSDOMessage(raw []byte) (SDOMessage, error) {
	msg := SDOMessage{}
	if len(raw) < SDOLen {
		return msg, fmt.Errorf("sdo message too short (%d bytes)", len(raw))
	}
	copy(msg.raw[:], raw)
	return msg, nil
}

func newSDOMessage(command uint8, index uint16, subindex uint8) SDOMessage {
	msg := SDOMessage{}
	msg.raw[0] = command
	binary.LittleEndian.PutUint16(msg.raw[1:], index)
	msg.raw[3] = subindex
	return msg
}

// NewUploadRequest reads (index, subindex)
func NewUploadRequest(index uint16, subindex uint8) SDOMessage {
	return newSDOMessage(cmdUploadRequest, index, subindex)
}

// NewDownloadRequest writes 1 to 4 bytes to (index, subindex)
func NewDownloadRequest(index uint16, subindex uint8, data []byte) (SDOMessage, error) {
	if len(data) == 0 || len(data) > 4 {
		return SDOMessage{}, ErrSegmentedTransfer
	}
	n := uint8(4 - len(data))
	msg := newSDOMessage(cmdDownloadRequest|n<<2|flagExpedited|flagSizeIndicated, index, subindex)
	copy(msg.raw[4:], data)
	return msg, nil
}

// NewUploadResponse answers an upload with 1 to 4 bytes
func NewUploadResponse(index uint16, subindex uint8, data []byte) (SDOMessage, error) {
	if len(data) == 0 || len(data) > 4 {
		return SDOMessage{}, ErrSegmentedTransfer
	}
	n := uint8(4 - len(data))
	msg := newSDOMessage(cmdUploadResponse|n<<2|flagExpedited|flagSizeIndicated, index, subindex)
	copy(msg.raw[4:], data)
	return msg, nil
}

func NewDownloadResponse(index uint16, subindex uint8) SDOMessage {
	return newSDOMessage(cmdDownloadResponse, index, subindex)
}

func NewAbort(index uint16, subindex uint8, code AbortCode) SDOMessage {
	msg := newSDOMessage(cmdAbort, index, subindex)
	binary.LittleEndian.PutUint32(msg.raw[4:], uint32(code))
	return msg
}

func (msg SDOMessage) Bytes() []byte {
	return msg.raw[:]
}

func (msg SDOMessage) Command() uint8 {
	return msg.raw[0]
}

func (msg SDOMessage) Index() uint16 {
	return binary.LittleEndian.Uint16(msg.raw[1:])
}

func (msg SDOMessage) Subindex() uint8 {
	return msg.raw[3]
}

func (msg SDOMessage) IsAbort() bool {
	return msg.raw[0] == cmdAbort
}

func (msg SDOMessage) AbortCode() AbortCode {
	return AbortCode(binary.LittleEndian.Uint32(msg.raw[4:]))
}

func (msg SDOMessage) IsUploadRequest() bool {
	return msg.raw[0]&cmdMask == cmdUploadRequest
}

func (msg SDOMessage) IsDownloadRequest() bool {
	return msg.raw[0]&cmdMask == cmdDownloadRequest
}

// ExpeditedData returns the data of an expedited transfer, requests or responses
func (msg SDOMessage) ExpeditedData() ([]byte, error) {
	if msg.raw[0]&flagExpedited == 0 {
		return nil, ErrSegmentedTransfer
	}
	size := 4
	if msg.raw[0]&flagSizeIndicated != 0 {
		size = 4 - int((msg.raw[0]>>2)&0x03)
	}
	data := make([]byte, size)
	copy(data, msg.raw[4:4+size])
	return data, nil
}

// Emergency is a CoE emergency message
type Emergency struct {
	ErrorCode     uint16
	ErrorRegister uint8
	Data          [5]byte
}

func DecodeEmergency(payload []byte) (Emergency, error) {
	emcy := Emergency{}
	if len(payload) < 8 {
		return emcy, fmt.Errorf("emergency too short (%d bytes)", len(payload))
	}
	emcy.ErrorCode = binary.LittleEndian.Uint16(payload)
	emcy.ErrorRegister = payload[2]
	copy(emcy.Data[:], payload[3:8])
	return emcy, nil
}

func (emcy Emergency) Bytes() []byte {
	b := binary.LittleEndian.AppendUint16(nil, emcy.ErrorCode)
	b = append(b, emcy.ErrorRegister)
	return append(b, emcy.Data[:]...)
}

func (emcy Emergency) String() string {
	return fmt.Sprintf("error code x%04x, register x%02x, data %x", emcy.ErrorCode, emcy.ErrorRegister, emcy.Data)
}
