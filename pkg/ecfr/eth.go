package ecfr

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	EtherType      uint16 = 0x88A4
	etherTypeVLAN  uint16 = 0x8100
	ethHeaderLen          = 14
	ethMinFrameLen        = 60
)

// Broadcast destination used for every frame sent by the master
var Broadcast = net.HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// EncodeETHFrame wraps an EtherCAT payload in an ethernet frame,
// padded to the ethernet minimum length
func EncodeETHFrame(destination, source net.HardwareAddr, payload []byte) []byte {
	flen := ethHeaderLen + len(payload)
	if flen < ethMinFrameLen {
		flen = ethMinFrameLen
	}
	b := make([]byte, flen)
	copy(b[0:6], destination)
	copy(b[6:12], source)
	binary.BigEndian.PutUint16(b[12:], EtherType)
	copy(b[ethHeaderLen:], payload)
	return b
}

// DecodeETHFrame returns the source address and EtherCAT payload of an
// ethernet frame, one VLAN tag is accepted
func DecodeETHFrame(b []byte) (source net.HardwareAddr, payload []byte, err error) {
	if len(b) < ethHeaderLen {
		return nil, nil, fmt.Errorf("ethernet frame too short (%d bytes)", len(b))
	}
	source = net.HardwareAddr(b[6:12])
	etherType := binary.BigEndian.Uint16(b[12:])
	payload = b[ethHeaderLen:]
	if etherType == etherTypeVLAN {
		if len(payload) < 4 {
			return nil, nil, fmt.Errorf("vlan ethernet frame too short (%d bytes)", len(b))
		}
		etherType = binary.BigEndian.Uint16(payload[2:])
		payload = payload[4:]
	}
	if etherType != EtherType {
		return nil, nil, fmt.Errorf("not an ethercat frame, ethertype x%04x", etherType)
	}
	return source, payload, nil
}
