package ecfr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameLayout(t *testing.T) {
	frame := Frame{Datagrams: []*Datagram{
		NewDatagram(FPRD, 0x1001, 0x0130, make([]byte, 2)),
	}}
	frame.Datagrams[0].Index = 7
	raw, err := frame.MarshalBinary()
	assert.Nil(t, err)
	assert.Len(t, raw, 2+10+2+2)
	// length 14, type 1
	assert.EqualValues(t, []byte{0x0E, 0x10}, raw[0:2])
	// cmd, idx, adp LE, ado LE
	assert.EqualValues(t, []byte{0x04, 0x07, 0x01, 0x10, 0x30, 0x01}, raw[2:8])
	// last datagram, len 2
	assert.EqualValues(t, []byte{0x02, 0x00}, raw[8:10])
}

func TestFrameRoundTrip(t *testing.T) {
	frame := Frame{Datagrams: []*Datagram{
		NewDatagram(BWR, 0, 0x0120, []byte{0x02, 0x00}),
		NewLogicalDatagram(LRW, 0x10000, []byte{1, 2, 3, 4, 5, 6}),
	}}
	frame.Datagrams[1].WorkingCounter = 3
	raw, err := frame.MarshalBinary()
	assert.Nil(t, err)
	// more follows flag on first datagram only
	assert.EqualValues(t, 0x80, raw[9]&0x80)

	padded := append(raw, make([]byte, 20)...)
	decoded := Frame{}
	assert.Nil(t, decoded.UnmarshalBinary(padded))
	assert.Len(t, decoded.Datagrams, 2)
	assert.Equal(t, BWR, decoded.Datagrams[0].Command)
	assert.EqualValues(t, 0x0120, decoded.Datagrams[0].OffsetAddr())
	assert.Equal(t, LRW, decoded.Datagrams[1].Command)
	assert.EqualValues(t, 0x10000, decoded.Datagrams[1].LogicalAddr())
	assert.EqualValues(t, []byte{1, 2, 3, 4, 5, 6}, decoded.Datagrams[1].Data)
	assert.EqualValues(t, 3, decoded.Datagrams[1].WorkingCounter)
}

func TestFrameErrors(t *testing.T) {
	empty := Frame{}
	_, err := empty.MarshalBinary()
	assert.Equal(t, ErrNoDatagram, err)

	tooLong := Frame{Datagrams: []*Datagram{NewLogicalDatagram(LRW, 0, make([]byte, MaxFrameLen))}}
	_, err = tooLong.MarshalBinary()
	assert.Equal(t, ErrFrameTooLong, err)

	decoded := Frame{}
	assert.Equal(t, ErrFrameTooShort, decoded.UnmarshalBinary([]byte{0x01}))
	// header announces more bytes than available
	assert.NotNil(t, decoded.UnmarshalBinary([]byte{0x20, 0x10, 0x00}))
	// truncated datagram
	assert.NotNil(t, decoded.UnmarshalBinary([]byte{0x04, 0x10, 0x07, 0x00, 0x00, 0x00}))
}

func TestETHFrame(t *testing.T) {
	src := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	raw := EncodeETHFrame(Broadcast, src, []byte{0xAA, 0xBB})
	assert.Len(t, raw, 60)
	source, payload, err := DecodeETHFrame(raw)
	assert.Nil(t, err)
	assert.Equal(t, src, source)
	assert.EqualValues(t, []byte{0xAA, 0xBB}, payload[:2])

	raw[12] = 0x08
	raw[13] = 0x00
	_, _, err = DecodeETHFrame(raw)
	assert.NotNil(t, err)
}
