package virtual

import (
	"testing"
	"time"

	"github.com/samsamfire/goethercat/pkg/ecfr"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/stretchr/testify/assert"
)

// increments the first datagram's working counter, loses every other frame
type countingSegment struct {
	frames int
}

func (s *countingSegment) Process(payload []byte) bool {
	s.frames++
	if s.frames%2 == 0 {
		return false
	}
	f := ecfr.Frame{}
	if err := f.UnmarshalBinary(payload); err != nil {
		return false
	}
	f.Datagrams[0].WorkingCounter++
	raw, _ := f.MarshalBinary()
	copy(payload, raw)
	return true
}

func TestVirtualLink(t *testing.T) {
	segment := &countingSegment{}
	Attach("vtest0", "test segment", segment)
	defer Detach("vtest0")

	adapters, err := link.Scan(DriverName)
	assert.Nil(t, err)
	assert.Contains(t, adapters, link.Adapter{Name: "vtest0", Description: "test segment", Driver: DriverName})

	l, err := link.Open(link.Adapter{Name: "vtest0", Driver: DriverName})
	assert.Nil(t, err)
	frame := ecfr.Frame{Datagrams: []*ecfr.Datagram{ecfr.NewDatagram(ecfr.BRD, 0, 0, make([]byte, 2))}}
	payload, _ := frame.MarshalBinary()
	eth := ecfr.EncodeETHFrame(ecfr.Broadcast, l.HardwareAddr(), payload)

	t.Run("reply", func(t *testing.T) {
		assert.Nil(t, l.Send(eth))
		rx, err := l.Recv(10 * time.Millisecond)
		assert.Nil(t, err)
		_, rxPayload, err := ecfr.DecodeETHFrame(rx)
		assert.Nil(t, err)
		reply := ecfr.Frame{}
		assert.Nil(t, reply.UnmarshalBinary(rxPayload))
		assert.EqualValues(t, 1, reply.Datagrams[0].WorkingCounter)
	})
	t.Run("lost frame times out", func(t *testing.T) {
		assert.Nil(t, l.Send(eth))
		_, err := l.Recv(5 * time.Millisecond)
		assert.ErrorIs(t, err, link.ErrRecvTimeout)
	})
	t.Run("closed", func(t *testing.T) {
		assert.Nil(t, l.Close())
		assert.ErrorIs(t, l.Send(eth), link.ErrLinkClosed)
		assert.ErrorIs(t, l.Close(), link.ErrLinkClosed)
	})
	_, err = Open("notattached")
	assert.ErrorIs(t, err, ErrNotAttached)
}
