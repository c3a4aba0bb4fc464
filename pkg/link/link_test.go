package link

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type nopLink struct{}

func (nopLink) Send([]byte) error                  { return nil }
func (nopLink) Recv(time.Duration) ([]byte, error) { return nil, ErrRecvTimeout }
func (nopLink) HardwareAddr() net.HardwareAddr     { return nil }
func (nopLink) Close() error                       { return nil }

func TestScanAggregatesErrors(t *testing.T) {
	RegisterDriver("test-ok", Driver{
		Scan: func() ([]Adapter, error) { return []Adapter{{Name: "eth0"}, {Name: "eth1"}}, nil },
		Open: func(name string) (Link, error) { return nopLink{}, nil },
	})
	RegisterDriver("test-broken", Driver{
		Scan: func() ([]Adapter, error) { return nil, errors.New("permission denied") },
		Open: func(name string) (Link, error) { return nil, errors.New("permission denied") },
	})

	adapters, err := Scan("test-ok")
	assert.Nil(t, err)
	assert.Equal(t, []Adapter{{Name: "eth0", Driver: "test-ok"}, {Name: "eth1", Driver: "test-ok"}}, adapters)

	adapters, err = Scan("test-ok", "test-broken", "missing")
	assert.Len(t, adapters, 2)
	assert.NotNil(t, err)
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(Adapter{Name: "eth0", Driver: "missing"})
	assert.ErrorIs(t, err, ErrUnknownDriver)
	l, err := Open(adapters[0])
	assert.Nil(t, err)
	assert.NotNil(t, l)
	assert.Contains(t, Drivers(), "test-ok")
}
