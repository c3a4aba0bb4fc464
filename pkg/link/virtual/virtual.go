// Package virtual is an in-process link driver. Adapters are created with
// [Attach] and forward every frame to a [Segment], typically a simulated bus.
package virtual

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/samsamfire/goethercat/pkg/ecfr"
	"github.com/samsamfire/goethercat/pkg/link"
	log "github.com/sirupsen/logrus"
)

const DriverName = "virtual"

var ErrNotAttached = errors.New("no virtual segment attached with that name")

func init() {
	link.RegisterDriver(DriverName, link.Driver{Scan: Scan, Open: Open})
}

// Segment processes an EtherCAT payload in place, the way frames travel
// through the slaves of a real segment. It returns false when the frame is lost.
type Segment interface {
	Process(payload []byte) bool
}

type attachment struct {
	segment     Segment
	description string
	// address handed out to the link
	hwAddr net.HardwareAddr
}

var (
	mu       sync.Mutex
	attached = make(map[string]*attachment)
	nextMac  byte
)

// Attach makes segment reachable as adapter name
func Attach(name string, description string, segment Segment) {
	mu.Lock()
	defer mu.Unlock()
	nextMac++
	attached[name] = &attachment{
		segment:     segment,
		description: description,
		hwAddr:      net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0xEC, nextMac},
	}
	log.Debugf("[LINK] attached virtual adapter %v", name)
}

// Detach removes the adapter. Links already opened keep working.
func Detach(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(attached, name)
}

func Scan() ([]link.Adapter, error) {
	mu.Lock()
	defer mu.Unlock()
	adapters := make([]link.Adapter, 0, len(attached))
	for name, a := range attached {
		adapters = append(adapters, link.Adapter{Name: name, Description: a.description})
	}
	sort.Slice(adapters, func(i, j int) bool { return adapters[i].Name < adapters[j].Name })
	return adapters, nil
}

func Open(name string) (link.Link, error) {
	mu.Lock()
	defer mu.Unlock()
	a, ok := attached[name]
	if !ok {
		return nil, fmt.Errorf("%w : %v", ErrNotAttached, name)
	}
	return &Link{name: name, segment: a.segment, hwAddr: a.hwAddr, rx: make(chan []byte, 16)}, nil
}

// Link delivers frames to the segment synchronously, replies are queued for Recv
type Link struct {
	mu      sync.Mutex
	name    string
	segment Segment
	hwAddr  net.HardwareAddr
	rx      chan []byte
	closed  bool
}

func (l *Link) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return link.ErrLinkClosed
	}
	source, payload, err := ecfr.DecodeETHFrame(frame)
	if err != nil {
		return err
	}
	payload = append([]byte(nil), payload...)
	if !l.segment.Process(payload) {
		log.Debugf("[LINK] frame lost on virtual adapter %v", l.name)
		return nil
	}
	select {
	case l.rx <- ecfr.EncodeETHFrame(ecfr.Broadcast, source, payload):
	default:
		log.Warnf("[LINK] rx queue full on virtual adapter %v, dropping frame", l.name)
	}
	return nil
}

func (l *Link) Recv(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame, ok := <-l.rx:
		if !ok {
			return nil, link.ErrLinkClosed
		}
		return frame, nil
	case <-timer.C:
		return nil, link.ErrRecvTimeout
	}
}

func (l *Link) HardwareAddr() net.HardwareAddr {
	return l.hwAddr
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return link.ErrLinkClosed
	}
	l.closed = true
	close(l.rx)
	return nil
}
