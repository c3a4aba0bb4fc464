//go:build linux

package rawsock

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/samsamfire/goethercat/pkg/ecfr"
	"github.com/samsamfire/goethercat/pkg/link"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const maxFrameSize = 1522

func init() {
	link.RegisterDriver("rawsock", link.Driver{Scan: Scan, Open: Open})
}

// Network byte order for the socket protocol field
func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

type Socket struct {
	mu     sync.Mutex
	fd     int
	iface  *net.Interface
	closed bool
	rxBuf  []byte
}

// Scan lists interfaces that are up, not loopback and have an ethernet address
func Scan() ([]link.Adapter, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	adapters := make([]link.Adapter, 0)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		adapters = append(adapters, link.Adapter{
			Name:        iface.Name,
			Description: fmt.Sprintf("ethernet %v mtu %d", iface.HardwareAddr, iface.MTU),
		})
	}
	return adapters, nil
}

// Open a raw socket on the named interface. The interface must be up.
func Open(name string) (link.Link, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	proto := htons(ecfr.EtherType)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, fmt.Errorf("failed to create packet socket : %w", err)
	}
	addr := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: iface.Index}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind packet socket to %v : %w", name, err)
	}
	log.Infof("[LINK] raw socket opened on %v (%v)", name, iface.HardwareAddr)
	return &Socket{fd: fd, iface: iface, rxBuf: make([]byte, maxFrameSize)}, nil
}

func (s *Socket) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return link.ErrLinkClosed
	}
	n, err := unix.Write(s.fd, frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return fmt.Errorf("short write on %v : %d of %d bytes", s.iface.Name, n, len(frame))
	}
	return nil
}

// Recv waits for the next incoming frame, frames sent by this host are skipped
func (s *Socket) Recv(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(timeout)
	for {
		if s.closed {
			return nil, link.ErrLinkClosed
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, link.ErrRecvTimeout
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(remaining.Milliseconds())+1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, link.ErrRecvTimeout
		}
		n, from, err := unix.Recvfrom(s.fd, s.rxBuf, 0)
		if err != nil {
			return nil, err
		}
		if sll, ok := from.(*unix.SockaddrLinklayer); ok && sll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}
		frame := make([]byte, n)
		copy(frame, s.rxBuf[:n])
		return frame, nil
	}
}

func (s *Socket) HardwareAddr() net.HardwareAddr {
	return s.iface.HardwareAddr
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return link.ErrLinkClosed
	}
	s.closed = true
	return unix.Close(s.fd)
}
