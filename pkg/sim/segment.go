// Package sim simulates an EtherCAT segment made of CiA402 servo slaves.
// It is the counterpart of the master in tests and demos, frames are
// processed the way they travel through the slaves of a real line.
package sim

import (
	"sync"

	"github.com/samsamfire/goethercat/pkg/ecfr"
	log "github.com/sirupsen/logrus"
)

// Segment is an ordered line of simulated slaves
type Segment struct {
	mu       sync.Mutex
	slaves   []*Slave
	frames   int
	drop     int
	linkDown bool
	logger   *log.Entry
}

func NewSegment(slaves ...*Slave) *Segment {
	return &Segment{
		slaves: slaves,
		logger: log.WithField("component", "sim"),
	}
}

// Add a slave at the end of the line
func (s *Segment) Add(slave *Slave) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slaves = append(s.slaves, slave)
}

func (s *Segment) Slaves() []*Slave {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Slave(nil), s.slaves...)
}

// Frames returns the number of frames that reached the segment, lost ones included
func (s *Segment) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// DropFrames loses the next n frames
func (s *Segment) DropFrames(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop = n
}

// SetLinkDown loses every frame until called with false
func (s *Segment) SetLinkDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkDown = down
}

// Process runs an EtherCAT payload through every slave, in place.
// Returns false when the frame is lost.
func (s *Segment) Process(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.linkDown {
		return false
	}
	if s.drop > 0 {
		s.drop--
		s.logger.Debugf("[SIM] dropping frame, %d left to drop", s.drop)
		return false
	}
	frame := ecfr.Frame{}
	if err := frame.UnmarshalBinary(payload); err != nil {
		s.logger.Warnf("[SIM] invalid frame : %v", err)
		return false
	}
	for _, dg := range frame.Datagrams {
		for _, slave := range s.slaves {
			slave.handle(dg)
		}
	}
	raw, err := frame.MarshalBinary()
	if err != nil {
		s.logger.Warnf("[SIM] could not encode frame : %v", err)
		return false
	}
	copy(payload, raw)
	return true
}
