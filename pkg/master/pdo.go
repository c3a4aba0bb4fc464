package master

import (
	"context"
	"errors"
	"fmt"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/ecfr"
	"github.com/samsamfire/goethercat/pkg/esc"
	"github.com/samsamfire/goethercat/pkg/od"
)

// buildProcessImage reads the PDO assignment of every slave and configures
// sync managers 2/3 and FMMUs 0/1 for one LRW covering the whole bus.
// Outputs of every slave come first in the logical space, then inputs.
// Called with s.mu held, in PreOp.
func (s *Session) buildProcessImage() error {
	rxLayouts := make([][]config.PDOMappingParameter, len(s.slaves))
	txLayouts := make([][]config.PDOMappingParameter, len(s.slaves))
	for i, slave := range s.slaves {
		if slave.client == nil {
			continue
		}
		configurator := config.NewSlaveConfigurator(slave.client, s.logger)
		rx, err := configurator.ReadProcessDataLayout(od.EntryRxPDOAssign)
		if err != nil {
			return fmt.Errorf("slave %d reading rx pdo : %w", slave.Position, err)
		}
		tx, err := configurator.ReadProcessDataLayout(od.EntryTxPDOAssign)
		if err != nil {
			return fmt.Errorf("slave %d reading tx pdo : %w", slave.Position, err)
		}
		rxLayouts[i], txLayouts[i] = rx, tx
	}

	s.pdoMu.Lock()
	defer s.pdoMu.Unlock()
	s.outputsSize, s.inputsSize, s.expectedWkc, s.missed = 0, 0, 0, 0
	for i, slave := range s.slaves {
		slave.RxPDO = layout(rxLayouts[i])
		slave.TxPDO = layout(txLayouts[i])
		slave.outputs = make([]byte, slave.outputsSize())
		slave.inputs = make([]byte, slave.inputsSize())
		slave.outputsOffset = uint32(s.outputsSize)
		s.outputsSize += len(slave.outputs)
		if len(slave.outputs) > 0 {
			s.expectedWkc += 2
		}
		if len(slave.inputs) > 0 {
			s.expectedWkc++
		}
	}
	for _, slave := range s.slaves {
		slave.inputsOffset = uint32(s.outputsSize + s.inputsSize)
		s.inputsSize += len(slave.inputs)
	}
	if s.outputsSize+s.inputsSize > ecfr.MaxDatagramDataLen {
		return fmt.Errorf("process image of %d bytes does not fit one frame", s.outputsSize+s.inputsSize)
	}

	for _, slave := range s.slaves {
		if err := s.configureProcessData(slave); err != nil {
			return fmt.Errorf("slave %d : %w", slave.Position, err)
		}
		if err := s.seedOutputs(slave); err != nil {
			return fmt.Errorf("slave %d : %w", slave.Position, err)
		}
	}
	s.logger.Infof("[PDO] process image %d output bytes, %d input bytes, expected wkc %d",
		s.outputsSize, s.inputsSize, s.expectedWkc)
	return nil
}

// configureProcessData writes SM2/SM3 and FMMU0/FMMU1 of one slave.
// Process data buffers are placed right after the mailboxes.
func (s *Session) configureProcessData(slave *Slave) error {
	outputsStart := slave.Mailbox.end()
	inputsStart := outputsStart + uint16(len(slave.outputs))
	var sm2, sm3 esc.SyncManager
	var fmmu0, fmmu1 esc.FMMU
	if len(slave.outputs) > 0 {
		sm2 = esc.SyncManager{PhysStart: outputsStart, Length: uint16(len(slave.outputs)), Control: esc.SyncManagerCtrlOutputs, Activate: 1}
		fmmu0 = esc.FMMU{
			LogicalStart:   slave.outputsOffset,
			Length:         uint16(len(slave.outputs)),
			LogicalStopBit: 7,
			PhysStart:      outputsStart,
			Type:           esc.FMMUWrite,
			Activate:       1,
		}
	}
	if len(slave.inputs) > 0 {
		sm3 = esc.SyncManager{PhysStart: inputsStart, Length: uint16(len(slave.inputs)), Control: esc.SyncManagerCtrlInputs, Activate: 1}
		fmmu1 = esc.FMMU{
			LogicalStart:   slave.inputsOffset,
			Length:         uint16(len(slave.inputs)),
			LogicalStopBit: 7,
			PhysStart:      inputsStart,
			Type:           esc.FMMURead,
			Activate:       1,
		}
	}
	sms := make([]byte, 0, 2*esc.SyncManagerLen)
	for _, sm := range []esc.SyncManager{sm2, sm3} {
		raw, _ := sm.MarshalBinary()
		sms = append(sms, raw...)
	}
	if err := s.fpwr(slave.Address, esc.SyncManagerAddr(2), sms); err != nil {
		return err
	}
	fmmus := make([]byte, 0, 2*esc.FMMULen)
	for _, f := range []esc.FMMU{fmmu0, fmmu1} {
		raw, _ := f.MarshalBinary()
		fmmus = append(fmmus, raw...)
	}
	return s.fpwr(slave.Address, esc.FMMUAddr(0), fmmus)
}

// seedOutputs fills the output buffer with the current values of the slave,
// so that the first cycles do not overwrite them with zeroes
func (s *Session) seedOutputs(slave *Slave) error {
	for _, entry := range slave.RxPDO {
		data, err := slave.client.Upload(entry.Index, entry.Subindex)
		if err != nil {
			return fmt.Errorf("seeding output %v : %w", entry.PDOMappingParameter, err)
		}
		if len(data) != entry.size() {
			return fmt.Errorf("%w : seeding output %v, got %d bytes", ethercat.ErrWidthMismatch, entry.PDOMappingParameter, len(data))
		}
		copy(slave.outputs[entry.Offset:], data)
	}
	return nil
}

// WriteOutput sets a mapped output field of a slave, sent on the next exchange
func (s *Session) WriteOutput(position int, index uint16, subindex uint8, value []byte) error {
	slave, err := s.slave(position)
	if err != nil {
		return err
	}
	s.pdoMu.Lock()
	defer s.pdoMu.Unlock()
	entry, ok := findEntry(slave.RxPDO, index, subindex)
	if !ok {
		return fmt.Errorf("%w : x%x|x%x is not an output of slave %d", ethercat.ErrInvalidAddress, index, subindex, position)
	}
	if len(value) != entry.size() {
		return fmt.Errorf("%w : output x%x|x%x is %d bytes, got %d", ethercat.ErrWidthMismatch, index, subindex, entry.size(), len(value))
	}
	copy(slave.outputs[entry.Offset:], value)
	return nil
}

// ReadInput returns a mapped input field of a slave, as of the last exchange
func (s *Session) ReadInput(position int, index uint16, subindex uint8) ([]byte, error) {
	slave, err := s.slave(position)
	if err != nil {
		return nil, err
	}
	s.pdoMu.RLock()
	defer s.pdoMu.RUnlock()
	entry, ok := findEntry(slave.TxPDO, index, subindex)
	if !ok {
		return nil, fmt.Errorf("%w : x%x|x%x is not an input of slave %d", ethercat.ErrInvalidAddress, index, subindex, position)
	}
	return append([]byte(nil), slave.inputs[entry.Offset:entry.Offset+entry.size()]...), nil
}

// IsOutputMapped reports whether (index, subindex) is part of the slave outputs
func (s *Session) IsOutputMapped(position int, index uint16, subindex uint8) bool {
	slave, err := s.slave(position)
	if err != nil {
		return false
	}
	s.pdoMu.RLock()
	defer s.pdoMu.RUnlock()
	_, ok := findEntry(slave.RxPDO, index, subindex)
	return ok
}

// IsInputMapped reports whether (index, subindex) is part of the slave inputs
func (s *Session) IsInputMapped(position int, index uint16, subindex uint8) bool {
	slave, err := s.slave(position)
	if err != nil {
		return false
	}
	s.pdoMu.RLock()
	defer s.pdoMu.RUnlock()
	_, ok := findEntry(slave.TxPDO, index, subindex)
	return ok
}

// Exchange runs one process data cycle: every output is sent in one LRW
// and every input is replaced from the reply, or none is.
// A lost frame or a wrong working counter returns [ethercat.ErrCycleMissed],
// MaxMissedCycles in a row return [ethercat.ErrLinkLost].
func (s *Session) Exchange(cycleTimeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUsable(); err != nil {
		return err
	}
	if s.state != ethercat.StateOperational {
		return fmt.Errorf("%w : exchange needs %v, bus is %v", ethercat.ErrInvalidStateForOperation, ethercat.StateOperational, s.state)
	}

	s.pdoMu.RLock()
	image := make([]byte, s.outputsSize+s.inputsSize)
	for _, slave := range s.slaves {
		copy(image[slave.outputsOffset:], slave.outputs)
	}
	expectedWkc := s.expectedWkc
	s.pdoMu.RUnlock()

	reply, err := s.transceive(cycleTimeout, ecfr.NewLogicalDatagram(ecfr.LRW, 0, image))
	if err == nil && reply[0].WorkingCounter != expectedWkc {
		err = fmt.Errorf("%w : got %d, expected %d", ErrWorkingCounter, reply[0].WorkingCounter, expectedWkc)
	}
	if err != nil {
		return s.cycleMissed(err)
	}
	s.missed = 0

	s.pdoMu.Lock()
	defer s.pdoMu.Unlock()
	data := reply[0].Data
	for _, slave := range s.slaves {
		copy(slave.inputs, data[slave.inputsOffset:])
	}
	return nil
}

// cycleMissed counts a miss and escalates to link lost. Called with s.mu held.
func (s *Session) cycleMissed(cause error) error {
	s.missed++
	if s.missed >= s.options.MaxMissedCycles {
		s.linkLost = true
		s.logger.Errorf("[PDO] %d cycles missed in a row, link lost : %v", s.missed, cause)
		return fmt.Errorf("%w : %d cycles missed in a row : %w", ethercat.ErrLinkLost, s.missed, cause)
	}
	return fmt.Errorf("%w : %w", ethercat.ErrCycleMissed, cause)
}

// Run exchanges process data every period until ctx is done or the link is lost.
// Cancellation is checked between cycles, the bus is then put back in PreOp.
func (s *Session) Run(ctx context.Context, period time.Duration, cycleTimeout time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	s.logger.Infof("[PDO] starting cyclic exchange every %v", period)
	for {
		select {
		case <-ctx.Done():
			return s.stopCycling()
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return s.stopCycling()
		}
		err := s.Exchange(cycleTimeout)
		switch {
		case err == nil:
		case errors.Is(err, ethercat.ErrCycleMissed):
			s.logger.Warnf("[PDO] %v", err)
		default:
			return err
		}
	}
}

func (s *Session) stopCycling() error {
	s.logger.Infof("[PDO] stopping cyclic exchange")
	if s.State() != ethercat.StateOperational {
		return nil
	}
	_, err := s.RequestState(ethercat.StatePreOperational)
	return err
}
