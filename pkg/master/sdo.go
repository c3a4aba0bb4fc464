package master

import (
	"errors"
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/od"
)

// sdoTarget checks that an SDO access to (index, subindex) of width is
// allowed, without any bus traffic. Called with s.mu held.
func (s *Session) sdoTarget(position int, index uint16, subindex uint8, width od.Width) (*Slave, error) {
	if err := s.checkUsable(); err != nil {
		return nil, err
	}
	slave, err := s.slave(position)
	if err != nil {
		return nil, err
	}
	if !width.Valid() {
		return nil, fmt.Errorf("%w : x%x|x%x, unsupported width %v", ethercat.ErrWidthMismatch, index, subindex, width)
	}
	if slave.dictionary != nil {
		variable, err := slave.dictionary.Lookup(index, subindex)
		if err != nil {
			return nil, fmt.Errorf("%w : slave %d x%x|x%x : %w", ethercat.ErrInvalidAddress, position, index, subindex, err)
		}
		if variable.Width() != width {
			return nil, fmt.Errorf("%w : slave %d x%x|x%x is %v, got %v",
				ethercat.ErrWidthMismatch, position, index, subindex, variable.Width(), width)
		}
	}
	if s.state.Rank() < ethercat.StatePreOperational.Rank() {
		return nil, fmt.Errorf("%w : sdo access needs at least %v, bus is %v",
			ethercat.ErrInvalidStateForOperation, ethercat.StatePreOperational, s.state)
	}
	if slave.client == nil {
		return nil, fmt.Errorf("%w : slave %d has no CoE mailbox", ethercat.ErrSlaveUnreachable, position)
	}
	return slave, nil
}

// Read uploads (index, subindex) from the slave at position.
// width must match the width declared in the dictionary.
func (s *Session) Read(position int, index uint16, subindex uint8, width od.Width) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slave, err := s.sdoTarget(position, index, subindex, width)
	if err != nil {
		return nil, err
	}
	data, err := slave.client.Upload(index, subindex)
	if err != nil {
		return nil, err
	}
	if len(data) != width.Bytes() {
		return nil, fmt.Errorf("%w : slave %d x%x|x%x returned %d bytes",
			ethercat.ErrWidthMismatch, position, index, subindex, len(data))
	}
	return data, nil
}

// Write downloads value to (index, subindex) of the slave at position.
// The width is taken from len(value).
func (s *Session) Write(position int, index uint16, subindex uint8, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slave, err := s.sdoTarget(position, index, subindex, od.Width(len(value)*8))
	if err != nil {
		return err
	}
	return slave.client.Download(index, subindex, value)
}

func (s *Session) readUint(position int, index uint16, subindex uint8, width od.Width) (uint32, error) {
	data, err := s.Read(position, index, subindex, width)
	if err != nil {
		return 0, err
	}
	return od.DecodeUint(data)
}

func (s *Session) readInt(position int, index uint16, subindex uint8, width od.Width) (int32, error) {
	data, err := s.Read(position, index, subindex, width)
	if err != nil {
		return 0, err
	}
	return od.DecodeInt(data)
}

func (s *Session) ReadUint8(position int, index uint16, subindex uint8) (uint8, error) {
	v, err := s.readUint(position, index, subindex, od.Width8)
	return uint8(v), err
}

func (s *Session) ReadUint16(position int, index uint16, subindex uint8) (uint16, error) {
	v, err := s.readUint(position, index, subindex, od.Width16)
	return uint16(v), err
}

func (s *Session) ReadUint32(position int, index uint16, subindex uint8) (uint32, error) {
	return s.readUint(position, index, subindex, od.Width32)
}

func (s *Session) ReadInt8(position int, index uint16, subindex uint8) (int8, error) {
	v, err := s.readInt(position, index, subindex, od.Width8)
	return int8(v), err
}

func (s *Session) ReadInt16(position int, index uint16, subindex uint8) (int16, error) {
	v, err := s.readInt(position, index, subindex, od.Width16)
	return int16(v), err
}

func (s *Session) ReadInt32(position int, index uint16, subindex uint8) (int32, error) {
	return s.readInt(position, index, subindex, od.Width32)
}

func (s *Session) WriteUint8(position int, index uint16, subindex uint8, value uint8) error {
	return s.Write(position, index, subindex, []byte{value})
}

func (s *Session) WriteUint16(position int, index uint16, subindex uint8, value uint16) error {
	data, _ := od.EncodeUint(uint32(value), od.Width16)
	return s.Write(position, index, subindex, data)
}

func (s *Session) WriteUint32(position int, index uint16, subindex uint8, value uint32) error {
	data, _ := od.EncodeUint(value, od.Width32)
	return s.Write(position, index, subindex, data)
}

func (s *Session) WriteInt8(position int, index uint16, subindex uint8, value int8) error {
	return s.Write(position, index, subindex, []byte{byte(value)})
}

func (s *Session) WriteInt16(position int, index uint16, subindex uint8, value int16) error {
	data, _ := od.EncodeInt(int32(value), od.Width16)
	return s.Write(position, index, subindex, data)
}

func (s *Session) WriteInt32(position int, index uint16, subindex uint8, value int32) error {
	data, _ := od.EncodeInt(value, od.Width32)
	return s.Write(position, index, subindex, data)
}

// ConfigurePDO writes the RxPDO (outputs) and TxPDO (inputs) mapping of a slave,
// using the first mapping object of each direction. Only allowed in PreOp.
// Passing nil leaves that direction untouched.
func (s *Session) ConfigurePDO(position int, rx []config.PDOMappingParameter, tx []config.PDOMappingParameter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUsable(); err != nil {
		return err
	}
	if s.state != ethercat.StatePreOperational {
		return fmt.Errorf("%w : pdo mapping needs %v, bus is %v",
			ethercat.ErrInvalidStateForOperation, ethercat.StatePreOperational, s.state)
	}
	slave, err := s.slave(position)
	if err != nil {
		return err
	}
	if slave.client == nil {
		return fmt.Errorf("%w : slave %d has no CoE mailbox", ethercat.ErrSlaveUnreachable, position)
	}
	if err := checkMappings(slave, rx, true); err != nil {
		return err
	}
	if err := checkMappings(slave, tx, false); err != nil {
		return err
	}
	configurator := config.NewSlaveConfigurator(slave.client, s.logger)
	if rx != nil {
		if err := configurator.WriteMappings(od.EntryRxPDOAssign, od.EntryRxPDOMappingStart, rx); err != nil {
			return fmt.Errorf("slave %d rx pdo : %w", position, err)
		}
	}
	if tx != nil {
		if err := configurator.WriteMappings(od.EntryTxPDOAssign, od.EntryTxPDOMappingStart, tx); err != nil {
			return fmt.Errorf("slave %d tx pdo : %w", position, err)
		}
	}
	s.logger.Infof("[PDO] slave %d mapped %d outputs, %d inputs", position, len(rx), len(tx))
	return nil
}

var errNotMappable = errors.New("object cannot be mapped")

// checkMappings validates mappings against the slave dictionary, when bound
func checkMappings(slave *Slave, mappings []config.PDOMappingParameter, outputs bool) error {
	if len(mappings) > int(od.MaxMappedEntriesPdo) {
		return fmt.Errorf("%w : %d objects, at most %d", ethercat.ErrInvalidAddress, len(mappings), od.MaxMappedEntriesPdo)
	}
	for _, m := range mappings {
		if !od.Width(m.LengthBits).Valid() {
			return fmt.Errorf("%w : %v", ethercat.ErrWidthMismatch, m)
		}
		if slave.dictionary == nil {
			continue
		}
		variable, err := slave.dictionary.Lookup(m.Index, m.Subindex)
		if err != nil {
			return fmt.Errorf("%w : slave %d %v : %w", ethercat.ErrInvalidAddress, slave.Position, m, err)
		}
		if int(m.LengthBits) != variable.DataLength()*8 {
			return fmt.Errorf("%w : slave %d %v is %v", ethercat.ErrWidthMismatch, slave.Position, m, variable.Width())
		}
		if (outputs && !variable.RxMappable()) || (!outputs && !variable.TxMappable()) {
			return fmt.Errorf("%w : slave %d %v : %w", ethercat.ErrInvalidAddress, slave.Position, m, errNotMappable)
		}
	}
	return nil
}
