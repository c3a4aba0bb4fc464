package config

import (
	"fmt"

	"github.com/samsamfire/goethercat/pkg/od"
	log "github.com/sirupsen/logrus"
)

// Accessor is the SDO access to one slave, satisfied by [sdo.SDOClient]
type Accessor interface {
	Upload(index uint16, subindex uint8) ([]byte, error)
	Download(index uint16, subindex uint8, data []byte) error
}

// SlaveConfigurator provides helper methods for
// reading / updating CoE reserved configuration objects
// i.e. identity, PDO mapping and PDO assignment objects.
// No dictionary needs to be loaded for configuring these parameters.
type SlaveConfigurator struct {
	client Accessor
	logger *log.Entry
}

// Create a new [SlaveConfigurator] over the SDO access of one slave
func NewSlaveConfigurator(client Accessor, logger *log.Entry) *SlaveConfigurator {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &SlaveConfigurator{client: client, logger: logger}
}

func (config *SlaveConfigurator) readUint(index uint16, subindex uint8, width od.Width) (uint32, error) {
	raw, err := config.client.Upload(index, subindex)
	if err != nil {
		return 0, err
	}
	if len(raw) != width.Bytes() {
		return 0, fmt.Errorf("x%x|x%x returned %d bytes, expected %d : %w", index, subindex, len(raw), width.Bytes(), od.ErrTypeMismatch)
	}
	return od.DecodeUint(raw)
}

func (config *SlaveConfigurator) ReadUint8(index uint16, subindex uint8) (uint8, error) {
	v, err := config.readUint(index, subindex, od.Width8)
	return uint8(v), err
}

func (config *SlaveConfigurator) ReadUint16(index uint16, subindex uint8) (uint16, error) {
	v, err := config.readUint(index, subindex, od.Width16)
	return uint16(v), err
}

func (config *SlaveConfigurator) ReadUint32(index uint16, subindex uint8) (uint32, error) {
	return config.readUint(index, subindex, od.Width32)
}

func (config *SlaveConfigurator) writeUint(index uint16, subindex uint8, value uint32, width od.Width) error {
	raw, err := od.EncodeUint(value, width)
	if err != nil {
		return err
	}
	return config.client.Download(index, subindex, raw)
}
