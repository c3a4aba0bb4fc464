package config

import (
	"testing"

	"github.com/samsamfire/goethercat/pkg/od"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.SetLevel(log.DebugLevel)
}

// direct access to a local dictionary
type localAccessor struct {
	od     *od.ObjectDictionary
	writes int
}

func (a *localAccessor) Upload(index uint16, subindex uint8) ([]byte, error) {
	v, err := a.od.Lookup(index, subindex)
	if err != nil {
		return nil, err
	}
	return v.Bytes(), nil
}

func (a *localAccessor) Download(index uint16, subindex uint8, data []byte) error {
	v, err := a.od.Lookup(index, subindex)
	if err != nil {
		return err
	}
	a.writes++
	return v.SetBytes(data)
}

func TestReadIdentity(t *testing.T) {
	config := NewSlaveConfigurator(&localAccessor{od: od.DefaultServo()}, nil)
	identity, err := config.ReadIdentity()
	assert.Nil(t, err)
	assert.Equal(t, od.ServoVendorId, identity.VendorId)
	assert.Equal(t, od.ServoProductCode, identity.ProductCode)

	modes, err := config.ReadModesSupported()
	assert.Nil(t, err)
	assert.True(t, SupportsMode(modes, 9))
	assert.False(t, SupportsMode(modes, 2))
	assert.False(t, SupportsMode(modes, 0))

	_, err = config.ReadUint16(od.EntryIdentity, 1)
	assert.ErrorIs(t, err, od.ErrTypeMismatch)
}

func TestWriteMappings(t *testing.T) {
	accessor := &localAccessor{od: od.DefaultServo()}
	config := NewSlaveConfigurator(accessor, nil)
	rx := []PDOMappingParameter{
		{Index: od.EntryControlWord, Subindex: 0, LengthBits: 16},
		{Index: od.EntryTargetVelocity, Subindex: 0, LengthBits: 32},
	}
	t.Run("write then read back", func(t *testing.T) {
		assert.Nil(t, config.WriteMappings(od.EntryRxPDOAssign, od.EntryRxPDOMappingStart, rx))
		mappings, err := config.ReadMappings(od.EntryRxPDOMappingStart)
		assert.Nil(t, err)
		assert.Equal(t, rx, mappings)
		assigned, err := config.ReadAssignment(od.EntryRxPDOAssign)
		assert.Nil(t, err)
		assert.Equal(t, []uint16{od.EntryRxPDOMappingStart}, assigned)
		layout, err := config.ReadProcessDataLayout(od.EntryRxPDOAssign)
		assert.Nil(t, err)
		assert.Equal(t, rx, layout)
	})
	t.Run("empty mapping unassigns", func(t *testing.T) {
		assert.Nil(t, config.WriteMappings(od.EntryRxPDOAssign, od.EntryRxPDOMappingStart, nil))
		layout, err := config.ReadProcessDataLayout(od.EntryRxPDOAssign)
		assert.Nil(t, err)
		assert.Empty(t, layout)
	})
	t.Run("too many", func(t *testing.T) {
		writes := accessor.writes
		err := config.WriteMappings(od.EntryRxPDOAssign, od.EntryRxPDOMappingStart, make([]PDOMappingParameter, 9))
		assert.NotNil(t, err)
		assert.Equal(t, writes, accessor.writes)
		assert.NotNil(t, config.WriteAssignment(od.EntryRxPDOAssign, make([]uint16, 5)))
	})
	assert.EqualValues(t, 0x60FF0020, rx[1].Raw())
}
