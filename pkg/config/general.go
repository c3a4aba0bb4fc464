package config

import (
	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/od"
)

// Read identity object (0x1018, mandatory)
func (config *SlaveConfigurator) ReadIdentity() (*ethercat.Identity, error) {
	// Vendor ID is the only mandatory field
	vendorId, err := config.ReadUint32(od.EntryIdentity, 1)
	if err != nil {
		return nil, err
	}
	productCode, _ := config.ReadUint32(od.EntryIdentity, 2)
	revisionNumber, _ := config.ReadUint32(od.EntryIdentity, 3)
	serialNumber, _ := config.ReadUint32(od.EntryIdentity, 4)
	return &ethercat.Identity{
		VendorId:       vendorId,
		ProductCode:    productCode,
		RevisionNumber: revisionNumber,
		SerialNumber:   serialNumber,
	}, nil
}

// Read supported drive modes (0x6502), bit n set means mode n+1 is supported
func (config *SlaveConfigurator) ReadModesSupported() (uint32, error) {
	return config.ReadUint32(od.EntrySupportedDriveModes, 0)
}

// SupportsMode checks a mode against the bits returned by [SlaveConfigurator.ReadModesSupported]
func SupportsMode(supported uint32, mode int8) bool {
	if mode <= 0 || mode > 32 {
		return false
	}
	return supported&(1<<(mode-1)) != 0
}
