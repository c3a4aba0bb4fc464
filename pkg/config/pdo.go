package config

import (
	"fmt"

	"github.com/samsamfire/goethercat/pkg/od"
)

type PDOMappingParameter struct {
	Index      uint16
	Subindex   uint8
	LengthBits uint8
}

func (m PDOMappingParameter) Raw() uint32 {
	return od.MappingValue(m.Index, m.Subindex, m.LengthBits)
}

func (m PDOMappingParameter) String() string {
	return fmt.Sprintf("x%x|x%x (%d bits)", m.Index, m.Subindex, m.LengthBits)
}

func (config *SlaveConfigurator) ReadNbMappings(mapIndex uint16) (uint8, error) {
	return config.ReadUint8(mapIndex, 0)
}

// Read the objects mapped in one PDO (0x1600.. or 0x1A00..)
func (config *SlaveConfigurator) ReadMappings(mapIndex uint16) ([]PDOMappingParameter, error) {
	mappings := make([]PDOMappingParameter, 0)
	nbMappings, err := config.ReadNbMappings(mapIndex)
	if err != nil {
		return nil, err
	}
	for i := uint8(0); i < nbMappings; i++ {
		rawMap, err := config.ReadUint32(mapIndex, i+1)
		if err != nil {
			return nil, err
		}
		index, subindex, lengthBits := od.SplitMappingValue(rawMap)
		mappings = append(mappings, PDOMappingParameter{Index: index, Subindex: subindex, LengthBits: lengthBits})
	}
	return mappings, nil
}

// Read the PDOs assigned to a sync manager (0x1C12 outputs, 0x1C13 inputs)
func (config *SlaveConfigurator) ReadAssignment(assignIndex uint16) ([]uint16, error) {
	nbAssigned, err := config.ReadUint8(assignIndex, 0)
	if err != nil {
		return nil, err
	}
	pdos := make([]uint16, 0, nbAssigned)
	for i := uint8(0); i < nbAssigned; i++ {
		mapIndex, err := config.ReadUint16(assignIndex, i+1)
		if err != nil {
			return nil, err
		}
		pdos = append(pdos, mapIndex)
	}
	return pdos, nil
}

// Read every object of a sync manager, in process image order
func (config *SlaveConfigurator) ReadProcessDataLayout(assignIndex uint16) ([]PDOMappingParameter, error) {
	pdos, err := config.ReadAssignment(assignIndex)
	if err != nil {
		return nil, err
	}
	layout := make([]PDOMappingParameter, 0)
	for _, mapIndex := range pdos {
		mappings, err := config.ReadMappings(mapIndex)
		if err != nil {
			return nil, err
		}
		layout = append(layout, mappings...)
	}
	return layout, nil
}

// Write the PDOs assigned to a sync manager
func (config *SlaveConfigurator) WriteAssignment(assignIndex uint16, pdos []uint16) error {
	if len(pdos) > int(od.MaxAssignedPdo) {
		return fmt.Errorf("%d pdos assigned to x%x, max %d", len(pdos), assignIndex, od.MaxAssignedPdo)
	}
	err := config.writeUint(assignIndex, 0, 0, od.Width8)
	if err != nil {
		return err
	}
	for i, mapIndex := range pdos {
		err := config.writeUint(assignIndex, uint8(i)+1, uint32(mapIndex), od.Width16)
		if err != nil {
			return err
		}
	}
	return config.writeUint(assignIndex, 0, uint32(len(pdos)), od.Width8)
}

// Clear all the PDO mappings
// Technically clearing the actual map entries is not necessary but I find it cleaner
func (config *SlaveConfigurator) ClearMappings(mapIndex uint16) error {
	// First clear nb of mapped entries
	err := config.writeUint(mapIndex, 0, 0, od.Width8)
	if err != nil {
		return err
	}
	// Then clear entries
	for i := uint8(0); i < od.MaxMappedEntriesPdo; i++ {
		err := config.writeUint(mapIndex, i+1, 0, od.Width32)
		if err != nil {
			return err
		}
	}
	return nil
}

// Write new PDO mapping and assign it alone to its sync manager.
// Assignment is disabled while the map is rewritten.
// An empty mapping leaves the sync manager without PDO.
func (config *SlaveConfigurator) WriteMappings(assignIndex uint16, mapIndex uint16, mappings []PDOMappingParameter) error {
	if len(mappings) > int(od.MaxMappedEntriesPdo) {
		return fmt.Errorf("%d objects mapped to x%x, max %d", len(mappings), mapIndex, od.MaxMappedEntriesPdo)
	}
	config.logger.Debugf("[CONFIG] updating mapping x%x assigned to x%x : %v", mapIndex, assignIndex, mappings)
	err := config.writeUint(assignIndex, 0, 0, od.Width8)
	if err != nil {
		return err
	}
	err = config.ClearMappings(mapIndex)
	if err != nil {
		return err
	}
	// Update with new mapping
	for sub, mapping := range mappings {
		err := config.writeUint(mapIndex, uint8(sub)+1, mapping.Raw(), od.Width32)
		if err != nil {
			return err
		}
	}
	if len(mappings) == 0 {
		return nil
	}
	// Update number of mapped objects
	err = config.writeUint(mapIndex, 0, uint32(len(mappings)), od.Width8)
	if err != nil {
		return err
	}
	return config.WriteAssignment(assignIndex, []uint16{mapIndex})
}
