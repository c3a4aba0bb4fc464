package od

import (
	"sort"
)

// An Entry is an OD object at a specific index.
// VAR entries hold a single [Variable] at subindex 0, ARRAY and RECORD
// entries hold one [Variable] per subindex.
type Entry struct {
	// The OD index e.g. x6040
	Index uint16
	// The OD name inside of EDS
	Name string
	// The OD object type (VAR, ARRAY, RECORD)
	ObjectType uint8
	subEntries map[uint8]*Variable
}

func newEntry(index uint16, name string, objectType uint8) *Entry {
	return &Entry{
		Index:      index,
		Name:       name,
		ObjectType: objectType,
		subEntries: make(map[uint8]*Variable),
	}
}

// SubIndex returns the [Variable] at a given subindex
func (entry *Entry) SubIndex(subIndex uint8) (*Variable, error) {
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	variable, ok := entry.subEntries[subIndex]
	if !ok {
		return nil, ErrSubNotExist
	}
	return variable, nil
}

// AddSubObject adds a member to a RECORD or ARRAY entry
func (entry *Entry) AddSubObject(
	subIndex uint8,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Variable, error) {
	if entry.ObjectType == ObjectTypeVAR && subIndex != 0 {
		return nil, ErrDevIncompat
	}
	variable, err := NewVariable(entry.Index, subIndex, name, datatype, attribute, value)
	if err != nil {
		return nil, err
	}
	entry.subEntries[subIndex] = variable
	return variable, nil
}

// SubCount returns the number of sub entries
func (entry *Entry) SubCount() int {
	return len(entry.subEntries)
}

// Variables returns sub entries ordered by subindex
func (entry *Entry) Variables() []*Variable {
	variables := make([]*Variable, 0, len(entry.subEntries))
	for _, v := range entry.subEntries {
		variables = append(variables, v)
	}
	sort.Slice(variables, func(i, j int) bool { return variables[i].SubIndex < variables[j].SubIndex })
	return variables
}

// Uint8 reads a sub entry that must be 8 bits wide
func (entry *Entry) Uint8(subIndex uint8) (uint8, error) {
	v, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	if v.Width() != Width8 {
		return 0, ErrTypeMismatch
	}
	return uint8(v.Uint()), nil
}

// Uint16 reads a sub entry that must be 16 bits wide
func (entry *Entry) Uint16(subIndex uint8) (uint16, error) {
	v, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	if v.Width() != Width16 {
		return 0, ErrTypeMismatch
	}
	return uint16(v.Uint()), nil
}

// Uint32 reads a sub entry that must be 32 bits wide
func (entry *Entry) Uint32(subIndex uint8) (uint32, error) {
	v, err := entry.SubIndex(subIndex)
	if err != nil {
		return 0, err
	}
	if v.Width() != Width32 {
		return 0, ErrTypeMismatch
	}
	return v.Uint(), nil
}
