package od

import (
	"sync"
)

// Variable is the smallest addressable element of the dictionary,
// i.e. one value at (index, subindex).
type Variable struct {
	mu           sync.RWMutex
	Index        uint16
	SubIndex     uint8
	Name         string
	DataType     uint8
	Attribute    uint8
	valueDefault []byte
	value        []byte
}

// NewVariable creates a variable with a default value given as a string
// e.g. "0x22", "-12" or "500"
func NewVariable(index uint16, subIndex uint8, name string, datatype uint8, attribute uint8, value string) (*Variable, error) {
	encoded, err := EncodeFromString(value, datatype)
	if err != nil {
		return nil, err
	}
	variable := &Variable{
		Index:        index,
		SubIndex:     subIndex,
		Name:         name,
		DataType:     datatype,
		Attribute:    attribute,
		valueDefault: encoded,
		value:        make([]byte, len(encoded)),
	}
	copy(variable.value, encoded)
	return variable, nil
}

// Width of the variable
func (variable *Variable) Width() Width {
	w, _ := DatatypeWidth(variable.DataType)
	return w
}

// Return number of bytes
func (variable *Variable) DataLength() int {
	return variable.Width().Bytes()
}

// Return default value as byte slice
func (variable *Variable) DefaultValue() []byte {
	return variable.valueDefault
}

// Bytes returns a copy of the current value
func (variable *Variable) Bytes() []byte {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	b := make([]byte, len(variable.value))
	copy(b, variable.value)
	return b
}

// SetBytes updates the value, length must match the datatype
func (variable *Variable) SetBytes(b []byte) error {
	if err := CheckSize(len(b), variable.DataType); err != nil {
		return err
	}
	variable.mu.Lock()
	defer variable.mu.Unlock()
	copy(variable.value, b)
	return nil
}

// Uint returns the value as unsigned, whatever the datatype
func (variable *Variable) Uint() uint32 {
	v, _ := DecodeUint(variable.Bytes())
	return v
}

// Int returns the value sign extended, whatever the datatype
func (variable *Variable) Int() int32 {
	v, _ := DecodeInt(variable.Bytes())
	return v
}

// PutUint sets an unsigned value, checking bounds
func (variable *Variable) PutUint(v uint32) error {
	b, err := EncodeUint(v, variable.Width())
	if err != nil {
		return err
	}
	return variable.SetBytes(b)
}

// PutInt sets a signed value, checking bounds
func (variable *Variable) PutInt(v int32) error {
	b, err := EncodeInt(v, variable.Width())
	if err != nil {
		return err
	}
	return variable.SetBytes(b)
}

// Reset restores default value
func (variable *Variable) Reset() {
	variable.mu.Lock()
	defer variable.mu.Unlock()
	copy(variable.value, variable.valueDefault)
}

func (variable *Variable) Readable() bool {
	return variable.Attribute&AttributeSdoR != 0
}

func (variable *Variable) Writable() bool {
	return variable.Attribute&AttributeSdoW != 0
}

// RxMappable reports whether the variable can be mapped to outputs (RxPDO)
func (variable *Variable) RxMappable() bool {
	return variable.Attribute&AttributeRpdo != 0
}

// TxMappable reports whether the variable can be mapped to inputs (TxPDO)
func (variable *Variable) TxMappable() bool {
	return variable.Attribute&AttributeTpdo != 0
}
