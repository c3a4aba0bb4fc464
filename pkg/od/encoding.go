package od

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Width of a fixed size object, in bits
type Width uint8

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
)

// Bytes returns the number of bytes of the width
func (w Width) Bytes() int {
	return int(w) / 8
}

func (w Width) Valid() bool {
	return w == Width8 || w == Width16 || w == Width32
}

func (w Width) String() string {
	return strconv.Itoa(int(w)) + "-bit"
}

// WidthOf returns the width of a byte slice length
func WidthOf(length int) (Width, error) {
	w := Width(length * 8)
	if !w.Valid() {
		return 0, ErrTypeMismatch
	}
	return w, nil
}

// DatatypeWidth returns the width of a supported datatype
func DatatypeWidth(datatype uint8) (Width, error) {
	switch datatype {
	case BOOLEAN, UNSIGNED8, INTEGER8:
		return Width8, nil
	case UNSIGNED16, INTEGER16:
		return Width16, nil
	case UNSIGNED32, INTEGER32:
		return Width32, nil
	}
	return 0, ErrTypeMismatch
}

// DatatypeSigned reports whether datatype is a signed integer
func DatatypeSigned(datatype uint8) bool {
	return datatype == INTEGER8 || datatype == INTEGER16 || datatype == INTEGER32
}

// EncodeUint encodes v little endian on w bits
func EncodeUint(v uint32, w Width) ([]byte, error) {
	if !w.Valid() {
		return nil, ErrTypeMismatch
	}
	if w < Width32 && v > uint32(1)<<w-1 {
		return nil, ErrValueHigh
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b[:w.Bytes()], nil
}

// EncodeInt encodes v little endian, two's complement, on w bits
func EncodeInt(v int32, w Width) ([]byte, error) {
	if !w.Valid() {
		return nil, ErrTypeMismatch
	}
	if w < Width32 {
		max := int32(1)<<(w-1) - 1
		min := -max - 1
		if v > max {
			return nil, ErrValueHigh
		}
		if v < min {
			return nil, ErrValueLow
		}
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b[:w.Bytes()], nil
}

// DecodeUint decodes a little endian unsigned value, width is given by len(b)
func DecodeUint(b []byte) (uint32, error) {
	switch len(b) {
	case 1:
		return uint32(b[0]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return binary.LittleEndian.Uint32(b), nil
	}
	return 0, ErrTypeMismatch
}

// DecodeInt decodes a little endian signed value, width is given by len(b)
func DecodeInt(b []byte) (int32, error) {
	switch len(b) {
	case 1:
		return int32(int8(b[0])), nil
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b))), nil
	case 4:
		return int32(binary.LittleEndian.Uint32(b)), nil
	}
	return 0, ErrTypeMismatch
}

// EncodeFromString value from EDS into bytes respecting datatype
func EncodeFromString(value string, datatype uint8) ([]byte, error) {
	if value == "" {
		// Treat empty string as a 0 value
		value = "0"
	}
	w, err := DatatypeWidth(datatype)
	if err != nil {
		return nil, err
	}
	if DatatypeSigned(datatype) {
		parsed, err := strconv.ParseInt(value, 0, int(w))
		if err != nil {
			return nil, err
		}
		return EncodeInt(int32(parsed), w)
	}
	parsed, err := strconv.ParseUint(value, 0, int(w))
	if err != nil {
		return nil, err
	}
	if datatype == BOOLEAN && parsed > 1 {
		return nil, ErrValueHigh
	}
	return EncodeUint(uint32(parsed), w)
}

// EncodeFromType encodes a Go integer with its exact width
func EncodeFromType(data any) ([]byte, error) {
	switch val := data.(type) {
	case bool:
		if val {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case uint8:
		return []byte{val}, nil
	case int8:
		return []byte{byte(val)}, nil
	case uint16:
		return binary.LittleEndian.AppendUint16(nil, val), nil
	case int16:
		return binary.LittleEndian.AppendUint16(nil, uint16(val)), nil
	case uint32:
		return binary.LittleEndian.AppendUint32(nil, val), nil
	case int32:
		return binary.LittleEndian.AppendUint32(nil, uint32(val)), nil
	case []byte:
		return val, nil
	}
	return nil, ErrTypeMismatch
}

// DecodeToString decodes raw data as a human readable value of datatype
func DecodeToString(data []byte, datatype uint8) (string, error) {
	if err := CheckSize(len(data), datatype); err != nil {
		return "", err
	}
	if DatatypeSigned(datatype) {
		v, err := DecodeInt(data)
		return strconv.FormatInt(int64(v), 10), err
	}
	v, err := DecodeUint(data)
	return strconv.FormatUint(uint64(v), 10), err
}

// Helper function for checking consistency between size and datatype
func CheckSize(length int, datatype uint8) error {
	w, err := DatatypeWidth(datatype)
	if err != nil {
		return err
	}
	if length < w.Bytes() {
		return ErrDataShort
	} else if length > w.Bytes() {
		return ErrDataLong
	}
	return nil
}

// EncodeAttribute from EDS access type and pdo mapping flag.
// Mappable read only objects can only go to TxPDO, write only
// objects only to RxPDO. rww / rwr restrict rw objects the same way.
func EncodeAttribute(accessType string, pdoMapping bool) uint8 {
	var attribute uint8
	var mapping uint8
	switch accessType {
	case "ro", "const":
		attribute = AttributeSdoR
		mapping = AttributeTpdo
	case "wo":
		attribute = AttributeSdoW
		mapping = AttributeRpdo
	case "rww":
		attribute = AttributeSdoRw
		mapping = AttributeRpdo
	case "rwr":
		attribute = AttributeSdoRw
		mapping = AttributeTpdo
	default:
		attribute = AttributeSdoRw
		mapping = AttributeTrpdo
	}
	if pdoMapping {
		attribute |= mapping
	}
	return attribute
}

// DecodeAttribute returns the EDS access type of attribute
func DecodeAttribute(attribute uint8) string {
	switch {
	case attribute&AttributeSdoRw == AttributeSdoRw:
		return "rw"
	case attribute&AttributeSdoR > 0:
		return "ro"
	case attribute&AttributeSdoW > 0:
		return "wo"
	default:
		return "rw"
	}
}

// MappingValue returns the raw value of a PDO mapping entry
func MappingValue(index uint16, subindex uint8, lengthBits uint8) uint32 {
	return uint32(index)<<16 | uint32(subindex)<<8 | uint32(lengthBits)
}

// SplitMappingValue returns index, subindex and length in bits of a raw mapping entry
func SplitMappingValue(raw uint32) (index uint16, subindex uint8, lengthBits uint8) {
	return uint16(raw >> 16), uint8(raw >> 8), uint8(raw)
}

func formatIndex(index uint16, subindex uint8) string {
	return fmt.Sprintf("x%x|x%x", index, subindex)
}
