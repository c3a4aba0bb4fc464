package od

import "fmt"

// ODR is an object dictionary access result.
// Every ODR maps to an SDO abort code.
type ODR int8

const (
	ErrNo           ODR = 0
	ErrUnsuppAccess ODR = 2
	ErrWriteOnly    ODR = 3
	ErrReadonly     ODR = 4
	ErrIdxNotExist  ODR = 5
	ErrNoMap        ODR = 6
	ErrMapLen       ODR = 7
	ErrParIncompat  ODR = 8
	ErrDevIncompat  ODR = 9
	ErrTypeMismatch ODR = 11
	ErrDataLong     ODR = 12
	ErrDataShort    ODR = 13
	ErrSubNotExist  ODR = 14
	ErrInvalidValue ODR = 15
	ErrValueHigh    ODR = 16
	ErrValueLow     ODR = 17
	ErrGeneral      ODR = 20
	ErrDataDevState ODR = 23
)

var odrDescription = map[ODR]string{
	ErrNo:           "no error",
	ErrUnsuppAccess: "unsupported access",
	ErrWriteOnly:    "object is write only",
	ErrReadonly:     "object is read only",
	ErrIdxNotExist:  "index does not exist",
	ErrNoMap:        "object cannot be mapped to PDO",
	ErrMapLen:       "mapped objects exceed PDO length",
	ErrParIncompat:  "parameter incompatibility",
	ErrDevIncompat:  "device incompatibility",
	ErrTypeMismatch: "data type or length does not match",
	ErrDataLong:     "data too long",
	ErrDataShort:    "data too short",
	ErrSubNotExist:  "subindex does not exist",
	ErrInvalidValue: "invalid value",
	ErrValueHigh:    "value too high",
	ErrValueLow:     "value too low",
	ErrGeneral:      "general error",
	ErrDataDevState: "not possible in present device state",
}

func (odr ODR) Error() string {
	desc, ok := odrDescription[odr]
	if !ok {
		return fmt.Sprintf("OD error %d", int8(odr))
	}
	return "OD error : " + desc
}

// CiA 301 object types
const (
	ObjectTypeDOMAIN uint8 = 2
	ObjectTypeVAR    uint8 = 7
	ObjectTypeARRAY  uint8 = 8
	ObjectTypeRECORD uint8 = 9
)

// CiA 301 data types, only fixed width types are supported
const (
	BOOLEAN    uint8 = 0x01
	INTEGER8   uint8 = 0x02
	INTEGER16  uint8 = 0x03
	INTEGER32  uint8 = 0x04
	UNSIGNED8  uint8 = 0x05
	UNSIGNED16 uint8 = 0x06
	UNSIGNED32 uint8 = 0x07
)

var DatatypeName = map[uint8]string{
	BOOLEAN:    "BOOLEAN",
	INTEGER8:   "INTEGER8",
	INTEGER16:  "INTEGER16",
	INTEGER32:  "INTEGER32",
	UNSIGNED8:  "UNSIGNED8",
	UNSIGNED16: "UNSIGNED16",
	UNSIGNED32: "UNSIGNED32",
}

// Object dictionary object attribute
const (
	AttributeSdoR  uint8 = 0x01 // SDO server may read from the variable
	AttributeSdoW  uint8 = 0x02 // SDO server may write to the variable
	AttributeSdoRw uint8 = 0x03 // SDO server may read from or write to the variable
	AttributeTpdo  uint8 = 0x04 // Variable is mappable into TxPDO (inputs)
	AttributeRpdo  uint8 = 0x08 // Variable is mappable into RxPDO (outputs)
	AttributeTrpdo uint8 = 0x0C // Variable is mappable into TxPDO or RxPDO
)

// CoE communication objects
const (
	EntryDeviceType          uint16 = 0x1000
	EntryIdentity            uint16 = 0x1018
	EntryRxPDOMappingStart   uint16 = 0x1600
	EntryTxPDOMappingStart   uint16 = 0x1A00
	EntrySyncManagerType     uint16 = 0x1C00
	EntryRxPDOAssign         uint16 = 0x1C12
	EntryTxPDOAssign         uint16 = 0x1C13
	MaxMappedEntriesPdo      uint8  = 8
	MaxAssignedPdo           uint8  = 4
	EntryErrorCode           uint16 = 0x603F
	EntryControlWord         uint16 = 0x6040
	EntryStatusWord          uint16 = 0x6041
	EntryModesOfOperation    uint16 = 0x6060
	EntryModesDisplay        uint16 = 0x6061
	EntryPositionActual      uint16 = 0x6064
	EntryVelocityActual      uint16 = 0x606C
	EntryTargetTorque        uint16 = 0x6071
	EntryTorqueActual        uint16 = 0x6077
	EntryTargetPosition      uint16 = 0x607A
	EntryTargetVelocity      uint16 = 0x60FF
	EntrySupportedDriveModes uint16 = 0x6502
)
