package esc

import (
	"fmt"
)

// SII EEPROM word addresses
const (
	SIIVendorId          = 0x0008
	SIIProductCode       = 0x000A
	SIIRevisionNumber    = 0x000C
	SIISerialNumber      = 0x000E
	SIIStdRxMailboxStart = 0x0018
	SIIStdRxMailboxSize  = 0x0019
	SIIStdTxMailboxStart = 0x001A
	SIIStdTxMailboxSize  = 0x001B
	SIIMailboxProtocol   = 0x001C
	SIIFirstCategory     = 0x0040
	// Bound on category walking, 4 kByte EEPROM
	SIIMaxWordAddress = 0x0800
)

// SII category types
const (
	CategoryStrings uint16 = 10
	CategoryGeneral uint16 = 30
	CategoryEnd     uint16 = 0xFFFF
)

// Mailbox protocols (SII word 0x1C)
const (
	MailboxProtocolAoE uint16 = 0x01
	MailboxProtocolEoE uint16 = 0x02
	MailboxProtocolCoE uint16 = 0x04
	MailboxProtocolFoE uint16 = 0x08
	MailboxProtocolSoE uint16 = 0x10
)

// Offset of the name string index inside the general category
const GeneralNameIndexOffset = 3

// ParseStrings decodes the strings category: a count byte followed
// by length prefixed strings. Index 0 is reserved for "no string".
func ParseStrings(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty strings category")
	}
	count := int(data[0])
	data = data[1:]
	strs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < 1 {
			return nil, fmt.Errorf("strings category truncated at string %d", i+1)
		}
		l := int(data[0])
		if len(data) < 1+l {
			return nil, fmt.Errorf("strings category truncated at string %d", i+1)
		}
		strs = append(strs, string(data[1:1+l]))
		data = data[1+l:]
	}
	return strs, nil
}

// EncodeStrings is the inverse of [ParseStrings], padded to a whole word
func EncodeStrings(strs []string) []byte {
	b := []byte{byte(len(strs))}
	for _, s := range strs {
		b = append(b, byte(len(s)))
		b = append(b, s...)
	}
	if len(b)%2 != 0 {
		b = append(b, 0)
	}
	return b
}

// AL status codes
const (
	ALCodeNoError                 uint16 = 0x0000
	ALCodeUnspecified             uint16 = 0x0001
	ALCodeInvalidStateChange      uint16 = 0x0011
	ALCodeUnknownState            uint16 = 0x0012
	ALCodeBootstrapNotSupported   uint16 = 0x0013
	ALCodeInvalidMailboxConfig    uint16 = 0x0016
	ALCodeInvalidSMConfig         uint16 = 0x0017
	ALCodeNoValidInputs           uint16 = 0x0018
	ALCodeNoValidOutputs          uint16 = 0x0019
	ALCodeSyncError               uint16 = 0x001A
	ALCodeSMWatchdog              uint16 = 0x001B
	ALCodeInvalidOutputConfig     uint16 = 0x001D
	ALCodeInvalidInputConfig      uint16 = 0x001E
	ALCodeInvalidWatchdogConfig   uint16 = 0x001F
	ALCodeInvalidOutputFMMUConfig uint16 = 0x0025
	ALCodeInvalidInputFMMUConfig  uint16 = 0x0026
)

var ALStatusCodeDescription = map[uint16]string{
	ALCodeNoError:                 "No error",
	ALCodeUnspecified:             "Unspecified error",
	ALCodeInvalidStateChange:      "Invalid requested state change",
	ALCodeUnknownState:            "Unknown requested state",
	ALCodeBootstrapNotSupported:   "Bootstrap not supported",
	ALCodeInvalidMailboxConfig:    "Invalid mailbox configuration",
	ALCodeInvalidSMConfig:         "Invalid sync manager configuration",
	ALCodeNoValidInputs:           "No valid inputs available",
	ALCodeNoValidOutputs:          "No valid outputs",
	ALCodeSyncError:               "Synchronization error",
	ALCodeSMWatchdog:              "Sync manager watchdog",
	ALCodeInvalidOutputConfig:     "Invalid output configuration",
	ALCodeInvalidInputConfig:      "Invalid input configuration",
	ALCodeInvalidWatchdogConfig:   "Invalid watchdog configuration",
	ALCodeInvalidOutputFMMUConfig: "Invalid output FMMU configuration",
	ALCodeInvalidInputFMMUConfig:  "Invalid input FMMU configuration",
}

// DescribeALStatusCode returns a human readable description of code
func DescribeALStatusCode(code uint16) string {
	desc, ok := ALStatusCodeDescription[code]
	if !ok {
		return fmt.Sprintf("AL status code x%04x", code)
	}
	return desc
}
