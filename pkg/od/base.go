package od

import _ "embed"

//go:embed servo.eds
var rawServoOd []byte

// Identity of the embedded servo dictionary (Y7-Servo)
const (
	ServoVendorId    uint32 = 0x00000A7E
	ServoProductCode uint32 = 0x00001A02
)

// DefaultServo returns a fresh copy of the embedded CiA402 servo dictionary
func DefaultServo() *ObjectDictionary {
	servoOd, err := Parse(rawServoOd)
	if err != nil {
		panic(err)
	}
	return servoOd
}
