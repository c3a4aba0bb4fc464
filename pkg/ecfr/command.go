package ecfr

import "fmt"

// CommandType of a datagram
type CommandType uint8

const (
	NOP  CommandType = 0
	APRD CommandType = 1
	APWR CommandType = 2
	APRW CommandType = 3
	FPRD CommandType = 4
	FPWR CommandType = 5
	FPRW CommandType = 6
	BRD  CommandType = 7
	BWR  CommandType = 8
	BRW  CommandType = 9
	LRD  CommandType = 10
	LWR  CommandType = 11
	LRW  CommandType = 12
	ARMW CommandType = 13
	FRMW CommandType = 14
)

var commandTypeName = map[CommandType]string{
	NOP:  "NOP",
	APRD: "APRD",
	APWR: "APWR",
	APRW: "APRW",
	FPRD: "FPRD",
	FPWR: "FPWR",
	FPRW: "FPRW",
	BRD:  "BRD",
	BWR:  "BWR",
	BRW:  "BRW",
	LRD:  "LRD",
	LWR:  "LWR",
	LRW:  "LRW",
	ARMW: "ARMW",
	FRMW: "FRMW",
}

func (ct CommandType) String() string {
	if cts, ok := commandTypeName[ct]; ok {
		return cts
	}
	return fmt.Sprintf("CommandType(%d)", uint(ct))
}

// Positional (auto increment) addressing
func (ct CommandType) Positional() bool {
	return ct == APRD || ct == APWR || ct == APRW || ct == ARMW
}

// Fixed (configured station address) addressing
func (ct CommandType) Fixed() bool {
	return ct == FPRD || ct == FPWR || ct == FPRW || ct == FRMW
}

func (ct CommandType) Broadcast() bool {
	return ct == BRD || ct == BWR || ct == BRW
}

func (ct CommandType) Logical() bool {
	return ct == LRD || ct == LWR || ct == LRW
}

// Reads reports whether slaves copy memory into the datagram
func (ct CommandType) Reads() bool {
	switch ct {
	case APRD, APRW, FPRD, FPRW, BRD, BRW, LRD, LRW, ARMW, FRMW:
		return true
	}
	return false
}

// Writes reports whether slaves copy the datagram into memory
func (ct CommandType) Writes() bool {
	switch ct {
	case APWR, APRW, FPWR, FPRW, BWR, BRW, LWR, LRW:
		return true
	}
	return false
}
