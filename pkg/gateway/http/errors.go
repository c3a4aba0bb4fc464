package http

import (
	"errors"
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/gateway"
	"github.com/samsamfire/goethercat/pkg/motion"
	"github.com/samsamfire/goethercat/pkg/sdo"
)

var ERROR_GATEWAY_DESCRIPTION_MAP = map[int]string{
	100: "Request not supported",
	101: "Syntax error",
	102: "Request not processed due to internal state",
	103: "Time-out (where applicable)",
	105: "No default slave set",
	107: "Unsupported slave",
	204: "Wrong bus state",
	205: "Bus state transition failed",
	303: "No session available",
	601: "Adapter currently not available",
	602: "Link lost",
	700: "Drive not enabled",
	701: "Drive enable sequence failed",
	702: "Unsupported mode of operation",
	703: "Drive fault not cleared",
	900: "Manufacturer-specific error",
}

var (
	ErrGwRequestNotSupported       = &GatewayError{Code: 100}
	ErrGwSyntaxError               = &GatewayError{Code: 101}
	ErrGwRequestNotProcessed       = &GatewayError{Code: 102}
	ErrGwTimeout                   = &GatewayError{Code: 103}
	ErrGwNoDefaultSlaveSet         = &GatewayError{Code: 105}
	ErrGwUnsupportedSlave          = &GatewayError{Code: 107}
	ErrGwWrongBusState             = &GatewayError{Code: 204}
	ErrGwStateTransitionFailed     = &GatewayError{Code: 205}
	ErrGwNoSessionAvailable        = &GatewayError{Code: 303}
	ErrGwAdapterNotAvailable       = &GatewayError{Code: 601}
	ErrGwLinkLost                  = &GatewayError{Code: 602}
	ErrGwDriveNotEnabled           = &GatewayError{Code: 700}
	ErrGwEnableSequenceFailed      = &GatewayError{Code: 701}
	ErrGwUnsupportedMode           = &GatewayError{Code: 702}
	ErrGwFaultNotCleared           = &GatewayError{Code: 703}
	ErrGwManufacturerSpecificError = &GatewayError{Code: 900}
)

type GatewayError struct {
	Code    int    // Can be either an sdo abort code or a gateway error code
	Message string // Underlying error, informative only
}

func NewGatewayError(code int) error {
	return &GatewayError{Code: code}
}

func (e *GatewayError) Error() string {
	if e.Code <= 999 {
		return fmt.Sprintf("ERROR:%d", e.Code)
	}
	// Return as a hex value (sdo aborts)
	return fmt.Sprintf("ERROR:0x%x", e.Code)
}

// Is compares codes only
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	return ok && t.Code == e.Code
}

// Description of the error code
func (e *GatewayError) Description() string {
	if e.Code > 999 {
		return sdo.AbortCode(e.Code).Description()
	}
	return ERROR_GATEWAY_DESCRIPTION_MAP[e.Code]
}

// gatewayErrorMap is checked in order, first match wins
var gatewayErrorMap = []struct {
	err  error
	code int
}{
	{gateway.ErrNoSession, 303},
	{ethercat.ErrAlreadyClosed, 303},
	{ethercat.ErrSessionClosed, 303},
	{ethercat.ErrLinkLost, 602},
	{ethercat.ErrAdapterUnavailable, 601},
	{ethercat.ErrNoSlavesFound, 107},
	{ethercat.ErrStateTransitionFailed, 205},
	{ethercat.ErrInvalidStateForOperation, 204},
	{ethercat.ErrSlaveUnreachable, 103},
	{ethercat.ErrCycleMissed, 103},
	{ethercat.ErrEnableSequenceFailed, 701},
	{motion.ErrNotEnabled, 700},
	{motion.ErrUnsupportedMode, 702},
	{motion.ErrFaultNotCleared, 703},
	{ethercat.ErrWidthMismatch, int(sdo.AbortTypeMismatch)},
}

// toGatewayError converts an error from the master into a gateway error.
// Slave aborts keep their abort code.
func toGatewayError(err error) *GatewayError {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	var abortErr *sdo.AbortError
	if errors.As(err, &abortErr) {
		return &GatewayError{Code: int(abortErr.Code), Message: err.Error()}
	}
	var abortCode sdo.AbortCode
	if errors.As(err, &abortCode) {
		return &GatewayError{Code: int(abortCode), Message: err.Error()}
	}
	if errors.Is(err, ethercat.ErrInvalidAddress) {
		return &GatewayError{Code: int(sdo.AbortNotExist), Message: err.Error()}
	}
	for _, m := range gatewayErrorMap {
		if errors.Is(err, m.err) {
			return &GatewayError{Code: m.code, Message: err.Error()}
		}
	}
	return &GatewayError{Code: ErrGwRequestNotProcessed.Code, Message: err.Error()}
}
