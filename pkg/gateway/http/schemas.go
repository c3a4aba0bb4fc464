package http

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samsamfire/goethercat/pkg/gateway"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/master"
)

type GatewayResponse interface {
	GetError() error
	GetSequenceNb() int
}

// HTTP response base
type GatewayResponseBase struct {
	// Sequence number corresponding to a request
	Sequence string `json:"sequence"`
	// Response, can be "OK" or "ERROR:x"
	Response string `json:"response"`
	// Error text when response is an error
	Message string `json:"message,omitempty"`
}

func NewResponseBase(sequence int, response string) *GatewayResponseBase {
	return &GatewayResponseBase{
		Sequence: strconv.Itoa(sequence),
		Response: response,
	}
}

func NewResponseError(sequence int, err error) []byte {
	gwErr := toGatewayError(err)
	message := gwErr.Message
	if message == "" {
		message = gwErr.Description()
	}
	jData, _ := json.Marshal(GatewayResponseBase{
		Sequence: strconv.Itoa(sequence),
		Response: gwErr.Error(),
		Message:  message,
	})
	return jData
}

func NewResponseSuccess(sequence int) []byte {
	jData, _ := json.Marshal(NewResponseBase(sequence, "OK"))
	return jData
}

// Extract error if any inside of reponse
func (resp *GatewayResponseBase) GetError() error {
	if !strings.HasPrefix(resp.Response, "ERROR:") {
		return nil
	}
	responseSplitted := strings.Split(resp.Response, ":")
	if len(responseSplitted) != 2 {
		return fmt.Errorf("error decoding error field ('ERROR:' : %v)", resp.Response)
	}
	errorCode, err := strconv.ParseUint(responseSplitted[1], 0, 64)
	if err != nil {
		return fmt.Errorf("error decoding error field ('ERROR:' : %v)", err)
	}
	return &GatewayError{Code: int(errorCode), Message: resp.Message}
}

func (resp *GatewayResponseBase) GetSequenceNb() int {
	sequence, _ := strconv.Atoi(resp.Sequence)
	return sequence
}

// HTTP request to the server
type GatewayRequest struct {
	slave      int    // slave position, some special negative values are used for "all", "default" & "none"
	command    string // command can be composed of different parts
	sequence   uint32 // sequence number
	parameters json.RawMessage
}

// Generic single value body, used by open, set/slave and drive commands
type ValueRequest struct {
	Value string `json:"value"`
}

type SDOReadRequest struct {
	Datatype string `json:"datatype,omitempty"`
}

type SDOWriteRequest struct {
	Value    string `json:"value"`
	Datatype string `json:"datatype"`
}

type SDOReadResponse struct {
	*GatewayResponseBase
	Data   string `json:"data"`
	Length int    `json:"length,omitempty"`
}

type ScanResponse struct {
	*GatewayResponseBase
	Adapters []link.Adapter `json:"adapters"`
}

type SlavesResponse struct {
	*GatewayResponseBase
	Slaves []*master.Slave `json:"slaves"`
}

type StateResponse struct {
	*GatewayResponseBase
	State string `json:"state"`
}

type DriveStatusResponse struct {
	*GatewayResponseBase
	State      string `json:"state"`
	StatusWord string `json:"status_word"`
	Mode       string `json:"mode"`
}

type DriveCommandResponse struct {
	*GatewayResponseBase
	Channel string `json:"channel"`
}

type VersionInfo struct {
	*GatewayResponseBase
	*gateway.GatewayVersion
}
