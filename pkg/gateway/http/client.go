package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/gateway"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/motion"
	log "github.com/sirupsen/logrus"
)

type GatewayClient struct {
	http.Client
	logger            *log.Entry
	baseURL           string
	apiVersion        string
	currentSequenceNb int
}

func NewGatewayClient(baseURL string, apiVersion string, logger *log.Logger) *GatewayClient {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &GatewayClient{
		logger:     logger.WithField("service", "[HTTP][CLIENT]"),
		Client:     http.Client{},
		baseURL:    baseURL,
		apiVersion: apiVersion,
	}
}

// HTTP request to the gateway endpoint
// Does error checking : http related errors, json decode errors
// or actual gateway errors
func (client *GatewayClient) Do(method string, uri string, body io.Reader, response GatewayResponse) error {
	client.currentSequenceNb += 1
	baseUri := client.baseURL + "/ecat" + fmt.Sprintf("/%s/%d", client.apiVersion, client.currentSequenceNb)
	req, err := http.NewRequest(method, baseUri+uri, body)
	if err != nil {
		client.logger.Errorf("failed to create request : %v", err)
		return err
	}
	httpResp, err := client.Client.Do(req)
	if err != nil {
		client.logger.Errorf("failed request : %v", err)
		return err
	}
	defer httpResp.Body.Close()
	// Decode JSON "generic" response
	err = json.NewDecoder(httpResp.Body).Decode(response)
	if err != nil {
		client.logger.Errorf("failed to decode response : %v", err)
		return err
	}
	err = response.GetError()
	if err != nil {
		return err
	}
	sequence := response.GetSequenceNb()
	if client.currentSequenceNb != sequence {
		client.logger.Errorf("wrong sequence number %v, expected %v", sequence, client.currentSequenceNb)
		return fmt.Errorf("error in sequence number")
	}
	return nil
}

func (client *GatewayClient) doValue(uri string, value string, response GatewayResponse) error {
	encodedReq, err := json.Marshal(ValueRequest{Value: value})
	if err != nil {
		return err
	}
	return client.Do(http.MethodPut, uri, bytes.NewBuffer(encodedReq), response)
}

// Scan adapters
func (client *GatewayClient) Scan() ([]link.Adapter, error) {
	resp := new(ScanResponse)
	err := client.Do(http.MethodGet, "/none/scan", nil, resp)
	return resp.Adapters, err
}

// Open a session on adapter
func (client *GatewayClient) Open(adapter string) error {
	return client.doValue("/none/open", adapter, new(GatewayResponseBase))
}

// Close the current session
func (client *GatewayClient) Close() error {
	return client.Do(http.MethodPut, "/none/close", nil, new(GatewayResponseBase))
}

// Slaves of the current session
func (client *GatewayClient) Slaves() ([]*master.Slave, error) {
	resp := new(SlavesResponse)
	err := client.Do(http.MethodGet, "/none/slaves", nil, resp)
	return resp.Slaves, err
}

// State of the bus
func (client *GatewayClient) State() (string, error) {
	resp := new(StateResponse)
	err := client.Do(http.MethodGet, "/none/state", nil, resp)
	return resp.State, err
}

// RequestState returns the state read back by the gateway
func (client *GatewayClient) RequestState(target ethercat.BusState) (string, error) {
	var short string
	switch target {
	case ethercat.StateInit:
		short = "init"
	case ethercat.StatePreOperational:
		short = "preop"
	case ethercat.StateSafeOperational:
		short = "safeop"
	case ethercat.StateOperational:
		short = "op"
	default:
		return "", fmt.Errorf("%w : %v", ethercat.ErrInvalidStateForOperation, target)
	}
	resp := new(StateResponse)
	err := client.Do(http.MethodPut, "/none/state/"+short, nil, resp)
	return resp.State, err
}

// ReadRaw via SDO, datatype may be empty if the slave has a dictionary
func (client *GatewayClient) ReadRaw(position int, index uint16, subIndex uint8, datatype string) (data string, length int, err error) {
	resp := new(SDOReadResponse)
	var body io.Reader
	if datatype != "" {
		encodedReq, err := json.Marshal(SDOReadRequest{Datatype: datatype})
		if err != nil {
			return "", 0, err
		}
		body = bytes.NewBuffer(encodedReq)
	}
	err = client.Do(http.MethodGet, fmt.Sprintf("/%d/r/%d/%d", position, index, subIndex), body, resp)
	if err != nil {
		return
	}
	return resp.Data, resp.Length, nil
}

// WriteRaw via SDO
func (client *GatewayClient) WriteRaw(position int, index uint16, subIndex uint8, value string, datatype string) error {
	req := new(SDOWriteRequest)
	resp := new(GatewayResponseBase)
	req.Value = value
	req.Datatype = datatype
	encodedReq, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return client.Do(http.MethodPut, fmt.Sprintf("/%d/w/%d/%d", position, index, subIndex), bytes.NewBuffer(encodedReq), resp)
}

// DriveStatus refreshes and returns the drive status
func (client *GatewayClient) DriveStatus(position int) (*DriveStatusResponse, error) {
	resp := new(DriveStatusResponse)
	err := client.Do(http.MethodGet, fmt.Sprintf("/%d/drive/status", position), nil, resp)
	return resp, err
}

func (client *GatewayClient) EnableDrive(position int) error {
	return client.Do(http.MethodPut, fmt.Sprintf("/%d/drive/enable", position), nil, new(GatewayResponseBase))
}

func (client *GatewayClient) DisableDrive(position int) error {
	return client.Do(http.MethodPut, fmt.Sprintf("/%d/drive/disable", position), nil, new(GatewayResponseBase))
}

func (client *GatewayClient) ResetDrive(position int) error {
	return client.Do(http.MethodPut, fmt.Sprintf("/%d/drive/reset", position), nil, new(GatewayResponseBase))
}

func (client *GatewayClient) SetMode(position int, mode motion.Mode) error {
	return client.doValue(fmt.Sprintf("/%d/drive/mode", position), strconv.Itoa(int(mode)), new(GatewayResponseBase))
}

// SetTargetVelocity returns the channel used, "PDO" or "SDO"
func (client *GatewayClient) SetTargetVelocity(position int, velocity int32) (string, error) {
	resp := new(DriveCommandResponse)
	err := client.doValue(fmt.Sprintf("/%d/drive/velocity", position), strconv.Itoa(int(velocity)), resp)
	return resp.Channel, err
}

// SetTargetTorque returns the channel used, "PDO" or "SDO"
func (client *GatewayClient) SetTargetTorque(position int, torque int16) (string, error) {
	resp := new(DriveCommandResponse)
	err := client.doValue(fmt.Sprintf("/%d/drive/torque", position), strconv.Itoa(int(torque)), resp)
	return resp.Channel, err
}

// SetDefaultSlave used by requests addressed to "default" or "none"
func (client *GatewayClient) SetDefaultSlave(position int) error {
	return client.doValue("/none/set/slave", strconv.Itoa(position), new(GatewayResponseBase))
}

// Read gateway version
func (client *GatewayClient) GetVersion() (*gateway.GatewayVersion, error) {
	versionInfo := new(VersionInfo)
	err := client.Do(http.MethodGet, "/none/info/version", nil, versionInfo)
	return versionInfo.GatewayVersion, err
}
