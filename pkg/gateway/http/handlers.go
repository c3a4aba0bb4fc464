package http

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/motion"
)

// Wrapper around [http.ResponseWriter] but keeps track of any writes already done
// This allows us to perform default behaviour if handler has not already sent a response
type doneWriter struct {
	http.ResponseWriter
	done bool
}

// Handle a [GatewayRequest]
type GatewayRequestHandler func(w *doneWriter, req *GatewayRequest) error

func (w *doneWriter) WriteHeader(status int) {
	w.done = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *doneWriter) Write(b []byte) (int, error) {
	w.done = true
	return w.ResponseWriter.Write(b)
}

// Marshal and send resp, any error is reported as not processed
func (w *doneWriter) writeJSON(resp any) error {
	respRaw, err := json.Marshal(resp)
	if err != nil {
		return ErrGwRequestNotProcessed
	}
	_, _ = w.Write(respRaw)
	return nil
}

// Default handler of any HTTP gateway request
// This parses a typical request and forwards it to the correct handler
func (g *GatewayServer) handleRequest(w http.ResponseWriter, raw *http.Request) {
	g.logger.Debugf("[HTTP][SERVER] new request : %v %v", raw.Method, raw.URL)
	w.Header().Set("Content-Type", "application/json")
	req, err := newRequestFromRaw(raw, g.logger)
	if err != nil {
		_, _ = w.Write(NewResponseError(0, err))
		return
	}
	// An api command (URI) is in the form /command/sub-command/... etc...
	// and can have variable parameters such as indexes as well as a body.
	// The full command is looked up first, then the command up to the first "/".
	// e.g. 'drive/enable' exists and is handled straight away
	// 'read/0x6041/0x0' does not exist in map, so we then check 'read' which does exist
	route, ok := g.routes[req.command]
	if !ok {
		firstCommand, _, _ := strings.Cut(req.command, "/")
		route, ok = g.routes[firstCommand]
		if !ok {
			g.logger.Debugf("[HTTP][SERVER] no handler found for %v", req.command)
			_, _ = w.Write(NewResponseError(int(req.sequence), ErrGwRequestNotSupported))
			return
		}
	}
	dw := &doneWriter{ResponseWriter: w}
	err = route(dw, req)
	if err != nil {
		g.logger.Warnf("[HTTP][SERVER] %v failed : %v", req.command, err)
		_, _ = dw.Write(NewResponseError(int(req.sequence), err))
		return
	}
	if !dw.done {
		// No response specific command has been given, reply with default success
		_, _ = dw.Write(NewResponseSuccess(int(req.sequence)))
	}
}

// slavePosition resolves the slave of a slave specific request
func (g *GatewayServer) slavePosition(req *GatewayRequest) (int, error) {
	switch req.slave {
	case TOKEN_ALL:
		return 0, ErrGwUnsupportedSlave
	case TOKEN_DEFAULT, TOKEN_NONE:
		return g.DefaultSlave(), nil
	}
	return req.slave, nil
}

func parseValue(req *GatewayRequest) (string, error) {
	var value ValueRequest
	if err := json.Unmarshal(req.parameters, &value); err != nil || value.Value == "" {
		return "", ErrGwSyntaxError
	}
	return value.Value, nil
}

func (g *GatewayServer) handleScan(w *doneWriter, req *GatewayRequest) error {
	adapters, err := g.Scan()
	if err != nil {
		return err
	}
	return w.writeJSON(ScanResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		Adapters:            adapters,
	})
}

func (g *GatewayServer) handleOpen(w *doneWriter, req *GatewayRequest) error {
	adapter, err := parseValue(req)
	if err != nil {
		return err
	}
	return g.Open(adapter)
}

func (g *GatewayServer) handleClose(w *doneWriter, req *GatewayRequest) error {
	return g.Close()
}

func (g *GatewayServer) handleSlaves(w *doneWriter, req *GatewayRequest) error {
	slaves, err := g.Slaves()
	if err != nil {
		return err
	}
	return w.writeJSON(SlavesResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		Slaves:              slaves,
	})
}

// Handle 'state' to get the bus state and 'state/{init|preop|safeop|op}' to request one
func (g *GatewayServer) handleState(w *doneWriter, req *GatewayRequest) error {
	var state ethercat.BusState
	var err error
	_, target, requested := strings.Cut(req.command, "/")
	if !requested {
		state, err = g.State()
	} else {
		var targetState ethercat.BusState
		targetState, err = ethercat.ParseBusState(target)
		if err != nil {
			return ErrGwSyntaxError
		}
		state, err = g.RequestState(targetState)
	}
	if err != nil {
		return err
	}
	return w.writeJSON(StateResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		State:               state.String(),
	})
}

// Handle a read
func (g *GatewayServer) handlerRead(w *doneWriter, req *GatewayRequest) error {
	matchSDO := regSDO.FindStringSubmatch(req.command)
	if len(matchSDO) < 2 {
		return ErrGwSyntaxError
	}
	position, err := g.slavePosition(req)
	if err != nil {
		return err
	}
	index, subindex, err := parseSdoCommand(matchSDO[1:])
	if err != nil {
		g.logger.Errorf("[HTTP][SERVER] unable to parse SDO command : %v", err)
		return err
	}
	// datatype is optional when the slave has a dictionary
	var sdoRead SDOReadRequest
	if len(req.parameters) > 0 {
		if err := json.Unmarshal(req.parameters, &sdoRead); err != nil {
			return ErrGwSyntaxError
		}
	}
	var datatype uint8
	if sdoRead.Datatype != "" {
		var ok bool
		datatype, ok = DATATYPE_MAP[sdoRead.Datatype]
		if !ok {
			g.logger.Errorf("[HTTP][SERVER] requested datatype is wrong or unsupported : %v", sdoRead.Datatype)
			return ErrGwRequestNotSupported
		}
	}
	data, err := g.ReadSDO(position, uint16(index), uint8(subindex), datatype)
	if err != nil {
		return err
	}
	buf := slices.Clone(data)
	slices.Reverse(buf)
	return w.writeJSON(SDOReadResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		Data:                "0x" + hex.EncodeToString(buf),
		Length:              len(data),
	})
}

// Handle a write
func (g *GatewayServer) handleWrite(w *doneWriter, req *GatewayRequest) error {
	matchSDO := regSDO.FindStringSubmatch(req.command)
	if len(matchSDO) < 2 {
		return ErrGwSyntaxError
	}
	position, err := g.slavePosition(req)
	if err != nil {
		return err
	}
	index, subindex, err := parseSdoCommand(matchSDO[1:])
	if err != nil {
		g.logger.Errorf("[HTTP][SERVER] unable to parse SDO command : %v", err)
		return err
	}
	var sdoWrite SDOWriteRequest
	err = json.Unmarshal(req.parameters, &sdoWrite)
	if err != nil {
		return ErrGwSyntaxError
	}
	datatype, ok := DATATYPE_MAP[sdoWrite.Datatype]
	if !ok {
		g.logger.Errorf("[HTTP][SERVER] requested datatype is wrong or unsupported : %v", sdoWrite.Datatype)
		return ErrGwRequestNotSupported
	}
	return g.WriteSDO(position, uint16(index), uint8(subindex), sdoWrite.Value, datatype)
}

func (g *GatewayServer) drive(req *GatewayRequest) (*motion.Drive, error) {
	position, err := g.slavePosition(req)
	if err != nil {
		return nil, err
	}
	return g.Drive(position)
}

func (g *GatewayServer) handleDriveStatus(w *doneWriter, req *GatewayRequest) error {
	drive, err := g.drive(req)
	if err != nil {
		return err
	}
	state, err := drive.Refresh()
	if err != nil {
		return err
	}
	return w.writeJSON(DriveStatusResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		State:               state.String(),
		StatusWord:          fmt.Sprintf("0x%04x", drive.StatusWord()),
		Mode:                drive.Mode().String(),
	})
}

func (g *GatewayServer) handleDriveEnable(w *doneWriter, req *GatewayRequest) error {
	drive, err := g.drive(req)
	if err != nil {
		return err
	}
	return drive.Enable()
}

func (g *GatewayServer) handleDriveDisable(w *doneWriter, req *GatewayRequest) error {
	drive, err := g.drive(req)
	if err != nil {
		return err
	}
	return drive.Disable()
}

func (g *GatewayServer) handleDriveReset(w *doneWriter, req *GatewayRequest) error {
	drive, err := g.drive(req)
	if err != nil {
		return err
	}
	return drive.ResetFault()
}

func (g *GatewayServer) handleDriveMode(w *doneWriter, req *GatewayRequest) error {
	value, err := parseValue(req)
	if err != nil {
		return err
	}
	mode, err := motion.ParseMode(value)
	if err != nil {
		return err
	}
	drive, err := g.drive(req)
	if err != nil {
		return err
	}
	return drive.SetMode(mode)
}

func (g *GatewayServer) handleDriveVelocity(w *doneWriter, req *GatewayRequest) error {
	value, err := parseValue(req)
	if err != nil {
		return err
	}
	velocity, err := strconv.ParseInt(value, 0, 32)
	if err != nil {
		return ErrGwSyntaxError
	}
	drive, err := g.drive(req)
	if err != nil {
		return err
	}
	channel, err := drive.SetTargetVelocity(int32(velocity))
	if err != nil {
		return err
	}
	return w.writeJSON(DriveCommandResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		Channel:             channel.String(),
	})
}

func (g *GatewayServer) handleDriveTorque(w *doneWriter, req *GatewayRequest) error {
	value, err := parseValue(req)
	if err != nil {
		return err
	}
	torque, err := strconv.ParseInt(value, 0, 16)
	if err != nil {
		return ErrGwSyntaxError
	}
	drive, err := g.drive(req)
	if err != nil {
		return err
	}
	channel, err := drive.SetTargetTorque(int16(torque))
	if err != nil {
		return err
	}
	return w.writeJSON(DriveCommandResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		Channel:             channel.String(),
	})
}

func (g *GatewayServer) handleGetVersion(w *doneWriter, req *GatewayRequest) error {
	version := g.GetVersion()
	return w.writeJSON(VersionInfo{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		GatewayVersion:      &version,
	})
}

func (g *GatewayServer) handleSetDefaultSlave(w *doneWriter, req *GatewayRequest) error {
	value, err := parseValue(req)
	if err != nil {
		return err
	}
	position, err := strconv.ParseUint(value, 0, 16)
	if err != nil || position > 0xFFFE {
		return ErrGwSyntaxError
	}
	g.SetDefaultSlave(int(position))
	return nil
}
