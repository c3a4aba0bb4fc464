package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
)

const TOKEN_NONE = -3
const TOKEN_DEFAULT = -2
const TOKEN_ALL = -1

// Gets SDO command as list of strings and processes it
func parseSdoCommand(command []string) (index uint64, subindex uint64, err error) {
	if len(command) != 3 {
		return 0, 0, ErrGwSyntaxError
	}
	indexStr := command[1]
	subIndexStr := command[2]
	if indexStr == "all" {
		return 0, 0, ErrGwRequestNotSupported
	}
	index, e := strconv.ParseUint(indexStr, 0, 64)
	if e != nil {
		return 0, 0, ErrGwSyntaxError
	}
	subindex, e = strconv.ParseUint(subIndexStr, 0, 64)
	if e != nil {
		return 0, 0, ErrGwSyntaxError
	}
	if index > 0xFFFF || subindex > 0xFF {
		return 0, 0, ErrGwSyntaxError
	}
	return index, subindex, nil
}

// Parse raw slave string param
func parseSlaveParam(param string) (int, error) {
	switch param {
	case "default":
		return TOKEN_DEFAULT, nil
	case "none":
		return TOKEN_NONE, nil
	case "all":
		return TOKEN_ALL, nil
	}
	// This automatically treats 0x,0X,... correctly
	paramUint, err := strconv.ParseUint(param, 0, 16)
	if err != nil {
		return 0, err
	}
	return int(paramUint), nil
}

// Create a new sanitized api request object from raw http request
// This function also checks that values are within bounds etc.
func newRequestFromRaw(r *http.Request, logger *log.Entry) (*GatewayRequest, error) {
	match := regURI.FindStringSubmatch(r.URL.Path)
	if len(match) != 5 {
		logger.Errorf("[HTTP][SERVER] request %v does not match a known API pattern", r.URL.Path)
		return nil, ErrGwSyntaxError
	}
	apiVersion := match[1]
	if apiVersion != API_VERSION {
		logger.Errorf("[HTTP][SERVER] api version %v is not supported", apiVersion)
		return nil, ErrGwRequestNotSupported
	}
	sequence, err := strconv.Atoi(match[2])
	if err != nil || sequence > MAX_SEQUENCE_NB {
		logger.Errorf("[HTTP][SERVER] error processing sequence number %v", match[2])
		return nil, ErrGwSyntaxError
	}
	slaveStr := match[3]
	slave, err := parseSlaveParam(slaveStr)
	if err != nil || slave > 0xFFFE {
		logger.Errorf("[HTTP][SERVER] error processing slave param %v", slaveStr)
		return nil, ErrGwUnsupportedSlave
	}

	// Unmarshall request body
	var parameters json.RawMessage
	err = json.NewDecoder(r.Body).Decode(&parameters)
	if err != nil && err != io.EOF {
		logger.Warnf("[HTTP][SERVER] failed to unmarshal request body : %v", err)
		return nil, ErrGwSyntaxError
	}
	request := &GatewayRequest{
		slave:      slave,
		command:    match[4], // Contains rest of URL after slave
		sequence:   uint32(sequence),
		parameters: parameters,
	}
	return request, nil
}
