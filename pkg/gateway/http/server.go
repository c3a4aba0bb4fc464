package http

import (
	"net/http"
	"regexp"

	"github.com/samsamfire/goethercat/pkg/gateway"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/motion"
	"github.com/samsamfire/goethercat/pkg/od"
	log "github.com/sirupsen/logrus"
)

const API_VERSION = "1.0"
const MAX_SEQUENCE_NB = 2<<31 - 1
const URI_PATTERN = `/ecat/(\d+\.\d+)/(\d{1,10})/(0x[0-9a-f]{1,4}|\d{1,5}|default|none|all)/(.*)`
const SDO_COMMAND_URI_PATTERN = `(r|read|w|write)/(all|0x[0-9a-f]{1,4}|\d{1,5})/?(0x[0-9a-f]{1,2}|\d{1,3})?`

var regURI = regexp.MustCompile(URI_PATTERN)
var regSDO = regexp.MustCompile(SDO_COMMAND_URI_PATTERN)

var DATATYPE_MAP = map[string]uint8{
	"b":   od.BOOLEAN,
	"u8":  od.UNSIGNED8,
	"u16": od.UNSIGNED16,
	"u32": od.UNSIGNED32,
	"i8":  od.INTEGER8,
	"i16": od.INTEGER16,
	"i32": od.INTEGER32,
}

type GatewayServer struct {
	*gateway.BaseGateway
	serveMux *http.ServeMux
	routes   map[string]GatewayRequestHandler
	logger   *log.Entry
}

// Create a new gateway
func NewGatewayServer(m *master.Master, defaultSlave int, driveOptions motion.Options) *GatewayServer {
	base := gateway.NewBaseGateway(m, defaultSlave, driveOptions)
	gw := &GatewayServer{BaseGateway: base, logger: log.NewEntry(m.Options().Logger)}
	gw.serveMux = http.NewServeMux()
	gw.serveMux.HandleFunc("/", gw.handleRequest) // This base route handles all the requests
	gw.routes = make(map[string]GatewayRequestHandler)

	// Session
	gw.addRoute("scan", gw.handleScan)
	gw.addRoute("open", gw.handleOpen)
	gw.addRoute("close", gw.handleClose)
	gw.addRoute("slaves", gw.handleSlaves)
	gw.addRoute("state", gw.handleState)

	// Object access
	gw.addRoute("r", gw.handlerRead)
	gw.addRoute("read", gw.handlerRead)
	gw.addRoute("w", gw.handleWrite)
	gw.addRoute("write", gw.handleWrite)

	// Drives
	gw.addRoute("drive/status", gw.handleDriveStatus)
	gw.addRoute("drive/enable", gw.handleDriveEnable)
	gw.addRoute("drive/disable", gw.handleDriveDisable)
	gw.addRoute("drive/reset", gw.handleDriveReset)
	gw.addRoute("drive/mode", gw.handleDriveMode)
	gw.addRoute("drive/velocity", gw.handleDriveVelocity)
	gw.addRoute("drive/torque", gw.handleDriveTorque)

	gw.addRoute("set/slave", gw.handleSetDefaultSlave)
	gw.addRoute("info/version", gw.handleGetVersion)

	return gw
}

// Handler serving the gateway API, for use with an [http.Server]
func (g *GatewayServer) Handler() http.Handler {
	return g.serveMux
}

// Process server, blocking
func (g *GatewayServer) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, g.serveMux)
}

// Add a route to the server for handling a specific command
func (g *GatewayServer) addRoute(command string, handler GatewayRequestHandler) {
	g.routes[command] = handler
}
