package gateway

import (
	"errors"
	"fmt"
	"sync"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/motion"
	"github.com/samsamfire/goethercat/pkg/od"
	"github.com/samsamfire/goethercat/pkg/sdo"
	log "github.com/sirupsen/logrus"
)

var ErrNoSession = errors.New("no session opened")

// BaseGateway holds the master and at most one open session.
// Each gateway (only HTTP for now) maps its own parsing logic to it.
type BaseGateway struct {
	mu           sync.Mutex
	master       *master.Master
	session      *master.Session
	drives       map[int]*motion.Drive
	driveOptions motion.Options
	defaultSlave int
	logger       *log.Entry
}

func NewBaseGateway(m *master.Master, defaultSlave int, driveOptions motion.Options) *BaseGateway {
	return &BaseGateway{
		master:       m,
		drives:       make(map[int]*motion.Drive),
		driveOptions: driveOptions,
		defaultSlave: defaultSlave,
		logger:       log.NewEntry(m.Options().Logger),
	}
}

type GatewayVersion struct {
	VendorId        string `json:"vendor_id"`
	ProductCode     string `json:"product_code"`
	RevisionNumber  string `json:"revision_number"`
	SerialNumber    string `json:"serial_number"`
	ProtocolVersion string `json:"protocol_version"`
}

// Set default slave position to use
func (gw *BaseGateway) SetDefaultSlave(position int) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.defaultSlave = position
}

// Get default slave position
func (gw *BaseGateway) DefaultSlave() int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.defaultSlave
}

// Get gateway version information
func (gw *BaseGateway) GetVersion() GatewayVersion {
	return GatewayVersion{
		VendorId:        "0x0",
		ProductCode:     "0x0",
		RevisionNumber:  "0x0",
		SerialNumber:    "0x0",
		ProtocolVersion: "01.00",
	}
}

// Scan the adapters of the enabled drivers
func (gw *BaseGateway) Scan() ([]link.Adapter, error) {
	return gw.master.ScanAdapters()
}

// Open a session on adapter, the previous session must be closed first
func (gw *BaseGateway) Open(adapter string) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.session != nil {
		return fmt.Errorf("%w : session already opened on %v", ethercat.ErrAdapterUnavailable, gw.session.Adapter().Name)
	}
	session, err := gw.master.Open(adapter)
	if err != nil {
		return err
	}
	gw.session = session
	gw.drives = make(map[int]*motion.Drive)
	return nil
}

// Attach an already opened session, e.g. one driven by the application.
// Attaching the current session again keeps its drives.
func (gw *BaseGateway) Attach(session *master.Session) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.session == session {
		return
	}
	gw.session = session
	gw.drives = make(map[int]*motion.Drive)
}

// Session currently opened
func (gw *BaseGateway) Session() (*master.Session, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.session == nil {
		return nil, ErrNoSession
	}
	return gw.session, nil
}

// Close the current session
func (gw *BaseGateway) Close() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.session == nil {
		return fmt.Errorf("%w : %w", ethercat.ErrAlreadyClosed, ErrNoSession)
	}
	err := gw.session.Close()
	gw.session = nil
	gw.drives = make(map[int]*motion.Drive)
	return err
}

// Slaves of the current session
func (gw *BaseGateway) Slaves() ([]*master.Slave, error) {
	session, err := gw.Session()
	if err != nil {
		return nil, err
	}
	return session.EnumerateSlaves()
}

// State of the current session
func (gw *BaseGateway) State() (ethercat.BusState, error) {
	session, err := gw.Session()
	if err != nil {
		return ethercat.StateUnknown, err
	}
	return session.State(), nil
}

// RequestState on the current session
func (gw *BaseGateway) RequestState(target ethercat.BusState) (ethercat.BusState, error) {
	session, err := gw.Session()
	if err != nil {
		return ethercat.StateUnknown, err
	}
	return session.RequestState(target)
}

// ReadSDO reads an object. With datatype 0, the width declared in the
// slave dictionary is used.
func (gw *BaseGateway) ReadSDO(position int, index uint16, subindex uint8, datatype uint8) ([]byte, error) {
	session, err := gw.Session()
	if err != nil {
		return nil, err
	}
	var width od.Width
	if datatype != 0 {
		width, err = od.DatatypeWidth(datatype)
		if err != nil {
			return nil, sdo.AbortTypeMismatch
		}
	} else {
		width, err = declaredWidth(session, position, index, subindex)
		if err != nil {
			return nil, err
		}
	}
	return session.Read(position, index, subindex, width)
}

func declaredWidth(session *master.Session, position int, index uint16, subindex uint8) (od.Width, error) {
	slave, err := session.Slave(position)
	if err != nil {
		return 0, err
	}
	dictionary := slave.Dictionary()
	if dictionary == nil {
		return 0, fmt.Errorf("%w : no dictionary for slave %d, datatype is required", sdo.AbortTypeMismatch, position)
	}
	variable, err := dictionary.Lookup(index, subindex)
	if err != nil {
		return 0, fmt.Errorf("%w : %w", ethercat.ErrInvalidAddress, err)
	}
	return variable.Width(), nil
}

// WriteSDO encodes value with datatype and writes it
func (gw *BaseGateway) WriteSDO(position int, index uint16, subindex uint8, value string, datatype uint8) error {
	session, err := gw.Session()
	if err != nil {
		return err
	}
	encodedValue, err := od.EncodeFromString(value, datatype)
	if err != nil {
		return sdo.AbortTypeMismatch
	}
	return session.Write(position, index, subindex, encodedValue)
}

// Drive returns the drive at position, created on first use
func (gw *BaseGateway) Drive(position int) (*motion.Drive, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.session == nil {
		return nil, ErrNoSession
	}
	if drive, ok := gw.drives[position]; ok {
		return drive, nil
	}
	if _, err := gw.session.Slave(position); err != nil {
		return nil, err
	}
	drive := motion.NewDrive(gw.session, position, gw.driveOptions, gw.logger)
	gw.drives[position] = drive
	return drive, nil
}

// Disconnect closes the session if any
func (gw *BaseGateway) Disconnect() {
	if err := gw.Close(); err != nil && !errors.Is(err, ErrNoSession) {
		gw.logger.Warnf("[HTTP][SERVER] closing session : %v", err)
	}
}
