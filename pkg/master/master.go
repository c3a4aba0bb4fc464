// Package master implements an EtherCAT master: adapter discovery, slave
// enumeration, bus state machine, CoE SDO access and cyclic process data.
package master

import (
	"fmt"
	"sync"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/od"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultFrameTimeout      = 10 * time.Millisecond
	DefaultStateTimeout      = 2 * time.Second
	DefaultStatePollInterval = 10 * time.Millisecond
	DefaultSDOTimeout        = 50 * time.Millisecond
	DefaultMaxMissedCycles   = 5
)

// Options of a [Master], see [DefaultOptions]
type Options struct {
	// Time to wait for one frame to come back
	FrameTimeout time.Duration
	// Time for every slave to read back a requested state
	StateTimeout      time.Duration
	StatePollInterval time.Duration
	// Time for a slave to answer one SDO request
	SDOTimeout time.Duration
	// Consecutive missed cycles before the link is considered lost
	MaxMissedCycles int
	// Link drivers to scan, all registered drivers when empty
	Drivers []string
	Logger  *log.Logger
}

func DefaultOptions() Options {
	return Options{
		FrameTimeout:      DefaultFrameTimeout,
		StateTimeout:      DefaultStateTimeout,
		StatePollInterval: DefaultStatePollInterval,
		SDOTimeout:        DefaultSDOTimeout,
		MaxMissedCycles:   DefaultMaxMissedCycles,
		Logger:            log.StandardLogger(),
	}
}

// fill zero values with defaults
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = def.FrameTimeout
	}
	if o.StateTimeout <= 0 {
		o.StateTimeout = def.StateTimeout
	}
	if o.StatePollInterval <= 0 {
		o.StatePollInterval = def.StatePollInterval
	}
	if o.SDOTimeout <= 0 {
		o.SDOTimeout = def.SDOTimeout
	}
	if o.MaxMissedCycles <= 0 {
		o.MaxMissedCycles = def.MaxMissedCycles
	}
	if o.Logger == nil {
		o.Logger = def.Logger
	}
	return o
}

type dictionaryKey struct {
	vendorId    uint32
	productCode uint32
}

// Master discovers adapters and opens sessions on them
type Master struct {
	mu           sync.Mutex
	options      Options
	logger       *log.Entry
	inUse        map[string]bool
	dictionaries map[dictionaryKey]*od.ObjectDictionary
}

// Create a new master, the embedded servo dictionary is registered
func NewMaster(options Options) *Master {
	options = options.withDefaults()
	m := &Master{
		options:      options,
		logger:       log.NewEntry(options.Logger),
		inUse:        make(map[string]bool),
		dictionaries: make(map[dictionaryKey]*od.ObjectDictionary),
	}
	m.RegisterDictionary(od.ServoVendorId, od.ServoProductCode, od.DefaultServo())
	return m
}

func (m *Master) Options() Options {
	return m.options
}

// RegisterDictionary binds a dictionary to every slave with this identity.
// The dictionary is only used to validate accesses, it is never written.
func (m *Master) RegisterDictionary(vendorId uint32, productCode uint32, dictionary *od.ObjectDictionary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dictionaries[dictionaryKey{vendorId, productCode}] = dictionary
	m.logger.Debugf("[MASTER] dictionary registered for vendor x%x product x%x", vendorId, productCode)
}

func (m *Master) dictionary(identity ethercat.Identity) *od.ObjectDictionary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dictionaries[dictionaryKey{identity.VendorId, identity.ProductCode}]
}

// ScanAdapters lists the adapters of every enabled driver.
// Failing drivers are logged and skipped, an error is only returned
// when no driver could be scanned.
func (m *Master) ScanAdapters() ([]link.Adapter, error) {
	adapters, err := link.Scan(m.options.Drivers...)
	if err != nil {
		m.logger.Warnf("[MASTER] adapter scan : %v", err)
		if len(adapters) == 0 {
			return adapters, err
		}
	}
	m.logger.Debugf("[MASTER] found %d adapters", len(adapters))
	return adapters, nil
}

// Open a session on the named adapter and run the configuration handshake
func (m *Master) Open(name string) (*Session, error) {
	adapters, _ := link.Scan(m.options.Drivers...)
	var adapter *link.Adapter
	for i := range adapters {
		if adapters[i].Name == name {
			adapter = &adapters[i]
			break
		}
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w : unknown adapter %v", ethercat.ErrAdapterUnavailable, name)
	}
	if !m.reserve(name) {
		return nil, fmt.Errorf("%w : %v already in use", ethercat.ErrAdapterUnavailable, name)
	}
	lnk, err := link.Open(*adapter)
	if err != nil {
		m.release(name)
		return nil, fmt.Errorf("%w : %v : %w", ethercat.ErrAdapterUnavailable, name, err)
	}
	session := newSession(m, *adapter, lnk)
	if err := session.configInit(); err != nil {
		_ = lnk.Close()
		m.release(name)
		return nil, err
	}
	m.logger.Infof("[MASTER] session opened on %v with %d slaves", name, len(session.slaves))
	return session, nil
}

func (m *Master) reserve(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inUse[name] {
		return false
	}
	m.inUse[name] = true
	return true
}

func (m *Master) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inUse, name)
}
