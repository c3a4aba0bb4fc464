// Package link abstracts the ethernet port an EtherCAT master talks through.
// Drivers register themselves from an init() function and are selected by name.
package link

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	ErrRecvTimeout   = errors.New("no frame received before timeout")
	ErrLinkClosed    = errors.New("link closed")
	ErrUnknownDriver = errors.New("unknown link driver")
)

// Link sends and receives raw ethernet frames on one adapter
type Link interface {
	Send(frame []byte) error
	// Recv returns the next received frame or [ErrRecvTimeout]
	Recv(timeout time.Duration) ([]byte, error)
	HardwareAddr() net.HardwareAddr
	Close() error
}

// Adapter is a network adapter discovered by a scan
type Adapter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Driver      string `json:"driver"`
}

func (a Adapter) String() string {
	return fmt.Sprintf("%s (%s) [%s]", a.Name, a.Description, a.Driver)
}

// Driver for a family of adapters
type Driver struct {
	Scan func() ([]Adapter, error)
	Open func(name string) (Link, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Driver)
)

// Register a new link driver.
// This should be called inside an init() function of the driver package
func RegisterDriver(name string, driver Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = driver
}

// Drivers returns the names of every registered driver, sorted
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scan lists the adapters of the given drivers, all drivers if none given.
// Failing drivers are skipped and their errors combined.
func Scan(drivers ...string) ([]Adapter, error) {
	if len(drivers) == 0 {
		drivers = Drivers()
	}
	adapters := make([]Adapter, 0)
	var errs error
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, name := range drivers {
		driver, ok := registry[name]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w : %v", ErrUnknownDriver, name))
			continue
		}
		found, err := driver.Scan()
		if err != nil {
			log.Warnf("[LINK] scan of driver %v failed : %v", name, err)
			errs = multierr.Append(errs, fmt.Errorf("driver %v : %w", name, err))
			continue
		}
		for i := range found {
			found[i].Driver = name
		}
		adapters = append(adapters, found...)
	}
	return adapters, errs
}

// Open a link on the adapter with the adapter's driver
func Open(adapter Adapter) (Link, error) {
	registryMu.RLock()
	driver, ok := registry[adapter.Driver]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w : %v", ErrUnknownDriver, adapter.Driver)
	}
	return driver.Open(adapter.Name)
}
