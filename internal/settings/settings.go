// Package settings loads the master configuration file
package settings

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/od"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the file
const (
	EnvConfig   = "ECAT_CONFIG"
	EnvAdapter  = "ECAT_ADAPTER"
	EnvLogLevel = "ECAT_LOG_LEVEL"
)

type Settings struct {
	Master       MasterSettings       `yaml:"master"`
	Log          LogSettings          `yaml:"log"`
	Gateway      GatewaySettings      `yaml:"gateway"`
	Dictionaries []DictionarySettings `yaml:"dictionaries"`
	Drives       []DriveSettings      `yaml:"drives"`
}

// ---- MASTER ----

type MasterSettings struct {
	Adapter string   `yaml:"adapter"`
	Drivers []string `yaml:"drivers"`

	FrameTimeoutMs      int `yaml:"frame_timeout_ms"`
	StateTimeoutMs      int `yaml:"state_timeout_ms"`
	StatePollIntervalMs int `yaml:"state_poll_interval_ms"`
	SDOTimeoutMs        int `yaml:"sdo_timeout_ms"`
	MaxMissedCycles     int `yaml:"max_missed_cycles"`

	// Process data loop
	CyclePeriodMs  int `yaml:"cycle_period_ms"`
	CycleTimeoutMs int `yaml:"cycle_timeout_ms"`
}

// ---- LOG ----

type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// ---- GATEWAY ----

type GatewaySettings struct {
	Enabled      bool   `yaml:"enabled"`
	Address      string `yaml:"address"`
	DefaultSlave int    `yaml:"default_slave"`
}

// ---- DICTIONARIES ----

// DictionarySettings binds an EDS file to the slaves with this identity
type DictionarySettings struct {
	VendorId    uint32 `yaml:"vendor_id"`
	ProductCode uint32 `yaml:"product_code"`
	Path        string `yaml:"path"`
}

// ---- DRIVES ----

// DriveSettings describes a CiA402 drive. Mappings are written as
// "index:subindex:bits", e.g. "0x6040:0:16".
type DriveSettings struct {
	Position int      `yaml:"position"`
	Mode     string   `yaml:"mode"`
	RxPDO    []string `yaml:"rx_pdo"`
	TxPDO    []string `yaml:"tx_pdo"`
}

const (
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultGatewayAddress = "localhost:8090"
	DefaultCyclePeriod    = 2 * time.Millisecond
	DefaultCycleTimeout   = 5 * time.Millisecond
)

// Default returns the settings used for every field absent from the file
func Default() *Settings {
	options := master.DefaultOptions()
	return &Settings{
		Master: MasterSettings{
			FrameTimeoutMs:      int(options.FrameTimeout / time.Millisecond),
			StateTimeoutMs:      int(options.StateTimeout / time.Millisecond),
			StatePollIntervalMs: int(options.StatePollInterval / time.Millisecond),
			SDOTimeoutMs:        int(options.SDOTimeout / time.Millisecond),
			MaxMissedCycles:     options.MaxMissedCycles,
			CyclePeriodMs:       int(DefaultCyclePeriod / time.Millisecond),
			CycleTimeoutMs:      int(DefaultCycleTimeout / time.Millisecond),
		},
		Log:     LogSettings{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Gateway: GatewaySettings{Address: DefaultGatewayAddress},
	}
}

// Load reads a yaml file over the defaults, then validates and normalizes it
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings : %w", err)
	}
	return Parse(raw)
}

// Parse yaml content over the defaults, then validate and normalize it
func Parse(raw []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("decoding settings : %w", err)
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	Normalize(s)
	return s, nil
}

// ApplyEnv overrides the adapter and log level from the environment
func (s *Settings) ApplyEnv(lookup func(key string) (string, bool)) error {
	if adapter, ok := lookup(EnvAdapter); ok && adapter != "" {
		s.Master.Adapter = adapter
	}
	if level, ok := lookup(EnvLogLevel); ok && level != "" {
		if _, err := log.ParseLevel(level); err != nil {
			return fmt.Errorf("%v : %w", EnvLogLevel, err)
		}
		s.Log.Level = level
	}
	return nil
}

// Logger creates a logrus logger with the configured level and format
func (s *Settings) Logger() (*log.Logger, error) {
	level, err := log.ParseLevel(s.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := log.New()
	logger.SetLevel(level)
	if s.Log.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Options converts the master section
func (s *Settings) Options(logger *log.Logger) master.Options {
	return master.Options{
		FrameTimeout:      millis(s.Master.FrameTimeoutMs),
		StateTimeout:      millis(s.Master.StateTimeoutMs),
		StatePollInterval: millis(s.Master.StatePollIntervalMs),
		SDOTimeout:        millis(s.Master.SDOTimeoutMs),
		MaxMissedCycles:   s.Master.MaxMissedCycles,
		Drivers:           s.Master.Drivers,
		Logger:            logger,
	}
}

func (s *Settings) CyclePeriod() time.Duration {
	return millis(s.Master.CyclePeriodMs)
}

func (s *Settings) CycleTimeout() time.Duration {
	return millis(s.Master.CycleTimeoutMs)
}

// RegisterDictionaries parses every EDS file and binds it to m
func (s *Settings) RegisterDictionaries(m *master.Master) error {
	for _, d := range s.Dictionaries {
		dictionary, err := od.Parse(d.Path)
		if err != nil {
			return fmt.Errorf("dictionary %v : %w", d.Path, err)
		}
		m.RegisterDictionary(d.VendorId, d.ProductCode, dictionary)
	}
	return nil
}

// Drive returns the settings of the drive at position, nil if none
func (s *Settings) Drive(position int) *DriveSettings {
	for i := range s.Drives {
		if s.Drives[i].Position == position {
			return &s.Drives[i]
		}
	}
	return nil
}

// ParseMapping parses "index:subindex:bits", numbers may be hex (0x) or decimal
func ParseMapping(s string) (config.PDOMappingParameter, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return config.PDOMappingParameter{}, fmt.Errorf("mapping %q : expected index:subindex:bits", s)
	}
	index, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 0, 16)
	if err != nil {
		return config.PDOMappingParameter{}, fmt.Errorf("mapping %q : index : %w", s, err)
	}
	subindex, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 0, 8)
	if err != nil {
		return config.PDOMappingParameter{}, fmt.Errorf("mapping %q : subindex : %w", s, err)
	}
	bits, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 0, 8)
	if err != nil {
		return config.PDOMappingParameter{}, fmt.Errorf("mapping %q : length : %w", s, err)
	}
	if !od.Width(bits).Valid() {
		return config.PDOMappingParameter{}, fmt.Errorf("mapping %q : length must be 8, 16 or 32 bits", s)
	}
	return config.PDOMappingParameter{Index: uint16(index), Subindex: uint8(subindex), LengthBits: uint8(bits)}, nil
}

func parseMappings(raw []string) ([]config.PDOMappingParameter, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	mappings := make([]config.PDOMappingParameter, 0, len(raw))
	for _, r := range raw {
		m, err := ParseMapping(r)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// Mappings returns the parsed rx and tx mappings of the drive, nil when none are configured
func (d *DriveSettings) Mappings() (rx []config.PDOMappingParameter, tx []config.PDOMappingParameter, err error) {
	rx, err = parseMappings(d.RxPDO)
	if err != nil {
		return nil, nil, err
	}
	tx, err = parseMappings(d.TxPDO)
	return rx, tx, err
}
