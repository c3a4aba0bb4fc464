package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/link/virtual"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/od"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.SetLevel(log.DebugLevel)
}

const testSettings = `
master:
  adapter: eth1
  drivers: [virtual]
  sdo_timeout_ms: 20
  max_missed_cycles: 3
  cycle_period_ms: 1
log:
  level: DEBUG
  format: json
gateway:
  enabled: true
  address: "localhost:9000"
dictionaries:
  - vendor_id: 0x00000a5a
    product_code: 0x59370001
    path: servo.eds
drives:
  - position: 0
    mode: PV
    rx_pdo: ["0x6040:0:16", "0x60FF:0:32"]
    tx_pdo: ["0x6041:0:16", "0x606C:0:32"]
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(testSettings))
	assert.Nil(t, err)

	t.Run("master", func(t *testing.T) {
		assert.Equal(t, "eth1", s.Master.Adapter)
		options := s.Options(nil)
		assert.Equal(t, []string{virtual.DriverName}, options.Drivers)
		assert.Equal(t, 20*time.Millisecond, options.SDOTimeout)
		assert.Equal(t, 3, options.MaxMissedCycles)
		// absent from the file
		assert.Equal(t, master.DefaultStateTimeout, options.StateTimeout)
		assert.Equal(t, master.DefaultFrameTimeout, options.FrameTimeout)
		assert.Equal(t, time.Millisecond, s.CyclePeriod())
		assert.Equal(t, DefaultCycleTimeout, s.CycleTimeout())
	})
	t.Run("log", func(t *testing.T) {
		assert.Equal(t, "debug", s.Log.Level)
		logger, err := s.Logger()
		assert.Nil(t, err)
		assert.Equal(t, log.DebugLevel, logger.GetLevel())
		assert.IsType(t, &log.JSONFormatter{}, logger.Formatter)
	})
	t.Run("gateway", func(t *testing.T) {
		assert.True(t, s.Gateway.Enabled)
		assert.Equal(t, "localhost:9000", s.Gateway.Address)
	})
	t.Run("dictionaries", func(t *testing.T) {
		assert.Len(t, s.Dictionaries, 1)
		assert.EqualValues(t, 0xa5a, s.Dictionaries[0].VendorId)
		assert.EqualValues(t, 0x59370001, s.Dictionaries[0].ProductCode)
	})
	t.Run("drives", func(t *testing.T) {
		drive := s.Drive(0)
		assert.NotNil(t, drive)
		assert.Equal(t, "pv", drive.Mode)
		rx, tx, err := drive.Mappings()
		assert.Nil(t, err)
		assert.Equal(t, []config.PDOMappingParameter{
			{Index: od.EntryControlWord, Subindex: 0, LengthBits: 16},
			{Index: od.EntryTargetVelocity, Subindex: 0, LengthBits: 32},
		}, rx)
		assert.Len(t, tx, 2)
		assert.Nil(t, s.Drive(1))
	})
}

func TestDefaults(t *testing.T) {
	s, err := Parse([]byte(""))
	assert.Nil(t, err)
	assert.Equal(t, DefaultLogLevel, s.Log.Level)
	assert.False(t, s.Gateway.Enabled)
	assert.Equal(t, DefaultGatewayAddress, s.Gateway.Address)
	options := s.Options(nil)
	defaults := master.DefaultOptions()
	assert.Equal(t, defaults.SDOTimeout, options.SDOTimeout)
	assert.Equal(t, defaults.StatePollInterval, options.StatePollInterval)
	assert.Nil(t, options.Drivers)
}

func TestValidate(t *testing.T) {
	invalid := map[string]string{
		"negative timeout":   "master:\n  sdo_timeout_ms: -1\n",
		"poll over timeout":  "master:\n  state_timeout_ms: 10\n  state_poll_interval_ms: 20\n",
		"unknown driver":     "master:\n  drivers: [pcap]\n",
		"log level":          "log:\n  level: loud\n",
		"log format":         "log:\n  format: xml\n",
		"gateway address":    "gateway:\n  enabled: true\n  address: \"\"\n",
		"dictionary path":    "dictionaries:\n  - vendor_id: 1\n    product_code: 2\n",
		"dictionary twice":   "dictionaries:\n  - {vendor_id: 1, product_code: 2, path: a.eds}\n  - {vendor_id: 1, product_code: 2, path: b.eds}\n",
		"drive twice":        "drives:\n  - position: 1\n  - position: 1\n",
		"drive mode":         "drives:\n  - position: 0\n    mode: 5\n",
		"drive mapping":      "drives:\n  - position: 0\n    rx_pdo: [\"0x6040:0\"]\n",
		"drive mapping bits": "drives:\n  - position: 0\n    rx_pdo: [\"0x6040:0:12\"]\n",
		"not yaml":           "master: [",
	}
	for name, raw := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.NotNil(t, err)
		})
	}
	_, err := Parse([]byte("master:\n  drivers: [pcap]\n"))
	assert.ErrorIs(t, err, link.ErrUnknownDriver)
}

func TestApplyEnv(t *testing.T) {
	s := Default()
	env := map[string]string{EnvAdapter: "eth0", EnvLogLevel: "warn"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	assert.Nil(t, s.ApplyEnv(lookup))
	assert.Equal(t, "eth0", s.Master.Adapter)
	assert.Equal(t, "warn", s.Log.Level)

	env[EnvLogLevel] = "loud"
	assert.NotNil(t, s.ApplyEnv(lookup))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecmaster.yaml")
	assert.Nil(t, os.WriteFile(path, []byte(testSettings), 0o644))
	s, err := Load(path)
	assert.Nil(t, err)
	assert.Equal(t, "eth1", s.Master.Adapter)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)
}

func TestRegisterDictionaries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servo.eds")
	raw, err := os.ReadFile("../../pkg/od/servo.eds")
	assert.Nil(t, err)
	assert.Nil(t, os.WriteFile(path, raw, 0o644))

	s := Default()
	s.Dictionaries = []DictionarySettings{{VendorId: 1, ProductCode: 2, Path: path}}
	m := master.NewMaster(s.Options(nil))
	assert.Nil(t, s.RegisterDictionaries(m))

	s.Dictionaries[0].Path = filepath.Join(t.TempDir(), "missing.eds")
	assert.NotNil(t, s.RegisterDictionaries(m))
}
