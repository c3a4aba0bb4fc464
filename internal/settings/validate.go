package settings

import (
	"fmt"
	"strings"

	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/motion"
	log "github.com/sirupsen/logrus"
)

// Validate checks the settings without modifying them
func Validate(s *Settings) error {
	m := s.Master
	for name, value := range map[string]int{
		"frame_timeout_ms":       m.FrameTimeoutMs,
		"state_timeout_ms":       m.StateTimeoutMs,
		"state_poll_interval_ms": m.StatePollIntervalMs,
		"sdo_timeout_ms":         m.SDOTimeoutMs,
		"max_missed_cycles":      m.MaxMissedCycles,
		"cycle_period_ms":        m.CyclePeriodMs,
		"cycle_timeout_ms":       m.CycleTimeoutMs,
	} {
		if value <= 0 {
			return fmt.Errorf("master: %v must be positive, got %d", name, value)
		}
	}
	if m.StatePollIntervalMs > m.StateTimeoutMs {
		return fmt.Errorf("master: state_poll_interval_ms (%d) exceeds state_timeout_ms (%d)",
			m.StatePollIntervalMs, m.StateTimeoutMs)
	}
	known := link.Drivers()
	for _, driver := range m.Drivers {
		found := false
		for _, k := range known {
			found = found || k == driver
		}
		if !found {
			return fmt.Errorf("master: %w %q (available : %v)", link.ErrUnknownDriver, driver, known)
		}
	}

	if _, err := log.ParseLevel(s.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	switch strings.ToLower(s.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", s.Log.Format)
	}

	if s.Gateway.Enabled && s.Gateway.Address == "" {
		return fmt.Errorf("gateway: address is required when enabled")
	}
	if s.Gateway.DefaultSlave < 0 {
		return fmt.Errorf("gateway: default_slave must not be negative")
	}

	type identity struct{ vendor, product uint32 }
	dictionaries := make(map[identity]string)
	for _, d := range s.Dictionaries {
		if d.Path == "" {
			return fmt.Errorf("dictionary x%x/x%x: path is required", d.VendorId, d.ProductCode)
		}
		key := identity{d.VendorId, d.ProductCode}
		if prev, exists := dictionaries[key]; exists {
			return fmt.Errorf("dictionary x%x/x%x: declared twice (%v and %v)", d.VendorId, d.ProductCode, prev, d.Path)
		}
		dictionaries[key] = d.Path
	}

	positions := make(map[int]bool)
	for _, d := range s.Drives {
		if d.Position < 0 {
			return fmt.Errorf("drive %d: position must not be negative", d.Position)
		}
		if positions[d.Position] {
			return fmt.Errorf("drive %d: declared twice", d.Position)
		}
		positions[d.Position] = true
		if d.Mode != "" {
			if _, err := motion.ParseMode(strings.ToLower(strings.TrimSpace(d.Mode))); err != nil {
				return fmt.Errorf("drive %d: %w", d.Position, err)
			}
		}
		if _, _, err := d.Mappings(); err != nil {
			return fmt.Errorf("drive %d: %w", d.Position, err)
		}
	}
	return nil
}

// Normalize is called after [Validate] and may modify the settings
func Normalize(s *Settings) {
	s.Log.Level = strings.ToLower(s.Log.Level)
	s.Log.Format = strings.ToLower(s.Log.Format)
	s.Master.Adapter = strings.TrimSpace(s.Master.Adapter)
	if len(s.Master.Drivers) == 0 {
		s.Master.Drivers = nil
	}
	for i := range s.Drives {
		s.Drives[i].Mode = strings.ToLower(strings.TrimSpace(s.Drives[i].Mode))
	}
}
