package main

import (
	"context"
	"fmt"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/settings"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/motion"
	"github.com/samsamfire/goethercat/pkg/od"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Layout used for drives without mappings in the settings
var defaultRxMapping = []config.PDOMappingParameter{
	{Index: od.EntryControlWord, Subindex: 0, LengthBits: 16},
	{Index: od.EntryTargetVelocity, Subindex: 0, LengthBits: 32},
	{Index: od.EntryTargetTorque, Subindex: 0, LengthBits: 16},
	{Index: od.EntryModesOfOperation, Subindex: 0, LengthBits: 8},
}

var defaultTxMapping = []config.PDOMappingParameter{
	{Index: od.EntryStatusWord, Subindex: 0, LengthBits: 16},
	{Index: od.EntryVelocityActual, Subindex: 0, LengthBits: 32},
	{Index: od.EntryTorqueActual, Subindex: 0, LengthBits: 16},
	{Index: od.EntryModesDisplay, Subindex: 0, LengthBits: 8},
}

// drivePositions returns the configured drives, every slave if none are configured
func drivePositions(session *master.Session, s *settings.Settings) ([]int, error) {
	positions := []int{}
	if len(s.Drives) > 0 {
		for _, d := range s.Drives {
			positions = append(positions, d.Position)
		}
		return positions, nil
	}
	slaves, err := session.EnumerateSlaves()
	if err != nil {
		return nil, err
	}
	for _, slave := range slaves {
		positions = append(positions, slave.Position)
	}
	return positions, nil
}

// prepare a drive in PreOp : mode, enable, velocity then process data layout
func prepare(session *master.Session, drive *motion.Drive, d *settings.DriveSettings, velocity int32) error {
	mode := motion.ProfileVelocity
	rx, tx := defaultRxMapping, defaultTxMapping
	if d != nil {
		if d.Mode != "" {
			var err error
			if mode, err = motion.ParseMode(d.Mode); err != nil {
				return err
			}
		}
		drx, dtx, err := d.Mappings()
		if err != nil {
			return err
		}
		if drx != nil {
			rx = drx
		}
		if dtx != nil {
			tx = dtx
		}
	}
	if err := drive.SetMode(mode); err != nil {
		return err
	}
	if err := drive.Enable(); err != nil {
		return err
	}
	if _, err := drive.SetTargetVelocity(velocity); err != nil {
		return err
	}
	return session.ConfigurePDO(drive.Position(), rx, tx)
}

// move runs the move sequence on every drive, cycles process data for
// duration then runs the stop sequence
func move(ctx context.Context, session *master.Session, s *settings.Settings, logger *log.Logger, velocity int32, duration time.Duration) error {
	if _, err := session.RequestState(ethercat.StatePreOperational); err != nil {
		return err
	}
	positions, err := drivePositions(session, s)
	if err != nil {
		return err
	}
	drives := make([]*motion.Drive, 0, len(positions))
	for _, position := range positions {
		drive := motion.NewDrive(session, position, motion.DefaultOptions(), log.NewEntry(logger))
		if err := prepare(session, drive, s.Drive(position), velocity); err != nil {
			return fmt.Errorf("drive %d : %w", position, err)
		}
		drives = append(drives, drive)
	}
	if _, err := session.RequestState(ethercat.StateOperational); err != nil {
		return err
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cycleCtx, s.CyclePeriod(), s.CycleTimeout())
	}()

	logger.Infof("moving %d drives at %d for %v", len(drives), velocity, duration)
	select {
	case <-ctx.Done():
		logger.Infof("interrupted")
	case <-time.After(duration):
	case err := <-done:
		return err
	}

	// stop sequence goes out with the next cycles
	var stopErr error
	for _, drive := range drives {
		stopErr = multierr.Append(stopErr, drive.Disable())
	}
	time.Sleep(10 * s.CyclePeriod())
	for _, drive := range drives {
		state, err := drive.Refresh()
		if err == nil {
			logger.Infof("drive %d : %v", drive.Position(), state)
		}
	}
	cancel()
	return multierr.Append(stopErr, <-done)
}
