package main

import (
	"context"
	"testing"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/settings"
	"github.com/samsamfire/goethercat/pkg/link/virtual"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/od"
	"github.com/samsamfire/goethercat/pkg/sim"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.SetLevel(log.DebugLevel)
}

func TestMove(t *testing.T) {
	servos := []*sim.Slave{sim.NewServo("Y7-Servo"), sim.NewServo("Y7-Servo")}
	virtual.Attach("move0", "move test", sim.NewSegment(servos...))
	defer virtual.Detach("move0")

	s := settings.Default()
	s.Master.Drivers = []string{virtual.DriverName}
	s.Master.CyclePeriodMs = 1
	s.Drives = []settings.DriveSettings{{Position: 0}, {Position: 1, Mode: "csv"}}
	m := master.NewMaster(s.Options(nil))
	session, err := m.Open("move0")
	assert.Nil(t, err)
	defer session.Close()

	err = move(context.Background(), session, s, log.StandardLogger(), 300, 50*time.Millisecond)
	assert.Nil(t, err)
	assert.Equal(t, ethercat.StatePreOperational, session.State())

	for i, expected := range []int32{3, 9} {
		mode, _ := servos[i].Value(od.EntryModesOfOperation, 0)
		assert.Equal(t, expected, mode)
		// stopped
		assert.EqualValues(t, 0x0221, servos[i].StatusWord())
		velocity, _ := servos[i].Value(od.EntryTargetVelocity, 0)
		assert.EqualValues(t, 0, velocity)
	}
}
