package gateway

import (
	"testing"
	"time"

	"github.com/samsamfire/goethercat/pkg/link/virtual"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/motion"
	"github.com/samsamfire/goethercat/pkg/sim"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.SetLevel(log.DebugLevel)
}

func openSession(t *testing.T, m *master.Master, adapter string) *master.Session {
	t.Helper()
	virtual.Attach(adapter, "virtual "+adapter, sim.NewSegment(sim.NewServo("Y7-Servo")))
	t.Cleanup(func() { virtual.Detach(adapter) })
	session, err := m.Open(adapter)
	assert.Nil(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestAttach(t *testing.T) {
	m := master.NewMaster(master.Options{
		Drivers:    []string{virtual.DriverName},
		SDOTimeout: 20 * time.Millisecond,
	})
	gw := NewBaseGateway(m, 0, motion.DefaultOptions())
	first := openSession(t, m, "attach0")
	second := openSession(t, m, "attach1")

	gw.Attach(first)
	drive, err := gw.Drive(0)
	assert.Nil(t, err)

	t.Run("same session keeps drives", func(t *testing.T) {
		gw.Attach(first)
		again, err := gw.Drive(0)
		assert.Nil(t, err)
		assert.Same(t, drive, again)
	})
	t.Run("other session gets new drives", func(t *testing.T) {
		gw.Attach(second)
		other, err := gw.Drive(0)
		assert.Nil(t, err)
		assert.NotSame(t, drive, other)
		session, err := gw.Session()
		assert.Nil(t, err)
		assert.Same(t, second, session)
	})
	t.Run("unknown position", func(t *testing.T) {
		_, err := gw.Drive(3)
		assert.NotNil(t, err)
	})
}
