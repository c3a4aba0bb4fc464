package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/internal/settings"
	gwhttp "github.com/samsamfire/goethercat/pkg/gateway/http"
	"github.com/samsamfire/goethercat/pkg/link/virtual"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/motion"
	"github.com/samsamfire/goethercat/pkg/sim"
	log "github.com/sirupsen/logrus"

	_ "github.com/samsamfire/goethercat/pkg/link/rawsock"
)

const DEFAULT_VIRTUAL_ADAPTER = "virtual0"
const DEFAULT_MOVE_DURATION = 5 * time.Second

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env loaded : %v", err)
	}

	// Command line arguments
	configPath := flag.String("c", os.Getenv(settings.EnvConfig), "yaml settings file")
	adapter := flag.String("i", "", "network adapter e.g. eth0, overrides settings and "+settings.EnvAdapter)
	level := flag.String("l", "", "log level, overrides settings and "+settings.EnvLogLevel)
	scan := flag.Bool("scan", false, "list adapters and exit")
	useVirtual := flag.Bool("virtual", false, "attach a simulated segment as adapter "+DEFAULT_VIRTUAL_ADAPTER)
	nbSlaves := flag.Int("slaves", 1, "number of simulated servos with -virtual")
	velocity := flag.Int("velocity", 0, "run the move sequence at this target velocity")
	duration := flag.Duration("duration", DEFAULT_MOVE_DURATION, "duration of the move sequence")
	serve := flag.Bool("gateway", false, "serve the http gateway, overrides settings")
	addr := flag.String("addr", "", "http gateway address, overrides settings")
	flag.Parse()

	s := settings.Default()
	if *configPath != "" {
		var err error
		s, err = settings.Load(*configPath)
		if err != nil {
			log.Fatalf("settings : %v", err)
		}
	}
	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatalf("environment : %v", err)
	}
	if *adapter != "" {
		s.Master.Adapter = *adapter
	}
	if *level != "" {
		s.Log.Level = *level
	}
	if *serve {
		s.Gateway.Enabled = true
	}
	if *addr != "" {
		s.Gateway.Address = *addr
	}
	if *useVirtual {
		if s.Master.Adapter == "" {
			s.Master.Adapter = DEFAULT_VIRTUAL_ADAPTER
		}
		if len(s.Master.Drivers) > 0 {
			s.Master.Drivers = append(s.Master.Drivers, virtual.DriverName)
		}
		attachVirtual(s.Master.Adapter, *nbSlaves)
	}

	logger, err := s.Logger()
	if err != nil {
		log.Fatalf("logger : %v", err)
	}
	log.SetLevel(logger.GetLevel())

	m := master.NewMaster(s.Options(logger))
	if err := s.RegisterDictionaries(m); err != nil {
		logger.Fatalf("dictionaries : %v", err)
	}

	if *scan {
		adapters, err := m.ScanAdapters()
		if err != nil {
			logger.Fatalf("scan : %v", err)
		}
		for _, a := range adapters {
			fmt.Println(a)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, m, logger, int32(*velocity), *duration); err != nil {
		logger.Fatal(err)
	}
}

// attachVirtual creates a segment of simulated servos
func attachVirtual(name string, nbSlaves int) {
	segment := sim.NewSegment()
	for i := 0; i < nbSlaves; i++ {
		segment.Add(sim.NewServo("Y7-Servo"))
	}
	virtual.Attach(name, fmt.Sprintf("simulated segment (%d servos)", nbSlaves), segment)
}

func run(ctx context.Context, s *settings.Settings, m *master.Master, logger *log.Logger, velocity int32, duration time.Duration) error {
	var session *master.Session
	if s.Master.Adapter != "" {
		var err error
		session, err = m.Open(s.Master.Adapter)
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Close(); err != nil && !errors.Is(err, ethercat.ErrAlreadyClosed) {
				logger.Warnf("closing session : %v", err)
			}
		}()
		slaves, err := session.EnumerateSlaves()
		if err != nil {
			return err
		}
		for _, slave := range slaves {
			logger.Infof("slave %d : %v (%v)", slave.Position, slave.Name, slave.Identity)
		}
	}

	if velocity != 0 {
		if session == nil {
			return fmt.Errorf("move sequence needs an adapter")
		}
		if err := move(ctx, session, s, logger, velocity, duration); err != nil {
			return err
		}
	}

	if !s.Gateway.Enabled {
		return nil
	}
	gw := gwhttp.NewGatewayServer(m, s.Gateway.DefaultSlave, motion.DefaultOptions())
	if session != nil {
		gw.Attach(session)
	}
	server := &http.Server{Addr: s.Gateway.Address, Handler: gw.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	logger.Infof("[HTTP][SERVER] listening on %v", s.Gateway.Address)
	err := server.ListenAndServe()
	if session == nil {
		gw.Disconnect()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
