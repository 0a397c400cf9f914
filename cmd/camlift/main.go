package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/earti/camlift/internal/config"
	"github.com/earti/camlift/internal/debug"
	"github.com/earti/camlift/internal/discovery"
	"github.com/earti/camlift/internal/gateway"
	"github.com/earti/camlift/internal/hw/gpio"
	"github.com/earti/camlift/internal/hw/rig"
	"github.com/earti/camlift/internal/logic/dispatch"
	"github.com/earti/camlift/internal/logic/motion"
	"github.com/earti/camlift/internal/logic/position"
	"github.com/earti/camlift/internal/supervisor"
	"github.com/earti/camlift/internal/web"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	// CLI flags
	port := &portFlag{}
	flag.Var(port, "port", "listen on this port instead of gateway.listen (1-65535)")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	zone := flag.String("zone", "", "zone this unit answers to (overrides gateway.zone)")
	mock := flag.Bool("mock", false, "use the simulated rig instead of GPIO")
	discover := flag.Bool("discover", false, "list camlift units on the local network and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *discover {
		if err := listUnits(ctx, os.Stdout); err != nil {
			log.Fatalf("discover: %v", err)
		}
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	applyOverrides(cfg, overrides{Port: port.port(), Zone: *zone, Mock: *mock})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	debug.Init(cfg.Defaults.DebugLevel, cfg.Defaults.LogFormat)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Zone", cfg.Gateway.Zone)

	if err := run(ctx, cfg); err != nil {
		cancel()
		log.Printf("camlift stopped: %v", err)
		os.Exit(1)
	}
}

// actuators is what the binary needs from a rig: the planner primitives plus
// a shutdown hook.
type actuators interface {
	motion.Actuator
	Shutdown() error
}

// run wires every component and blocks until ctx ends or the motion path
// fails. Actuators are always left safe before it returns.
func run(ctx context.Context, cfg *config.Config) error {
	advertisePort := 0
	if cfg.Discovery.Enabled {
		p, err := listenPort(cfg.Gateway.Listen)
		if err != nil {
			return err
		}
		advertisePort = p
	}

	debug.Step(1, "Initializing actuators")
	act, err := newActuators(cfg)
	if err != nil {
		return fmt.Errorf("init actuators: %w", err)
	}

	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	debug.Step(2, "Creating motion planner")
	tracker := position.NewTracker(position.Limits{
		MaxSteps: cfg.Travel.MaxSteps,
		MinPulse: cfg.Servo.MinPulseUs,
		MaxPulse: cfg.Servo.MaxPulseUs,
	})
	ctrl, err := motion.NewController(act, tracker, motion.Config{
		Travel:       cfg.Travel.Geometry(),
		PanSteps:     cfg.Pan.StepCount,
		PanIncrement: cfg.Pan.IncrementUs,
		PanInterval:  cfg.PanInterval(),
	})
	if err != nil {
		return errors.Join(fmt.Errorf("init planner: %w", err), act.Shutdown())
	}

	disp := dispatch.New(ctrl, tracker, cfg.Gateway.MaxQueued)
	gw := gateway.New(gateway.Config{
		Zone:               cfg.Gateway.Zone,
		RejectForeignZones: cfg.Gateway.RejectForeignZones,
		PingInterval:       cfg.PingInterval(),
		PingTimeout:        cfg.PingTimeout(),
		MaxMessageBytes:    cfg.Gateway.MaxMessageBytes,
		CommandsPerSecond:  cfg.Gateway.CommandsPerSecond,
		Burst:              cfg.Gateway.Burst,
		OriginPatterns:     cfg.Gateway.OriginPatterns,
		MaxPending:         cfg.Gateway.MaxQueued,
	}, disp, tracker, debug.Logger())

	sup := supervisor.New(supervisor.Config{
		HealthInterval: cfg.HealthInterval(),
		Zone:           cfg.Gateway.Zone,
	}, supervisor.Deps{
		Sessions:  gw,
		Position:  tracker,
		Planner:   ctrl,
		Queue:     disp,
		Actuators: act,
		Publisher: broadcaster,
	})
	defer func() {
		if err := sup.Shutdown(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	debug.Step(3, "Parking pan servo and homing carriage")
	if err := ctrl.PanTo(cfg.PanMidpoint()); err != nil {
		return err
	}
	if cfg.HomeOnStart() {
		if err := ctrl.GoHome(); err != nil {
			return err
		}
	}
	debug.Summary("Ready")
	debug.Info("Ready: position %+v, state %s", tracker.Snapshot(), ctrl.State())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handlers := web.NewHandlers(broadcaster, sup, gw, func() error {
		select {
		case <-disp.Done():
			return dispatch.ErrStopped
		default:
			return nil
		}
	})
	srv := web.NewServer(cfg.Gateway.Listen, handlers, gw)
	srv.OnShutdown(func() {
		gw.CloseAll("server shutting down")
		broadcaster.Close()
	})

	debug.Step(4, "Starting services")
	if err := sup.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 3)
	go func() { errCh <- disp.Run(ctx) }()
	go func() { errCh <- srv.Run(ctx) }()
	running := 2
	if cfg.Discovery.Enabled {
		go func() { errCh <- discovery.Advertise(ctx, cfg.Discovery.Instance, cfg.Gateway.Zone, advertisePort) }()
		running++
	}

	var firstErr error
	select {
	case <-ctx.Done():
		debug.Info("Signal received, stopping")
	case firstErr = <-errCh:
		running--
	}
	cancel()
	for ; running > 0; running-- {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// newActuators returns the simulated rig in mock mode, the GPIO rig otherwise.
func newActuators(cfg *config.Config) (actuators, error) {
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	if cfg.Defaults.MockGPIO {
		return rig.NewSimulator(cfg.Simulator()), nil
	}
	drv, err := gpio.NewRPiRealDriver()
	if err != nil {
		return nil, err
	}
	r, err := rig.New(drv, cfg.Rig())
	if err != nil {
		return nil, errors.Join(err, drv.Close())
	}
	return r, nil
}

// listUnits browses mDNS and prints one unit per line.
func listUnits(ctx context.Context, w io.Writer) error {
	units, err := discovery.Scan(ctx, discovery.DefaultScanTimeout)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		fmt.Fprintln(w, "no camlift units found")
		return nil
	}
	for _, u := range units {
		fmt.Fprintf(w, "%-24s zone=%-12s %s\n", u.Instance, u.Zone, u.URL())
	}
	return nil
}

// overrides are the CLI values applied on top of the loaded configuration.
// Zero values leave the configuration unchanged.
type overrides struct {
	Port int
	Zone string
	Mock bool
}

// applyOverrides mutates cfg with overrides.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.Port > 0 {
		host, _, err := net.SplitHostPort(cfg.Gateway.Listen)
		if err != nil {
			host = ""
		}
		cfg.Gateway.Listen = net.JoinHostPort(host, strconv.Itoa(o.Port))
	}
	if o.Zone != "" {
		if cfg.Discovery.Instance == "camlift" || cfg.Discovery.Instance == "camlift-"+cfg.Gateway.Zone {
			cfg.Discovery.Instance = "camlift-" + o.Zone
		}
		cfg.Gateway.Zone = o.Zone
	}
	if o.Mock {
		cfg.Defaults.MockGPIO = true
	}
}

func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("gateway.listen %q: %w", addr, err)
	}
	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("gateway.listen %q: invalid port", addr)
	}
	return n, nil
}

// portFlag implements flag.Value for -port: 0 = use configuration, otherwise 1-65535.
type portFlag struct {
	val int
}

func (p *portFlag) String() string {
	return strconv.Itoa(p.val)
}

func (p *portFlag) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	p.val = v
	return nil
}

func (p *portFlag) port() int { return p.val }
