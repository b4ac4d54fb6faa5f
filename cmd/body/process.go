package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vinayprograms/cellbus/body"
	"github.com/vinayprograms/cellbus/bus"
	"github.com/vinayprograms/cellbus/config"
	"github.com/vinayprograms/cellbus/heartbeat"
	"github.com/vinayprograms/cellbus/logging"
	"github.com/vinayprograms/cellbus/metrics"
	"github.com/vinayprograms/cellbus/registry"
	"github.com/vinayprograms/cellbus/shutdown"
	"github.com/vinayprograms/cellbus/telemetry"
)

// closableBus is a bus the process owns and closes at shutdown.
type closableBus interface {
	body.Bus
	Close() error
}

// process holds what one body run shares: the bus, the cell directory and
// the shutdown sequence that tears them down.
type process struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	coord   *shutdown.Coordinator
	bus     closableBus
	dir     registry.Registry
	sender  *heartbeat.Sender
	monitor *heartbeat.Monitor
	host    string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// recorded lists the cell IDs written to dir.
	recorded []string
}

// start builds the logger, telemetry, bus and directory for cfg. Anything
// started before a failure is shut down again.
func start(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout, stderr io.Writer) (*process, error) {
	logger := logging.New()
	logger.SetOutput(stderr)
	logger.SetLevel(logging.ParseLevel(cfg.Log.Level))
	logger.SetPretty(cfg.Log.Pretty)

	shutCfg := shutdown.DefaultConfig()
	shutCfg.Logger = logger.WithComponent("shutdown")

	p := &process{
		cfg:     cfg,
		logger:  logger.WithComponent("body"),
		metrics: metrics.New(),
		coord:   shutdown.NewCoordinator(shutCfg),
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}
	p.host, _ = os.Hostname()

	if err := p.init(ctx); err != nil {
		p.coord.ShutdownWithTimeout(0)
		return nil, err
	}
	return p, nil
}

func (p *process) init(ctx context.Context) error {
	opts := []body.Option{
		body.WithLogger(p.logger.WithComponent("bus")),
		body.WithMetrics(p.metrics),
	}

	if p.cfg.Telemetry.Endpoint != "" {
		provider, err := telemetry.InitProvider(ctx, p.cfg.Telemetry.Provider())
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		provider.Install()
		opts = append(opts, body.WithTracer(provider.Tracer()))
		p.coord.RegisterFunc("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
	} else {
		telemetry.SetupPropagation()
	}

	if p.local() {
		p.bus = body.NewLocalBus(opts...)
		p.logger.Info("using in-process bus")
	} else {
		tb, err := body.Connect(ctx, p.cfg.Bus.Body(), opts...)
		if err != nil {
			return err
		}
		p.bus = tb
	}
	p.coord.RegisterFunc("bus", shutdown.PhaseBus, func(context.Context) error {
		return p.bus.Close()
	})

	p.dir = p.openDirectory()
	p.coord.RegisterFunc("registry", shutdown.PhaseDeregister, p.deregister)
	return p.startHeartbeat(ctx)
}

// startHeartbeat keeps this process's entries fresh and logs any cell in
// the directory that stops refreshing.
func (p *process) startHeartbeat(ctx context.Context) error {
	interval := heartbeat.IntervalFor(p.cfg.Registry.TTL)

	sender, err := heartbeat.NewSender(heartbeat.SenderConfig{
		Registry: p.dir,
		Interval: interval,
		Logger:   p.logger.WithComponent("heartbeat"),
	})
	if err != nil {
		return err
	}

	mcfg := heartbeat.DefaultMonitorConfig()
	mcfg.Registry = p.dir
	if p.cfg.Registry.TTL > 0 {
		mcfg.Timeout = p.cfg.Registry.TTL
	}
	monitor, err := heartbeat.NewMonitor(mcfg)
	if err != nil {
		return err
	}
	monitor.OnDead(func(cell registry.CellInfo) {
		p.logger.Warn("cell stopped refreshing", map[string]interface{}{
			"cell":      cell.ID,
			"app":       cell.App,
			"host":      cell.Host,
			"last_seen": cell.LastSeen.UTC().Format(time.RFC3339),
		})
	})

	if err := sender.Start(ctx); err != nil {
		return err
	}
	p.sender = sender
	if err := monitor.Start(); err != nil {
		return err
	}
	p.monitor = monitor
	return nil
}

// local reports whether the process runs on the in-process bus.
func (p *process) local() bool {
	return p.cfg.App.MockBus || p.cfg.App.Demo
}

// openDirectory returns the JetStream directory when the bus is NATS and
// the directory is enabled, else an in-memory one.
func (p *process) openDirectory() registry.Registry {
	memory := func() registry.Registry {
		return registry.NewMemoryRegistry(registry.MemoryConfig{TTL: p.cfg.Registry.TTL})
	}

	tb, ok := p.bus.(*body.TransportBus)
	if !ok || !p.cfg.Registry.Enabled {
		return memory()
	}
	nb, ok := tb.Raw().(*bus.NATSBus)
	if !ok {
		return memory()
	}

	rcfg := registry.DefaultNATSRegistryConfig()
	rcfg.BucketName = p.cfg.Registry.Bucket
	rcfg.TTL = p.cfg.Registry.TTL

	dir, err := registry.NewNATSRegistry(nb.Conn(), rcfg)
	if err != nil {
		p.logger.Warn("cell directory unavailable, keeping it in memory", map[string]interface{}{
			"bucket": rcfg.BucketName,
			"error":  err.Error(),
		})
		return memory()
	}
	return dir
}

// register subscribes cells on the bus and records them in the directory.
// A directory failure is logged; the cells keep serving.
func (p *process) register(appName string, cells ...body.Cell) error {
	if err := body.RegisterAll(p.bus, cells...); err != nil {
		return err
	}

	for _, c := range cells {
		p.logger.CellRegistered(c.ID(), c.Subjects())

		err := p.sender.Add(registry.CellInfo{
			ID:       c.ID(),
			App:      appName,
			Subjects: c.Subjects(),
			Status:   registry.StatusServing,
			Host:     p.host,
		})
		if err != nil {
			p.logger.Warn("cell not recorded in directory", map[string]interface{}{
				"cell":  c.ID(),
				"error": err.Error(),
			})
			continue
		}
		p.recorded = append(p.recorded, c.ID())
	}
	return nil
}

// deregister stops the heartbeat, removes recorded cells and closes the
// directory.
func (p *process) deregister(ctx context.Context) error {
	if p.sender != nil {
		p.sender.Stop()
	}
	if p.monitor != nil {
		p.monitor.Stop()
	}
	for _, id := range p.recorded {
		if err := p.dir.Deregister(id); err != nil {
			p.logger.Debug("deregister failed", map[string]interface{}{
				"cell":  id,
				"error": err.Error(),
			})
		}
	}
	return p.dir.Close()
}

// stop runs the shutdown sequence unless a signal already has, and returns
// its error.
func (p *process) stop() error {
	p.coord.ShutdownWithTimeout(0)

	if r := p.coord.Result(); r != nil {
		p.logger.Info("shutdown complete", map[string]interface{}{
			"duration_ms": float64(r.TotalDuration) / float64(time.Millisecond),
			"handlers":    len(r.Results),
		})
	}
	return p.coord.Err()
}
