// Package main implements the FieldEdge demo microservice. It exposes a
// small property set on the local broker, answers rollcalls and property
// queries, and can mirror a remote service's properties through a proxy.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/inmarsat-enterprise/fieldedge-utilities/config"
	"github.com/inmarsat-enterprise/fieldedge-utilities/inspect"
	"github.com/inmarsat-enterprise/fieldedge-utilities/isc"
	"github.com/inmarsat-enterprise/fieldedge-utilities/microservice"
	"github.com/inmarsat-enterprise/fieldedge-utilities/pkg/logging"
	"github.com/inmarsat-enterprise/fieldedge-utilities/pkg/timer"
)

const (
	Version = "0.1.0"
	appName = "fieldedge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		slog.Info("configuration is valid", "tag", cfg.Service.Tag)
		return nil
	}

	logger := logging.ForService(cfg.Service.Tag)
	slog.SetDefault(logger)

	demo := newDemoState()
	opts := []microservice.ServiceOption{
		microservice.WithServiceLogger(logger),
	}
	if cliCfg.MetricsPort > 0 {
		opts = append(opts, microservice.WithMetricsServer(cliCfg.MetricsPort))
	}
	svc, err := microservice.NewService(cfg, demo.props(), opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	logger.Info("service online", "tag", svc.Tag(), "broker", cfg.MQTT.URL)

	// Announce presence so already-running proxies refresh against us.
	if _, err := svc.Entity().BroadcastRollcall(ctx); err != nil {
		logger.Warn("rollcall broadcast failed", "error", err)
	}

	heartbeat, err := timer.New(30*time.Second, func() {
		demo.tick()
		svc.Entity().Notify(ctx, isc.Message{
			"uptime": demo.uptime().Seconds(),
		}, "", "event/heartbeat")
	}, timer.WithName("heartbeat"), timer.WithAutoStart())
	if err != nil {
		return err
	}
	defer heartbeat.Stop()

	if cliCfg.ProxyTarget != "" {
		proxy, err := svc.AddProxy(ctx, cliCfg.ProxyTarget)
		if err != nil {
			return err
		}
		props, err := proxy.Properties(ctx)
		if err != nil {
			logger.Warn("initial remote snapshot failed",
				"target", cliCfg.ProxyTarget, "error", err)
		} else {
			logger.Info("mirroring remote service",
				"target", cliCfg.ProxyTarget, "properties", len(props))
		}
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancel()
	svc.Stop(shutdownCtx, cliCfg.ShutdownTimeout)
	return nil
}

func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cliCfg.ConfigPath != "" {
		cfg, err = config.Load(cliCfg.ConfigPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if cliCfg.Tag != "" {
		cfg.Service.Tag = cliCfg.Tag
	}
	if cfg.Service.Tag == "" {
		cfg.Service.Tag = "demo"
	}
	return cfg, cfg.Validate()
}

// demoState is the sample state the demo service exposes on the bus.
type demoState struct {
	started    time.Time
	hostname   string
	ticks      int
	powerState int
}

func newDemoState() *demoState {
	hostname, _ := os.Hostname()
	return &demoState{started: time.Now(), hostname: hostname, powerState: 1}
}

func (d *demoState) tick() {
	d.ticks++
}

func (d *demoState) uptime() time.Duration {
	return time.Since(d.started)
}

func (d *demoState) props() *inspect.PropertySet {
	ps := inspect.NewPropertySet("demo")
	ps.MustAdd("hostname", inspect.Accessor{
		Get: func() any { return d.hostname },
	})
	ps.MustAdd("uptime_seconds", inspect.Accessor{
		Get: func() any { return d.uptime().Seconds() },
	})
	ps.MustAdd("heartbeat_count", inspect.Accessor{
		Get: func() any { return d.ticks },
	})
	ps.MustAdd("power_state", inspect.Accessor{
		Get: func() any { return d.powerState },
		Set: func(v any) error {
			switch value := v.(type) {
			case int:
				d.powerState = value
			case float64:
				d.powerState = int(value)
			default:
				return fmt.Errorf("power_state: unsupported type %T", v)
			}
			return nil
		},
	})
	return ps
}
