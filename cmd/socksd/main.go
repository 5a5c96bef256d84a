// Package main implements socksd, the smart socks activity pipeline
// daemon. It connects the node transports, the pair coordinator, the
// stream merger and the classifier over the NATS bus and exposes metrics
// and health over HTTP.
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

	"github.com/powerpig99/smart-socks-sub000/component"
	"github.com/powerpig99/smart-socks-sub000/componentregistry"
	"github.com/powerpig99/smart-socks-sub000/config"
	"github.com/powerpig99/smart-socks-sub000/health"
	"github.com/powerpig99/smart-socks-sub000/metric"
	"github.com/powerpig99/smart-socks-sub000/natsclient"
	"github.com/powerpig99/smart-socks-sub000/service"
)

const (
	// Version is the daemon version.
	Version = "1.0.0"
	appName = "socksd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\n%s\n", r, buf[:n])
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)
	slog.Info("starting", "config_path", cliCfg.ConfigPath)

	cfg, err := config.NewLoader(cliCfg.ConfigPath).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("configuration is valid", "components", len(cfg.Components))
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	natsClient, err := connectBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := natsClient.Close(context.Background()); err != nil {
			slog.Warn("bus close failed", "error", err)
		}
	}()

	metricsRegistry := metric.NewMetricsRegistry()
	natsClient.WithMetrics(metricsRegistry.Metrics)

	monitor := health.NewMonitor(appName)
	monitor.Register("nats", func() health.Status {
		if natsClient.IsHealthy() {
			return health.Healthy("nats", "")
		}
		return health.Unhealthy("nats", "bus connection down")
	})

	metricsServer := startMetricsServer(cfg, metricsRegistry, monitor)
	if metricsServer != nil {
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				slog.Warn("metrics server stop failed", "error", err)
			}
		}()
	}

	registry := component.NewRegistry()
	if err := componentregistry.Register(registry); err != nil {
		return fmt.Errorf("register components: %w", err)
	}
	slog.Info("component factories registered", "factories", registry.Factories())

	deps := component.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	}
	manager := service.NewManager(registry, deps, monitor)
	if err := manager.Build(cfg); err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	slog.Info("pipeline running", "components", len(manager.Components()))

	<-ctx.Done()
	slog.Info("shutdown signal received")

	stopDone := make(chan error, 1)
	go func() { stopDone <- manager.StopAll() }()
	select {
	case err := <-stopDone:
		if err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
	case <-time.After(cliCfg.ShutdownTimeout):
		return fmt.Errorf("shutdown timed out after %v", cliCfg.ShutdownTimeout)
	}

	slog.Info("shutdown complete")
	return nil
}

// connectBus builds the NATS client and waits for the first connection.
func connectBus(ctx context.Context, cfg *config.Config) (*natsclient.Client, error) {
	natsClient, err := natsclient.NewClient(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("connecting to NATS", "url", natsClient.URL())
	if err := natsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return natsClient, nil
}

// startMetricsServer serves /metrics and /healthz unless disabled by
// config. Serve errors are fatal for the process: silently running
// without observability hides every other failure.
func startMetricsServer(cfg *config.Config, registry *metric.MetricsRegistry, monitor *health.Monitor) *metric.Server {
	if cfg.Metrics.Port == 0 {
		slog.Info("metrics server disabled")
		return nil
	}

	server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	server.Handle("/healthz", monitor.Handler())
	go func() {
		if err := server.Start(); err != nil {
			slog.Error("metrics server failed", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("metrics server listening", "port", cfg.Metrics.Port)
	return server
}
