// Package main implements the servicekit runtime: it loads the config
// and service manifest, builds the registry with health monitoring and
// recovery, exposes metrics and health over HTTP, and runs until a
// shutdown signal arrives.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/servicekit/config"
	"github.com/c360/servicekit/event"
	"github.com/c360/servicekit/health"
	"github.com/c360/servicekit/metric"
	"github.com/c360/servicekit/natsbridge"
	"github.com/c360/servicekit/recovery"
	"github.com/c360/servicekit/registry"
	"github.com/c360/servicekit/service"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "servicekit"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("servicekit failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	manifest, err := config.LoadManifest(cliCfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	descriptors, err := manifest.Descriptors()
	if err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	logLevel := cfg.LogLevel
	if cliCfg.LogLevel != "" {
		logLevel = cliCfg.LogLevel
	}
	logger := setupLogger(logLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("configuration is valid", "services", len(descriptors))
		return nil
	}

	slog.Info("starting servicekit",
		"version", Version,
		"config", cliCfg.ConfigPath,
		"manifest", cliCfg.ManifestPath,
		"services", len(descriptors))

	metrics := metric.NewRegistry()
	bus := event.NewBus(logger)
	defer bus.Close()

	deps := service.Dependencies{Logger: logger, Metrics: metrics}
	reg := registry.NewRegistry(registryConfig(cfg), bus, deps)

	bridge, conn, err := setupBridge(cfg, bus, deps, logger)
	if err != nil {
		return err
	}
	if conn != nil {
		defer conn.Close()
		defer bridge.Close()
	}

	httpServer := setupHTTP(cfg.HTTP.Addr, metrics, reg)

	return runWithSignalHandling(reg, descriptors, httpServer, cliCfg.ShutdownTimeout)
}

// registryConfig maps the file config onto the registry's settings.
func registryConfig(cfg *config.Config) registry.Config {
	return registry.Config{
		StartSettleDelay:    cfg.Registry.StartSettleDelay.Std(),
		MaxConcurrentStarts: cfg.Registry.MaxConcurrentStarts,
		UnhealthyAlertLimit: cfg.Registry.UnhealthyAlertLimit,
		Health: health.Config{
			CheckInterval:   cfg.Health.CheckInterval.Std(),
			CheckTimeout:    cfg.Health.CheckTimeout.Std(),
			MetricsInterval: cfg.Health.MetricsInterval.Std(),
			HistoryWindow:   cfg.Health.HistoryWindow.Std(),
			Thresholds: health.Thresholds{
				Degraded:       cfg.Health.DegradedErrorRate,
				Unhealthy:      cfg.Health.UnhealthyErrorRate,
				SystemDegraded: cfg.Health.SystemDegradedRatio,
			},
			PerfLatencyP95: cfg.Health.PerfLatencyP95.Std(),
			PerfErrorRate:  cfg.Health.PerfErrorRate,
		},
		Recovery: recovery.Config{
			MaxRetries:     cfg.Recovery.MaxRetries,
			BaseDelay:      cfg.Recovery.BaseDelay.Std(),
			Multiplier:     cfg.Recovery.Multiplier,
			MaxDelay:       cfg.Recovery.MaxDelay.Std(),
			AttemptTimeout: cfg.Recovery.AttemptTimeout.Std(),
			Strategy:       recovery.Strategy(cfg.Recovery.Strategy),
		},
	}
}

// setupBridge connects the event bus to NATS when enabled.
func setupBridge(
	cfg *config.Config,
	bus *event.Bus,
	deps service.Dependencies,
	logger *slog.Logger,
) (*natsbridge.Bridge, interface{ Close() }, error) {
	if !cfg.NATS.Enabled {
		slog.Debug("nats bridge disabled")
		return nil, nil, nil
	}

	opts := natsbridge.Options{
		URLs:          cfg.NATS.URLs,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		Name:          appName,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait.Std(),
	}
	conn, err := natsbridge.Connect(opts, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("nats bridge connected", "url", conn.ConnectedUrl())
	return natsbridge.NewBridge(bus, conn, opts, deps), conn, nil
}

// setupHTTP builds the metrics and health endpoint.
func setupHTTP(addr string, metrics *metric.Registry, reg *registry.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		sys := reg.Monitor().System()
		w.Header().Set("Content-Type", "application/json")
		if sys.Overall == health.Unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(sys)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// runWithSignalHandling creates and starts the manifest services, runs
// until SIGINT or SIGTERM, then shuts everything down in order.
func runWithSignalHandling(
	reg *registry.Registry,
	descriptors []service.Descriptor,
	httpServer *http.Server,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	for name, err := range reg.CreateMultiple(signalCtx, descriptors) {
		if err != nil {
			return fmt.Errorf("create service %s: %w", name, err)
		}
	}

	failed := 0
	for name, err := range reg.StartAllServices(signalCtx) {
		if err != nil {
			slog.Error("service failed to start", "service", name, "error", err)
			failed++
		}
	}
	if failed > 0 {
		slog.Warn("some services failed to start", "failed", failed)
	}

	reg.StartMonitoring(signalCtx)

	go func() {
		slog.Info("http endpoint listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	slog.Info("servicekit started")
	<-signalCtx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown failed", "error", err)
	}
	if err := reg.ShutdownAll(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("servicekit shutdown complete")
	return nil
}
