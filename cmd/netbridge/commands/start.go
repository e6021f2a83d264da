package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/internal/telemetry"
	"github.com/marmos91/netbridge/pkg/api"
	"github.com/marmos91/netbridge/pkg/bus"
	"github.com/marmos91/netbridge/pkg/config"
	"github.com/marmos91/netbridge/pkg/dispatcher"
	"github.com/marmos91/netbridge/pkg/factory"
	"github.com/marmos91/netbridge/pkg/metrics"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/netbridge/pkg/metrics/prometheus"
)

var (
	pidFile     string
	watchConfig bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the netbridge server",
	Long: `Start the netbridge server in the foreground.

The bus listener and the admin API are started from the configuration.
Without a configuration file the defaults are used.

Examples:
  # Start with default config location
  netbridge start

  # Start with custom config file
  netbridge start --config /etc/netbridge/config.yaml

  # Start with environment variable overrides
  NETBRIDGE_LOGGING_LEVEL=DEBUG netbridge start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file")
	startCmd.Flags().BoolVar(&watchConfig, "watch", true, "Apply logging changes from the config file without restarting")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(cfg.ProfilingConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	fmt.Println("netbridge - network device bridge")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "path", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}
	bridgeMetrics := metrics.NewBridgeMetrics()

	prefixes, err := cfg.OpenPrefixStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := prefixes.Close(); err != nil {
			logger.Error("prefix store close error", logger.Err(err))
		}
	}()

	f := factory.NewDefault(cfg.FactorySettings())
	d := dispatcher.New(f, append(cfg.DispatcherOptions(prefixes), dispatcher.WithMetrics(bridgeMetrics))...)
	if err := d.Restore(ctx); err != nil {
		logger.Warn("Failed to restore channel prefixes", logger.Err(err))
	}
	logger.Info("Dispatcher initialized",
		"channels", d.Channels(), "schemes", f.Schemes(), "prefix_store", cfg.PrefixStore.Type)

	if watchConfig && getConfigSource(GetConfigFile()) != "defaults" {
		if err := config.Watch(ctx, GetConfigFile(), func(next *config.Config) {
			logger.SetLevel(next.Logging.Level)
			logger.SetFormat(next.Logging.Format)
			logger.Info("Logging reconfigured", "level", next.Logging.Level, "format", next.Logging.Format)
		}); err != nil {
			logger.Warn("Config watch disabled", logger.Err(err))
		}
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	busServer := bus.NewServer(cfg.BusConfig(), d, bridgeMetrics)
	serverDone := make(chan error, 2)
	go func() {
		logger.Info("Bus server listening", "address", cfg.Bus.Address)
		serverDone <- busServer.Serve(ctx)
	}()

	running := 1
	if cfg.API.IsEnabled() {
		apiServer := api.NewServer(cfg.API, d)
		running++
		go func() { serverDone <- apiServer.Start(ctx) }()
	} else {
		logger.Info("API server disabled")
	}

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case runErr = <-serverDone:
		running--
		if runErr != nil {
			logger.Error("Server error", logger.Err(runErr))
		}
	}
	cancel()

	for ; running > 0; running-- {
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.Err(err))
			runErr = errors.Join(runErr, err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	d.Shutdown(shutdownCtx)

	if runErr == nil {
		logger.Info("Server stopped gracefully")
	}
	return runErr
}
