// Command wsmessenger-cli is an example program wrapping the wsmessenger
// library: it loads a config.ConfigFile, opens one Messenger, logs
// lifecycle events, and reports stats until terminated.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cortexuvula/wsmessenger"
	"github.com/cortexuvula/wsmessenger/internal/config"
	"github.com/cortexuvula/wsmessenger/internal/eventring"
	"github.com/cortexuvula/wsmessenger/internal/logging"
	"github.com/cortexuvula/wsmessenger/internal/wizard"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wsmessenger-cli",
		Short: "Example driver for the wsmessenger resilient WebSocket client",
	}

	var configPath string
	var verbose bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Open a session against the configured server and run until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(configPath, verbose)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	var initConfigPath string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return wizard.Run(os.Stdin, os.Stdout, wizard.Options{ConfigPath: initConfigPath})
		},
	}
	initCmd.Flags().StringVar(&initConfigPath, "config-path", "", "Override config file output path")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Server: %s:%d%s\n", cfg.Server.Host, cfg.Server.Port, cfg.Server.Target)
			if cfg.Proxy != nil {
				fmt.Printf("  Proxy: %s:%d\n", cfg.Proxy.Host, cfg.Proxy.Port)
			}
			fmt.Printf("  Critical failure threshold: %d\n", cfg.CriticalFailureThreshold)
			fmt.Printf("  Max send queue size: %d\n", cfg.MaxSendQueueSize)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wsmessenger-cli %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	rootCmd.AddCommand(runCmd, initCmd, validateCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// sessionCallback adapts lifecycle notifications into slog records.
type sessionCallback struct {
	logger *slog.Logger
	done   chan struct{}
}

func (c *sessionCallback) OnMessageReceived(message []byte) {
	c.logger.Debug("message received", "bytes", len(message))
}

func (c *sessionCallback) OnConnected() {
	c.logger.Info("connected")
}

func (c *sessionCallback) OnDisconnected(details wsmessenger.ErrorDetails) {
	c.logger.Warn("disconnected", "code", details.Code, "message", details.Message)
}

func (c *sessionCallback) SignalCriticalFailure() {
	c.logger.Error("critical failure: exhausted reconnect attempts")
	close(c.done)
}

func runSession(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	events := eventring.New(256)
	baseHandler, lj := logging.SetupHandler(cfg.Logging)
	logger := slog.New(eventring.NewTeeHandler(baseHandler, events))
	slog.SetDefault(logger)
	if lj != nil {
		defer lj.Close()
	}

	logger.Info("starting wsmessenger-cli",
		"version", Version,
		"server", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"target", cfg.Server.Target,
	)

	serverSettings := wsmessenger.ServerSettings{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Target: cfg.Server.Target,
	}
	if cfg.Proxy != nil {
		serverSettings.Proxy = &wsmessenger.ProxySettings{
			Host:     cfg.Proxy.Host,
			Port:     cfg.Proxy.Port,
			Username: cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
		}
	}

	connConfig := wsmessenger.ConnectionConfig{
		Server:                   serverSettings,
		CriticalFailureThreshold: cfg.CriticalFailureThreshold,
		MaxSendQueueSize:         cfg.MaxSendQueueSize,
	}

	done := make(chan struct{})
	callback := &sessionCallback{logger: logger, done: done}

	messengerOpts := []wsmessenger.Option{wsmessenger.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		m := wsmessenger.NewMetrics()
		messengerOpts = append(messengerOpts, wsmessenger.WithMetrics(m))

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Endpoint, promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.Metrics.ListenAddress,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics endpoint listening", "address", cfg.Metrics.ListenAddress, "path", cfg.Metrics.Endpoint)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer metricsServer.Close()
	}

	messenger, err := wsmessenger.New(callback, connConfig, messengerOpts...)
	if err != nil {
		return fmt.Errorf("creating messenger: %w", err)
	}
	defer messenger.Close()

	if !messenger.Open() {
		return fmt.Errorf("failed to open session")
	}

	sent, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady)
	if notifyErr != nil {
		logger.Error("sd_notify READY failed", "error", notifyErr)
	} else if sent {
		logger.Info("sd_notify READY sent")
	}

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	for {
		select {
		case <-statsTicker.C:
			stats := messenger.GetConnectionStats()
			logger.Info("stats",
				"sent", stats.TotalMessagesSent,
				"received", stats.TotalMessagesReceived,
				"queue_size", stats.CurrentSendQueueSize,
			)
		case <-done:
			logger.Error("exiting after critical failure")
			return fmt.Errorf("session reached critical failure")
		case sig := <-sigChan:
			logger.Info("received shutdown signal", "signal", sig.String())
			daemon.SdNotify(false, daemon.SdNotifyStopping)
			messenger.Close()
			return nil
		}
	}
}
