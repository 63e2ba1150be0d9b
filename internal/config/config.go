// Package config loads the on-disk configuration file consumed by
// wsmessenger-cli and produced by the interactive wizard. It has no
// bearing on the library's Go API — wsmessenger.ConnectionConfig is built
// from a ConfigFile by the CLI, not the other way around.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the top-level shape of the YAML file the example CLI
// loads and the wizard writes.
type ConfigFile struct {
	Server                   ServerConfig  `yaml:"server"`
	Proxy                    *ProxyConfig  `yaml:"proxy,omitempty"`
	CriticalFailureThreshold int           `yaml:"critical_failure_threshold"`
	MaxSendQueueSize         int           `yaml:"max_send_queue_size"`
	Logging                  LoggingConfig `yaml:"logging"`
	Metrics                  MetricsConfig `yaml:"metrics"`
}

// MetricsConfig controls the Prometheus /metrics endpoint the example CLI
// serves alongside its session, mirroring the teacher's
// Monitoring.MetricsEnabled/MetricsEndpoint on its health listener.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
	Endpoint      string `yaml:"endpoint"`
}

// ServerConfig addresses the remote WebSocket endpoint.
type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   uint16 `yaml:"port"`
	Target string `yaml:"target"`
}

// ProxyConfig describes an optional HTTP CONNECT proxy.
type ProxyConfig struct {
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// LoggingConfig controls slog output and lumberjack rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a ConfigFile with sensible defaults.
func Default() *ConfigFile {
	return &ConfigFile{
		Server: ServerConfig{
			Host:   "localhost",
			Port:   443,
			Target: "/ws",
		},
		CriticalFailureThreshold: 5,
		MaxSendQueueSize:         1024,
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: "127.0.0.1:9090",
			Endpoint:      "/metrics",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
func Load(path string) (*ConfigFile, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s (run 'wsmessenger-cli init' to create one)", path)
			}
			if os.IsPermission(err) {
				return nil, fmt.Errorf("permission denied reading %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *ConfigFile) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Target == "" {
		return fmt.Errorf("server.target is required")
	}
	if c.Proxy != nil {
		if c.Proxy.Host == "" {
			return fmt.Errorf("proxy.host is required when proxy is set")
		}
		if c.Proxy.Port == 0 {
			return fmt.Errorf("proxy.port is required when proxy is set")
		}
	}
	if c.CriticalFailureThreshold <= 0 {
		return fmt.Errorf("critical_failure_threshold must be positive")
	}
	if c.MaxSendQueueSize <= 0 {
		return fmt.Errorf("max_send_queue_size must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Metrics.Enabled {
		if c.Metrics.ListenAddress == "" {
			return fmt.Errorf("metrics.listen_address is required when metrics is enabled")
		}
		if c.Metrics.Endpoint == "" {
			return fmt.Errorf("metrics.endpoint is required when metrics is enabled")
		}
	}

	return nil
}

// applyEnvOverrides applies WSMESSENGER_ prefixed environment variables.
func applyEnvOverrides(cfg *ConfigFile) {
	envMap := map[string]func(string){
		"WSMESSENGER_SERVER_HOST":   func(v string) { cfg.Server.Host = v },
		"WSMESSENGER_SERVER_PORT":   func(v string) { cfg.Server.Port = parseUint16(v, cfg.Server.Port) },
		"WSMESSENGER_SERVER_TARGET": func(v string) { cfg.Server.Target = v },
		"WSMESSENGER_CRITICAL_FAILURE_THRESHOLD": func(v string) {
			cfg.CriticalFailureThreshold = parseInt(v, cfg.CriticalFailureThreshold)
		},
		"WSMESSENGER_MAX_SEND_QUEUE_SIZE": func(v string) {
			cfg.MaxSendQueueSize = parseInt(v, cfg.MaxSendQueueSize)
		},
		"WSMESSENGER_LOGGING_LEVEL":  func(v string) { cfg.Logging.Level = v },
		"WSMESSENGER_LOGGING_FORMAT": func(v string) { cfg.Logging.Format = v },
		"WSMESSENGER_LOGGING_FILE":   func(v string) { cfg.Logging.File = v },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseUint16(s string, fallback uint16) uint16 {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return fallback
	}
	return uint16(v)
}
