// Package wizard runs the interactive config.ConfigFile prompt flow used
// by "wsmessenger-cli init".
package wizard

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cortexuvula/wsmessenger/internal/config"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "./config.yaml"

// Options configures the setup wizard.
type Options struct {
	// ConfigPath overrides the default output path.
	ConfigPath string
}

// Run runs the interactive wizard, prompting on in and writing progress
// to out. It takes io.Reader/io.Writer for testability.
func Run(in io.Reader, out io.Writer, opts Options) error {
	scanner := bufio.NewScanner(in)
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	fmt.Fprintln(out, "wsmessenger setup")
	fmt.Fprintln(out, "=================")
	fmt.Fprintln(out)

	host := prompt(scanner, out, "Server host [localhost]: ", "localhost")
	portStr := promptPort(scanner, out, "Server port [443]: ", "443")
	port, _ := strconv.Atoi(portStr)

	target := prompt(scanner, out, "Target path [/ws]: ", "/ws")
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}

	var proxy *config.ProxyConfig
	useProxy := prompt(scanner, out, "Connect through an HTTP CONNECT proxy? [y/N]: ", "n")
	if strings.HasPrefix(strings.ToLower(useProxy), "y") {
		proxyHost := prompt(scanner, out, "Proxy host: ", "")
		proxyPortStr := promptPort(scanner, out, "Proxy port [3128]: ", "3128")
		proxyPort, _ := strconv.Atoi(proxyPortStr)
		username := prompt(scanner, out, "Proxy username (leave empty for none): ", "")
		var password string
		if username != "" {
			password = prompt(scanner, out, "Proxy password: ", "")
		}
		proxy = &config.ProxyConfig{
			Host:     proxyHost,
			Port:     uint16(proxyPort),
			Username: username,
			Password: password,
		}
	}

	thresholdStr := prompt(scanner, out, "Critical-failure threshold [5]: ", "5")
	threshold, err := strconv.Atoi(thresholdStr)
	if err != nil || threshold <= 0 {
		threshold = 5
	}

	queueStr := prompt(scanner, out, "Max async send queue size [1024]: ", "1024")
	queueSize, err := strconv.Atoi(queueStr)
	if err != nil || queueSize <= 0 {
		queueSize = 1024
	}

	level := prompt(scanner, out, "Log level (debug/info/warn/error) [info]: ", "info")
	format := prompt(scanner, out, "Log format (json/text) [json]: ", "json")

	if _, err := os.Stat(configPath); err == nil {
		overwrite := prompt(scanner, out,
			fmt.Sprintf("Config already exists at %s. Overwrite? [y/N]: ", configPath), "n")
		if !strings.HasPrefix(strings.ToLower(overwrite), "y") {
			fmt.Fprintln(out, "Setup cancelled.")
			return nil
		}
	}

	cfg := &config.ConfigFile{
		Server: config.ServerConfig{
			Host:   host,
			Port:   uint16(port),
			Target: target,
		},
		Proxy:                    proxy,
		CriticalFailureThreshold: threshold,
		MaxSendQueueSize:         queueSize,
		Logging: config.LoggingConfig{
			Level:      level,
			Format:     format,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Metrics: config.MetricsConfig{
			Enabled:       false,
			ListenAddress: "127.0.0.1:9090",
			Endpoint:      "/metrics",
		},
	}

	fmt.Fprintf(out, "\nWriting config to %s...\n", configPath)
	if err := writeConfig(configPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintln(out, "  Config written successfully.")

	fmt.Fprintln(out, "  Validating config...")
	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintln(out, "  Config is valid.")

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Setup complete!")
	fmt.Fprintf(out, "  Config: %s\n", configPath)
	fmt.Fprintf(out, "  Target: wss://%s\n", net.JoinHostPort(host, portStr))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Run it with:")
	fmt.Fprintln(out, "  wsmessenger-cli run --config "+configPath)

	return nil
}

// prompt displays a message and reads a line from the scanner. Returns
// defaultVal if input is empty or EOF.
func prompt(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	fmt.Fprint(out, message)
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

// validatePort checks that a port string is a valid TCP port (1-65535).
func validatePort(port string) bool {
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// promptPort prompts for a port, re-prompting on invalid input.
func promptPort(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	val := prompt(scanner, out, message, defaultVal)
	for !validatePort(val) {
		fmt.Fprintf(out, "  Invalid port %q: must be a number between 1 and 65535\n", val)
		val = prompt(scanner, out, message, defaultVal)
		if val == defaultVal {
			return defaultVal
		}
	}
	return val
}

// writeConfig marshals cfg to YAML and writes it, creating parent
// directories as needed.
func writeConfig(path string, cfg *config.ConfigFile) error {
	path = filepath.Clean(path)

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory %s: %w", dir, err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
