// Package config provides configuration handling for the taplink bridge.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/irctrakz/taplink/pkg/core"
	"github.com/irctrakz/taplink/pkg/logging"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBufferSize covers the largest packet a TUN/TAP device delivers.
	DefaultBufferSize = 65536

	// maxIfaceName is IFNAMSIZ minus the terminating NUL.
	maxIfaceName = 15

	// ethernetOverhead is the TAP frame header plus one VLAN tag.
	ethernetOverhead = 18
)

// Config represents the complete bridge configuration.
type Config struct {
	// Bridge contains the interface pair configuration.
	Bridge core.BridgeConfig `json:"bridge" yaml:"bridge"`

	// Daemon contains backgrounding options.
	Daemon core.DaemonConfig `json:"daemon" yaml:"daemon"`

	// Stats contains periodic metrics options.
	Stats core.StatsConfig `json:"stats" yaml:"stats"`

	// Capture contains packet capture and trace options.
	Capture core.CaptureConfig `json:"capture" yaml:"capture"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is a rotated log file written in addition to stderr.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Bridge: core.BridgeConfig{
			Upper:      "upper",
			Lower:      "lower",
			Type:       "tap",
			BufferSize: DefaultBufferSize,
		},
		Stats: core.StatsConfig{
			MetricsFormat: "text",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a file.
// JSON files may carry comments and trailing commas.
func LoadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(config *Config) {
	// Bridge config
	if val := os.Getenv("TAPLINK_UPPER"); val != "" {
		config.Bridge.Upper = val
	}
	if val := os.Getenv("TAPLINK_LOWER"); val != "" {
		config.Bridge.Lower = val
	}
	if val := os.Getenv("TAPLINK_TYPE"); val != "" {
		config.Bridge.Type = val
	}
	if val := os.Getenv("TAPLINK_BUFFER_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Bridge.BufferSize = n
		}
	}
	if val := os.Getenv("TAPLINK_MTU"); val != "" {
		if mtu, err := strconv.Atoi(val); err == nil {
			config.Bridge.MTU = mtu
		}
	}
	if val := os.Getenv("TAPLINK_LINK_UP"); val != "" {
		config.Bridge.Up = truthy(val)
	}

	// Daemon config
	if val := os.Getenv("TAPLINK_FOREGROUND"); val != "" {
		config.Daemon.Foreground = truthy(val)
	}
	if val := os.Getenv("TAPLINK_LOG_FILE"); val != "" {
		config.Daemon.LogFile = val
	}
	if val := os.Getenv("TAPLINK_PID_FILE"); val != "" {
		config.Daemon.PidFile = val
	}

	// Stats and capture
	if val := os.Getenv("TAPLINK_METRICS_INTERVAL"); val != "" {
		config.Stats.MetricsInterval = val
	}
	if val := os.Getenv("TAPLINK_METRICS_FORMAT"); val != "" {
		config.Stats.MetricsFormat = val
	}
	if val := os.Getenv("TAPLINK_HEALTH_LISTEN"); val != "" {
		config.Stats.HealthListen = val
	}
	if val := os.Getenv("TAPLINK_CAPTURE_FILE"); val != "" {
		config.Capture.File = val
	}
	if val := os.Getenv("TAPLINK_TRACE"); val != "" {
		config.Capture.Trace = truthy(val)
	}

	// Logging config
	if val := os.Getenv("LOGGING_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOGGING_FILE"); val != "" {
		config.Logging.File = val
	}
	if val := os.Getenv("LOGGING_MAX_SIZE"); val != "" {
		if maxSize, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxSize = maxSize
		}
	}
	if val := os.Getenv("LOGGING_MAX_BACKUPS"); val != "" {
		if maxBackups, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxBackups = maxBackups
		}
	}
	if val := os.Getenv("LOGGING_MAX_AGE"); val != "" {
		if maxAge, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxAge = maxAge
		}
	}
}

func truthy(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	kind, err := core.ParseDeviceKind(c.Bridge.Type)
	if err != nil {
		return err
	}
	for _, name := range []string{c.Bridge.Upper, c.Bridge.Lower} {
		if len(name) > maxIfaceName {
			return fmt.Errorf("interface name %q longer than %d bytes", name, maxIfaceName)
		}
		if strings.ContainsAny(name, "/ \t\n") {
			return fmt.Errorf("invalid interface name %q", name)
		}
	}
	if c.Bridge.Upper != "" && c.Bridge.Upper == c.Bridge.Lower {
		return fmt.Errorf("cannot bridge interface %q to itself", c.Bridge.Upper)
	}
	if c.Bridge.MTU < 0 || c.Bridge.MTU > 65535 {
		return fmt.Errorf("invalid MTU: %d", c.Bridge.MTU)
	}
	if c.Bridge.BufferSize <= 0 {
		return fmt.Errorf("invalid buffer size: %d", c.Bridge.BufferSize)
	}
	if c.Bridge.MTU > 0 {
		need := c.Bridge.MTU
		if kind == core.KindTAP {
			need += ethernetOverhead
		}
		if c.Bridge.BufferSize < need {
			return fmt.Errorf("buffer size %d cannot hold a %s packet of MTU %d (need %d)",
				c.Bridge.BufferSize, kind, c.Bridge.MTU, need)
		}
	}

	if _, err := c.MetricsInterval(); err != nil {
		return err
	}
	switch c.Stats.MetricsFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid metrics format: %s", c.Stats.MetricsFormat)
	}
	if c.Stats.HealthListen != "" {
		if _, _, err := net.SplitHostPort(c.Stats.HealthListen); err != nil {
			return fmt.Errorf("invalid health listen address %q: %w", c.Stats.HealthListen, err)
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// Kind returns the parsed device kind. Only meaningful after Validate.
func (c *Config) Kind() core.DeviceKind {
	kind, _ := core.ParseDeviceKind(c.Bridge.Type)
	return kind
}

// MetricsInterval returns the cumulative metrics cadence; zero disables it.
func (c *Config) MetricsInterval() (time.Duration, error) {
	iv := strings.TrimSpace(c.Stats.MetricsInterval)
	if iv == "" || iv == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(iv)
	if err != nil {
		return 0, fmt.Errorf("invalid metrics interval %q: %w", iv, err)
	}
	if d < time.Second {
		return 0, fmt.Errorf("metrics interval %s shorter than 1s", d)
	}
	return d, nil
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	logging.SetLevel(level)

	if c.Logging.File != "" {
		err := logging.EnableFileLogging(
			c.Logging.File,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
