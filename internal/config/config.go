package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/banshee-data/jointmon/internal/serialmux"
)

// PortAuto selects the first likely serial port; PortNone runs without a
// board.
const (
	PortAuto = "auto"
	PortNone = "none"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config is the monitor configuration. Every field is optional; the Get*
// methods supply the defaults for anything the file leaves out, so partial
// configs are safe.
type Config struct {
	Port   *string                `json:"port,omitempty" toml:"port,omitempty"`
	Serial *serialmux.PortOptions `json:"serial,omitempty" toml:"serial,omitempty"`
	Listen *string                `json:"listen,omitempty" toml:"listen,omitempty"`

	// Durations are strings like "66ms" or "5s".
	RefreshInterval    *string `json:"refresh_interval,omitempty" toml:"refresh_interval,omitempty"`
	CalibrationWindow  *string `json:"calibration_window,omitempty" toml:"calibration_window,omitempty"`
	CalibrationTimeout *string `json:"calibration_timeout,omitempty" toml:"calibration_timeout,omitempty"`

	MaxPendingBytes *int `json:"max_pending_bytes,omitempty" toml:"max_pending_bytes,omitempty"`

	LogFile  *string `json:"log_file,omitempty" toml:"log_file,omitempty"`
	LogLevel *string `json:"log_level,omitempty" toml:"log_level,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Defaults returns a Config with every field set to its default, the form
// written by -print-config.
func Defaults() *Config {
	c := Empty()
	serial, _ := c.GetSerial()
	return &Config{
		Port:               ptrString(c.GetPort()),
		Serial:             &serial,
		Listen:             ptrString(c.GetListen()),
		RefreshInterval:    ptrString(c.GetRefreshInterval().String()),
		CalibrationWindow:  ptrString(c.GetCalibrationWindow().String()),
		CalibrationTimeout: ptrString(c.GetCalibrationTimeout().String()),
		MaxPendingBytes:    ptrInt(c.GetMaxPendingBytes()),
		LogFile:            ptrString(c.GetLogFile()),
		LogLevel:           ptrString(c.GetLogLevel()),
	}
}

// Load reads a Config from a .json or .toml file. The file must be under
// 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("%w: config file must have .json or .toml extension, got %q", ErrUnsupportedFormat, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	switch ext {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// WriteTOML renders c as TOML.
func (c *Config) WriteTOML() ([]byte, error) {
	return toml.Marshal(c)
}

func parseDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.Port != nil && strings.TrimSpace(*c.Port) == "" {
		return fmt.Errorf("port must not be empty; use %q or %q", PortAuto, PortNone)
	}
	if _, err := c.GetSerial(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}

	for _, d := range []struct {
		name string
		v    *string
	}{
		{"refresh_interval", c.RefreshInterval},
		{"calibration_window", c.CalibrationWindow},
		{"calibration_timeout", c.CalibrationTimeout},
	} {
		if err := parseDuration(d.name, d.v); err != nil {
			return err
		}
	}
	if c.RefreshInterval != nil && *c.RefreshInterval != "" && c.GetRefreshInterval() < 10*time.Millisecond {
		return fmt.Errorf("refresh_interval must be at least 10ms, got %s", *c.RefreshInterval)
	}

	if c.MaxPendingBytes != nil && *c.MaxPendingBytes < 0 {
		return fmt.Errorf("max_pending_bytes must be non-negative, got %d", *c.MaxPendingBytes)
	}

	if c.LogLevel != nil && *c.LogLevel != "" {
		switch strings.ToLower(*c.LogLevel) {
		case "trace", "debug", "info", "warn", "error", "disabled":
		default:
			return fmt.Errorf("unknown log_level %q", *c.LogLevel)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetPort returns the serial port path, PortAuto or PortNone.
func (c *Config) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return PortAuto
	}
	return *c.Port
}

// GetSerial returns the normalized serial options.
func (c *Config) GetSerial() (serialmux.PortOptions, error) {
	if c.Serial == nil {
		return serialmux.PortOptions{}.Normalize()
	}
	return c.Serial.Normalize()
}

// GetListen returns the HTTP listen address; empty disables the server.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return "localhost:8087"
	}
	return *c.Listen
}

// GetRefreshInterval returns the dashboard redraw interval, about 15Hz by
// default.
func (c *Config) GetRefreshInterval() time.Duration {
	return durationOr(c.RefreshInterval, 66*time.Millisecond)
}

// GetCalibrationWindow returns how long a calibration outcome stays visible.
func (c *Config) GetCalibrationWindow() time.Duration {
	return durationOr(c.CalibrationWindow, 5*time.Second)
}

// GetCalibrationTimeout returns the pending calibration timeout. Zero, the
// default, leaves an unanswered request pending indefinitely.
func (c *Config) GetCalibrationTimeout() time.Duration {
	return durationOr(c.CalibrationTimeout, 0)
}

// GetMaxPendingBytes returns the reassembler buffer cap.
func (c *Config) GetMaxPendingBytes() int {
	if c.MaxPendingBytes == nil || *c.MaxPendingBytes == 0 {
		return 1024
	}
	return *c.MaxPendingBytes
}

// GetLogFile returns the rotating log file path.
func (c *Config) GetLogFile() string {
	if c.LogFile == nil {
		return "jointmon.log"
	}
	return *c.LogFile
}

// GetLogLevel returns the zerolog level name.
func (c *Config) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return "info"
	}
	return strings.ToLower(*c.LogLevel)
}
