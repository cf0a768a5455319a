package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/jointmon/internal/serialmux"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()

	assert.Equal(t, PortAuto, cfg.GetPort())
	assert.Equal(t, "localhost:8087", cfg.GetListen())
	assert.Equal(t, 66*time.Millisecond, cfg.GetRefreshInterval())
	assert.Equal(t, 5*time.Second, cfg.GetCalibrationWindow())
	assert.Zero(t, cfg.GetCalibrationTimeout())
	assert.Equal(t, 1024, cfg.GetMaxPendingBytes())
	assert.Equal(t, "jointmon.log", cfg.GetLogFile())
	assert.Equal(t, "info", cfg.GetLogLevel())

	serial, err := cfg.GetSerial()
	require.NoError(t, err)
	assert.Equal(t, serialmux.PortOptions{BaudRate: 921600, DataBits: 8, StopBits: 1, Parity: "N"}, serial)
	assert.NoError(t, cfg.Validate())
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "jointmon.json", `{
  "port": "/dev/ttyUSB0",
  "serial": {"baud_rate": 115200},
  "listen": "",
  "refresh_interval": "100ms",
  "calibration_timeout": "30s",
  "log_level": "DEBUG"
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.GetPort())
	assert.Equal(t, "", cfg.GetListen(), "explicit empty listen disables the server")
	assert.Equal(t, 100*time.Millisecond, cfg.GetRefreshInterval())
	assert.Equal(t, 30*time.Second, cfg.GetCalibrationTimeout())
	assert.Equal(t, 5*time.Second, cfg.GetCalibrationWindow(), "omitted fields keep defaults")
	assert.Equal(t, "debug", cfg.GetLogLevel())

	serial, err := cfg.GetSerial()
	require.NoError(t, err)
	assert.Equal(t, 115200, serial.BaudRate)
	assert.Equal(t, "N", serial.Parity)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "jointmon.toml", `
port = "none"
calibration_window = "2s"
max_pending_bytes = 512

[serial]
baud_rate = 460800
parity = "even"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, PortNone, cfg.GetPort())
	assert.Equal(t, 2*time.Second, cfg.GetCalibrationWindow())
	assert.Equal(t, 512, cfg.GetMaxPendingBytes())

	serial, err := cfg.GetSerial()
	require.NoError(t, err)
	assert.Equal(t, 460800, serial.BaudRate)
	assert.Equal(t, "E", serial.Parity)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"extension", "jointmon.yaml", "port: auto", "extension"},
		{"bad json", "bad.json", "{", "failed to parse"},
		{"bad toml", "bad.toml", "port = ", "failed to parse"},
		{"bad duration", "d.json", `{"refresh_interval": "soon"}`, "invalid refresh_interval"},
		{"negative duration", "n.json", `{"calibration_timeout": "-1s"}`, "non-negative"},
		{"refresh too fast", "f.json", `{"refresh_interval": "1ms"}`, "at least 10ms"},
		{"empty port", "p.json", `{"port": " "}`, "port must not be empty"},
		{"bad serial", "s.json", `{"serial": {"stop_bits": 3}}`, "serial"},
		{"negative pending", "m.json", `{"max_pending_bytes": -5}`, "max_pending_bytes"},
		{"log level", "l.toml", `log_level = "loud"`, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := Load("jointmon.ini")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")
}

func TestLoadTooLarge(t *testing.T) {
	path := writeFile(t, "big.json", `{"port": "auto", "pad": "`+strings.Repeat("x", maxFileSize)+`"}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestDefaultsRoundTripTOML(t *testing.T) {
	data, err := Defaults().WriteTOML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "refresh_interval")
	assert.Contains(t, string(data), "66ms")

	path := writeFile(t, "defaults.toml", string(data))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}
