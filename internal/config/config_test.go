package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robot-remote/internal/connmgr"
	"robot-remote/internal/protocol"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, TransportBlueZ, cfg.Transport)
	assert.Equal(t, connmgr.SPPUUID, cfg.UUID())
	assert.Equal(t, protocol.DefaultSpeed, cfg.Speed())
	assert.Equal(t, 3, cfg.WriteFailureLimit())
}

func TestDecodeOverridesDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(`
device: "aa:bb:cc:dd:ee:ff"
transport: serial
serial:
  port: /dev/rfcomm3
connect_timeout: 5s
initial_speed: 0
max_write_failures: 0
listen: 127.0.0.1:8088
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.Device)
	assert.Equal(t, TransportSerial, cfg.Transport)
	assert.Equal(t, "/dev/rfcomm3", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud, "unset nested field keeps its default")
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 0, cfg.Speed(), "explicit zero is kept")
	assert.Equal(t, 0, cfg.WriteFailureLimit())
	assert.Equal(t, "127.0.0.1:8088", cfg.Listen)
	assert.Equal(t, "hci0", cfg.Adapter)
}

func TestDecodeEmpty(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "colour: red\n", "colour"},
		{"bad device", "device: 00:11:22\n", "device"},
		{"bad transport", "transport: usb\n", "transport"},
		{"bad uuid", "service_uuid: nope\n", "service_uuid"},
		{"socket channel", "transport: socket\nchannel: 0\n", "channel"},
		{"serial without port", "transport: serial\nserial:\n  port: \"\"\n", "serial.port"},
		{"negative timeout", "write_timeout: -1s\n", "timeouts"},
		{"speed too high", "initial_speed: 101\n", "initial_speed"},
		{"negative failures", "max_write_failures: -1\n", "max_write_failures"},
		{"log level", "log:\n  level: loud\n", "log.level"},
		{"log format", "log:\n  format: xml\n", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "remote.yaml")
		require.NoError(t, os.WriteFile(path, []byte("transport: socket\nchannel: 4\n"), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, TransportSocket, cfg.Transport)
		assert.EqualValues(t, 4, cfg.Channel)
	})

	t.Run("explicit file missing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("default location missing", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("default location", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", dir)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "robot-remote"), 0o755))
		require.NoError(t, os.WriteFile(Path(), []byte("initial_speed: 70\n"), 0o600))

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 70, cfg.Speed())
	})

	t.Run("invalid file names the path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("transport: carrier-pigeon\n"), 0o600))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), path)
	})
}

func TestPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/robot-remote/config.yaml", Path())

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/op")
	assert.Equal(t, "/home/op/.config/robot-remote/config.yaml", Path())
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log = LogConfig{Level: "warn", Format: "json"}
	log := cfg.Logger(&buf)

	log.Info("hidden")
	log.Warn("shown", "k", 1)
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.True(t, log.Enabled(context.Background(), slog.LevelError))
}
