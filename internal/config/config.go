// Package config loads the remote's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"robot-remote/internal/btaddr"
	"robot-remote/internal/connmgr"
	"robot-remote/internal/protocol"
)

// Transport names.
const (
	TransportBlueZ  = "bluez"
	TransportSocket = "socket"
	TransportSerial = "serial"
)

// Config is the on-disk configuration. Zero fields take their defaults.
type Config struct {
	// Device is the robot's address; the console's connect command uses it
	// when no address is given.
	Device    string `yaml:"device"`
	Transport string `yaml:"transport"`

	// BlueZ transport.
	Adapter     string `yaml:"adapter"`
	ServiceUUID string `yaml:"service_uuid"`

	// Socket transport.
	Channel uint8 `yaml:"channel"`

	// Serial transport.
	Serial SerialConfig `yaml:"serial"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	InitialSpeed     *int `yaml:"initial_speed"`
	MaxWriteFailures *int `yaml:"max_write_failures"`

	// Listen is the address of the WebSocket control surface; empty disables it.
	Listen string `yaml:"listen"`

	Log LogConfig `yaml:"log"`
}

// SerialConfig selects the bound RFCOMM tty.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

func intPtr(v int) *int { return &v }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Transport:        TransportBlueZ,
		Adapter:          "hci0",
		ServiceUUID:      connmgr.SPPUUID.String(),
		Channel:          1,
		Serial:           SerialConfig{Port: "/dev/rfcomm0", Baud: 115200},
		ConnectTimeout:   20 * time.Second,
		WriteTimeout:     2 * time.Second,
		InitialSpeed:     intPtr(protocol.DefaultSpeed),
		MaxWriteFailures: intPtr(3),
		Log:              LogConfig{Level: "info", Format: "text"},
	}
}

// Path returns $XDG_CONFIG_HOME/robot-remote/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "robot-remote", "config.yaml")
}

// Load reads path over the defaults. If path is empty the default location
// is used and a missing file is not an error.
func Load(path string) (Config, error) {
	optional := path == ""
	if optional {
		path = Path()
	}
	f, err := os.Open(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()
	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses YAML from r over the defaults and validates the result.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Device != "" {
		if _, err := btaddr.Parse(c.Device); err != nil {
			return fmt.Errorf("config: device: %w", err)
		}
	}
	switch c.Transport {
	case TransportBlueZ, TransportSocket, TransportSerial:
	default:
		return fmt.Errorf("config: transport %q: want %s, %s or %s",
			c.Transport, TransportBlueZ, TransportSocket, TransportSerial)
	}
	if _, err := uuid.Parse(c.ServiceUUID); err != nil {
		return fmt.Errorf("config: service_uuid: %w", err)
	}
	if c.Transport == TransportSocket && (c.Channel < 1 || c.Channel > 30) {
		return fmt.Errorf("config: channel %d out of range 1..30", c.Channel)
	}
	if c.Transport == TransportSerial && c.Serial.Port == "" {
		return errors.New("config: serial.port is required for the serial transport")
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	if c.InitialSpeed != nil && (*c.InitialSpeed < protocol.MinSpeed || *c.InitialSpeed > protocol.MaxSpeed) {
		return fmt.Errorf("config: initial_speed %d out of range %d..%d", *c.InitialSpeed, protocol.MinSpeed, protocol.MaxSpeed)
	}
	if c.MaxWriteFailures != nil && *c.MaxWriteFailures < 0 {
		return fmt.Errorf("config: max_write_failures %d is negative", *c.MaxWriteFailures)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

// UUID returns the parsed service UUID. Call Validate first.
func (c Config) UUID() uuid.UUID {
	u, err := uuid.Parse(c.ServiceUUID)
	if err != nil {
		return connmgr.SPPUUID
	}
	return u
}

// Speed returns the initial speed.
func (c Config) Speed() int {
	if c.InitialSpeed == nil {
		return protocol.DefaultSpeed
	}
	return *c.InitialSpeed
}

// WriteFailureLimit returns max_write_failures.
func (c Config) WriteFailureLimit() int {
	if c.MaxWriteFailures == nil {
		return 0
	}
	return *c.MaxWriteFailures
}

// Logger builds a slog logger writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return l, nil
}
