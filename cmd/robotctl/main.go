// robotctl drives the vacuum robot over an RFCOMM Serial Port Profile link.
//
// Prerequisites
//   - Linux with BlueZ (bluetoothd) running and system D-Bus access for the
//     default bluez transport. The robot must already be paired.
//   - The socket transport opens a raw RFCOMM socket and skips BlueZ's
//     profile registration; it needs the robot's RFCOMM channel (-channel).
//   - The serial transport writes to a tty bound with `rfcomm bind`.
//
// Usage
//
//	robotctl -device AA:BB:CC:DD:EE:FF
//	robotctl -transport serial -port /dev/rfcomm0
//	robotctl -headless -listen 127.0.0.1:8088 -device AA:BB:CC:DD:EE:FF
//
// Settings are read from $XDG_CONFIG_HOME/robot-remote/config.yaml (or
// -config) and flags override them. Type `help` at the prompt for commands.
// Ctrl-C at an empty prompt is ignored; Ctrl-D or `quit` exits. SIGTERM
// disconnects and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"robot-remote/internal/config"
	"robot-remote/internal/connmgr"
	"robot-remote/internal/remote"
	"robot-remote/internal/session"
)

type flags struct {
	config    string
	device    string
	transport string
	adapter   string
	channel   uint
	port      string
	listen    string
	timeout   time.Duration
	logLevel  string
	headless  bool
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "config file (default $XDG_CONFIG_HOME/robot-remote/config.yaml)")
	flag.StringVar(&f.device, "device", "", "robot address, e.g. AA:BB:CC:DD:EE:FF")
	flag.StringVar(&f.transport, "transport", "", "transport: bluez|socket|serial")
	flag.StringVar(&f.adapter, "adapter", "", "BlueZ adapter (bluez transport)")
	flag.UintVar(&f.channel, "channel", 0, "RFCOMM channel (socket transport)")
	flag.StringVar(&f.port, "port", "", "serial device (serial transport)")
	flag.StringVar(&f.listen, "listen", "", "serve the WebSocket control surface on this address")
	flag.DurationVar(&f.timeout, "timeout", 0, "connect timeout")
	flag.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.BoolVar(&f.headless, "headless", false, "no console; connect to -device and serve -listen until signalled")
	flag.Parse()

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, f.headless); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(f flags) (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return cfg, err
	}
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "device":
			cfg.Device = f.device
		case "transport":
			cfg.Transport = f.transport
		case "adapter":
			cfg.Adapter = f.adapter
		case "channel":
			cfg.Channel = uint8(f.channel)
		case "port":
			cfg.Serial.Port = f.port
		case "listen":
			cfg.Listen = f.listen
		case "timeout":
			cfg.ConnectTimeout = f.timeout
		case "log-level":
			cfg.Log.Level = f.logLevel
		}
	})
	if f.channel > 30 {
		return cfg, fmt.Errorf("-channel %d out of range 1..30", f.channel)
	}
	return cfg, cfg.Validate()
}

// dialerCloser is a dialer that may hold platform resources.
type dialerCloser interface {
	connmgr.Dialer
	io.Closer
}

type nopCloser struct{ connmgr.Dialer }

func (nopCloser) Close() error { return nil }

func newDialer(cfg config.Config, log *slog.Logger) dialerCloser {
	switch cfg.Transport {
	case config.TransportSocket:
		return nopCloser{connmgr.NewSocketDialer(cfg.Channel)}
	case config.TransportSerial:
		return nopCloser{connmgr.NewSerialDialer(connmgr.SerialOptions{
			Port:   cfg.Serial.Port,
			Baud:   cfg.Serial.Baud,
			Logger: log,
		})}
	default:
		return connmgr.NewBlueZDialer(connmgr.BlueZOptions{
			Adapter:     cfg.Adapter,
			ServiceUUID: cfg.UUID(),
			Logger:      log,
		})
	}
}

func run(ctx context.Context, cfg config.Config, headless bool) error {
	var (
		con *console
		out io.Writer = os.Stderr
	)
	if !headless {
		var err error
		con, err = newConsole(cfg.Device)
		if err != nil {
			return err
		}
		defer con.Close()
		out = con.Stderr()
	}
	log := cfg.Logger(out)
	slog.SetDefault(log)

	dialer := newDialer(cfg, log)
	defer func() {
		if err := dialer.Close(); err != nil {
			log.Warn("close dialer", "err", err)
		}
	}()

	mgr := connmgr.New(dialer, connmgr.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		Logger:         log,
	})
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Warn("close manager", "err", err)
		}
	}()

	sess := session.New(mgr, session.Options{
		InitialSpeed:     cfg.Speed(),
		MaxWriteFailures: cfg.WriteFailureLimit(),
		Logger:           log,
	})
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sess.Disconnect(dctx)
	}()

	if cfg.Listen != "" {
		shutdown, err := serve(cfg.Listen, sess, log)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	if headless {
		if cfg.Device != "" {
			if err := sess.Connect(ctx, cfg.Device); err != nil {
				log.Error("connect failed", "addr", cfg.Device, "kind", session.KindOf(err), "err", err)
			}
		}
		<-ctx.Done()
		log.Info("shutting down", "reason", context.Cause(ctx))
		return nil
	}

	con.Run(ctx, sess, cfg.ConnectTimeout)
	return nil
}

// serve starts the WebSocket control surface and returns its shutdown func.
func serve(addr string, sess *session.Session, log *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := remote.New(sess, remote.Options{Logger: log})
	sess.OnChange(srv.Broadcast)

	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("control surface stopped", "err", err)
		}
	}()
	log.Info("control surface listening", "addr", ln.Addr().String(), "path", "/ws")

	return func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(ctx)
	}, nil
}
