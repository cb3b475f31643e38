package connmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.bug.st/serial"

	"robot-remote/internal/btaddr"
)

// SerialOptions configures a serial dialer.
type SerialOptions struct {
	// Port is the tty bound to the robot, e.g. /dev/rfcomm0 after
	// `rfcomm bind 0 AA:BB:CC:DD:EE:FF 1`.
	Port string
	// Baud is ignored by RFCOMM ttys but required by real UARTs.
	Baud   int
	Logger *slog.Logger
}

// SerialDialer opens a tty that the kernel has already bound to the robot's
// address. The address passed to Dial is only used for logging.
type SerialDialer struct {
	opts SerialOptions
	log  *slog.Logger
	open func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialDialer returns a dialer for opts.Port.
func NewSerialDialer(opts SerialOptions) *SerialDialer {
	if opts.Baud == 0 {
		opts.Baud = 115200
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SerialDialer{
		opts: opts,
		log:  opts.Logger.With("component", "serial"),
		open: serial.Open,
	}
}

func (d *SerialDialer) Dial(ctx context.Context, addr btaddr.Address) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("connmgr: open %s: %w", d.opts.Port, err)
	}
	d.log.Debug("opening port", "port", d.opts.Port, "addr", addr)
	p, err := d.open(d.opts.Port, &serial.Mode{
		BaudRate: d.opts.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("connmgr: open %s: %w", d.opts.Port, classifySerialError(err))
	}
	if err := ctx.Err(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("connmgr: open %s: %w", d.opts.Port, err)
	}
	return &serialTransport{p: p}, nil
}

type serialTransport struct {
	p serial.Port
}

func (t *serialTransport) Write(b []byte) (int, error) { return t.p.Write(b) }

// Flush waits until the output buffer has been transmitted.
func (t *serialTransport) Flush() error { return t.p.Drain() }

func (t *serialTransport) Close() error { return t.p.Close() }

func classifySerialError(err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) && pe.Code() == serial.PermissionDenied {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
}
