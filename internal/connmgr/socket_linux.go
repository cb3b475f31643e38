//go:build linux

package connmgr

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"robot-remote/internal/btaddr"
)

// SocketDialer connects a raw AF_BLUETOOTH RFCOMM socket to a fixed channel,
// bypassing bluetoothd's profile handling. Use it when the robot's SPP
// channel is known (it is 1 on most serial modules).
type SocketDialer struct {
	Channel uint8
}

// NewSocketDialer returns a dialer for the given RFCOMM channel.
func NewSocketDialer(channel uint8) *SocketDialer {
	return &SocketDialer{Channel: channel}
}

// Dial opens and connects the socket. Cancelling ctx shuts the socket down,
// which aborts a pending connect.
func (d *SocketDialer) Dial(ctx context.Context, addr btaddr.Address) (Transport, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("connmgr: rfcomm socket: %w", classifyErrno(err))
	}
	sa := &unix.SockaddrRFCOMM{Addr: addr.LittleEndian(), Channel: d.Channel}

	done := make(chan error, 1)
	go func() { done <- unix.Connect(fd, sa) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = unix.Shutdown(fd, unix.SHUT_RDWR)
		<-done
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connmgr: rfcomm connect %s: %w", addr, ctx.Err())
	}
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connmgr: rfcomm connect %s channel %d: %w", addr, d.Channel, classifyErrno(err))
	}
	t, err := newFDTransport(fd, "rfcomm:"+addr.String(), nil)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func classifyErrno(err error) error {
	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
}
