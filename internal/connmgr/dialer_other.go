//go:build !linux

package connmgr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"robot-remote/internal/btaddr"
)

// BlueZOptions configures a BlueZ dialer.
type BlueZOptions struct {
	Adapter     string
	ServiceUUID uuid.UUID
	Logger      *slog.Logger
}

// BlueZDialer is only functional on Linux.
type BlueZDialer struct{}

// NewBlueZDialer returns a dialer whose Dial always fails on this platform.
func NewBlueZDialer(BlueZOptions) *BlueZDialer { return &BlueZDialer{} }

func (d *BlueZDialer) Dial(context.Context, btaddr.Address) (Transport, error) {
	return nil, fmt.Errorf("connmgr: bluez: %w: %w", ErrDeviceUnreachable, ErrUnsupported)
}

func (d *BlueZDialer) Close() error { return nil }

// SocketDialer is only functional on Linux.
type SocketDialer struct {
	Channel uint8
}

// NewSocketDialer returns a dialer whose Dial always fails on this platform.
func NewSocketDialer(channel uint8) *SocketDialer { return &SocketDialer{Channel: channel} }

func (d *SocketDialer) Dial(context.Context, btaddr.Address) (Transport, error) {
	return nil, fmt.Errorf("connmgr: rfcomm socket: %w: %w", ErrDeviceUnreachable, ErrUnsupported)
}
