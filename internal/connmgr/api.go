// Package connmgr owns the single RFCOMM Serial Port Profile connection to the
// robot.
//
// A Manager serializes connect, disconnect and send requests through one
// worker goroutine, which is the only code that ever touches the Transport.
// Requests are enqueued synchronously in call order and complete
// asynchronously: every operation returns a channel that receives exactly one
// error (nil on success).
//
// Thread-safety: all Manager methods are safe for concurrent use.
package connmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"robot-remote/internal/btaddr"
)

// SPPUUID is the Serial Port Profile UUID used for RFCOMM connections.
var SPPUUID = uuid.MustParse("00001101-0000-1000-8000-00805f9b34fb")

// Errors reported by the manager and its dialers. Dialers wrap the underlying
// cause so both errors.Is(err, ErrDeviceUnreachable) and the original error
// remain inspectable.
var (
	ErrAlreadyConnected  = errors.New("already connected")
	ErrNotConnected      = errors.New("not connected")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnreachable = errors.New("device unreachable")
	ErrWriteFailure      = errors.New("write failure")
	ErrCanceled          = errors.New("connect canceled")
	ErrClosed            = errors.New("connmgr: closed")
	ErrUnsupported       = errors.New("transport not supported on this platform")
)

// State is the connection state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is a point-in-time view of the manager.
type Status struct {
	State State
	// Address is the device being connected to or connected to.
	// Zero while disconnected.
	Address btaddr.Address
	// Err is the reason for StateFailed; nil otherwise.
	Err error
}

// Transport is a byte sink bound to one physical connection.
// Implementations need not be safe for concurrent use.
type Transport interface {
	Write(p []byte) (int, error)
	// Flush pushes any buffered bytes to the device.
	Flush() error
	// Close releases the connection. It is called exactly once.
	Close() error
}

// Dialer opens transports.
//
// Dial must honour ctx: when ctx is done it releases whatever it acquired and
// returns an error. Errors should wrap ErrPermissionDenied when the platform
// refused the operation for authorization reasons and ErrDeviceUnreachable
// otherwise; unclassified errors are treated as ErrDeviceUnreachable.
type Dialer interface {
	Dial(ctx context.Context, addr btaddr.Address) (Transport, error)
}

// Wait blocks until ch delivers a result or ctx is done.
func Wait(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classifyDialError makes sure err carries one of the connect error kinds.
func classifyDialError(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
}
