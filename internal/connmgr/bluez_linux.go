//go:build linux

package connmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"robot-remote/internal/btaddr"
)

const (
	bluezService         = "org.bluez"
	profileInterfaceName = "org.bluez.Profile1"
	profileManagerIface  = "org.bluez.ProfileManager1"
	deviceIface          = "org.bluez.Device1"
)

// D-Bus error names that mean the platform refused the operation.
var permissionErrors = map[string]bool{
	"org.bluez.Error.NotPermitted":            true,
	"org.bluez.Error.NotAuthorized":           true,
	"org.bluez.Error.AuthenticationFailed":    true,
	"org.freedesktop.DBus.Error.AccessDenied": true,
}

var pathCounter uint64

// BlueZOptions configures a BlueZ dialer.
type BlueZOptions struct {
	// Adapter is the local controller, e.g. "hci0".
	Adapter string
	// ServiceUUID defaults to SPPUUID.
	ServiceUUID uuid.UUID
	Logger      *slog.Logger
}

// BlueZDialer opens RFCOMM connections through bluetoothd over the system
// D-Bus. It registers one client-role Profile1 object for the service UUID on
// first use and keeps it registered until Close. The device must already be
// paired.
type BlueZDialer struct {
	opts BlueZOptions
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
	bus    *dbus.Conn
	prof   *profile

	// cleanup functions to release resources in Close (executed once, in reverse order).
	cleanup []func()
}

// NewBlueZDialer returns a dialer; no D-Bus traffic happens until Dial.
func NewBlueZDialer(opts BlueZOptions) *BlueZDialer {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if opts.ServiceUUID == uuid.Nil {
		opts.ServiceUUID = SPPUUID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &BlueZDialer{opts: opts, log: opts.Logger.With("component", "bluez")}
}

// deviceObjectPath converts AA:BB:CC:DD:EE:FF to /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func deviceObjectPath(adapter string, addr btaddr.Address) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter + "/dev_" + strings.ReplaceAll(addr.String(), ":", "_"))
}

// profile implements org.bluez.Profile1 and forwards NewConnection events to
// the dial waiting for that device.
type profile struct {
	mu   sync.Mutex
	want dbus.ObjectPath
	ch   chan int // non-nil while a dial is waiting
}

func (p *profile) expect(dev dbus.ObjectPath) <-chan int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.want = dev
	p.ch = make(chan int, 1)
	return p.ch
}

func (p *profile) stopExpecting() {
	p.mu.Lock()
	p.ch = nil
	p.mu.Unlock()
}

// Release is called by BlueZ when the profile is being released.
func (p *profile) Release() *dbus.Error { return nil }

// Cancel may be called to indicate a canceled request.
func (p *profile) Cancel() *dbus.Error { return nil }

// RequestDisconnection is ignored; the manager decides when to close.
func (p *profile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

// NewConnection delivers the RFCOMM socket FD to the waiting dial. Connections
// nobody waits for are closed and rejected.
func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || dev != p.want {
		_ = os.NewFile(uintptr(fd), "rfcomm").Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"unexpected connection"}}
	}
	p.ch <- int(fd)
	p.ch = nil
	return nil
}

// ensureProfileLocked connects to the system bus and registers the client
// profile if not yet done.
func (d *BlueZDialer) ensureProfileLocked() error {
	if d.closed {
		return ErrClosed
	}
	if d.prof != nil {
		return nil
	}
	if d.bus == nil {
		c, err := dbus.SystemBus()
		if err != nil {
			return fmt.Errorf("connmgr: connect system bus: %w", classifyDBusError(err))
		}
		d.bus = c
		// Close the bus last during cleanup.
		d.cleanup = append(d.cleanup, func() { d.bus.Close() })
	}

	prof := &profile{}
	id := atomic.AddUint64(&pathCounter, 1)
	path := dbus.ObjectPath("/org/robot_remote/connmgr/client/p" + strconv.FormatUint(id, 10))
	if err := d.bus.Export(prof, path, profileInterfaceName); err != nil {
		return fmt.Errorf("connmgr: export client profile: %w", classifyDBusError(err))
	}
	pm := d.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	optsMap := map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
	}
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, path, d.opts.ServiceUUID.String(), optsMap); call.Err != nil {
		_ = d.bus.Export(nil, path, profileInterfaceName)
		return fmt.Errorf("connmgr: RegisterProfile(client): %w", classifyDBusError(call.Err))
	}
	d.cleanup = append(d.cleanup, func() {
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, path).Err
		_ = d.bus.Export(nil, path, profileInterfaceName)
	})
	d.prof = prof
	return nil
}

// Dial asks bluetoothd to connect the service profile on addr and waits for
// the socket to be handed over.
func (d *BlueZDialer) Dial(ctx context.Context, addr btaddr.Address) (Transport, error) {
	d.mu.Lock()
	if err := d.ensureProfileLocked(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	bus, prof := d.bus, d.prof
	d.mu.Unlock()

	devPath := deviceObjectPath(d.opts.Adapter, addr)
	devObj := bus.Object(bluezService, devPath)
	ch := prof.expect(devPath)
	defer prof.stopExpecting()

	d.log.Debug("ConnectProfile", "device", devPath, "uuid", d.opts.ServiceUUID)
	call := devObj.CallWithContext(ctx, deviceIface+".ConnectProfile", 0, d.opts.ServiceUUID.String())
	if call.Err != nil {
		if ctx.Err() != nil {
			d.disconnectProfile(devObj)
			return nil, fmt.Errorf("connmgr: ConnectProfile: %w", ctx.Err())
		}
		return nil, fmt.Errorf("connmgr: ConnectProfile: %w", classifyDBusError(call.Err))
	}

	// NewConnection normally arrives before ConnectProfile returns, but the
	// ordering is not guaranteed.
	select {
	case <-ctx.Done():
		prof.stopExpecting()
		select {
		case fd := <-ch:
			_ = os.NewFile(uintptr(fd), "rfcomm").Close()
		default:
		}
		d.disconnectProfile(devObj)
		return nil, fmt.Errorf("connmgr: connect canceled: %w", ctx.Err())
	case fd := <-ch:
		t, err := newFDTransport(fd, "rfcomm:"+addr.String(), func() {
			d.disconnectProfile(devObj)
		})
		if err != nil {
			d.disconnectProfile(devObj)
			return nil, fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
		}
		return t, nil
	}
}

func (d *BlueZDialer) disconnectProfile(obj dbus.BusObject) {
	if err := obj.Call(deviceIface+".DisconnectProfile", 0, d.opts.ServiceUUID.String()).Err; err != nil {
		d.log.Debug("DisconnectProfile", "err", err)
	}
}

// Close unregisters the profile and closes the bus connection.
// Safe for concurrent use; redundant calls are allowed (idempotent).
func (d *BlueZDialer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cleanup := d.cleanup
	d.cleanup = nil
	d.mu.Unlock()

	// Run cleanup outside the lock in reverse order of registration.
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	return nil
}

// dbusErrorName returns the D-Bus error name carried by err, or "".
func dbusErrorName(err error) string {
	var de dbus.Error
	var dep *dbus.Error
	switch {
	case errors.As(err, &de):
		return de.Name
	case errors.As(err, &dep):
		return dep.Name
	}
	return ""
}

func classifyDBusError(err error) error {
	if permissionErrors[dbusErrorName(err)] {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
}
