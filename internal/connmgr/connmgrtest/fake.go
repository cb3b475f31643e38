// Package connmgrtest provides an in-memory Dialer and Transport for tests.
package connmgrtest

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"robot-remote/internal/btaddr"
	"robot-remote/internal/connmgr"
)

// ErrClosedTransport is returned by writes to a closed Transport.
var ErrClosedTransport = errors.New("connmgrtest: transport closed")

// Dialer records dials and hands out Transports.
type Dialer struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	entered chan struct{}
	dials   []btaddr.Address
	conns   []*Transport
}

// NewDialer returns a dialer whose dials succeed immediately.
func NewDialer() *Dialer {
	return &Dialer{entered: make(chan struct{}, 16)}
}

// FailWith makes subsequent dials return err (nil restores success).
func (d *Dialer) FailWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Block makes subsequent dials wait until Unblock is called or their context
// is done.
func (d *Dialer) Block() {
	d.mu.Lock()
	d.gate = make(chan struct{})
	d.mu.Unlock()
}

// Unblock releases blocked dials.
func (d *Dialer) Unblock() {
	d.mu.Lock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
	d.mu.Unlock()
}

// Entered receives a value each time a dial starts.
func (d *Dialer) Entered() <-chan struct{} { return d.entered }

func (d *Dialer) Dial(ctx context.Context, addr btaddr.Address) (connmgr.Transport, error) {
	d.mu.Lock()
	d.dials = append(d.dials, addr)
	gate, err := d.gate, d.err
	d.mu.Unlock()

	select {
	case d.entered <- struct{}{}:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	t := &Transport{}
	d.mu.Lock()
	d.conns = append(d.conns, t)
	d.mu.Unlock()
	return t, nil
}

// Dials returns the addresses dialed so far.
func (d *Dialer) Dials() []btaddr.Address {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]btaddr.Address(nil), d.dials...)
}

// Transports returns every transport handed out, oldest first.
func (d *Dialer) Transports() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Transport(nil), d.conns...)
}

// Last returns the newest transport, or nil.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Wire returns everything written to any transport, in order.
func (d *Dialer) Wire() string {
	var b bytes.Buffer
	for _, t := range d.Transports() {
		b.WriteString(t.Written())
	}
	return b.String()
}

// Transport is a recording connmgr.Transport.
type Transport struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writeErr error
	flushErr error
	closeErr error
	panicOn  string
	flushes  int
	closed   bool
}

// FailWrites makes subsequent writes return err (nil restores success).
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	t.writeErr = err
	t.mu.Unlock()
}

// FailRelease makes Flush and Close return the given errors.
func (t *Transport) FailRelease(flushErr, closeErr error) {
	t.mu.Lock()
	t.flushErr, t.closeErr = flushErr, closeErr
	t.mu.Unlock()
}

// PanicOn makes the named method ("Flush" or "Close") panic.
func (t *Transport) PanicOn(method string) {
	t.mu.Lock()
	t.panicOn = method
	t.mu.Unlock()
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosedTransport
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	return t.buf.Write(p)
}

func (t *Transport) Flush() error {
	t.mu.Lock()
	t.flushes++
	err, p := t.flushErr, t.panicOn
	t.mu.Unlock()
	if p == "Flush" {
		panic("connmgrtest: flush")
	}
	return err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	err, p := t.closeErr, t.panicOn
	t.mu.Unlock()
	if p == "Close" {
		panic("connmgrtest: close")
	}
	return err
}

// Written returns the bytes written so far.
func (t *Transport) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Flushes returns how many times Flush was called.
func (t *Transport) Flushes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushes
}
