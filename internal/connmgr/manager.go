package connmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"robot-remote/internal/btaddr"
)

// Options configures a Manager.
type Options struct {
	// ConnectTimeout bounds a single dial. Zero means no timeout.
	ConnectTimeout time.Duration
	// WriteTimeout bounds a single send on transports that support write
	// deadlines. Zero means no deadline.
	WriteTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type opKind int

const (
	opConnect opKind = iota
	opDisconnect
	opSend
)

type request struct {
	op     opKind
	id     uint64 // connect only
	addr   btaddr.Address
	data   []byte
	result chan error

	canceled bool // connect only; guarded by Manager.mu
}

// Manager is the connection state machine. The zero value is not usable;
// create one with New.
type Manager struct {
	dialer Dialer
	opts   Options
	log    *slog.Logger

	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	queue  []*request
	closed bool
	status Status
	// claim is the id of the connect request that owns the connection slot,
	// as seen from the tail of the queue. Zero means a Connect would be
	// accepted.
	claim  uint64
	nextID uint64
	// connected is the id of the connect whose transport is open, zero if
	// none. A Send is accepted only while claim == connected != 0.
	connected uint64
	// dialing is the connect request the worker is executing, if any.
	dialing    *request
	cancelDial context.CancelFunc

	// worker-owned
	conn Transport
}

// New creates a manager that opens transports with d and starts its worker.
func New(d Dialer, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		dialer: d,
		opts:   opts,
		log:    opts.Logger.With("component", "connmgr"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// Connect opens a connection to addr.
//
// It is rejected with ErrAlreadyConnected, before any I/O, when an earlier
// Connect has not been followed by a Disconnect and has not failed.
func (m *Manager) Connect(addr btaddr.Address) <-chan error {
	return m.submit(&request{op: opConnect, addr: addr})
}

// Disconnect cancels any pending or in-flight connect, then releases the
// transport. Sends enqueued before it still run. The result is always nil
// unless the manager is closed.
func (m *Manager) Disconnect() <-chan error {
	return m.submit(&request{op: opDisconnect})
}

// Send writes p to the device. It fails with ErrNotConnected, without I/O,
// unless the manager is Connected and no Disconnect is queued, so a Send
// issued while Connecting is rejected. It fails with ErrWriteFailure when the
// transport errors; a write failure does not change the connection state.
func (m *Manager) Send(p []byte) <-chan error {
	return m.submit(&request{op: opSend, data: append([]byte(nil), p...)})
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Close stops accepting requests, lets the worker finish the queue, releases
// the transport and waits for the worker to exit. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		m.cancelPendingLocked()
	}
	m.mu.Unlock()
	m.signal()
	<-m.done
	return nil
}

func (m *Manager) submit(r *request) <-chan error {
	r.result = make(chan error, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		r.result <- ErrClosed
		return r.result
	}
	switch r.op {
	case opConnect:
		if m.claim != 0 {
			m.mu.Unlock()
			r.result <- fmt.Errorf("connmgr: connect %s: %w", r.addr, ErrAlreadyConnected)
			return r.result
		}
		m.nextID++
		r.id = m.nextID
		m.claim = r.id
	case opDisconnect:
		m.claim = 0
		m.cancelPendingLocked()
	case opSend:
		if m.connected == 0 || m.claim != m.connected {
			m.mu.Unlock()
			r.result <- fmt.Errorf("connmgr: send: %w", ErrNotConnected)
			return r.result
		}
	}
	m.queue = append(m.queue, r)
	m.mu.Unlock()

	m.signal()
	return r.result
}

// cancelPendingLocked marks every queued connect and the in-flight one as
// canceled and interrupts the in-flight dial.
func (m *Manager) cancelPendingLocked() {
	for _, q := range m.queue {
		if q.op == opConnect {
			q.canceled = true
		}
	}
	if m.dialing != nil {
		m.dialing.canceled = true
		m.cancelDial()
	}
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		r, ok := m.next()
		if !ok {
			break
		}
		var err error
		switch r.op {
		case opConnect:
			err = m.connect(r)
		case opDisconnect:
			m.release()
		case opSend:
			err = m.send(r.data)
		}
		r.result <- err
	}
	m.release()
	m.log.Debug("worker stopped")
}

// next pops the oldest request, waiting for one. It reports false once the
// manager is closed and the queue is empty.
func (m *Manager) next() (*request, bool) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			r := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return r, true
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil, false
		}
		<-m.wake
	}
}

func (m *Manager) connect(r *request) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if m.opts.ConnectTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()
	}

	m.mu.Lock()
	if r.canceled {
		m.mu.Unlock()
		return fmt.Errorf("connmgr: connect %s: %w", r.addr, ErrCanceled)
	}
	if m.conn != nil {
		m.mu.Unlock()
		return fmt.Errorf("connmgr: connect %s: %w", r.addr, ErrAlreadyConnected)
	}
	m.dialing = r
	m.cancelDial = cancel
	m.setStatusLocked(Status{State: StateConnecting, Address: r.addr})
	m.mu.Unlock()

	m.log.Info("connecting", "addr", r.addr)
	t, err := m.dialer.Dial(ctx, r.addr)

	m.mu.Lock()
	m.dialing = nil
	m.cancelDial = nil
	canceled := r.canceled
	switch {
	case canceled:
		// Disconnected once t is released below.
	case err != nil:
		err = fmt.Errorf("connmgr: connect %s: %w", r.addr, classifyDialError(err))
		if m.claim == r.id {
			m.claim = 0
		}
		m.setStatusLocked(Status{State: StateFailed, Address: r.addr, Err: err})
	default:
		m.conn = t
		m.connected = r.id
		m.setStatusLocked(Status{State: StateConnected, Address: r.addr})
	}
	m.mu.Unlock()

	switch {
	case canceled:
		if t != nil {
			closeQuietly(m.log, t)
		}
		m.mu.Lock()
		m.setStatusLocked(Status{State: StateDisconnected})
		m.mu.Unlock()
		m.log.Info("connect canceled", "addr", r.addr)
		return fmt.Errorf("connmgr: connect %s: %w", r.addr, ErrCanceled)
	case err != nil:
		m.log.Warn("connect failed", "addr", r.addr, "err", err)
		return err
	}
	m.log.Info("connected", "addr", r.addr)
	return nil
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (m *Manager) send(p []byte) error {
	if m.conn == nil {
		return fmt.Errorf("connmgr: send: %w", ErrNotConnected)
	}
	if d, ok := m.conn.(writeDeadliner); ok && m.opts.WriteTimeout > 0 {
		// Not every fd is pollable; without a deadline the write just blocks.
		_ = d.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	}
	n, err := m.conn.Write(p)
	if err == nil && n < len(p) {
		err = fmt.Errorf("short write %d/%d", n, len(p))
	}
	if err == nil {
		err = m.conn.Flush()
	}
	if err != nil {
		m.log.Warn("send failed", "bytes", len(p), "err", err)
		return fmt.Errorf("connmgr: send: %w: %w", ErrWriteFailure, err)
	}
	m.log.Debug("sent", "line", string(p))
	return nil
}

// release closes the transport, if any, and always leaves the manager
// Disconnected. Errors and panics from the transport are logged and dropped.
func (m *Manager) release() {
	t := m.conn
	m.conn = nil
	defer func() {
		m.mu.Lock()
		m.connected = 0
		m.setStatusLocked(Status{State: StateDisconnected})
		m.mu.Unlock()
	}()
	if t == nil {
		return
	}
	closeQuietly(m.log, t)
	m.log.Info("disconnected")
}

func closeQuietly(log *slog.Logger, t Transport) {
	defer func() {
		if p := recover(); p != nil {
			log.Warn("transport release panicked", "panic", p)
		}
	}()
	defer func() {
		if err := t.Close(); err != nil {
			log.Debug("close on release", "err", err)
		}
	}()
	if err := t.Flush(); err != nil {
		log.Debug("flush on release", "err", err)
	}
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status.State != s.State {
		m.log.Debug("state", "from", m.status.State, "to", s.State)
	}
	m.status = s
}
