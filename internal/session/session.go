// Package session turns user intents into robot commands and keeps the
// session view (suction, speed, motion) that an interface renders.
//
// Every intent updates the local view first and then enqueues the matching
// command on the connection. Both happen under one lock, so commands reach
// the wire in the order intents were issued. A failed send does not roll the
// view back.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"robot-remote/internal/btaddr"
	"robot-remote/internal/connmgr"
	"robot-remote/internal/protocol"
)

// Link is the connection a Session drives. *connmgr.Manager implements it.
type Link interface {
	Connect(addr btaddr.Address) <-chan error
	Disconnect() <-chan error
	Send(p []byte) <-chan error
	Status() connmgr.Status
}

// Options configures a Session.
type Options struct {
	// InitialSpeed is clamped to [0, 100].
	InitialSpeed int
	// MaxWriteFailures consecutive write failures force a disconnect.
	// Zero disables the escalation.
	MaxWriteFailures int
	Logger           *slog.Logger
}

// DefaultOptions returns the options matching the stock remote: 50% speed
// and a disconnect after three failed writes in a row.
func DefaultOptions() Options {
	return Options{
		InitialSpeed:     protocol.DefaultSpeed,
		MaxWriteFailures: 3,
	}
}

// Snapshot is the observable session state.
type Snapshot struct {
	Connected bool               `json:"connected"`
	State     connmgr.State      `json:"state"`
	Address   string             `json:"address,omitempty"`
	VacuumOn  bool               `json:"vacuum_on"`
	Speed     int                `json:"speed"`
	Moving    bool               `json:"moving"`
	Direction protocol.Direction `json:"direction,omitempty"`
	LastError ErrorKind          `json:"last_error,omitempty"`
}

// Session mediates between intents and the connection.
type Session struct {
	link Link
	opts Options
	log  *slog.Logger

	mu            sync.Mutex
	vacuumOn      bool
	speed         int
	direction     protocol.Direction
	moving        bool
	lastErr       ErrorKind
	writeFailures int
	observers     []func(Snapshot)
}

// New returns a session driving link.
func New(link Link, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		link:  link,
		opts:  opts,
		log:   opts.Logger.With("component", "session"),
		speed: protocol.Clamp(opts.InitialSpeed),
	}
}

// OnChange registers fn to be called with a fresh snapshot after every
// intent and every completed request. fn must not block.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	st := s.link.Status()
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Connected: st.State == connmgr.StateConnected,
		State:     st.State,
		VacuumOn:  s.vacuumOn,
		Speed:     s.speed,
		Moving:    s.moving,
		LastError: s.lastErr,
	}
	if st.State != connmgr.StateDisconnected {
		snap.Address = st.Address.String()
	}
	if s.moving {
		snap.Direction = s.direction
	}
	return snap
}

// Connect validates raw and opens the connection. An invalid address is
// rejected before any I/O.
func (s *Session) Connect(ctx context.Context, raw string) error {
	return connmgr.Wait(ctx, s.StartConnect(raw))
}

// StartConnect enqueues the connect and returns without waiting. The result
// is recorded in the view before it is delivered on the returned channel.
func (s *Session) StartConnect(raw string) <-chan error {
	out := make(chan error, 1)
	addr, err := btaddr.Parse(raw)
	if err != nil {
		s.observe(err)
		out <- err
		return out
	}
	ch := s.link.Connect(addr)
	s.notify()
	go func() {
		err := <-ch
		if err == nil {
			s.mu.Lock()
			s.lastErr = KindNone
			s.mu.Unlock()
		}
		s.observe(err)
		out <- err
	}()
	return out
}

// Disconnect closes the connection. It never fails unless ctx is done.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.await(ctx, s.link.Disconnect())
}

// SetVacuum switches suction on or off.
func (s *Session) SetVacuum(ctx context.Context, on bool) error {
	return s.apply(ctx, func() protocol.Command {
		s.vacuumOn = on
		return protocol.Vacuum(on)
	})
}

// ToggleVacuum flips suction, like the remote's single suction button.
func (s *Session) ToggleVacuum(ctx context.Context) error {
	return s.apply(ctx, func() protocol.Command {
		s.vacuumOn = !s.vacuumOn
		return protocol.Vacuum(s.vacuumOn)
	})
}

// SetSpeed sets the drive speed in percent; n is clamped to [0, 100].
func (s *Session) SetSpeed(ctx context.Context, n int) error {
	return s.apply(ctx, func() protocol.Command {
		s.speed = protocol.Clamp(n)
		return protocol.SetSpeed(s.speed)
	})
}

// AdjustSpeed changes the speed by delta percent, clamped.
func (s *Session) AdjustSpeed(ctx context.Context, delta int) error {
	return s.apply(ctx, func() protocol.Command {
		s.speed = protocol.Clamp(s.speed + delta)
		return protocol.SetSpeed(s.speed)
	})
}

// StartMove starts driving in d, replacing any active direction.
func (s *Session) StartMove(ctx context.Context, d protocol.Direction) error {
	if !d.Valid() {
		return errors.New("session: invalid direction " + d.String())
	}
	return s.apply(ctx, func() protocol.Command {
		if s.moving && s.direction != d {
			s.log.Debug("direction replaced", "from", s.direction, "to", d)
		}
		s.direction, s.moving = d, true
		return protocol.Move(d)
	})
}

// EndMove is the release of a momentary direction control. It clears the
// active direction and sends Stop, which the robot treats as idempotent.
func (s *Session) EndMove(ctx context.Context) error {
	return s.apply(ctx, func() protocol.Command {
		s.moving = false
		return protocol.Stop()
	})
}

// StopNow is the explicit stop control.
func (s *Session) StopNow(ctx context.Context) error {
	return s.apply(ctx, func() protocol.Command {
		s.moving = false
		return protocol.Stop()
	})
}

// apply runs mutate and enqueues the command it returns under the lock, then
// waits for the result outside it.
func (s *Session) apply(ctx context.Context, mutate func() protocol.Command) error {
	s.mu.Lock()
	cmd := mutate()
	ch := s.link.Send(protocol.Encode(cmd))
	s.mu.Unlock()

	s.log.Debug("intent", "cmd", cmd.String())
	s.notify()
	return s.await(ctx, ch)
}

// await waits for ch. If ctx ends first the result is still recorded when it
// arrives.
func (s *Session) await(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		s.observe(err)
		return err
	case <-ctx.Done():
		go func() { s.observe(<-ch) }()
		return ctx.Err()
	}
}

func (s *Session) observe(err error) {
	escalate := false
	s.mu.Lock()
	switch {
	case err == nil:
		s.writeFailures = 0
	case errors.Is(err, connmgr.ErrWriteFailure):
		s.writeFailures++
		if s.opts.MaxWriteFailures > 0 && s.writeFailures >= s.opts.MaxWriteFailures {
			escalate = true
			s.writeFailures = 0
		}
	}
	if err != nil {
		s.lastErr = KindOf(err)
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("request failed", "kind", KindOf(err), "err", err)
	}
	if escalate {
		s.log.Warn("too many write failures, disconnecting", "limit", s.opts.MaxWriteFailures)
		s.link.Disconnect()
	}
	s.notify()
}

func (s *Session) notify() {
	s.mu.Lock()
	obs := slices.Clone(s.observers)
	s.mu.Unlock()
	if len(obs) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range obs {
		fn(snap)
	}
}
