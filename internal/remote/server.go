// Package remote serves the session over WebSocket.
//
// Clients send one JSON intent per message:
//
//	{"id":"1","type":"connect","address":"AA:BB:CC:DD:EE:FF"}
//	{"type":"vacuum","on":true}        // omit "on" to toggle
//	{"type":"speed","value":70}        // or "delta":-10
//	{"type":"move","direction":"left"}
//	{"type":"release"}
//	{"type":"stop"}
//	{"type":"disconnect"}
//	{"type":"state"}
//
// Each intent is answered with a "reply" event carrying the snapshot after
// the intent completed and, on failure, the error. Every state change is also
// broadcast to all clients as a "state" event.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"robot-remote/internal/protocol"
	"robot-remote/internal/session"
)

// Intent types.
const (
	IntentConnect    = "connect"
	IntentDisconnect = "disconnect"
	IntentVacuum     = "vacuum"
	IntentSpeed      = "speed"
	IntentMove       = "move"
	IntentRelease    = "release"
	IntentStop       = "stop"
	IntentState      = "state"
)

// Event types.
const (
	EventReply = "reply"
	EventState = "state"
)

// Intent is a client request.
type Intent struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Address   string `json:"address,omitempty"`
	On        *bool  `json:"on,omitempty"`
	Value     *int   `json:"value,omitempty"`
	Delta     int    `json:"delta,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// Event is sent to clients.
type Event struct {
	Type   string            `json:"type"`
	ID     string            `json:"id,omitempty"`
	Intent string            `json:"intent,omitempty"`
	State  session.Snapshot  `json:"state"`
	Error  string            `json:"error,omitempty"`
	Kind   session.ErrorKind `json:"kind,omitempty"`
}

// Controller is the part of *session.Session the server drives.
type Controller interface {
	StartConnect(addr string) <-chan error
	Disconnect(ctx context.Context) error
	SetVacuum(ctx context.Context, on bool) error
	ToggleVacuum(ctx context.Context) error
	SetSpeed(ctx context.Context, n int) error
	AdjustSpeed(ctx context.Context, delta int) error
	StartMove(ctx context.Context, d protocol.Direction) error
	EndMove(ctx context.Context) error
	StopNow(ctx context.Context) error
	Snapshot() session.Snapshot
}

// Options configures a Server.
type Options struct {
	// IntentTimeout bounds how long one non-connect intent may wait for its
	// command to be written. Zero means 10s.
	IntentTimeout time.Duration
	// CheckOrigin is passed to the upgrader. Nil allows any origin.
	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

var errBadIntent = errors.New("remote: bad intent")

// Server is an http.Handler speaking the intent protocol.
type Server struct {
	ctl      Controller
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader
	hub      *hub

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a server driving ctl. Wire Broadcast to the session's OnChange
// to push state changes.
func New(ctl Controller, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IntentTimeout <= 0 {
		opts.IntentTimeout = 10 * time.Second
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	log := opts.Logger.With("component", "remote")
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctl:      ctl,
		opts:     opts,
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		hub:      newHub(log),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Broadcast pushes snap to every client. It never blocks.
func (s *Server) Broadcast(snap session.Snapshot) {
	s.hub.broadcast(Event{Type: EventState, State: snap})
}

// Close disconnects every client and abandons intents still waiting.
func (s *Server) Close() {
	s.cancel()
	s.hub.closeAll()
}

// ServeHTTP upgrades the request and serves intents until the peer leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := s.hub.add(conn)
	defer s.hub.remove(c)

	s.hub.deliver(c, Event{Type: EventState, State: s.ctl.Snapshot()})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read failed", "remote", r.RemoteAddr, "err", err)
			}
			return
		}
		var in Intent
		if err := json.Unmarshal(data, &in); err != nil {
			s.reply(c, in, fmt.Errorf("%w: %w", errBadIntent, err))
			continue
		}
		s.dispatch(c, in)
	}
}

// dispatch runs one intent. Connects complete in the background so a later
// disconnect from the same client can cancel them.
func (s *Server) dispatch(c *client, in Intent) {
	s.log.Debug("intent", "type", in.Type, "id", in.ID)
	if in.Type == IntentConnect {
		ch := s.ctl.StartConnect(in.Address)
		go func() {
			select {
			case err := <-ch:
				s.reply(c, in, err)
			case <-s.ctx.Done():
			}
		}()
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.IntentTimeout)
	defer cancel()
	s.reply(c, in, s.run(ctx, in))
}

func (s *Server) run(ctx context.Context, in Intent) error {
	switch in.Type {
	case IntentDisconnect:
		return s.ctl.Disconnect(ctx)
	case IntentVacuum:
		if in.On == nil {
			return s.ctl.ToggleVacuum(ctx)
		}
		return s.ctl.SetVacuum(ctx, *in.On)
	case IntentSpeed:
		if in.Value != nil {
			return s.ctl.SetSpeed(ctx, *in.Value)
		}
		return s.ctl.AdjustSpeed(ctx, in.Delta)
	case IntentMove:
		d, err := protocol.ParseDirection(in.Direction)
		if err != nil {
			return fmt.Errorf("%w: %w", errBadIntent, err)
		}
		return s.ctl.StartMove(ctx, d)
	case IntentRelease:
		return s.ctl.EndMove(ctx)
	case IntentStop:
		return s.ctl.StopNow(ctx)
	case IntentState:
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", errBadIntent, in.Type)
	}
}

func (s *Server) reply(c *client, in Intent, err error) {
	ev := Event{Type: EventReply, ID: in.ID, Intent: in.Type, State: s.ctl.Snapshot()}
	if err != nil {
		ev.Error = err.Error()
		if !errors.Is(err, errBadIntent) {
			ev.Kind = session.KindOf(err)
		}
	}
	s.hub.deliver(c, ev)
}
