package remote_test

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robot-remote/internal/connmgr"
	"robot-remote/internal/connmgr/connmgrtest"
	"robot-remote/internal/remote"
	"robot-remote/internal/session"
)

const addr = "AA:BB:CC:DD:EE:FF"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type wireEvent struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Intent string `json:"intent"`
	State  struct {
		Connected bool   `json:"connected"`
		State     string `json:"state"`
		Address   string `json:"address"`
		VacuumOn  bool   `json:"vacuum_on"`
		Speed     int    `json:"speed"`
		Moving    bool   `json:"moving"`
		Direction string `json:"direction"`
		LastError string `json:"last_error"`
	} `json:"state"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type env struct {
	dialer *connmgrtest.Dialer
	srv    *remote.Server
	url    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	d := connmgrtest.NewDialer()
	m := connmgr.New(d, connmgr.Options{Logger: discard})
	opts := session.DefaultOptions()
	opts.Logger = discard
	sess := session.New(m, opts)

	srv := remote.New(sess, remote.Options{Logger: discard})
	sess.OnChange(srv.Broadcast)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		d.Unblock()
		srv.Close()
		ts.Close()
		_ = m.Close()
	})
	return &env{dialer: d, srv: srv, url: "ws" + strings.TrimPrefix(ts.URL, "http")}
}

func (e *env) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	hello := read(t, conn)
	require.Equal(t, remote.EventState, hello.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// do sends in and returns the reply to it, skipping broadcasts.
func do(t *testing.T, conn *websocket.Conn, in remote.Intent) wireEvent {
	t.Helper()
	require.NoError(t, conn.WriteJSON(in))
	return awaitReply(t, conn, in.ID)
}

func awaitReply(t *testing.T, conn *websocket.Conn, id string) wireEvent {
	t.Helper()
	for {
		ev := read(t, conn)
		if ev.Type == remote.EventReply && ev.ID == id {
			return ev
		}
	}
}

func boolp(b bool) *bool { return &b }
func intp(n int) *int    { return &n }

func TestDriveSession(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)

	rep := do(t, conn, remote.Intent{ID: "1", Type: remote.IntentConnect, Address: addr})
	require.Empty(t, rep.Error)
	assert.True(t, rep.State.Connected)
	assert.Equal(t, addr, rep.State.Address)
	assert.Equal(t, remote.IntentConnect, rep.Intent)

	rep = do(t, conn, remote.Intent{ID: "2", Type: remote.IntentVacuum, On: boolp(true)})
	require.Empty(t, rep.Error)
	assert.True(t, rep.State.VacuumOn)

	rep = do(t, conn, remote.Intent{ID: "3", Type: remote.IntentSpeed, Value: intp(70)})
	require.Empty(t, rep.Error)
	assert.Equal(t, 70, rep.State.Speed)

	rep = do(t, conn, remote.Intent{ID: "4", Type: remote.IntentMove, Direction: "left"})
	require.Empty(t, rep.Error)
	assert.True(t, rep.State.Moving)
	assert.Equal(t, "left", rep.State.Direction)

	rep = do(t, conn, remote.Intent{ID: "5", Type: remote.IntentRelease})
	require.Empty(t, rep.Error)
	assert.False(t, rep.State.Moving)

	rep = do(t, conn, remote.Intent{ID: "6", Type: remote.IntentSpeed, Delta: -100})
	require.Empty(t, rep.Error)
	assert.Equal(t, 0, rep.State.Speed)

	rep = do(t, conn, remote.Intent{ID: "7", Type: remote.IntentVacuum})
	require.Empty(t, rep.Error)
	assert.False(t, rep.State.VacuumOn, "omitted on toggles")

	rep = do(t, conn, remote.Intent{ID: "8", Type: remote.IntentStop})
	require.Empty(t, rep.Error)

	rep = do(t, conn, remote.Intent{ID: "9", Type: remote.IntentDisconnect})
	require.Empty(t, rep.Error)
	assert.False(t, rep.State.Connected)
	assert.Equal(t, "disconnected", rep.State.State)

	assert.Equal(t, "V1\nS70\nL\nX\nS0\nV0\nX\n", e.dialer.Wire())
	assert.True(t, e.dialer.Last().Closed())
}

func TestIntentWhileDisconnected(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)

	rep := do(t, conn, remote.Intent{ID: "v", Type: remote.IntentVacuum, On: boolp(true)})
	assert.Equal(t, "not_connected", rep.Kind)
	assert.NotEmpty(t, rep.Error)
	assert.True(t, rep.State.VacuumOn, "view is not rolled back")
	assert.Equal(t, "not_connected", rep.State.LastError)
	assert.Empty(t, e.dialer.Dials())
}

func TestConnectInvalidAddress(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)

	rep := do(t, conn, remote.Intent{ID: "c", Type: remote.IntentConnect, Address: "nope"})
	assert.Equal(t, "invalid_address", rep.Kind)
	assert.Empty(t, e.dialer.Dials())
}

func TestBadIntents(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)

	rep := do(t, conn, remote.Intent{ID: "u", Type: "fly"})
	assert.Contains(t, rep.Error, "unknown type")
	assert.Empty(t, rep.Kind)

	rep = do(t, conn, remote.Intent{ID: "d", Type: remote.IntentMove, Direction: "sideways"})
	assert.Contains(t, rep.Error, "sideways")
	assert.Empty(t, rep.Kind)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	rep = awaitReply(t, conn, "")
	assert.Contains(t, rep.Error, "bad intent")

	rep = do(t, conn, remote.Intent{ID: "s", Type: remote.IntentState})
	assert.Empty(t, rep.Error)
	assert.Equal(t, 50, rep.State.Speed)
}

func TestDisconnectCancelsPendingConnect(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)
	e.dialer.Block()

	require.NoError(t, conn.WriteJSON(remote.Intent{ID: "c", Type: remote.IntentConnect, Address: addr}))
	select {
	case <-e.dialer.Entered():
	case <-time.After(5 * time.Second):
		t.Fatal("dial never started")
	}

	require.NoError(t, conn.WriteJSON(remote.Intent{ID: "d", Type: remote.IntentDisconnect}))

	replies := map[string]wireEvent{}
	for len(replies) < 2 {
		ev := read(t, conn)
		if ev.Type == remote.EventReply {
			replies[ev.ID] = ev
		}
	}
	assert.Equal(t, "canceled", replies["c"].Kind)
	assert.Empty(t, replies["d"].Error)
	assert.False(t, replies["d"].State.Connected)
}

func TestBroadcastReachesOtherClients(t *testing.T) {
	e := newEnv(t)
	a := e.dial(t)
	b := e.dial(t)

	do(t, a, remote.Intent{ID: "1", Type: remote.IntentSpeed, Value: intp(80)})

	for {
		ev := read(t, b)
		require.Equal(t, remote.EventState, ev.Type, "b sent nothing, so it only gets broadcasts")
		if ev.State.Speed == 80 {
			break
		}
	}
}

func TestCloseDropsClients(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t)

	e.srv.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}
