package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

// startLifecycleServer serves connections through h and hands each Client
// to the test.
func startLifecycleServer(t *testing.T, cfg Config) (*Hub, string, <-chan *Client) {
	t.Helper()
	h := NewHub(cfg, nil, logging.Nop())
	clients := make(chan *Client, 4)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(conn, h, r.RemoteAddr)
		if err := h.serve(c); err != nil {
			_ = conn.Close()
			return
		}
		clients <- c
	}))
	t.Cleanup(func() {
		_ = h.Shutdown(time.Second)
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http"), clients
}

func dialLifecycle(t *testing.T, url string, clients <-chan *Client) (*websocket.Conn, *Client) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case c := <-clients:
		return conn, c
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept the connection")
		return nil, nil
	}
}

func requireState(t *testing.T, c *Client, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state is %s, want %s", c.State(), want)
}

func TestNewClientStartsConnecting(t *testing.T) {
	h := newTestHub(t)
	a, b := newTestClient(h), newTestClient(h)

	assert.Equal(t, StateConnecting, a.State())
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_join", StateAwaitingJoin.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestClientStateTransitions(t *testing.T) {
	h, url, clients := startLifecycleServer(t, *NewConfig())
	conn, c := dialLifecycle(t, url, clients)

	requireState(t, c, StateAwaitingJoin)

	require.NoError(t, conn.WriteJSON(protocol.NewJoinRequest("alice", "lobby")))
	var welcome protocol.JoinSuccess
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, protocol.TypeJoinSuccess, welcome.Type)
	requireState(t, c, StateActive)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	requireState(t, c, StateClosed)

	_, _, ok := h.Registry().Lookup("alice")
	assert.False(t, ok)
}

func TestJoinTimeoutClosesIdleConnection(t *testing.T) {
	cfg := *NewConfig()
	cfg.JoinTimeout = 100 * time.Millisecond
	h, url, clients := startLifecycleServer(t, cfg)
	conn, c := dialLifecycle(t, url, clients)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	requireState(t, c, StateClosed)
	require.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.Registry().SessionCount())
}

func TestJoinedSessionOutlivesJoinTimeout(t *testing.T) {
	cfg := *NewConfig()
	cfg.JoinTimeout = 100 * time.Millisecond
	_, url, clients := startLifecycleServer(t, cfg)
	conn, c := dialLifecycle(t, url, clients)

	require.NoError(t, conn.WriteJSON(protocol.NewJoinRequest("alice", "lobby")))
	requireState(t, c, StateActive)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, StateActive, c.State())
}

func TestNewHubSanitizesConfig(t *testing.T) {
	h := NewHub(Config{HistorySize: -3}, nil, logging.Nop())

	cfg := h.Config()
	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, 5, cfg.HistorySize)
	assert.Equal(t, 15*time.Second, cfg.JoinTimeout)
}
