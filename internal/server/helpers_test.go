package server_test

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/archive"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/server"
)

const readTimeout = 2 * time.Second

// startTestServer runs a hub behind httptest and closes both when the test
// ends.
func startTestServer(t *testing.T, cfg server.Config, sink archive.Sink) (*server.Hub, *httptest.Server) {
	t.Helper()
	hub := server.NewHub(cfg, sink, logging.Nop())
	srv := httptest.NewServer(server.SetupRoutes(hub))
	t.Cleanup(func() {
		_ = hub.Shutdown(time.Second)
		srv.Close()
	})
	return hub, srv
}

func testConfig() server.Config {
	cfg := *server.NewConfig()
	cfg.RateLimit.Burst = 1000
	return cfg
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// connectWebSocket dials the test server without an Origin header, the way
// the terminal client does.
func connectWebSocket(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL(srv), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := connectWebSocket(t, srv, nil)
	require.NoError(t, err)
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(raw, &env), "payload %s", raw)
	return env
}

// join sends a join frame and returns the replayed history.
func join(t *testing.T, conn *websocket.Conn, username, room string) []string {
	t.Helper()
	sendJSON(t, conn, protocol.NewJoinRequest(username, room))
	env := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeJoinSuccess, env.Type, "unexpected payload %+v", env)
	return env.History
}

// joinAndSettle joins and consumes the client's own join announcement.
func joinAndSettle(t *testing.T, srv *httptest.Server, username, room string) *websocket.Conn {
	t.Helper()
	conn := dial(t, srv)
	join(t, conn, username, room)
	expectChat(t, conn, protocol.SystemSender, username+" joined the room")
	return conn
}

func expectChat(t *testing.T, conn *websocket.Conn, sender, text string) protocol.Envelope {
	t.Helper()
	env := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeMessage, env.Type, "unexpected payload %+v", env)
	require.Equal(t, sender, env.Username)
	require.Equal(t, text, env.Message)
	require.Len(t, env.Timestamp, len(protocol.TimestampLayout))
	return env
}

func sendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	sendJSON(t, conn, protocol.NewMessageRequest(text))
}

// expectClosed reads until the server closes the connection.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("connection still open: %v", err)
			}
			return
		}
	}
}

func leave(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}
