package server_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/archive"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/server"
)

func TestRoomConversation(t *testing.T) {
	hub, srv := startTestServer(t, testConfig(), nil)

	alice := dial(t, srv)
	assert.Empty(t, join(t, alice, "Alice", "lobby"))
	expectChat(t, alice, protocol.SystemSender, "Alice joined the room")

	bob := dial(t, srv)
	history := join(t, bob, "Bob", "lobby")
	require.Len(t, history, 1)
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\] System: Alice joined the room$`, history[0])
	expectChat(t, bob, protocol.SystemSender, "Bob joined the room")
	expectChat(t, alice, protocol.SystemSender, "Bob joined the room")

	sendChat(t, alice, "hi")
	expectChat(t, alice, "Alice", "hi")
	expectChat(t, bob, "Alice", "hi")

	leave(t, bob)
	expectChat(t, alice, protocol.SystemSender, "Bob left the room")
	require.Eventually(t, func() bool { return hub.Registry().SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	bob = dial(t, srv)
	history = join(t, bob, "Bob", "lobby")
	require.Len(t, history, 4)
	assert.True(t, strings.HasSuffix(history[2], "] Alice: hi"))
	assert.True(t, strings.HasSuffix(history[3], "] System: Bob left the room"))
}

func TestRoomsAreIsolated(t *testing.T) {
	_, srv := startTestServer(t, testConfig(), nil)

	alice := joinAndSettle(t, srv, "alice", "lobby")
	carol := joinAndSettle(t, srv, "carol", "dev")

	sendChat(t, carol, "dev only")
	expectChat(t, carol, "carol", "dev only")

	sendChat(t, alice, "lobby only")
	expectChat(t, alice, "alice", "lobby only")

	require.NoError(t, carol.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := carol.ReadMessage()
	require.Error(t, err, "carol must not see lobby traffic")
}

func TestDuplicateUsernameRejected(t *testing.T) {
	hub, srv := startTestServer(t, testConfig(), nil)
	joinAndSettle(t, srv, "alice", "lobby")

	second := dial(t, srv)
	sendJSON(t, second, protocol.NewJoinRequest("alice", "other"))

	env := readEnvelope(t, second)
	assert.Equal(t, protocol.TypeError, env.Type)
	assert.Equal(t, protocol.DuplicateUsernameText, env.Message)
	expectClosed(t, second)

	_, room, ok := hub.Registry().Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "lobby", room)
	assert.Empty(t, hub.Registry().History("other"))
}

func TestMalformedJoinDropsConnection(t *testing.T) {
	cases := map[string]string{
		"not json":       `hello`,
		"wrong type":     `{"type":"message","message":"hi"}`,
		"missing room":   `{"type":"join","username":"alice"}`,
		"empty username": `{"type":"join","username":"","room":"lobby"}`,
	}

	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			hub, srv := startTestServer(t, testConfig(), nil)
			conn := dial(t, srv)
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

			require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
			_, raw, err := conn.ReadMessage()
			require.Error(t, err, "expected close, got payload %s", raw)
			assert.Equal(t, 0, hub.Registry().SessionCount())
		})
	}
}

func TestInvalidMessageEndsSession(t *testing.T) {
	hub, srv := startTestServer(t, testConfig(), nil)
	alice := joinAndSettle(t, srv, "alice", "lobby")
	bob := joinAndSettle(t, srv, "bob", "lobby")
	expectChat(t, alice, protocol.SystemSender, "bob joined the room")

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","username":"x","room":"y"}`)))

	env := readEnvelope(t, bob)
	assert.Equal(t, protocol.TypeError, env.Type)
	assert.Equal(t, protocol.InvalidMessageText, env.Message)
	expectClosed(t, bob)

	expectChat(t, alice, protocol.SystemSender, "bob left the room")
	require.Eventually(t, func() bool { return hub.Registry().SessionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestEmptyMessageIsBroadcast(t *testing.T) {
	_, srv := startTestServer(t, testConfig(), nil)
	alice := joinAndSettle(t, srv, "alice", "lobby")

	sendChat(t, alice, "")
	expectChat(t, alice, "alice", "")
}

func TestJoinReplaysLastFiveMessages(t *testing.T) {
	_, srv := startTestServer(t, testConfig(), nil)
	alice := joinAndSettle(t, srv, "alice", "lobby")

	for i := 1; i <= 7; i++ {
		text := fmt.Sprintf("m%d", i)
		sendChat(t, alice, text)
		expectChat(t, alice, "alice", text)
	}

	bob := dial(t, srv)
	history := join(t, bob, "bob", "lobby")
	require.Len(t, history, 5)
	for i, entry := range history {
		assert.True(t, strings.HasSuffix(entry, fmt.Sprintf("] alice: m%d", i+3)), entry)
	}
}

func TestRateLimitKeepsExcessMessagesFromRoom(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = server.RateLimitConfig{Burst: 3, RefillInterval: time.Hour}
	_, srv := startTestServer(t, cfg, nil)

	observer := joinAndSettle(t, srv, "observer", "lobby")
	spammer := joinAndSettle(t, srv, "spammer", "lobby")
	expectChat(t, observer, protocol.SystemSender, "spammer joined the room")

	for i := 0; i < 10; i++ {
		sendChat(t, spammer, fmt.Sprintf("spam %d", i))
	}
	leave(t, spammer)

	for i := 0; i < 3; i++ {
		expectChat(t, observer, "spammer", fmt.Sprintf("spam %d", i))
	}
	expectChat(t, observer, protocol.SystemSender, "spammer left the room")
}

func TestRateLimitedSenderReceivesError(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = server.RateLimitConfig{Burst: 5, RefillInterval: time.Hour}
	hub, srv := startTestServer(t, cfg, nil)
	alice := joinAndSettle(t, srv, "alice", "lobby")

	for i := 0; i < 8; i++ {
		sendChat(t, alice, fmt.Sprintf("line %d", i))
	}

	for i := 0; i < 5; i++ {
		expectChat(t, alice, "alice", fmt.Sprintf("line %d", i))
	}
	for i := 0; i < 3; i++ {
		env := readEnvelope(t, alice)
		assert.Equal(t, protocol.TypeError, env.Type)
		assert.Equal(t, protocol.RateLimitedText, env.Message)
	}

	_, _, ok := hub.Registry().Lookup("alice")
	assert.True(t, ok, "a rate-limited session stays joined")
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 128
	hub, srv := startTestServer(t, cfg, nil)
	alice := joinAndSettle(t, srv, "alice", "lobby")

	sendChat(t, alice, strings.Repeat("x", 512))
	expectClosed(t, alice)
	require.Eventually(t, func() bool { return hub.Registry().SessionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMessagesAreArchived(t *testing.T) {
	dir := t.TempDir()
	sink, err := archive.NewFileSink(dir)
	require.NoError(t, err)
	_, srv := startTestServer(t, testConfig(), sink)

	alice := joinAndSettle(t, srv, "alice", "lobby")
	sendChat(t, alice, "hi")
	expectChat(t, alice, "alice", "hi")

	data, err := os.ReadFile(filepath.Join(dir, archive.FileName("lobby")))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "] System: alice joined the room"))
	assert.True(t, strings.HasSuffix(lines[1], "] alice: hi"))
}

func TestOriginPolicy(t *testing.T) {
	_, srv := startTestServer(t, testConfig(), nil)

	t.Run("configured origin", func(t *testing.T) {
		header := http.Header{"Origin": []string{"http://localhost:2025"}}
		_, _, err := connectWebSocket(t, srv, header)
		require.NoError(t, err)
	})

	t.Run("no origin", func(t *testing.T) {
		_, _, err := connectWebSocket(t, srv, nil)
		require.NoError(t, err)
	})

	t.Run("foreign origin", func(t *testing.T) {
		header := http.Header{"Origin": []string{"http://evil.example"}}
		_, resp, err := connectWebSocket(t, srv, header)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestWildcardOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"*"}
	_, srv := startTestServer(t, cfg, nil)

	header := http.Header{"Origin": []string{"http://anywhere.example"}}
	_, _, err := connectWebSocket(t, srv, header)
	require.NoError(t, err)
}

func TestShutdownDisconnectsClients(t *testing.T) {
	hub, srv := startTestServer(t, testConfig(), nil)
	alice := joinAndSettle(t, srv, "alice", "lobby")
	bob := joinAndSettle(t, srv, "bob", "dev")

	require.NoError(t, hub.Shutdown(2*time.Second))

	expectClosed(t, alice)
	expectClosed(t, bob)
	assert.Equal(t, 0, hub.ConnectionCount())
	assert.Equal(t, 0, hub.Registry().SessionCount())

	late := dial(t, srv)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestHTTPEndpoints(t *testing.T) {
	hub, srv := startTestServer(t, testConfig(), nil)
	joinAndSettle(t, srv, "alice", "lobby")
	require.Equal(t, 1, hub.Registry().SessionCount())

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	})

	t.Run("rooms", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/rooms")
		require.NoError(t, err)
		defer resp.Body.Close()

		var rooms []server.RoomStats
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
		assert.Equal(t, []server.RoomStats{{Name: "lobby", Members: 1, History: 1}}, rooms)
	})

	t.Run("test page", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/test")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	})

	t.Run("websocket rejects POST", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/ws", "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}
