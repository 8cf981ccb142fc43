// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, room listing, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

func newUpgrader(policy *originPolicy) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.checkOrigin,
	}
}

// WebSocketHandler upgrades GET requests to WebSocket connections and hands
// them to the hub, which runs the join handshake.
func WebSocketHandler(h *Hub) http.HandlerFunc {
	upgrader := newUpgrader(newOriginPolicy(h.cfg.AllowedOrigins, h.log))

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
			return
		}

		if err := h.Serve(conn, r.RemoteAddr); err != nil {
			h.log.Info().Err(err).Str("addr", r.RemoteAddr).Msg("Rejecting connection")
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomchat server is running!")
}

// RoomsHandler lists every room with its member count and history length.
func RoomsHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h.registry.Rooms()); err != nil {
			h.log.Warn().Err(err).Msg("Error writing rooms response")
		}
	}
}

// TestPageHandler serves an HTML page that joins a room and chats over the
// WebSocket endpoint.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>roomchat</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .hidden { display: none; }
        .system { color: gray; }
        .self { color: blue; }
        .other { color: green; }
    </style>
</head>
<body>
    <h1>roomchat</h1>

    <div id="join-screen">
        <input type="text" id="username" placeholder="Username">
        <input type="text" id="room" placeholder="Room">
        <button id="joinBtn">Join</button>
    </div>

    <div id="chat-screen" class="hidden">
        <h2 id="room-name"></h2>
        <div id="messages"></div>
        <input type="text" id="messageInput" placeholder="Type a message...">
        <button id="sendBtn">Send</button>
        <button id="leaveBtn">Leave</button>
    </div>

    <script>
        let ws = null;
        let me = '';
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');

        function addMessage(text, kind) {
            const el = document.createElement('div');
            el.className = kind;
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        document.getElementById('joinBtn').onclick = function() {
            me = document.getElementById('username').value.trim();
            const room = document.getElementById('room').value.trim();
            if (!me || !room) { alert('Please enter both username and room name!'); return; }

            ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            ws.onopen = function() {
                ws.send(JSON.stringify({ type: 'join', username: me, room: room }));
            };
            ws.onmessage = function(event) {
                const data = JSON.parse(event.data);
                if (data.type === 'join_success') {
                    document.getElementById('join-screen').classList.add('hidden');
                    document.getElementById('chat-screen').classList.remove('hidden');
                    document.getElementById('room-name').textContent = 'Room: ' + room;
                    data.history.forEach(function(line) { addMessage(line, 'system'); });
                } else if (data.type === 'message') {
                    const line = '[' + data.timestamp + '] ' + data.username + ': ' + data.message;
                    addMessage(line, data.username === me ? 'self' : 'other');
                } else if (data.type === 'error') {
                    alert(data.message);
                }
            };
            ws.onclose = function() { addMessage('Disconnected from server', 'system'); };
        };

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ type: 'message', message: text }));
                messageInput.value = '';
            }
        }

        document.getElementById('sendBtn').onclick = sendMessage;
        messageInput.addEventListener('keypress', function(e) { if (e.key === 'Enter') { sendMessage(); } });
        document.getElementById('leaveBtn').onclick = function() {
            if (ws) { ws.close(); }
            window.location.reload();
        };
    </script>
</body>
</html>`
