// Package chatclient is the terminal client for a roomchat server: it joins
// a room, prints what the room broadcasts and sends typed lines.
package chatclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

const writeWait = 10 * time.Second

// ErrNotConnected is returned when sending on a closed client.
var ErrNotConnected = errors.New("chatclient: not connected")

// Client is one connection to the server.
type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger

	mu     sync.Mutex // serializes writes
	closed bool
}

// Dial connects to the WebSocket endpoint at url.
func Dial(ctx context.Context, url string, log zerolog.Logger) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	conn, resp, err := dialer.DialContext(ctx, url, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	return &Client{conn: conn, log: log}, nil
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Join sends the join request. The server answers with join_success or an
// error payload, which Listen renders.
func (c *Client) Join(username, room string) error {
	return c.writeJSON(protocol.NewJoinRequest(username, room))
}

// Send posts one chat message.
func (c *Client) Send(text string) error {
	return c.writeJSON(protocol.NewMessageRequest(text))
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// Listen prints every payload from the server to out until the stream
// ends. It always finishes with a disconnect notice.
func (c *Client) Listen(out io.Writer) error {
	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			fmt.Fprintln(out, "❌ Disconnected from server")
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		for _, line := range Render(env) {
			fmt.Fprintln(out, line)
		}
	}
}

// Render turns a server payload into display lines.
func Render(env protocol.Envelope) []string {
	switch env.Type {
	case protocol.TypeMessage:
		return []string{fmt.Sprintf("[%s] %s: %s", env.Timestamp, env.Username, env.Message)}
	case protocol.TypeJoinSuccess:
		lines := make([]string, 0, len(env.History)+1)
		lines = append(lines, "✅ Joined successfully!")
		for _, h := range env.History {
			lines = append(lines, "📜 "+h)
		}
		return lines
	case protocol.TypeError:
		return []string{"❌ " + env.Message}
	default:
		return nil
	}
}

// IsQuitCommand reports whether line asks to leave the chat.
func IsQuitCommand(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "/quit", "/exit", "/q":
		return true
	default:
		return false
	}
}

// Run dials url, joins room as username, and relays lines from in as
// messages until a quit command, end of input, or server disconnect. It
// returns only after the listener has stopped writing to out.
func Run(ctx context.Context, url, username, room string, in io.Reader, out io.Writer, log zerolog.Logger) error {
	c, err := Dial(ctx, url, log)
	if err != nil {
		return err
	}

	if err := c.Join(username, room); err != nil {
		_ = c.Close()
		return fmt.Errorf("join: %w", err)
	}
	fmt.Fprintln(out, "✅ Connected to chat room! Type /quit to exit.")

	listenDone := make(chan error, 1)
	go func() { listenDone <- c.Listen(out) }()

	stop := make(chan struct{})
	defer close(stop)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	disconnected, err := relay(ctx, c, lines, listenDone, log)
	_ = c.Close()
	if !disconnected {
		<-listenDone
	}
	return err
}

// relay sends input lines until the user quits or the listener reports a
// disconnect. disconnected is true when listenDone was consumed.
func relay(ctx context.Context, c *Client, lines <-chan string, listenDone <-chan error, log zerolog.Logger) (disconnected bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case err := <-listenDone:
			if err != nil {
				log.Debug().Err(err).Msg("Connection ended")
			}
			return true, nil
		case line, ok := <-lines:
			if !ok || IsQuitCommand(line) {
				return false, nil
			}
			if err := c.Send(line); err != nil {
				log.Debug().Err(err).Msg("Send failed")
				return false, err
			}
		}
	}
}
