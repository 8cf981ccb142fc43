// Package server manages individual WebSocket clients, handling read/write
// pumps, the join handshake, rate limiting, and teardown for each connection.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// State is a connection's position in its lifecycle.
type State int32

// Connection states, in order.
const (
	StateConnecting State = iota
	StateAwaitingJoin
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingJoin:
		return "awaiting_join"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client represents one WebSocket connection. The read pump drives the
// session lifecycle; the write pump drains the send queue.
type Client struct {
	id             string
	conn           *websocket.Conn
	hub            *Hub
	addr           string
	log            zerolog.Logger
	maxMessageSize int64
	joinTimeout    time.Duration
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	state          atomic.Int32

	mu     sync.Mutex
	send   chan []byte
	closed bool

	// Owned by the read pump.
	username   string
	room       string
	sessionLog zerolog.Logger
}

// NewClient creates a Client for conn. conn may be nil in tests that only
// exercise the send queue.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	log := hub.log.With().Str("client_id", id).Str("addr", addr).Logger()
	c := &Client{
		id:             id,
		conn:           conn,
		hub:            hub,
		addr:           addr,
		log:            log,
		sessionLog:     log,
		maxMessageSize: cfg.MaxMessageSize,
		joinTimeout:    cfg.JoinTimeout,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		send:           make(chan []byte, cfg.SendBuffer),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// State reports the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	c.sessionLog.Debug().Stringer("state", s).Msg("Connection state changed")
}

// enqueue offers msg to the write pump without blocking. It returns false
// when the client is closed or its queue is full.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close shuts the send queue. The write pump flushes what is queued, sends
// a close frame and closes the connection. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) enqueuePayload(v any) bool {
	msg, err := protocol.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Msg("Error encoding payload")
		return false
	}
	return c.enqueue(msg)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.sessionLog.Warn().Err(err).Msg("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.sessionLog.Warn().Err(err).Msg("Error setting read deadline in pong handler")
		}
		return nil
	})
}

// logReadError classifies a read failure. Every read failure ends the
// session; only unexpected ones are logged above debug level.
func (c *Client) logReadError(err error) {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.sessionLog.Warn().Int64("limit", c.maxMessageSize).Msg("Message exceeded maximum size")
		return
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		c.sessionLog.Debug().Err(err).Msg("Client disconnected")
		return
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err) {
		c.sessionLog.Debug().Err(err).Msg("Client connection closed")
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.sessionLog.Info().Stringer("state", c.State()).Msg("Read timed out")
		return
	}

	c.sessionLog.Warn().Err(err).Msg("WebSocket read error")
}

// checkRateLimit reports whether the next message may be processed. A
// rejected message is not broadcast; the sender is told with an error
// payload.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.sessionLog.Warn().
			Int("burst", c.rateLimit.Burst).
			Dur("interval", c.rateLimit.RefillInterval).
			Msg("Rate limit exceeded; rejecting message")
		return false
	}
	return true
}

// awaitJoin reads the first frame and registers the session. The frame must
// arrive within the join timeout; pongs do not extend it. On a duplicate
// username the client is told before the connection closes; malformed
// frames are dropped silently.
func (c *Client) awaitJoin() error {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.joinTimeout)); err != nil {
		c.sessionLog.Warn().Err(err).Msg("Error setting join deadline")
	}

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.logReadError(err)
		return err
	}

	req, err := protocol.DecodeJoin(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	err = c.hub.registry.Register(req.Username, req.Room, c, func(history []string) {
		c.enqueuePayload(protocol.NewJoinSuccess(history))
	})
	if errors.Is(err, ErrDuplicateUsername) {
		c.enqueuePayload(protocol.NewError(protocol.DuplicateUsernameText))
		return err
	}
	if err != nil {
		return err
	}

	c.username, c.room = req.Username, req.Room
	c.sessionLog = c.log.With().Str("username", c.username).Str("room", c.room).Logger()
	c.sessionLog.Info().Msg("Client joined room")

	c.hub.broadcaster.Broadcast(c.room, c.username+" joined the room", protocol.SystemSender)
	return nil
}

// processMessage broadcasts one chat frame from a joined client.
func (c *Client) processMessage(raw []byte) error {
	text, err := protocol.DecodeMessage(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	c.hub.broadcaster.Broadcast(c.room, text, c.username)
	return nil
}

// readPump runs the session state machine. The deferred teardown runs on
// every exit path.
func (c *Client) readPump() {
	defer c.teardown()

	c.setState(StateAwaitingJoin)

	if err := c.awaitJoin(); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateUsername):
			c.sessionLog.Info().Err(err).Msg("Join rejected")
		case errors.Is(err, ErrProtocol), errors.Is(err, ErrInvalidJoin):
			c.sessionLog.Warn().Err(err).Msg("Invalid join request; dropping connection")
		}
		return
	}

	c.setupReadConnection()
	c.setState(StateActive)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			c.enqueuePayload(protocol.NewError(protocol.RateLimitedText))
			continue
		}

		if err := c.processMessage(raw); err != nil {
			c.sessionLog.Warn().Err(err).Msg("Invalid message; closing connection")
			c.enqueuePayload(protocol.NewError(protocol.InvalidMessageText))
			return
		}
	}
}

// teardown unregisters the session and announces the departure when a
// join had succeeded.
func (c *Client) teardown() {
	c.setState(StateClosing)

	if c.username != "" {
		c.hub.registry.Unregister(c.username)
		c.hub.broadcaster.Broadcast(c.room, c.username+" left the room", protocol.SystemSender)
		c.sessionLog.Info().Msg("Client left room")
	}

	c.close()
	c.hub.untrack(c)
	c.setState(StateClosed)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the WebSocket connection, logging only unexpected errors.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn().Err(err).Msg("Error closing connection")
	}
}

// handleMessage writes one outgoing message and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn().Err(err).Msg("Error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	// Each payload is its own frame; clients decode one JSON object per frame.
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("Error writing message")
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("Error writing close message")
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn().Err(err).Msg("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug().Err(err).Msg("Error writing ping message")
		return false
	}
	return true
}
