// Package server coordinates session registration, room broadcast, and
// connection cleanup for the roomchat WebSocket system via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/archive"
)

// Hub owns the shared room state and every live connection. It replaces
// process-wide globals: handlers and clients reach the registry and the
// broadcaster only through their Hub.
type Hub struct {
	cfg         Config
	log         zerolog.Logger
	registry    *Registry
	broadcaster *Broadcaster

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewHub creates a Hub. sink receives every broadcast entry; nil disables
// persistence.
func NewHub(cfg Config, sink archive.Sink, log zerolog.Logger) *Hub {
	cfg = cfg.Sanitize()
	registry := NewRegistry(cfg.HistorySize)
	return &Hub{
		cfg:         cfg,
		log:         log,
		registry:    registry,
		broadcaster: NewBroadcaster(registry, sink, log.With().Str("component", "broadcaster").Logger()),
		clients:     make(map[*Client]struct{}),
	}
}

// Registry exposes the session and room registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Broadcaster exposes the room broadcaster.
func (h *Hub) Broadcaster() *Broadcaster { return h.broadcaster }

// Config returns the sanitized configuration the hub runs with.
func (h *Hub) Config() Config { return h.cfg }

// Serve starts the read and write pumps for an upgraded connection.
func (h *Hub) Serve(conn *websocket.Conn, addr string) error {
	return h.serve(NewClient(conn, h, addr))
}

func (h *Hub) serve(client *Client) error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.wg.Add(2)
	h.mu.Unlock()

	client.log.Info().Int("connections", clientCount).Msg("Client connected")

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return nil
}

func (h *Hub) untrack(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	clientCount := len(h.clients)
	h.mu.Unlock()

	c.log.Debug().Int("connections", clientCount).Msg("Client disconnected")
}

// ConnectionCount reports the number of live connections, joined or not.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// shutdownClients closes all active client connections. Each read pump then
// fails and runs its normal teardown.
func (h *Hub) shutdownClients() int {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			client.log.Warn().Err(err).Msg("Error closing client connection")
		}
	}
	return len(clients)
}

// Shutdown stops accepting connections, closes the live ones and waits for
// their goroutines, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("Initiating hub shutdown")

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	closed := h.shutdownClients()
	h.log.Info().Int("connections", closed).Msg("Closed client connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
