// Package server implements the roomchat WebSocket service.
//
// Clients join a named room with a unique username, receive the room's
// recent history, and exchange messages with the other members of that
// room. The implementation is organized into specialized files for the
// history buffer, the session and room registry, the broadcaster, the
// per-connection lifecycle, the hub that owns them, and the HTTP wiring.
package server
