package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/archive"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

const persistTimeout = 2 * time.Second

// Broadcaster records a room message in history and the archive, then fans
// it out to the room's members.
type Broadcaster struct {
	registry *Registry
	sink     archive.Sink
	now      func() time.Time
	log      zerolog.Logger
}

// NewBroadcaster creates a Broadcaster over registry. A nil sink disables
// persistence.
func NewBroadcaster(registry *Registry, sink archive.Sink, log zerolog.Logger) *Broadcaster {
	if sink == nil {
		sink = archive.Discard()
	}
	return &Broadcaster{
		registry: registry,
		sink:     sink,
		now:      time.Now,
		log:      log,
	}
}

// SetClock replaces the wall clock used for timestamps.
func (b *Broadcaster) SetClock(now func() time.Time) {
	b.now = now
}

// Broadcast delivers text from sender to every member of roomName. The
// whole operation holds the room's mutex, so broadcasts to one room are
// applied in call order. Members whose send queue rejects the payload are
// pruned from the room and disconnected.
func (b *Broadcaster) Broadcast(roomName, text, sender string) {
	rm := b.registry.room(roomName)

	entry := archive.Entry{
		Room:    roomName,
		Sender:  sender,
		Message: text,
		Stamp:   b.now().Format(protocol.TimestampLayout),
	}
	payload, err := protocol.Marshal(protocol.NewChatMessage(sender, text, entry.Stamp))
	if err != nil {
		b.log.Error().Err(err).Str("room", roomName).Msg("Error encoding broadcast payload")
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.history.Append(entry.Line())
	b.persist(entry)

	clients := rm.membersLocked()
	b.log.Debug().Str("room", roomName).Str("sender", sender).Int("targets", len(clients)).Msg("Broadcasting message")

	failed := b.broadcastToClients(clients, payload)
	b.removeFailedClients(rm, failed)
}

// persist writes entry to the archive. Failures are logged and otherwise
// ignored.
func (b *Broadcaster) persist(entry archive.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := b.sink.Append(ctx, entry); err != nil {
		b.log.Warn().Err(err).Str("room", entry.Room).Msg("Error saving message to archive")
	}
}

func (b *Broadcaster) broadcastToClients(clients []*Client, payload []byte) []*Client {
	var failed []*Client
	for _, c := range clients {
		if !c.enqueue(payload) {
			failed = append(failed, c)
		}
	}
	return failed
}

// removeFailedClients drops members that could not take the message and
// closes their send queues. The session mapping is left for the client's
// own teardown to remove. Callers hold rm.mu.
func (b *Broadcaster) removeFailedClients(rm *room, failed []*Client) {
	for _, c := range failed {
		if _, ok := rm.members[c]; !ok {
			continue
		}
		delete(rm.members, c)
		c.close()
		b.log.Warn().Str("room", rm.name).Str("addr", c.addr).Str("client_id", c.id).Msg("Client removed from room after failed delivery")
	}
}
