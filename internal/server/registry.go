package server

import (
	"sort"
	"sync"
)

// room is one broadcast group. Its mutex serializes membership changes,
// history appends and fan-out for the room.
type room struct {
	name    string
	mu      sync.Mutex
	members map[*Client]struct{}
	history *History
}

func newRoom(name string, historySize int) *room {
	return &room{
		name:    name,
		members: make(map[*Client]struct{}),
		history: NewHistory(historySize),
	}
}

// membersLocked copies the member set. Callers hold rm.mu.
func (rm *room) membersLocked() []*Client {
	clients := make([]*Client, 0, len(rm.members))
	for c := range rm.members {
		clients = append(clients, c)
	}
	return clients
}

// RoomStats describes a room for monitoring.
type RoomStats struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
	History int    `json:"history"`
}

// Registry maps usernames to connections and rooms to their members and
// history. Lock order is Registry.mu before room.mu.
type Registry struct {
	mu          sync.Mutex
	historySize int
	rooms       map[string]*room
	sessions    map[string]*Client
	userRoom    map[string]string
}

// NewRegistry creates an empty registry whose rooms keep historySize
// entries.
func NewRegistry(historySize int) *Registry {
	return &Registry{
		historySize: historySize,
		rooms:       make(map[string]*room),
		sessions:    make(map[string]*Client),
		userRoom:    make(map[string]string),
	}
}

// room returns the named room, creating it if absent. Rooms are never
// removed.
func (r *Registry) room(name string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomLocked(name)
}

func (r *Registry) roomLocked(name string) *room {
	rm, ok := r.rooms[name]
	if !ok {
		rm = newRoom(name, r.historySize)
		r.rooms[name] = rm
	}
	return rm
}

// Register records a session for username in roomName. On success welcome
// is called with the room history while the room is still locked, so
// anything it enqueues precedes every later broadcast to that room. A
// duplicate username returns ErrDuplicateUsername and changes nothing.
func (r *Registry) Register(username, roomName string, c *Client, welcome func(history []string)) error {
	if username == "" || roomName == "" || c == nil {
		return ErrInvalidJoin
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.sessions[username]; taken {
		return ErrDuplicateUsername
	}

	rm := r.roomLocked(roomName)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.members[c] = struct{}{}
	r.sessions[username] = c
	r.userRoom[username] = roomName

	if welcome != nil {
		welcome(rm.history.Snapshot())
	}
	return nil
}

// Unregister drops every mapping for username. Unknown usernames are
// ignored. It reports whether a session was removed.
func (r *Registry) Unregister(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.sessions[username]
	if !ok {
		return false
	}
	roomName := r.userRoom[username]
	delete(r.sessions, username)
	delete(r.userRoom, username)

	if rm, exists := r.rooms[roomName]; exists {
		rm.mu.Lock()
		delete(rm.members, c)
		rm.mu.Unlock()
	}
	return true
}

// Lookup returns the connection and room registered for username.
func (r *Registry) Lookup(username string) (*Client, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.sessions[username]
	if !ok {
		return nil, "", false
	}
	return c, r.userRoom[username], true
}

// MembersOf returns a point-in-time copy of the room's member set. Unknown
// rooms have no members.
func (r *Registry) MembersOf(roomName string) []*Client {
	r.mu.Lock()
	rm, ok := r.rooms[roomName]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.membersLocked()
}

// History returns a copy of the room's history buffer.
func (r *Registry) History(roomName string) []string {
	r.mu.Lock()
	rm, ok := r.rooms[roomName]
	r.mu.Unlock()
	if !ok {
		return []string{}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.history.Snapshot()
}

// SessionCount reports the number of registered usernames.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Rooms lists every room created so far, sorted by name.
func (r *Registry) Rooms() []RoomStats {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	stats := make([]RoomStats, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		stats = append(stats, RoomStats{Name: rm.name, Members: len(rm.members), History: rm.history.Len()})
		rm.mu.Unlock()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
