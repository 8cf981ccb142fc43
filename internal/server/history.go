package server

// History is a fixed-capacity FIFO of formatted room entries. It is not
// safe for concurrent use; the owning room's mutex guards it.
type History struct {
	entries []string
	start   int
	size    int
}

// NewHistory returns an empty buffer holding at most capacity entries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{entries: make([]string, capacity)}
}

// Append adds entry, evicting the oldest one when the buffer is full.
func (h *History) Append(entry string) {
	capacity := len(h.entries)
	if h.size < capacity {
		h.entries[(h.start+h.size)%capacity] = entry
		h.size++
		return
	}
	h.entries[h.start] = entry
	h.start = (h.start + 1) % capacity
}

// Snapshot copies the buffer, oldest first. The result is never nil.
func (h *History) Snapshot() []string {
	out := make([]string, h.size)
	for i := range out {
		out[i] = h.entries[(h.start+i)%len(h.entries)]
	}
	return out
}

// Len reports the number of stored entries.
func (h *History) Len() int { return h.size }

// Cap reports the buffer capacity.
func (h *History) Cap() int { return len(h.entries) }
