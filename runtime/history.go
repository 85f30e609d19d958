package runtime

import (
	"chat-relay/domain"
	"sync"
)

// History is the append-only in-memory message log shared by all
// transports. Pollers address it by index, so insertion order is the
// durable index. Compaction clears the sequence atomically with respect
// to concurrent appends; the cumulative chat counter survives clears.
type History struct {
	mu       sync.Mutex
	messages []domain.Message
	counter  uint64
}

func NewHistory() *History {
	return &History{}
}

// Append adds a message to the sequence. Chat messages advance the
// cumulative counter; system notices do not.
func (h *History) Append(m domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, m)
	if m.Kind == domain.KindChat {
		h.counter++
	}
}

// Since returns a copy of the messages at index >= since, plus the current
// sequence length for the caller's next poll.
func (h *History) Since(since int) ([]domain.Message, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := len(h.messages)
	if since < 0 {
		since = 0
	}
	if since >= total {
		return nil, total
	}
	out := make([]domain.Message, total-since)
	copy(out, h.messages[since:])
	return out, total
}

// All copies the full sequence and the cumulative counter, for snapshots.
func (h *History) All() ([]domain.Message, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.Message, len(h.messages))
	copy(out, h.messages)
	return out, h.counter
}

// Clear empties the sequence after a successful compaction write.
// The cumulative counter is deliberately preserved.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = nil
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Counter reports the all-time chat message count.
func (h *History) Counter() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counter
}
