package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/tasklog/internal/audit"
)

// TypeLogServed is published once per answered log command.
const TypeLogServed = "log.served"

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a ring buffer so late readers can catch up.
type Hub struct {
	seq atomic.Int64

	mu    sync.Mutex
	ring  []Event
	head  int
	count int

	subs    map[int]chan Event
	nextSub int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish stores and fans out an event. Slow subscribers miss events rather
// than block the publisher.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   h.seq.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Record implements audit.Recorder.
func (h *Hub) Record(_ context.Context, e audit.Entry) error {
	h.Publish(TypeLogServed, e)
	return nil
}

// Subscribe returns a live feed and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Since returns buffered events with ID > lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := 0; i < h.count; i++ {
		ev := h.ring[(h.head+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) appendLocked(ev Event) {
	if h.count < len(h.ring) {
		h.ring[(h.head+h.count)%len(h.ring)] = ev
		h.count++
		return
	}
	// Full: overwrite the oldest.
	h.ring[h.head] = ev
	h.head = (h.head + 1) % len(h.ring)
}
