package browser

import (
	"sync"

	"github.com/rs/zerolog"
)

const hubBacklog = 16

// hub fans out session events to subscribers. Events published since the
// last Mark are replayed to new subscribers, so a capture that starts after
// the transfer finished still sees it.
type hub[T any] struct {
	kind   string
	logger zerolog.Logger

	mu      sync.Mutex
	backlog []T
	subs    map[int]chan T
	nextID  int
	dropped int
}

func newHub[T any](kind string, logger zerolog.Logger) *hub[T] {
	return &hub[T]{kind: kind, logger: logger, subs: make(map[int]chan T)}
}

// Publish records ev and delivers it to every subscriber without blocking.
// A subscriber whose buffer is full misses ev; the miss is logged.
func (h *hub[T]) Publish(ev T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backlog = append(h.backlog, ev)
	if len(h.backlog) > hubBacklog {
		h.backlog = h.backlog[len(h.backlog)-hubBacklog:]
	}
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
			h.logger.Warn().Str("kind", h.kind).Int("subscriber", id).Int("dropped", h.dropped).
				Msg("browser: subscriber buffer full, event dropped")
		}
	}
}

// Dropped counts events a subscriber missed because its buffer was full.
func (h *hub[T]) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Mark forgets the backlog; events from before a new job are never replayed.
func (h *hub[T]) Mark() {
	h.mu.Lock()
	h.backlog = nil
	h.mu.Unlock()
}

// Subscribe returns a channel of events since the last Mark followed by live
// events, and a function that releases the subscription.
func (h *hub[T]) Subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan T, hubBacklog*2)
	for _, ev := range h.backlog {
		ch <- ev
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}
