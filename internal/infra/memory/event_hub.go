package memory

import (
	"context"
	"sync"

	"checkpoint-service/internal/domain"
)

// EventHub fans session events out to in-process subscribers.
// Slow subscribers drop events rather than block publishers.
type EventHub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan domain.Event
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[string]map[int]chan domain.Event)}
}

func (h *EventHub) Publish(_ context.Context, e domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[e.SessionID] {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

func (h *EventHub) Subscribe(_ context.Context, sessionID string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, 16)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int]chan domain.Event)
	}
	h.subs[sessionID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], id)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}
