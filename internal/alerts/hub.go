package alerts

import (
	"sync"

	"go.uber.org/zap"

	"agrivet/m/domain"
)

// Subscriber is one connected alert listener.
type Subscriber struct {
	ID     string
	Alerts chan domain.Alert
}

// Hub fans alerts out to every subscriber. A subscriber whose buffer is full
// misses the alert rather than slowing the sender.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	log         *zap.Logger
}

// NewHub constructs an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{subscribers: make(map[string]*Subscriber), log: log}
}

// Subscribe registers a listener with the given buffer size.
func (h *Hub) Subscribe(id string, buffer int) *Subscriber {
	sub := &Subscriber{ID: id, Alerts: make(chan domain.Alert, buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[id] = sub
	h.log.Debug("alert subscriber registered", zap.String("id", id), zap.Int("total", len(h.subscribers)))
	return sub
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		close(sub.Alerts)
		delete(h.subscribers, id)
		h.log.Debug("alert subscriber unregistered", zap.String("id", id), zap.Int("total", len(h.subscribers)))
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast sends a to all subscribers without blocking.
func (h *Hub) Broadcast(a domain.Alert) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		select {
		case sub.Alerts <- a:
		default:
			h.log.Warn("alert subscriber buffer full, skipping alert", zap.String("id", sub.ID), zap.String("type", string(a.Type)))
		}
	}
}
