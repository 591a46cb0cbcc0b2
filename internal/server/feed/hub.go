package feed

import (
	"context"
	"sync"

	"github.com/startuppulse/pulsesync/internal/server/storage"
)

// Hub wakes long-poll waiters when a change is committed
type Hub struct {
	changed chan struct{}
	mu      sync.Mutex
}

// NewHub создает hub
func NewHub() *Hub {
	return &Hub{changed: make(chan struct{})}
}

// Changed возвращает канал, закрываемый при следующем изменении.
// Канал нужно получить до чтения ленты, иначе изменение между чтением и ожиданием теряется.
func (h *Hub) Changed() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changed
}

// Publish будит всех ожидающих
func (h *Hub) Publish(_ context.Context, _ *storage.Document) {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(h.changed)
	h.changed = make(chan struct{})
}
