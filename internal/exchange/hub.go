package exchange

import (
	"context"
	"sync"

	"marketwatch-go/internal/market"
	"marketwatch-go/internal/metrics"
)

const defaultSubscriberBuffer = 1024

// TickHub fans ticks out to subscriber channels. Delivery is at-most-once: a
// subscriber whose buffer is full misses the tick.
type TickHub struct {
	mu     sync.RWMutex
	subs   map[int]chan market.Tick
	nextID int
	buffer int
}

// NewTickHub builds a hub whose subscriber channels hold buffer ticks.
func NewTickHub(buffer int) *TickHub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &TickHub{subs: make(map[int]chan market.Tick), buffer: buffer}
}

// Subscribe returns a channel of every published tick. The channel is closed
// once ctx is done.
func (h *TickHub) Subscribe(ctx context.Context) <-chan market.Tick {
	ch := make(chan market.Tick, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Publish hands tk to every subscriber without blocking.
func (h *TickHub) Publish(tk market.Tick) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- tk:
		default:
			metrics.TicksDroppedTotal.WithLabelValues(tk.Symbol).Inc()
		}
	}
}

// Len reports the number of live subscribers.
func (h *TickHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
