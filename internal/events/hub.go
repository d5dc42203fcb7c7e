package events

import (
	"sync"

	"tableside/internal/common/logger"
	"tableside/internal/domain"
)

// Hub fans envelopes out to connected board displays. Delivery is
// at-most-once per connection: a client whose buffer is full loses the
// event and reconciles through the poll backstop.
type Hub struct {
	lg *logger.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	restaurantID int64
	send         chan domain.Envelope
}

const clientBuffer = 32

func NewHub(lg *logger.Logger) *Hub {
	return &Hub{lg: lg, clients: map[*client]struct{}{}}
}

// Subscribe registers a display scoped to one restaurant and returns its
// event channel plus an unsubscribe func. The channel is closed on
// unsubscribe; ranging over it is the consumer loop.
func (h *Hub) Subscribe(restaurantID int64) (<-chan domain.Envelope, func()) {
	c := &client{restaurantID: restaurantID, send: make(chan domain.Envelope, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			close(c.send)
		})
	}
	return c.send, unsubscribe
}

// Broadcast delivers env to every display of the order's restaurant.
func (h *Hub) Broadcast(env domain.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.restaurantID != env.Order.RestaurantID {
			continue
		}
		select {
		case c.send <- env:
		default:
			// Slow consumer: drop. The poll backstop covers the gap.
			h.lg.Debug("board_event_dropped", map[string]any{
				"restaurant_id": env.Order.RestaurantID, "order_number": env.Order.Number,
			})
		}
	}
}

// ClientCount is used by shutdown logging and tests.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
