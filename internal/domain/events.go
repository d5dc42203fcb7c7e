package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind tags the envelope union. Adding a kind is a compile-time-checked
// addition in the reconcile switch, not a string comparison chain at call sites.
type EventKind string

const (
	EventOrderCreated EventKind = "order.created"
	EventOrderUpdated EventKind = "order.updated"
)

// Envelope carries the full current order snapshot, never a diff. A display
// that missed intermediate events converges by applying the latest snapshot
// (last-write-wins per order_id).
type Envelope struct {
	EventID    uuid.UUID `json:"event_id"`
	Kind       EventKind `json:"kind"`
	Order      Order     `json:"order"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewEnvelope(kind EventKind, o Order) Envelope {
	return Envelope{EventID: uuid.New(), Kind: kind, Order: o, OccurredAt: time.Now().UTC()}
}

// BoardState is a display's local view, keyed by order id.
type BoardState map[uuid.UUID]Order

// Reconcile is the single dispatch point for board events. Terminal orders
// drop off the board; everything else is replaced wholesale.
func (s BoardState) Reconcile(env Envelope) error {
	switch env.Kind {
	case EventOrderCreated, EventOrderUpdated:
		if env.Order.Status.Terminal() {
			delete(s, env.Order.ID)
			return nil
		}
		s[env.Order.ID] = env.Order
		return nil
	default:
		return fmt.Errorf("unknown event kind %q", env.Kind)
	}
}

// TicketPayload is what the printer collaborator receives on order acceptance
// and on bill close. This core produces the data only, not the print transport.
type TicketPayload struct {
	Kind         string      `json:"kind"` // "order_ticket" | "bill"
	RestaurantID int64       `json:"restaurant_id"`
	TableNumber  int         `json:"table_number,omitempty"`
	OrderNumber  string      `json:"order_number,omitempty"`
	Items        []OrderItem `json:"items"`
	Total        float64     `json:"total"`
	IssuedAt     time.Time   `json:"issued_at"`
}
