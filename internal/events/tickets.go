package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tableside/internal/common/logger"
	"tableside/internal/connections/rabbitmq"
	"tableside/internal/domain"
)

// TicketRelay consumes the printer queue and renders each ticket as a log
// line. The physical print transport lives outside this system; the relay
// is the boundary it plugs into.
type TicketRelay struct {
	mq *rabbitmq.Client
	lg *logger.Logger
}

func NewTicketRelay(mq *rabbitmq.Client, lg *logger.Logger) *TicketRelay {
	return &TicketRelay{mq: mq, lg: lg}
}

func (r *TicketRelay) Run(ctx context.Context) error {
	msgs, err := r.mq.Consume(rabbitmq.TicketsQueue, "ticket-relay", 8)
	if err != nil {
		return err
	}
	r.lg.Info("relay_consuming", map[string]any{"queue": rabbitmq.TicketsQueue})

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			var t domain.TicketPayload
			if err := json.Unmarshal(d.Body, &t); err != nil {
				r.lg.Error("ticket_decode_failed", err, nil)
				// requeue=false routes the message to the DLQ
				_ = d.Nack(false, false)
				continue
			}
			r.lg.Info("ticket_rendered", map[string]any{
				"kind":         t.Kind,
				"order_number": t.OrderNumber,
				"ticket":       renderTicket(t),
			})
			_ = d.Ack(false)
		}
	}
}

func renderTicket(t domain.TicketPayload) string {
	var b strings.Builder
	switch t.Kind {
	case "bill":
		fmt.Fprintf(&b, "BILL %s", t.OrderNumber)
	default:
		fmt.Fprintf(&b, "TICKET %s", t.OrderNumber)
	}
	if t.TableNumber > 0 {
		fmt.Fprintf(&b, " table %d", t.TableNumber)
	}
	for _, it := range t.Items {
		fmt.Fprintf(&b, " | %dx %s", it.Quantity, it.Name)
	}
	if t.Total > 0 {
		fmt.Fprintf(&b, " | total %.2f", t.Total)
	}
	return b.String()
}
