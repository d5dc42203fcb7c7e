// Package events is the propagation channel between the ledger and the
// staff displays: AMQP fan-out on the publish side, WebSocket push on the
// delivery side. It is a latency optimization; the active-orders poll is
// the correctness backstop.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"tableside/internal/connections/rabbitmq"
	"tableside/internal/domain"
)

type Publisher struct {
	mq *rabbitmq.Client
}

func NewPublisher(mq *rabbitmq.Client) *Publisher { return &Publisher{mq: mq} }

// PublishOrder sends the full order snapshot, never a diff. Topic for
// routed consumers, fanout for the board gateways.
func (p *Publisher) PublishOrder(ctx context.Context, kind domain.EventKind, o domain.Order) error {
	env := domain.NewEnvelope(kind, o)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	headers := amqp.Table{"x-source": "tableside-api"}

	key := fmt.Sprintf("boards.%d.%s", o.RestaurantID, kind)
	if err := p.mq.Publish(ctx, rabbitmq.OrdersExchange, key, body, headers); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	if err := p.mq.Publish(ctx, rabbitmq.BoardsExchange, "", body, headers); err != nil {
		return fmt.Errorf("publish to boards fanout: %w", err)
	}
	return nil
}

// PublishTicket hands a rendered ticket payload to the printer collaborator
// queue. This core produces the data only; the print transport is elsewhere.
func (p *Publisher) PublishTicket(ctx context.Context, t domain.TicketPayload) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}
	if err := p.mq.Publish(ctx, "", rabbitmq.TicketsQueue, body, amqp.Table{"x-source": "tableside-api"}); err != nil {
		return fmt.Errorf("publish ticket: %w", err)
	}
	return nil
}
