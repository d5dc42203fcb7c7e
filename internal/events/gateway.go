package events

import (
	"context"
	"encoding/json"

	"tableside/internal/common/logger"
	"tableside/internal/connections/rabbitmq"
	"tableside/internal/domain"
)

// Gateway drains the boards queue into the hub. One gateway instance per
// board-gateway process; the fanout exchange gives every instance the full
// stream.
type Gateway struct {
	mq  *rabbitmq.Client
	hub *Hub
	lg  *logger.Logger
}

func NewGateway(mq *rabbitmq.Client, hub *Hub, lg *logger.Logger) *Gateway {
	return &Gateway{mq: mq, hub: hub, lg: lg}
}

func (g *Gateway) Run(ctx context.Context) error {
	msgs, err := g.mq.ConsumeBroadcast("board-gateway", 16)
	if err != nil {
		return err
	}
	g.lg.Info("gateway_consuming", map[string]any{"exchange": rabbitmq.BoardsExchange})

	for {
		select {
		case <-ctx.Done():
			g.lg.Info("gateway_shutdown", map[string]any{"clients": g.hub.ClientCount()})
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			var env domain.Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				// Unparseable events are dropped; the poll backstop holds.
				g.lg.Error("event_decode_failed", err, nil)
				_ = d.Ack(false)
				continue
			}
			g.hub.Broadcast(env)
			_ = d.Ack(false)
		}
	}
}
