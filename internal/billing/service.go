// Package billing aggregates billable line items per session into a due
// amount for close-out.
package billing

import (
	"context"

	"github.com/google/uuid"

	"tableside/internal/domain"
)

// Scope selects which billing intent a due computation covers.
type Scope string

const (
	ScopeAll      Scope = "all"      // whole table, used by the close-out guard
	ScopeShared   Scope = "shared"   // the table's shared bill
	ScopeSeparate Scope = "separate" // a diner's own separate-bill orders
)

// OrderSource lists a session's orders; implemented by the ledger repository.
type OrderSource interface {
	ListSessionOrders(ctx context.Context, sessionID uuid.UUID) ([]domain.Order, error)
}

type ServiceInterface interface {
	Bill(ctx context.Context, sessionID uuid.UUID, scope Scope) (domain.BillResponse, error)
	Due(ctx context.Context, sessionID uuid.UUID) (float64, error)
}

type Service struct {
	orders OrderSource
}

func NewService(orders OrderSource) *Service { return &Service{orders: orders} }

// Bill sums unit_price x quantity over the session's billable orders.
// Billable means accepted or ready: carts are not owed yet, completed orders
// are settled, cancelled orders and rejected lines never bill.
func (s *Service) Bill(ctx context.Context, sessionID uuid.UUID, scope Scope) (domain.BillResponse, error) {
	orders, err := s.orders.ListSessionOrders(ctx, sessionID)
	if err != nil {
		return domain.BillResponse{}, err
	}

	resp := domain.BillResponse{SessionID: sessionID}
	for _, o := range orders {
		if !o.Status.Active() {
			continue
		}
		switch scope {
		case ScopeShared:
			if o.SeparateBill {
				continue
			}
		case ScopeSeparate:
			if !o.SeparateBill {
				continue
			}
		}
		resp.Orders = append(resp.Orders, o)
		resp.Due += o.Total()
	}
	return resp, nil
}

// Due is the close-out guard amount: everything still owed on the table,
// shared and separate bills alike.
func (s *Service) Due(ctx context.Context, sessionID uuid.UUID) (float64, error) {
	bill, err := s.Bill(ctx, sessionID, ScopeAll)
	if err != nil {
		return 0, err
	}
	return bill.Due, nil
}
