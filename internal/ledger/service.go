// Package ledger is the mutation engine for carts and order items, and the
// owner of the order status state machine.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tableside/internal/common/logger"
	"tableside/internal/domain"
)

// SessionSource resolves sessions; implemented by the session service.
type SessionSource interface {
	GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error)
}

// Admitter builds the capacity decision for one restaurant; implemented by
// the capacity controller.
type Admitter interface {
	Admitter(ctx context.Context, restaurantID int64) (domain.AdmitFunc, error)
}

// EventSink publishes order snapshots and ticket payloads.
type EventSink interface {
	PublishOrder(ctx context.Context, kind domain.EventKind, o domain.Order) error
	PublishTicket(ctx context.Context, t domain.TicketPayload) error
}

type ServiceInterface interface {
	AddItem(ctx context.Context, sessionID uuid.UUID, req domain.AddItemRequest) (domain.Order, error)
	DecrementItem(ctx context.Context, sessionID uuid.UUID, req domain.ItemKeyRequest) (domain.Order, error)
	RemoveItem(ctx context.Context, sessionID uuid.UUID, req domain.ItemKeyRequest) (domain.Order, error)
	CancelOrderItem(ctx context.Context, orderID uuid.UUID, req domain.CancelItemRequest, role domain.Role) (domain.Order, error)
	Finalize(ctx context.Context, orderID uuid.UUID) (domain.Order, error)
	MarkReady(ctx context.Context, orderID uuid.UUID, role domain.Role) (domain.Order, error)
	Complete(ctx context.Context, orderID uuid.UUID, role domain.Role) (domain.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, role domain.Role) (domain.Order, error)
	StartTakeaway(ctx context.Context, restaurantID int64) (domain.Order, error)
	AddItemToOrder(ctx context.Context, orderID uuid.UUID, req domain.AddItemRequest) (domain.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error)
	ActiveOrders(ctx context.Context, restaurantID int64) ([]domain.ActiveOrder, error)
}

type Service struct {
	repo     RepositoryInterface
	sessions SessionSource
	capacity Admitter
	events   EventSink
	lg       *logger.Logger
}

func NewService(repo RepositoryInterface, sessions SessionSource, capacity Admitter, events EventSink, lg *logger.Logger) *Service {
	return &Service{repo: repo, sessions: sessions, capacity: capacity, events: events, lg: lg}
}

// AddItem increments the line for the request's key by one, creating the
// session's cart order first when none exists. The unit price is stored as
// supplied: a snapshot, never recomputed from the catalog.
func (s *Service) AddItem(ctx context.Context, sessionID uuid.UUID, req domain.AddItemRequest) (domain.Order, error) {
	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return domain.Order{}, err
	}

	line := domain.OrderItem{
		Key:       domain.ItemKey{MenuItemID: req.MenuItemID, VariantID: req.VariantID},
		Name:      req.Name,
		Category:  req.Category,
		UnitPrice: req.UnitPrice,
	}

	order, err := s.repo.FindOrCreateCartOrder(ctx, sess, req.SeparateBill)
	if err != nil {
		return domain.Order{}, err
	}
	orderID := order.ID

	return retryOnStale(
		func() (domain.Order, error) { return s.repo.ApplyLineDelta(ctx, orderID, line, +1) },
		func() error {
			// The referenced order was finalized or reset underneath us;
			// start a fresh cart and re-apply the same delta there.
			fresh, err := s.repo.FindOrCreateCartOrder(ctx, sess, req.SeparateBill)
			if err != nil {
				return err
			}
			orderID = fresh.ID
			return nil
		},
	)
}

func (s *Service) DecrementItem(ctx context.Context, sessionID uuid.UUID, req domain.ItemKeyRequest) (domain.Order, error) {
	return s.mutateLine(ctx, sessionID, req, func(orderID uuid.UUID) (domain.Order, error) {
		line := domain.OrderItem{Key: domain.ItemKey{MenuItemID: req.MenuItemID, VariantID: req.VariantID}}
		return s.repo.ApplyLineDelta(ctx, orderID, line, -1)
	})
}

func (s *Service) RemoveItem(ctx context.Context, sessionID uuid.UUID, req domain.ItemKeyRequest) (domain.Order, error) {
	return s.mutateLine(ctx, sessionID, req, func(orderID uuid.UUID) (domain.Order, error) {
		return s.repo.RemoveLine(ctx, orderID, domain.ItemKey{MenuItemID: req.MenuItemID, VariantID: req.VariantID})
	})
}

func (s *Service) mutateLine(ctx context.Context, sessionID uuid.UUID, req domain.ItemKeyRequest, op func(uuid.UUID) (domain.Order, error)) (domain.Order, error) {
	sess, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.FindOrCreateCartOrder(ctx, sess, req.SeparateBill)
	if err != nil {
		return domain.Order{}, err
	}
	orderID := order.ID
	return retryOnStale(
		func() (domain.Order, error) { return op(orderID) },
		func() error {
			fresh, err := s.repo.FindOrCreateCartOrder(ctx, sess, req.SeparateBill)
			if err != nil {
				return err
			}
			orderID = fresh.ID
			return nil
		},
	)
}

// CancelOrderItem is the post-placement cancellation path: staff only,
// audited, distinct from a pre-placement decrement.
func (s *Service) CancelOrderItem(ctx context.Context, orderID uuid.UUID, req domain.CancelItemRequest, role domain.Role) (domain.Order, error) {
	if !role.Staff() {
		return domain.Order{}, domain.ErrUnauthorized
	}
	key := domain.ItemKey{MenuItemID: req.MenuItemID, VariantID: req.VariantID}
	order, err := s.repo.CancelLine(ctx, orderID, key, req.Quantity, string(role))
	if err != nil {
		return domain.Order{}, err
	}
	s.publish(ctx, domain.EventOrderUpdated, order)
	return order, nil
}

// Finalize moves cart -> accepted, gated by the capacity admission decision
// evaluated atomically with the flip. A rejection leaves the order in cart
// state with its items unchanged.
func (s *Service) Finalize(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	current, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	admit, err := s.capacity.Admitter(ctx, current.RestaurantID)
	if err != nil {
		return domain.Order{}, err
	}

	order, err := s.repo.FinalizeTx(ctx, orderID, admit)
	if err != nil {
		return domain.Order{}, err
	}

	s.lg.Info("order_accepted", map[string]any{
		"order_number": order.Number, "restaurant_id": order.RestaurantID,
		"est_prep_minutes": order.EstPrepMinutes,
	})
	s.publish(ctx, domain.EventOrderCreated, order)
	s.publishTicket(ctx, order)
	return order, nil
}

func (s *Service) MarkReady(ctx context.Context, orderID uuid.UUID, role domain.Role) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.StatusAccepted, domain.StatusReady, role)
}

func (s *Service) Complete(ctx context.Context, orderID uuid.UUID, role domain.Role) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.StatusReady, domain.StatusCompleted, role)
}

// Cancel is the staff correction path, legal from cart or accepted.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, role domain.Role) (domain.Order, error) {
	current, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return s.transition(ctx, orderID, current.Status, domain.StatusCancelled, role)
}

func (s *Service) transition(ctx context.Context, orderID uuid.UUID, from, to domain.OrderStatus, role domain.Role) (domain.Order, error) {
	if !domain.CanTransition(from, to) {
		return domain.Order{}, domain.ErrInvalidTransition
	}
	if !domain.TransitionAllowed(from, to, role) {
		return domain.Order{}, domain.ErrUnauthorized
	}
	order, err := s.repo.TransitionStatus(ctx, orderID, from, to, string(role))
	if err != nil {
		return domain.Order{}, err
	}
	s.lg.Info("order_status_changed", map[string]any{
		"order_number": order.Number, "from": from, "to": to, "by": role,
	})
	s.publish(ctx, domain.EventOrderUpdated, order)
	return order, nil
}

// StartTakeaway opens a sessionless cart that runs the same state machine.
func (s *Service) StartTakeaway(ctx context.Context, restaurantID int64) (domain.Order, error) {
	return s.repo.CreateTakeawayOrder(ctx, restaurantID)
}

// AddItemToOrder mutates an order addressed directly (takeaway flow).
func (s *Service) AddItemToOrder(ctx context.Context, orderID uuid.UUID, req domain.AddItemRequest) (domain.Order, error) {
	line := domain.OrderItem{
		Key:       domain.ItemKey{MenuItemID: req.MenuItemID, VariantID: req.VariantID},
		Name:      req.Name,
		Category:  req.Category,
		UnitPrice: req.UnitPrice,
	}
	return s.repo.ApplyLineDelta(ctx, orderID, line, +1)
}

func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// ActiveOrders is the poll backstop for boards: full snapshots with the
// derived age bucket. Separate-bill orders stay visible here; the split
// only affects bill aggregation.
func (s *Service) ActiveOrders(ctx context.Context, restaurantID int64) ([]domain.ActiveOrder, error) {
	orders, err := s.repo.ListActiveOrders(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]domain.ActiveOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, domain.ActiveOrder{Order: o, Age: domain.AgeOf(o.CreatedAt, now)})
	}
	return out, nil
}

func (s *Service) activeSession(ctx context.Context, sessionID uuid.UUID) (domain.Session, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if !sess.Active() {
		return domain.Session{}, domain.ErrSessionClosed
	}
	return sess, nil
}

// event publication is an optimization for latency, not the source of truth;
// failures are logged and the poll backstop covers the gap.
func (s *Service) publish(ctx context.Context, kind domain.EventKind, order domain.Order) {
	if err := s.events.PublishOrder(ctx, kind, order); err != nil {
		s.lg.Error("event_publish_failed", err, map[string]any{"order_number": order.Number, "kind": kind})
	}
}

func (s *Service) publishTicket(ctx context.Context, order domain.Order) {
	ticket := domain.TicketPayload{
		Kind:         "order_ticket",
		RestaurantID: order.RestaurantID,
		OrderNumber:  order.Number,
		Items:        order.Items,
		Total:        order.Total(),
		IssuedAt:     time.Now().UTC(),
	}
	if order.SessionID != nil {
		if sess, err := s.sessions.GetSession(ctx, *order.SessionID); err == nil {
			ticket.TableNumber = sess.TableNumber
		}
	}
	if err := s.events.PublishTicket(ctx, ticket); err != nil {
		s.lg.Error("ticket_publish_failed", err, map[string]any{"order_number": order.Number})
	}
}
