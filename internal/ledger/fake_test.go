package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tableside/internal/domain"
)

// fakeRepo implements RepositoryInterface in memory with a single lock,
// matching the serialization the Postgres implementation gets from row locks.
type fakeRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
	seq    int
	audit  []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: map[uuid.UUID]*domain.Order{}}
}

func (f *fakeRepo) nextNumber() string {
	f.seq++
	return fmt.Sprintf("ORD_%s_%03d", time.Now().UTC().Format("20060102"), f.seq)
}

func (f *fakeRepo) FindOrCreateCartOrder(_ context.Context, sess domain.Session, separateBill bool) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.SessionID != nil && *o.SessionID == sess.ID && o.SeparateBill == separateBill && o.Status == domain.StatusCart {
			return clone(o), nil
		}
	}
	sid := sess.ID
	o := &domain.Order{
		ID: uuid.New(), Number: f.nextNumber(), SessionID: &sid,
		RestaurantID: sess.RestaurantID, Type: domain.OrderDineIn,
		SeparateBill: separateBill, Status: domain.StatusCart, CreatedAt: time.Now().UTC(),
	}
	f.orders[o.ID] = o
	return clone(o), nil
}

func (f *fakeRepo) CreateTakeawayOrder(_ context.Context, restaurantID int64) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := &domain.Order{
		ID: uuid.New(), Number: f.nextNumber(), RestaurantID: restaurantID,
		Type: domain.OrderTakeaway, Status: domain.StatusCart, CreatedAt: time.Now().UTC(),
	}
	f.orders[o.ID] = o
	return clone(o), nil
}

func (f *fakeRepo) GetOrder(_ context.Context, orderID uuid.UUID) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return clone(o), nil
}

func (f *fakeRepo) ApplyLineDelta(_ context.Context, orderID uuid.UUID, line domain.OrderItem, delta int) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || !o.Status.CustomerMutable() {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	for i := range o.Items {
		if o.Items[i].Key == line.Key {
			o.Items[i].Quantity += delta
			if o.Items[i].Quantity < 0 {
				o.Items[i].Quantity = 0
			}
			return clone(o), nil
		}
	}
	if delta > 0 {
		line.Quantity = delta
		line.Status = domain.ItemPending
		o.Items = append(o.Items, line)
	}
	return clone(o), nil
}

func (f *fakeRepo) RemoveLine(_ context.Context, orderID uuid.UUID, key domain.ItemKey) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || !o.Status.CustomerMutable() {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	items := o.Items[:0]
	for _, it := range o.Items {
		if it.Key != key {
			items = append(items, it)
		}
	}
	o.Items = items
	return clone(o), nil
}

func (f *fakeRepo) CancelLine(_ context.Context, orderID uuid.UUID, key domain.ItemKey, qty int, changedBy string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if o.Status != domain.StatusAccepted {
		return domain.Order{}, domain.E(domain.KindInvalidTransition, "item cancellation applies to accepted orders only")
	}
	for i := range o.Items {
		if o.Items[i].Key == key {
			o.Items[i].Quantity -= qty
			if o.Items[i].Quantity <= 0 {
				o.Items[i].Quantity = 0
				o.Items[i].Status = domain.ItemRejected
			}
			f.audit = append(f.audit, "item_cancelled by "+changedBy)
			return clone(o), nil
		}
	}
	return domain.Order{}, domain.E(domain.KindOrderNotFound, "line not present on order")
}

func (f *fakeRepo) FinalizeTx(_ context.Context, orderID uuid.UUID, admit domain.AdmitFunc) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if o.Status != domain.StatusCart {
		return domain.Order{}, domain.E(domain.KindInvalidTransition, "only cart orders can be finalized")
	}
	var units int
	for _, it := range o.Items {
		units += it.Quantity
	}
	if units == 0 {
		return domain.Order{}, domain.E(domain.KindValidation, "cannot finalize an empty cart")
	}

	active, byCat := f.activeCountsLocked(o.RestaurantID)
	est, err := admit(clone(o), active, byCat)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.StatusAccepted
	o.EstPrepMinutes = est
	readyAt := time.Now().UTC().Add(time.Duration(est) * time.Minute)
	o.EstReadyAt = &readyAt
	for i := range o.Items {
		if o.Items[i].Quantity > 0 {
			o.Items[i].Status = domain.ItemAccepted
		}
	}
	return clone(o), nil
}

func (f *fakeRepo) activeCountsLocked(restaurantID int64) (int, map[string]int) {
	active := 0
	byCat := map[string]int{}
	for _, o := range f.orders {
		if o.RestaurantID != restaurantID || !o.Status.Active() {
			continue
		}
		active++
		for _, it := range o.Items {
			if it.Status != domain.ItemRejected {
				byCat[it.Category] += it.Quantity
			}
		}
	}
	return active, byCat
}

func (f *fakeRepo) TransitionStatus(_ context.Context, orderID uuid.UUID, from, to domain.OrderStatus, changedBy string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if o.Status != from {
		return domain.Order{}, domain.ErrInvalidTransition
	}
	o.Status = to
	if to == domain.StatusReady {
		for i := range o.Items {
			if o.Items[i].Status == domain.ItemAccepted {
				o.Items[i].Status = domain.ItemServed
			}
		}
	}
	f.audit = append(f.audit, string(to)+" by "+changedBy)
	return clone(o), nil
}

func (f *fakeRepo) ListActiveOrders(_ context.Context, restaurantID int64) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if o.RestaurantID == restaurantID && o.Status.Active() {
			out = append(out, clone(o))
		}
	}
	return out, nil
}

func (f *fakeRepo) ListSessionOrders(_ context.Context, sessionID uuid.UUID) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if o.SessionID != nil && *o.SessionID == sessionID {
			out = append(out, clone(o))
		}
	}
	return out, nil
}

func clone(o *domain.Order) domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return c
}

// fakeSessions serves a fixed set of sessions.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]domain.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[uuid.UUID]domain.Session{}}
}

func (f *fakeSessions) add(restaurantID int64, table int) domain.Session {
	s := domain.Session{ID: uuid.New(), RestaurantID: restaurantID, TableNumber: table, CreatedAt: time.Now().UTC()}
	f.mu.Lock()
	f.sessions[s.ID] = s
	f.mu.Unlock()
	return s
}

func (f *fakeSessions) close(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	now := time.Now().UTC()
	s.ClosedAt = &now
	f.sessions[id] = s
}

func (f *fakeSessions) GetSession(_ context.Context, id uuid.UUID) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s, nil
}

// fakeAdmitter wraps a settings value through the same pure decision the
// real controller uses.
type fakeAdmitter struct {
	settings domain.CapacitySettings
}

func (f *fakeAdmitter) Admitter(context.Context, int64) (domain.AdmitFunc, error) {
	settings := f.settings
	return func(order domain.Order, active int, byCat map[string]int) (int, error) {
		if settings.IsPaused {
			return 0, domain.E(domain.KindKitchenPaused, "kitchen intake is paused")
		}
		if active >= settings.MaxActiveOrders {
			return 0, domain.E(domain.KindCapacityExceeded, "kitchen is at its order limit")
		}
		for _, it := range order.Items {
			limit, ok := settings.CategoryLimits[it.Category]
			if ok && byCat[it.Category]+it.Quantity > limit {
				return 0, domain.E(domain.KindCategoryCapacityExceeded, "category is at its limit")
			}
		}
		return settings.DefaultPrepMinutes, nil
	}, nil
}

type fakeEvents struct {
	mu      sync.Mutex
	orders  []domain.Envelope
	tickets []domain.TicketPayload
}

func (f *fakeEvents) PublishOrder(_ context.Context, kind domain.EventKind, o domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, domain.NewEnvelope(kind, o))
	return nil
}

func (f *fakeEvents) PublishTicket(_ context.Context, t domain.TicketPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = append(f.tickets, t)
	return nil
}
