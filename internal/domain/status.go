package domain

import "time"

type OrderStatus string

const (
	StatusCart      OrderStatus = "cart"
	StatusAccepted  OrderStatus = "accepted"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

// Active reports whether the order occupies kitchen capacity.
func (s OrderStatus) Active() bool { return s == StatusAccepted || s == StatusReady }

func (s OrderStatus) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// CustomerMutable reports whether the customer may still edit items.
func (s OrderStatus) CustomerMutable() bool { return s == StatusCart }

type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemAccepted ItemStatus = "accepted"
	ItemRejected ItemStatus = "rejected"
	ItemServed   ItemStatus = "served"
)

// legal order transitions; everything absent here is rejected. No backward
// moves: a mistake is corrected by cancel + reorder, never by reverting.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusCart:     {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusReady, StatusCancelled},
	StatusReady:    {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal state-machine move.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionAllowed checks both legality and authorization of a move.
// cart->accepted is the customer's own finalize; everything else is staff.
func TransitionAllowed(from, to OrderStatus, role Role) bool {
	if !CanTransition(from, to) {
		return false
	}
	switch {
	case from == StatusCart && to == StatusAccepted:
		return true // finalize is open to the ordering customer
	case from == StatusAccepted && to == StatusReady:
		return role == RoleKitchen || role == RoleManager || role == RoleOwner
	case to == StatusCancelled, to == StatusCompleted:
		return role.Staff()
	}
	return false
}

var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemPending:  {ItemAccepted, ItemRejected},
	ItemAccepted: {ItemServed, ItemRejected},
}

func CanTransitionItem(from, to ItemStatus) bool {
	for _, next := range itemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AgeBucket is display urgency, derived on read and never persisted.
type AgeBucket string

const (
	AgeNew       AgeBucket = "new"
	AgeAttention AgeBucket = "attention"
	AgeDelayed   AgeBucket = "delayed"
)

func AgeOf(createdAt, now time.Time) AgeBucket {
	age := now.Sub(createdAt)
	switch {
	case age <= 5*time.Minute:
		return AgeNew
	case age <= 15*time.Minute:
		return AgeAttention
	default:
		return AgeDelayed
	}
}
