package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role comes from the auth collaborator via the gateway; this core only
// checks it, it never authenticates.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleKitchen  Role = "kitchen"
	RoleCashier  Role = "cashier"
	RoleManager  Role = "manager"
	RoleOwner    Role = "owner"
)

func (r Role) Staff() bool { return r != RoleCustomer && r != "" }

func (r Role) CanEditSettings() bool { return r == RoleManager || r == RoleOwner }

// TableContext is the caller-held identity from a prior visit. It is an
// explicit value passed per request, not ambient client storage.
type TableContext struct {
	RestaurantID int64 `json:"restaurant_id"`
	TableNumber  int   `json:"table_number"`
}

// Session is one occupancy of a table, spanning possibly many orders.
type Session struct {
	ID           uuid.UUID  `json:"session_id"`
	RestaurantID int64      `json:"restaurant_id"`
	TableNumber  int        `json:"table_number"`
	TableID      *uuid.UUID `json:"table_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	PaymentMode  string     `json:"payment_mode,omitempty"`
}

func (s Session) Active() bool { return s.ClosedAt == nil }

type OrderType string

const (
	OrderDineIn   OrderType = "dine_in"
	OrderTakeaway OrderType = "takeaway"
)

// ItemKey identifies one line within an order. VariantID is empty when the
// menu item has no variants.
type ItemKey struct {
	MenuItemID int64  `json:"menu_item_id"`
	VariantID  string `json:"variant_id,omitempty"`
}

// OrderItem is one line in an order. UnitPrice is snapshotted at add time and
// never re-derived from the catalog.
type OrderItem struct {
	Key       ItemKey    `json:"key"`
	Name      string     `json:"name"`
	Category  string     `json:"category"`
	Quantity  int        `json:"quantity"`
	UnitPrice float64    `json:"unit_price"`
	Status    ItemStatus `json:"status"`
}

func (i OrderItem) LineTotal() float64 { return float64(i.Quantity) * i.UnitPrice }

// Order is one basket tied to a session (nil SessionID for takeaway).
type Order struct {
	ID             uuid.UUID   `json:"order_id"`
	Number         string      `json:"order_number"`
	SessionID      *uuid.UUID  `json:"session_id,omitempty"`
	RestaurantID   int64       `json:"restaurant_id"`
	Type           OrderType   `json:"order_type"`
	SeparateBill   bool        `json:"separate_bill"`
	Status         OrderStatus `json:"status"`
	Items          []OrderItem `json:"items"`
	CreatedAt      time.Time   `json:"created_at"`
	EstPrepMinutes int         `json:"estimated_prep_minutes,omitempty"`
	EstReadyAt     *time.Time  `json:"estimated_ready_at,omitempty"`
}

func (o Order) Total() float64 {
	var t float64
	for _, it := range o.Items {
		if it.Status != ItemRejected {
			t += it.LineTotal()
		}
	}
	return t
}

// Item returns the line for key, nil when absent. Quantity 0 counts as absent.
func (o Order) Item(key ItemKey) *OrderItem {
	for i := range o.Items {
		if o.Items[i].Key == key && o.Items[i].Quantity > 0 {
			return &o.Items[i]
		}
	}
	return nil
}

// CapacitySettings is the restaurant-wide admission configuration. Mutated
// only by manager/owner roles, read on every admission decision.
type CapacitySettings struct {
	RestaurantID       int64          `json:"restaurant_id"`
	IsPaused           bool           `json:"is_paused"`
	MaxActiveOrders    int            `json:"max_active_orders"`
	DefaultPrepMinutes int            `json:"default_prep_minutes"`
	CategoryLimits     map[string]int `json:"category_limits"`
}

// AdmitFunc is the capacity decision evaluated inside the finalize
// transaction, against counts that cannot move under the row locks it holds.
// It returns the prep estimate in minutes, or the admission error.
type AdmitFunc func(order Order, activeOrders int, activeItemsByCategory map[string]int) (int, error)

// Table is the dine-in anchor a scan code resolves to.
type Table struct {
	ID           uuid.UUID
	RestaurantID int64
	Number       int
	Enabled      bool
}
