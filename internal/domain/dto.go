package domain

import "github.com/google/uuid"

// Request/response shapes for the HTTP surface. Validation tags are enforced
// by the handlers through go-playground/validator.

type ScanRequest struct {
	Token        string        `json:"token" validate:"required"`
	Held         *TableContext `json:"held_context,omitempty"`
	RestaurantID int64         `json:"restaurant_id,omitempty"`
}

type ScanResponse struct {
	SessionID    uuid.UUID `json:"session_id"`
	RestaurantID int64     `json:"restaurant_id"`
	TableNumber  int       `json:"table_number"`
	IsOccupied   bool      `json:"is_occupied"`
	// DiscardHeld tells the client its held cart context belongs to a
	// different table and must be dropped before adopting this session.
	DiscardHeld bool `json:"discard_held,omitempty"`
}

type AddItemRequest struct {
	MenuItemID   int64   `json:"menu_item_id" validate:"required,gt=0"`
	VariantID    string  `json:"variant_id,omitempty"`
	Name         string  `json:"name" validate:"required"`
	Category     string  `json:"category" validate:"required"`
	UnitPrice    float64 `json:"unit_price" validate:"gt=0"`
	SeparateBill bool    `json:"separate_bill,omitempty"`
}

type ItemKeyRequest struct {
	MenuItemID   int64  `json:"menu_item_id" validate:"required,gt=0"`
	VariantID    string `json:"variant_id,omitempty"`
	SeparateBill bool   `json:"separate_bill,omitempty"`
}

type CancelItemRequest struct {
	MenuItemID int64  `json:"menu_item_id" validate:"required,gt=0"`
	VariantID  string `json:"variant_id,omitempty"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
}

type CartResponse struct {
	Order Order `json:"order"`
}

type CloseSessionRequest struct {
	MarkPaid    bool   `json:"mark_paid"`
	PaymentMode string `json:"payment_mode,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

type BillResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Due       float64   `json:"due"`
	Orders    []Order   `json:"orders"`
}

// ActiveOrder decorates the snapshot with the derived age bucket for boards.
type ActiveOrder struct {
	Order
	Age AgeBucket `json:"age"`
}

type UpdateCapacityRequest struct {
	IsPaused           bool           `json:"is_paused"`
	MaxActiveOrders    int            `json:"max_active_orders" validate:"gt=0"`
	DefaultPrepMinutes int            `json:"default_prep_minutes" validate:"gt=0"`
	CategoryLimits     map[string]int `json:"category_limits,omitempty"`
}

type BoardTokenResponse struct {
	Token     uuid.UUID `json:"token"`
	ExpiresAt string    `json:"expires_at"`
}
