// Package handlers is the HTTP surface: decode, validate, dispatch to the
// services, map domain errors to statuses. No business rules live here.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"tableside/internal/billing"
	"tableside/internal/capacity"
	"tableside/internal/common/logger"
	"tableside/internal/domain"
	"tableside/internal/events"
	"tableside/internal/identity"
	"tableside/internal/ledger"
	"tableside/internal/session"
)

type Handler struct {
	sessions session.ServiceInterface
	orders   ledger.ServiceInterface
	bills    billing.ServiceInterface
	capacity capacity.ControllerInterface
	tokens   *events.TokenManager
	hub      *events.Hub
	validate *validator.Validate
	lg       *logger.Logger
}

func New(
	sessions session.ServiceInterface,
	orders ledger.ServiceInterface,
	bills billing.ServiceInterface,
	capCtl capacity.ControllerInterface,
	tokens *events.TokenManager,
	hub *events.Hub,
	lg *logger.Logger,
) *Handler {
	return &Handler{
		sessions: sessions, orders: orders, bills: bills, capacity: capCtl,
		tokens: tokens, hub: hub,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		lg:       lg,
	}
}

// NewBoardOnly builds the handler set the standalone board gateway serves:
// token issue plus the websocket endpoint, nothing order-facing.
func NewBoardOnly(tokens *events.TokenManager, hub *events.Hub, lg *logger.Logger) *Handler {
	return &Handler{
		tokens: tokens, hub: hub,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		lg:       lg,
	}
}

// BoardRouter exposes only the board surface.
func (h *Handler) BoardRouter() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/boards/token", h.issueBoardToken)
	mux.HandleFunc("GET /ws/boards", h.serveBoard)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return logRequests(h.lg, mux)
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/tables/scan", h.scanTable)

	mux.HandleFunc("POST /api/v1/sessions/{session_id}/items", h.addItem)
	mux.HandleFunc("POST /api/v1/sessions/{session_id}/items/decrement", h.decrementItem)
	mux.HandleFunc("DELETE /api/v1/sessions/{session_id}/items", h.removeItem)
	mux.HandleFunc("GET /api/v1/sessions/{session_id}/bill", h.bill)
	mux.HandleFunc("POST /api/v1/sessions/{session_id}/close", h.closeSession)

	mux.HandleFunc("POST /api/v1/orders/takeaway", h.startTakeaway)
	mux.HandleFunc("GET /api/v1/orders/{order_id}", h.getOrder)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/items", h.addItemToOrder)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/items/cancel", h.cancelOrderItem)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/finalize", h.finalizeOrder)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/ready", h.markReady)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/complete", h.completeOrder)
	mux.HandleFunc("POST /api/v1/orders/{order_id}/cancel", h.cancelOrder)

	mux.HandleFunc("GET /api/v1/restaurants/{restaurant_id}/orders/active", h.activeOrders)
	mux.HandleFunc("GET /api/v1/restaurants/{restaurant_id}/capacity", h.getCapacity)
	mux.HandleFunc("PUT /api/v1/restaurants/{restaurant_id}/capacity", h.putCapacity)

	mux.HandleFunc("POST /api/v1/boards/token", h.issueBoardToken)
	mux.HandleFunc("GET /ws/boards", h.serveBoard)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return logRequests(h.lg, mux)
}

// decode unmarshals and validates the request body in one step.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.E(domain.KindValidation, "malformed request body")
	}
	if err := h.validate.Struct(dst); err != nil {
		return domain.E(domain.KindValidation, err.Error())
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, domain.E(domain.KindValidation, name+" is not a valid id")
	}
	return id, nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	n, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || n <= 0 {
		return 0, domain.E(domain.KindValidation, name+" is not a valid identifier")
	}
	return n, nil
}

func (h *Handler) scanTable(w http.ResponseWriter, r *http.Request) {
	var req domain.ScanRequest
	if err := h.decode(r, &req); err != nil {
		writeProblem(w, err)
		return
	}
	ident, err := identity.Resolve(req.Token, req.Held, req.RestaurantID)
	if err != nil {
		writeProblem(w, err)
		return
	}
	resp, err := h.sessions.StartSession(r.Context(), ident, req.Held)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUUID(r, "session_id")
	if err != nil {
		writeProblem(w, err)
		return
	}
	var req domain.AddItemRequest
	if err := h.decode(r, &req); err != nil {
		writeProblem(w, err)
		return
	}
	order, err := h.orders.AddItem(r.Context(), sessionID, req)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CartResponse{Order: order})
}

func (h *Handler) decrementItem(w http.ResponseWriter, r *http.Request) {
	h.lineMutation(w, r, h.orders.DecrementItem)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	h.lineMutation(w, r, h.orders.RemoveItem)
}

func (h *Handler) lineMutation(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, sessionID uuid.UUID, req domain.ItemKeyRequest) (domain.Order, error)) {
	sessionID, err := pathUUID(r, "session_id")
	if err != nil {
		writeProblem(w, err)
		return
	}
	var req domain.ItemKeyRequest
	if err := h.decode(r, &req); err != nil {
		writeProblem(w, err)
		return
	}
	order, err := op(r.Context(), sessionID, req)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CartResponse{Order: order})
}

func (h *Handler) bill(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUUID(r, "session_id")
	if err != nil {
		writeProblem(w, err)
		return
	}
	scope := billing.Scope(r.URL.Query().Get("scope"))
	switch scope {
	case "":
		scope = billing.ScopeAll
	case billing.ScopeAll, billing.ScopeShared, billing.ScopeSeparate:
	default:
		writeProblem(w, domain.E(domain.KindValidation, "scope must be all, shared or separate"))
		return
	}
	resp, err := h.bills.Bill(r.Context(), sessionID, scope)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathUUID(r, "session_id")
	if err != nil {
		writeProblem(w, err)
		return
	}
	var req domain.CloseSessionRequest
	if err := h.decode(r, &req); err != nil {
		writeProblem(w, err)
		return
	}
	if err := h.sessions.EndSession(r.Context(), sessionID, req, roleFrom(r)); err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *Handler) startTakeaway(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RestaurantID int64 `json:"restaurant_id" validate:"required,gt=0"`
	}
	if err := h.decode(r, &req); err != nil {
		writeProblem(w, err)
		return
	}
	order, err := h.orders.StartTakeaway(r.Context(), req.RestaurantID)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.CartResponse{Order: order})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "order_id")
	if err != nil {
		writeProblem(w, err)
		return
	}
	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CartResponse{Order: order})
}

func (h *Handler) addItemToOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "order_id")
	if err != nil {
		writeProblem(w, err)
		return
	}
	var req domain.AddItemRequest
	if err := h.decode(r, &req); err != nil {
		writeProblem(w, err)
		return
	}
	order, err := h.orders.AddItemToOrder(r.Context(), orderID, req)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CartResponse{Order: order})
}

func (h *Handler) cancelOrderItem(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "order_id")
	if err != nil {
		writeProblem(w, err)
		return
	}
	var req domain.CancelItemRequest
	if err := h.decode(r, &req); err != nil {
		writeProblem(w, err)
		return
	}
	order, err := h.orders.CancelOrderItem(r.Context(), orderID, req, roleFrom(r))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CartResponse{Order: order})
}

func (h *Handler) finalizeOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, _ domain.Role) (domain.Order, error) {
		return h.orders.Finalize(r.Context(), id)
	})
}

func (h *Handler) markReady(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, role domain.Role) (domain.Order, error) {
		return h.orders.MarkReady(r.Context(), id, role)
	})
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, role domain.Role) (domain.Order, error) {
		return h.orders.Complete(r.Context(), id, role)
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, role domain.Role) (domain.Order, error) {
		return h.orders.Cancel(r.Context(), id, role)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	op func(uuid.UUID, domain.Role) (domain.Order, error)) {
	orderID, err := pathUUID(r, "order_id")
	if err != nil {
		writeProblem(w, err)
		return
	}
	order, err := op(orderID, roleFrom(r))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CartResponse{Order: order})
}

func (h *Handler) activeOrders(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := pathInt64(r, "restaurant_id")
	if err != nil {
		writeProblem(w, err)
		return
	}
	orders, err := h.orders.ActiveOrders(r.Context(), restaurantID)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
}

func (h *Handler) getCapacity(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := pathInt64(r, "restaurant_id")
	if err != nil {
		writeProblem(w, err)
		return
	}
	settings, err := h.capacity.Settings(r.Context(), restaurantID)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) putCapacity(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := pathInt64(r, "restaurant_id")
	if err != nil {
		writeProblem(w, err)
		return
	}
	var req domain.UpdateCapacityRequest
	if err := h.decode(r, &req); err != nil {
		writeProblem(w, err)
		return
	}
	settings, err := h.capacity.UpdateSettings(r.Context(), restaurantID, req, roleFrom(r))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) issueBoardToken(w http.ResponseWriter, r *http.Request) {
	tok, exp, err := h.tokens.Issue(roleFrom(r))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.BoardTokenResponse{
		Token:     tok,
		ExpiresAt: exp.UTC().Format(time.RFC3339),
	})
}
