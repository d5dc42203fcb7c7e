// Package identity turns a scanned table code plus optional caller-held
// context into a canonical table identity.
package identity

import (
	"strconv"

	"github.com/google/uuid"

	"tableside/internal/domain"
)

// Identity is the outcome of one resolution attempt: either a concrete
// (restaurant, table number) pair, or an opaque table id to be looked up.
type Identity struct {
	RestaurantID int64
	TableNumber  int
	TableID      *uuid.UUID

	// DiscardHeld is set when the caller's held context points at a
	// different table than the scanned code. The caller must drop any
	// cart/order state tied to the old context before adopting the new
	// session, otherwise carts leak across tables.
	DiscardHeld bool
}

func (id Identity) Opaque() bool { return id.TableID != nil }

// Resolve parses token. A plain decimal (optionally prefixed with a single
// non-digit marker, which is stripped) is a table number and requires a
// restaurant from the request or the held context, never a guessed default.
// A UUID-shaped token is an opaque table identifier.
func Resolve(token string, held *domain.TableContext, restaurantID int64) (Identity, error) {
	if token == "" {
		return Identity{}, domain.E(domain.KindInvalidToken, "empty scan token")
	}

	if tid, err := uuid.Parse(token); err == nil {
		// Held-context comparison for opaque tokens happens in the session
		// manager once the table row is known.
		return Identity{TableID: &tid}, nil
	}

	num := token
	if !isDigit(rune(num[0])) && len(num) > 1 {
		num = num[1:]
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return Identity{}, domain.E(domain.KindInvalidToken, "token is neither a table number nor a table id")
	}

	rid := restaurantID
	if rid == 0 && held != nil {
		rid = held.RestaurantID
	}
	if rid == 0 {
		return Identity{}, domain.E(domain.KindMissingRestaurant, "numeric table code without restaurant context")
	}

	discard := held != nil && (held.RestaurantID != rid || held.TableNumber != n)
	return Identity{RestaurantID: rid, TableNumber: n, DiscardHeld: discard}, nil
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
