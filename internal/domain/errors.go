package domain

import "errors"

// Kind classifies failures for transport mapping. Handlers translate kinds
// to HTTP statuses; services and repositories never see status codes.
type Kind string

const (
	KindInvalidToken             Kind = "invalid_token"
	KindMissingRestaurant        Kind = "missing_restaurant"
	KindTableDisabled            Kind = "table_disabled"
	KindTableNotFound            Kind = "table_not_found"
	KindSessionClosed            Kind = "session_closed"
	KindSessionNotFound          Kind = "session_not_found"
	KindOrderNotFound            Kind = "order_not_found"
	KindKitchenPaused            Kind = "kitchen_paused"
	KindCapacityExceeded         Kind = "capacity_exceeded"
	KindCategoryCapacityExceeded Kind = "category_capacity_exceeded"
	KindInvalidTransition        Kind = "invalid_transition"
	KindUnauthorized             Kind = "unauthorized"
	KindUnpaidBalance            Kind = "unpaid_balance"
	KindValidation               Kind = "validation_failed"
	KindInternal                 Kind = "internal"
)

// Error is the domain failure type. Two errors match under errors.Is when
// their kinds match, so sentinels below double as match targets.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return string(e.Kind) + ": " + e.Detail
	}
	return string(e.Kind)
}

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func (e *Error) Unwrap() error { return e.cause }

func E(kind Kind, detail string) error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, detail string, cause error) error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// KindOf extracts the kind of err, KindInternal when err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

var (
	ErrOrderNotFound     = E(KindOrderNotFound, "order not found")
	ErrSessionNotFound   = E(KindSessionNotFound, "session not found")
	ErrSessionClosed     = E(KindSessionClosed, "session is closed")
	ErrTableNotFound     = E(KindTableNotFound, "table not found")
	ErrTableDisabled     = E(KindTableDisabled, "table is disabled")
	ErrInvalidTransition = E(KindInvalidTransition, "illegal status transition")
	ErrUnauthorized      = E(KindUnauthorized, "role not permitted")
)
