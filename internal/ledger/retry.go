package ledger

import (
	"errors"

	"tableside/internal/domain"
)

// retryOnStale runs op once and, only when it failed with OrderNotFound,
// invokes reset to refresh the stale order reference and runs op exactly one
// more time. The cap is the whole point: a retried timeout must not spiral
// into runaway order creation, so every stale-reference recovery in the
// ledger goes through this combinator instead of ad hoc call-site loops.
func retryOnStale(op func() (domain.Order, error), reset func() error) (domain.Order, error) {
	o, err := op()
	if err == nil || !errors.Is(err, domain.ErrOrderNotFound) {
		return o, err
	}
	if rerr := reset(); rerr != nil {
		return domain.Order{}, rerr
	}
	return op()
}
