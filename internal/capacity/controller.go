// Package capacity is the admission-control engine: it decides whether a
// cart may become an active kitchen order and what ETA to promise.
package capacity

import (
	"context"
	"math"
	"sync"
	"time"

	"tableside/internal/common/logger"
	"tableside/internal/domain"
)

// Defaults apply to restaurants without a stored settings row.
type Defaults struct {
	MaxActiveOrders    int
	DefaultPrepMinutes int
}

type ControllerInterface interface {
	Settings(ctx context.Context, restaurantID int64) (domain.CapacitySettings, error)
	UpdateSettings(ctx context.Context, restaurantID int64, req domain.UpdateCapacityRequest, role domain.Role) (domain.CapacitySettings, error)
	Admitter(ctx context.Context, restaurantID int64) (domain.AdmitFunc, error)
}

type Controller struct {
	repo     SettingsRepositoryInterface
	defaults Defaults
	ttl      time.Duration
	lg       *logger.Logger

	mu    sync.Mutex
	cache map[int64]cached
}

type cached struct {
	settings domain.CapacitySettings
	fetched  time.Time
}

func NewController(repo SettingsRepositoryInterface, defaults Defaults, ttl time.Duration, lg *logger.Logger) *Controller {
	return &Controller{repo: repo, defaults: defaults, ttl: ttl, lg: lg, cache: map[int64]cached{}}
}

// Settings reads through a short-lived cache. Every admission decision hits
// this; the TTL keeps the settings table off the hot path while writes
// invalidate immediately so a pause takes effect on the next finalize.
func (c *Controller) Settings(ctx context.Context, restaurantID int64) (domain.CapacitySettings, error) {
	c.mu.Lock()
	if e, ok := c.cache[restaurantID]; ok && time.Since(e.fetched) < c.ttl {
		c.mu.Unlock()
		return e.settings, nil
	}
	c.mu.Unlock()

	s, ok, err := c.repo.Get(ctx, restaurantID)
	if err != nil {
		return domain.CapacitySettings{}, err
	}
	if !ok {
		s = domain.CapacitySettings{
			RestaurantID:       restaurantID,
			MaxActiveOrders:    c.defaults.MaxActiveOrders,
			DefaultPrepMinutes: c.defaults.DefaultPrepMinutes,
			CategoryLimits:     map[string]int{},
		}
	}

	c.mu.Lock()
	c.cache[restaurantID] = cached{settings: s, fetched: time.Now()}
	c.mu.Unlock()
	return s, nil
}

func (c *Controller) UpdateSettings(ctx context.Context, restaurantID int64, req domain.UpdateCapacityRequest, role domain.Role) (domain.CapacitySettings, error) {
	if !role.CanEditSettings() {
		return domain.CapacitySettings{}, domain.ErrUnauthorized
	}
	s := domain.CapacitySettings{
		RestaurantID:       restaurantID,
		IsPaused:           req.IsPaused,
		MaxActiveOrders:    req.MaxActiveOrders,
		DefaultPrepMinutes: req.DefaultPrepMinutes,
		CategoryLimits:     req.CategoryLimits,
	}
	if s.CategoryLimits == nil {
		s.CategoryLimits = map[string]int{}
	}
	if err := c.repo.Upsert(ctx, s); err != nil {
		return domain.CapacitySettings{}, err
	}

	// Invalidate before returning so no admission decision sees stale
	// pause/limit state past this write.
	c.mu.Lock()
	delete(c.cache, restaurantID)
	c.mu.Unlock()

	c.lg.Info("capacity_settings_updated", map[string]any{
		"restaurant_id": restaurantID, "is_paused": s.IsPaused,
		"max_active_orders": s.MaxActiveOrders, "by": role,
	})
	return s, nil
}

// Admitter snapshots the settings and returns the admission decision the
// ledger evaluates inside its finalize transaction. Check order: pause,
// global ceiling, per-category ceilings.
func (c *Controller) Admitter(ctx context.Context, restaurantID int64) (domain.AdmitFunc, error) {
	settings, err := c.Settings(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	return func(order domain.Order, active int, byCat map[string]int) (int, error) {
		if settings.IsPaused {
			return 0, domain.E(domain.KindKitchenPaused, "kitchen intake is paused")
		}
		if active >= settings.MaxActiveOrders {
			return 0, domain.E(domain.KindCapacityExceeded, "kitchen is at its active order limit")
		}
		incoming := map[string]int{}
		for _, it := range order.Items {
			incoming[it.Category] += it.Quantity
		}
		for cat, n := range incoming {
			limit, limited := settings.CategoryLimits[cat]
			if limited && byCat[cat]+n > limit {
				return 0, domain.E(domain.KindCategoryCapacityExceeded, "category "+cat+" is at its limit")
			}
		}
		return Estimate(settings.DefaultPrepMinutes, active, settings.MaxActiveOrders), nil
	}, nil
}

// Pressure maps current load to an ETA multiplier. Monotonic non-decreasing
// in active and saturating: an idle kitchen returns 1.0, a kitchen at or
// over its cap returns 2.0. More load never shortens an estimate.
func Pressure(active, maxActive int) float64 {
	if maxActive <= 0 {
		return 1.0
	}
	if active < 0 {
		active = 0
	}
	if active > maxActive {
		active = maxActive
	}
	return 1.0 + float64(active)/float64(maxActive)
}

// Estimate is the promised prep time in whole minutes, rounded up.
func Estimate(defaultPrep, active, maxActive int) int {
	return int(math.Ceil(float64(defaultPrep) * Pressure(active, maxActive)))
}
