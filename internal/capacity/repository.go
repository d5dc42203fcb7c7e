package capacity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tableside/internal/domain"
)

type SettingsRepositoryInterface interface {
	// Get returns the stored settings, or ok=false when the restaurant has
	// no row yet and the configured fallbacks apply.
	Get(ctx context.Context, restaurantID int64) (domain.CapacitySettings, bool, error)
	Upsert(ctx context.Context, s domain.CapacitySettings) error
}

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository { return &SettingsRepository{db: db} }

func (r *SettingsRepository) Get(ctx context.Context, restaurantID int64) (domain.CapacitySettings, bool, error) {
	var (
		s      domain.CapacitySettings
		limits []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT restaurant_id, is_paused, max_active_orders, default_prep_minutes, category_limits
		FROM capacity_settings WHERE restaurant_id=$1
	`, restaurantID).Scan(&s.RestaurantID, &s.IsPaused, &s.MaxActiveOrders, &s.DefaultPrepMinutes, &limits)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CapacitySettings{}, false, nil
	}
	if err != nil {
		return domain.CapacitySettings{}, false, fmt.Errorf("get capacity settings: %w", err)
	}
	s.CategoryLimits = map[string]int{}
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &s.CategoryLimits); err != nil {
			return domain.CapacitySettings{}, false, fmt.Errorf("decode category limits: %w", err)
		}
	}
	return s, true, nil
}

func (r *SettingsRepository) Upsert(ctx context.Context, s domain.CapacitySettings) error {
	limits, err := json.Marshal(s.CategoryLimits)
	if err != nil {
		return fmt.Errorf("encode category limits: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO capacity_settings (restaurant_id, is_paused, max_active_orders, default_prep_minutes, category_limits)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (restaurant_id) DO UPDATE SET
		  is_paused = EXCLUDED.is_paused,
		  max_active_orders = EXCLUDED.max_active_orders,
		  default_prep_minutes = EXCLUDED.default_prep_minutes,
		  category_limits = EXCLUDED.category_limits
	`, s.RestaurantID, s.IsPaused, s.MaxActiveOrders, s.DefaultPrepMinutes, limits); err != nil {
		return fmt.Errorf("upsert capacity settings: %w", err)
	}
	return nil
}
