package capacity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableside/internal/common/logger"
	"tableside/internal/domain"
)

type fakeSettingsRepo struct {
	mu    sync.Mutex
	rows  map[int64]domain.CapacitySettings
	reads int
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{rows: map[int64]domain.CapacitySettings{}}
}

func (f *fakeSettingsRepo) Get(_ context.Context, rid int64) (domain.CapacitySettings, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	s, ok := f.rows[rid]
	return s, ok, nil
}

func (f *fakeSettingsRepo) Upsert(_ context.Context, s domain.CapacitySettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.RestaurantID] = s
	return nil
}

func newController(repo SettingsRepositoryInterface, ttl time.Duration) *Controller {
	return NewController(repo, Defaults{MaxActiveOrders: 40, DefaultPrepMinutes: 15}, ttl, logger.New("test"))
}

func TestPressureMonotonicAndSaturating(t *testing.T) {
	prev := 0.0
	for active := 0; active <= 50; active++ {
		p := Pressure(active, 40)
		assert.GreaterOrEqual(t, p, prev, "pressure must never decrease with load")
		assert.LessOrEqual(t, p, 2.0)
		prev = p
	}
	assert.Equal(t, 1.0, Pressure(0, 40))
	assert.Equal(t, 2.0, Pressure(40, 40))
	assert.Equal(t, 2.0, Pressure(45, 40), "saturates at the cap")
	assert.Equal(t, 1.0, Pressure(10, 0), "degenerate cap falls back to no pressure")
}

func TestEstimateRoundsUp(t *testing.T) {
	assert.Equal(t, 15, Estimate(15, 0, 40))
	assert.Equal(t, 30, Estimate(15, 40, 40))
	// 15 * (1 + 1/40) = 15.375 -> 16
	assert.Equal(t, 16, Estimate(15, 1, 40))
}

func TestAdmitterCheckOrder(t *testing.T) {
	order := domain.Order{Items: []domain.OrderItem{
		{Key: domain.ItemKey{MenuItemID: 1}, Category: "grill", Quantity: 2},
	}}

	tests := []struct {
		name     string
		settings domain.CapacitySettings
		active   int
		byCat    map[string]int
		wantKind domain.Kind
		wantEst  int
	}{
		{
			name:     "paused wins over everything",
			settings: domain.CapacitySettings{IsPaused: true, MaxActiveOrders: 1, DefaultPrepMinutes: 10},
			active:   5,
			wantKind: domain.KindKitchenPaused,
		},
		{
			name:     "global ceiling",
			settings: domain.CapacitySettings{MaxActiveOrders: 5, DefaultPrepMinutes: 10},
			active:   5,
			wantKind: domain.KindCapacityExceeded,
		},
		{
			name: "category ceiling counts incoming units",
			settings: domain.CapacitySettings{
				MaxActiveOrders: 10, DefaultPrepMinutes: 10,
				CategoryLimits: map[string]int{"grill": 4},
			},
			active:   1,
			byCat:    map[string]int{"grill": 3},
			wantKind: domain.KindCategoryCapacityExceeded,
		},
		{
			name: "unlimited category passes",
			settings: domain.CapacitySettings{
				MaxActiveOrders: 10, DefaultPrepMinutes: 10,
				CategoryLimits: map[string]int{"desserts": 1},
			},
			active:  0,
			wantEst: 10,
		},
		{
			name:     "grant under pressure",
			settings: domain.CapacitySettings{MaxActiveOrders: 10, DefaultPrepMinutes: 10},
			active:   10 / 2,
			wantEst:  15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeSettingsRepo()
			tt.settings.RestaurantID = 9
			require.NoError(t, repo.Upsert(context.Background(), tt.settings))
			ctrl := newController(repo, time.Minute)

			admit, err := ctrl.Admitter(context.Background(), 9)
			require.NoError(t, err)
			est, err := admit(order, tt.active, tt.byCat)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, domain.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEst, est)
		})
	}
}

func TestSettingsFallBackToDefaults(t *testing.T) {
	ctrl := newController(newFakeSettingsRepo(), time.Minute)
	s, err := ctrl.Settings(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 40, s.MaxActiveOrders)
	assert.Equal(t, 15, s.DefaultPrepMinutes)
	assert.False(t, s.IsPaused)
}

func TestSettingsCacheAndInvalidation(t *testing.T) {
	repo := newFakeSettingsRepo()
	ctrl := newController(repo, time.Minute)

	_, err := ctrl.Settings(context.Background(), 9)
	require.NoError(t, err)
	_, err = ctrl.Settings(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.reads, "second read served from cache")

	// A write invalidates immediately: the next read must see the pause.
	_, err = ctrl.UpdateSettings(context.Background(), 9, domain.UpdateCapacityRequest{
		IsPaused: true, MaxActiveOrders: 10, DefaultPrepMinutes: 20,
	}, domain.RoleManager)
	require.NoError(t, err)

	s, err := ctrl.Settings(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, s.IsPaused)
	assert.Equal(t, 2, repo.reads)
}

func TestUpdateSettingsRequiresManager(t *testing.T) {
	ctrl := newController(newFakeSettingsRepo(), time.Minute)
	for _, role := range []domain.Role{domain.RoleCustomer, domain.RoleKitchen, domain.RoleCashier} {
		_, err := ctrl.UpdateSettings(context.Background(), 9, domain.UpdateCapacityRequest{MaxActiveOrders: 1, DefaultPrepMinutes: 1}, role)
		assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err), "role %s", role)
	}
	_, err := ctrl.UpdateSettings(context.Background(), 9, domain.UpdateCapacityRequest{MaxActiveOrders: 1, DefaultPrepMinutes: 1}, domain.RoleOwner)
	assert.NoError(t, err)
}
