package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableside/internal/common/logger"
	"tableside/internal/domain"
	"tableside/internal/identity"
)

// fakeRepo is an in-memory RepositoryInterface with the same serialization
// guarantee as the Postgres implementation (one lock per store).
type fakeRepo struct {
	mu       sync.Mutex
	tables   map[uuid.UUID]domain.Table
	sessions map[uuid.UUID]*domain.Session
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tables:   map[uuid.UUID]domain.Table{},
		sessions: map[uuid.UUID]*domain.Session{},
	}
}

func (f *fakeRepo) addTable(restaurantID int64, number int, enabled bool) domain.Table {
	t := domain.Table{ID: uuid.New(), RestaurantID: restaurantID, Number: number, Enabled: enabled}
	f.tables[t.ID] = t
	return t
}

func (f *fakeRepo) GetTable(_ context.Context, rid int64, number int) (domain.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tables {
		if t.RestaurantID == rid && t.Number == number {
			return t, nil
		}
	}
	return domain.Table{}, domain.ErrTableNotFound
}

func (f *fakeRepo) GetTableByID(_ context.Context, id uuid.UUID) (domain.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[id]
	if !ok {
		return domain.Table{}, domain.ErrTableNotFound
	}
	return t, nil
}

func (f *fakeRepo) FindOrCreateSession(_ context.Context, table domain.Table) (domain.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.RestaurantID == table.RestaurantID && s.TableNumber == table.Number && s.ClosedAt == nil {
			return *s, false, nil
		}
	}
	s := &domain.Session{
		ID: uuid.New(), RestaurantID: table.RestaurantID, TableNumber: table.Number,
		TableID: &table.ID, CreatedAt: time.Now().UTC(),
	}
	f.sessions[s.ID] = s
	return *s, true, nil
}

func (f *fakeRepo) GetSession(_ context.Context, id uuid.UUID) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return *s, nil
}

func (f *fakeRepo) CloseSession(_ context.Context, id uuid.UUID, paymentMode string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.ClosedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	s.ClosedAt = &now
	s.PaymentMode = paymentMode
	return true, nil
}

type fakeBiller struct{ due float64 }

func (f *fakeBiller) Due(context.Context, uuid.UUID) (float64, error) { return f.due, nil }

type fakeTickets struct {
	mu      sync.Mutex
	tickets []domain.TicketPayload
}

func (f *fakeTickets) PublishTicket(_ context.Context, t domain.TicketPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = append(f.tickets, t)
	return nil
}

func newService(repo *fakeRepo, due float64) (*Service, *fakeTickets) {
	tickets := &fakeTickets{}
	return NewService(repo, &fakeBiller{due: due}, tickets, logger.New("test")), tickets
}

func numericIdent(rid int64, table int) identity.Identity {
	return identity.Identity{RestaurantID: rid, TableNumber: table}
}

func TestStartSessionCreatesThenReportsOccupied(t *testing.T) {
	repo := newFakeRepo()
	repo.addTable(9, 7, true)
	svc, _ := newService(repo, 0)

	first, err := svc.StartSession(context.Background(), numericIdent(9, 7), nil)
	require.NoError(t, err)
	assert.False(t, first.IsOccupied)
	assert.Equal(t, int64(9), first.RestaurantID)
	assert.Equal(t, 7, first.TableNumber)

	// Second scan of the occupied table: same session, occupied flag, and
	// never a second active session.
	second, err := svc.StartSession(context.Background(), numericIdent(9, 7), nil)
	require.NoError(t, err)
	assert.True(t, second.IsOccupied)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Len(t, repo.sessions, 1)
}

func TestStartSessionConcurrentScansSingleSession(t *testing.T) {
	repo := newFakeRepo()
	repo.addTable(9, 7, true)
	svc, _ := newService(repo, 0)

	const n = 16
	ids := make(chan uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.StartSession(context.Background(), numericIdent(9, 7), nil)
			assert.NoError(t, err)
			ids <- resp.SessionID
		}()
	}
	wg.Wait()
	close(ids)

	first := <-ids
	for id := range ids {
		assert.Equal(t, first, id)
	}
	assert.Len(t, repo.sessions, 1)
}

func TestStartSessionDisabledAndMissingTables(t *testing.T) {
	repo := newFakeRepo()
	repo.addTable(9, 3, false)
	svc, _ := newService(repo, 0)

	_, err := svc.StartSession(context.Background(), numericIdent(9, 3), nil)
	assert.Equal(t, domain.KindTableDisabled, domain.KindOf(err))

	_, err = svc.StartSession(context.Background(), numericIdent(9, 99), nil)
	assert.Equal(t, domain.KindTableNotFound, domain.KindOf(err))
}

func TestStartSessionOpaqueTokenDiscardsForeignHeldContext(t *testing.T) {
	repo := newFakeRepo()
	table := repo.addTable(9, 7, true)
	svc, _ := newService(repo, 0)

	ident := identity.Identity{TableID: &table.ID}

	resp, err := svc.StartSession(context.Background(), ident, &domain.TableContext{RestaurantID: 2, TableNumber: 5})
	require.NoError(t, err)
	assert.True(t, resp.DiscardHeld)

	resp, err = svc.StartSession(context.Background(), ident, &domain.TableContext{RestaurantID: 9, TableNumber: 7})
	require.NoError(t, err)
	assert.False(t, resp.DiscardHeld)
}

func TestEndSessionIdempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.addTable(9, 7, true)
	svc, tickets := newService(repo, 120)

	resp, err := svc.StartSession(context.Background(), numericIdent(9, 7), nil)
	require.NoError(t, err)

	req := domain.CloseSessionRequest{MarkPaid: true, PaymentMode: "card"}
	require.NoError(t, svc.EndSession(context.Background(), resp.SessionID, req, domain.RoleCashier))
	// Second close is a no-op success, no duplicate bill ticket.
	require.NoError(t, svc.EndSession(context.Background(), resp.SessionID, req, domain.RoleCashier))
	assert.Len(t, tickets.tickets, 1)
	assert.Equal(t, "bill", tickets.tickets[0].Kind)
	assert.Equal(t, 120.0, tickets.tickets[0].Total)
}

func TestEndSessionUnpaidBalanceGuard(t *testing.T) {
	repo := newFakeRepo()
	repo.addTable(9, 7, true)
	svc, _ := newService(repo, 55)

	resp, err := svc.StartSession(context.Background(), numericIdent(9, 7), nil)
	require.NoError(t, err)

	err = svc.EndSession(context.Background(), resp.SessionID, domain.CloseSessionRequest{}, domain.RoleCashier)
	assert.Equal(t, domain.KindUnpaidBalance, domain.KindOf(err))

	// Cashier force is not enough; manager force is.
	err = svc.EndSession(context.Background(), resp.SessionID, domain.CloseSessionRequest{Force: true}, domain.RoleCashier)
	assert.Equal(t, domain.KindUnpaidBalance, domain.KindOf(err))

	err = svc.EndSession(context.Background(), resp.SessionID, domain.CloseSessionRequest{Force: true}, domain.RoleManager)
	assert.NoError(t, err)
}

func TestEndSessionRequiresStaff(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newService(repo, 0)
	err := svc.EndSession(context.Background(), uuid.New(), domain.CloseSessionRequest{}, domain.RoleCustomer)
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
}
