package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tableside/internal/domain"
)

type RepositoryInterface interface {
	GetTable(ctx context.Context, restaurantID int64, number int) (domain.Table, error)
	GetTableByID(ctx context.Context, id uuid.UUID) (domain.Table, error)
	// FindOrCreateSession returns the open session for the table, creating
	// one when none exists. The second result is true when it was created.
	FindOrCreateSession(ctx context.Context, table domain.Table) (domain.Session, bool, error)
	GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error)
	// CloseSession is idempotent; returns false when already closed.
	CloseSession(ctx context.Context, id uuid.UUID, paymentMode string) (bool, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) GetTable(ctx context.Context, restaurantID int64, number int) (domain.Table, error) {
	var t domain.Table
	err := r.db.QueryRowContext(ctx, `
		SELECT id, restaurant_id, table_number, is_enabled
		FROM tables WHERE restaurant_id=$1 AND table_number=$2
	`, restaurantID, number).Scan(&t.ID, &t.RestaurantID, &t.Number, &t.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Table{}, domain.ErrTableNotFound
	}
	if err != nil {
		return domain.Table{}, fmt.Errorf("get table: %w", err)
	}
	return t, nil
}

func (r *Repository) GetTableByID(ctx context.Context, id uuid.UUID) (domain.Table, error) {
	var t domain.Table
	err := r.db.QueryRowContext(ctx, `
		SELECT id, restaurant_id, table_number, is_enabled
		FROM tables WHERE id=$1
	`, id).Scan(&t.ID, &t.RestaurantID, &t.Number, &t.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Table{}, domain.ErrTableNotFound
	}
	if err != nil {
		return domain.Table{}, fmt.Errorf("get table by id: %w", err)
	}
	return t, nil
}

func (r *Repository) FindOrCreateSession(ctx context.Context, table domain.Table) (domain.Session, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the table row so two concurrent scans of the same table cannot
	// both decide "no active session" and insert twice.
	var dummy uuid.UUID
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM tables WHERE id=$1 FOR UPDATE
	`, table.ID).Scan(&dummy); err != nil {
		return domain.Session{}, false, fmt.Errorf("lock table: %w", err)
	}

	var s domain.Session
	err = tx.QueryRowContext(ctx, `
		SELECT id, restaurant_id, table_number, table_id, created_at, closed_at, COALESCE(payment_mode,'')
		FROM sessions
		WHERE restaurant_id=$1 AND table_number=$2 AND closed_at IS NULL
	`, table.RestaurantID, table.Number).Scan(&s.ID, &s.RestaurantID, &s.TableNumber, &s.TableID, &s.CreatedAt, &s.ClosedAt, &s.PaymentMode)
	switch {
	case err == nil:
		return s, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return domain.Session{}, false, fmt.Errorf("find session: %w", err)
	}

	s = domain.Session{
		ID:           uuid.New(),
		RestaurantID: table.RestaurantID,
		TableNumber:  table.Number,
		TableID:      &table.ID,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, restaurant_id, table_number, table_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, s.ID, s.RestaurantID, s.TableNumber, s.TableID, s.CreatedAt); err != nil {
		return domain.Session{}, false, fmt.Errorf("insert session: %w", err)
	}
	return s, true, tx.Commit()
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error) {
	var s domain.Session
	err := r.db.QueryRowContext(ctx, `
		SELECT id, restaurant_id, table_number, table_id, created_at, closed_at, COALESCE(payment_mode,'')
		FROM sessions WHERE id=$1
	`, id).Scan(&s.ID, &s.RestaurantID, &s.TableNumber, &s.TableID, &s.CreatedAt, &s.ClosedAt, &s.PaymentMode)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *Repository) CloseSession(ctx context.Context, id uuid.UUID, paymentMode string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET closed_at=now(), payment_mode=NULLIF($2,'')
		WHERE id=$1 AND closed_at IS NULL
	`, id, paymentMode)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
