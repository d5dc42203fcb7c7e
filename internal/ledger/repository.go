package ledger

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
	// FindOrCreateCartOrder returns the open cart order for the session and
	// billing intent, creating one when none exists. Concurrent first-adds
	// must converge on a single order.
	FindOrCreateCartOrder(ctx context.Context, sess domain.Session, separateBill bool) (domain.Order, error)
	CreateTakeawayOrder(ctx context.Context, restaurantID int64) (domain.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error)

	// ApplyLineDelta adds delta to the line's quantity (floor 0), creating
	// the line on first add. Returns ErrOrderNotFound when the order is gone
	// or no longer customer-mutable.
	ApplyLineDelta(ctx context.Context, orderID uuid.UUID, line domain.OrderItem, delta int) (domain.Order, error)
	RemoveLine(ctx context.Context, orderID uuid.UUID, key domain.ItemKey) (domain.Order, error)
	// CancelLine is the post-placement, audited cancellation path.
	CancelLine(ctx context.Context, orderID uuid.UUID, key domain.ItemKey, qty int, changedBy string) (domain.Order, error)

	// FinalizeTx atomically runs the admission decision and the cart->accepted
	// flip. A denial leaves the order in cart state, untouched.
	FinalizeTx(ctx context.Context, orderID uuid.UUID, admit domain.AdmitFunc) (domain.Order, error)
	// TransitionStatus is a compare-and-swap move; zero rows affected means
	// the expected state was stale.
	TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to domain.OrderStatus, changedBy string) (domain.Order, error)
	ListActiveOrders(ctx context.Context, restaurantID int64) ([]domain.Order, error)
	ListSessionOrders(ctx context.Context, sessionID uuid.UUID) ([]domain.Order, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) FindOrCreateCartOrder(ctx context.Context, sess domain.Session, separateBill bool) (domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := scanCartOrder(ctx, tx, sess.ID, separateBill)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return domain.Order{}, err
		}
		return r.GetOrder(ctx, o.ID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("find cart order: %w", err)
	}

	id := uuid.New()
	number, err := nextOrderNumber(ctx, tx)
	if err != nil {
		return domain.Order{}, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, session_id, restaurant_id, order_type, separate_bill, status, created_at)
		VALUES ($1,$2,$3,$4,'dine_in',$5,'cart',now())
		ON CONFLICT (session_id, separate_bill) WHERE status='cart' DO NOTHING
	`, id, number, sess.ID, sess.RestaurantID, separateBill)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert cart order: %w", err)
	}
	// Either our insert won or a concurrent first-add got there first;
	// both attach to whichever row now exists.
	o, err = scanCartOrder(ctx, tx, sess.ID, separateBill)
	if err != nil {
		return domain.Order{}, fmt.Errorf("reselect cart order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return r.GetOrder(ctx, o.ID)
}

func (r *Repository) CreateTakeawayOrder(ctx context.Context, restaurantID int64) (domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New()
	number, err := nextOrderNumber(ctx, tx)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, restaurant_id, order_type, separate_bill, status, created_at)
		VALUES ($1,$2,$3,'takeaway',false,'cart',now())
	`, id, number, restaurantID); err != nil {
		return domain.Order{}, fmt.Errorf("insert takeaway order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return r.GetOrder(ctx, id)
}

func (r *Repository) GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	o, err := scanOrder(ctx, r.db, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	o.Items, err = r.loadItems(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) ApplyLineDelta(ctx context.Context, orderID uuid.UUID, line domain.OrderItem, delta int) (domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockCustomerMutable(ctx, tx, orderID); err != nil {
		return domain.Order{}, err
	}

	if delta > 0 {
		// First add stores the price snapshot; later adds only bump quantity,
		// the stored price is never overwritten.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, variant_id, name, category, quantity, unit_price, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,'pending')
			ON CONFLICT (order_id, menu_item_id, variant_id)
			DO UPDATE SET quantity = order_items.quantity + $6
		`, orderID, line.Key.MenuItemID, line.Key.VariantID, line.Name, line.Category, delta, line.UnitPrice)
	} else {
		// Decrement floors at zero; a missing line is a no-op, not an error.
		_, err = tx.ExecContext(ctx, `
			UPDATE order_items SET quantity = GREATEST(quantity + $4, 0)
			WHERE order_id=$1 AND menu_item_id=$2 AND variant_id=$3
		`, orderID, line.Key.MenuItemID, line.Key.VariantID, delta)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("apply line delta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return r.GetOrder(ctx, orderID)
}

func (r *Repository) RemoveLine(ctx context.Context, orderID uuid.UUID, key domain.ItemKey) (domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockCustomerMutable(ctx, tx, orderID); err != nil {
		return domain.Order{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM order_items WHERE order_id=$1 AND menu_item_id=$2 AND variant_id=$3
	`, orderID, key.MenuItemID, key.VariantID); err != nil {
		return domain.Order{}, fmt.Errorf("remove line: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return r.GetOrder(ctx, orderID)
}

func (r *Repository) CancelLine(ctx context.Context, orderID uuid.UUID, key domain.ItemKey, qty int, changedBy string) (domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var status domain.OrderStatus
	if err := tx.QueryRowContext(ctx, `
		SELECT status FROM orders WHERE id=$1 FOR UPDATE
	`, orderID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	if status != domain.StatusAccepted {
		return domain.Order{}, domain.E(domain.KindInvalidTransition, "item cancellation applies to accepted orders only")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE order_items
		SET quantity = GREATEST(quantity - $4, 0),
		    status = CASE WHEN quantity - $4 <= 0 THEN 'rejected' ELSE status END
		WHERE order_id=$1 AND menu_item_id=$2 AND variant_id=$3
	`, orderID, key.MenuItemID, key.VariantID, qty)
	if err != nil {
		return domain.Order{}, fmt.Errorf("cancel line: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Order{}, domain.E(domain.KindOrderNotFound, "line not present on order")
	}
	if err := appendStatusLog(ctx, tx, orderID, "item_cancelled", changedBy); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return r.GetOrder(ctx, orderID)
}

func (r *Repository) FinalizeTx(ctx context.Context, orderID uuid.UUID, admit domain.AdmitFunc) (domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := scanOrderTx(ctx, tx, orderID, true)
	if err != nil {
		return domain.Order{}, err
	}
	if o.Status != domain.StatusCart {
		return domain.Order{}, domain.E(domain.KindInvalidTransition, "only cart orders can be finalized")
	}
	o.Items, err = loadItemsTx(ctx, tx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if len(o.Items) == 0 || countUnits(o.Items) == 0 {
		return domain.Order{}, domain.E(domain.KindValidation, "cannot finalize an empty cart")
	}

	var active int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE restaurant_id=$1 AND status IN ('accepted','ready')
	`, o.RestaurantID).Scan(&active); err != nil {
		return domain.Order{}, fmt.Errorf("count active orders: %w", err)
	}
	byCat := map[string]int{}
	rows, err := tx.QueryContext(ctx, `
		SELECT i.category, COALESCE(SUM(i.quantity),0)
		FROM order_items i JOIN orders o ON o.id = i.order_id
		WHERE o.restaurant_id=$1 AND o.status IN ('accepted','ready') AND i.status <> 'rejected'
		GROUP BY i.category
	`, o.RestaurantID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("count active items: %w", err)
	}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return domain.Order{}, err
		}
		byCat[cat] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Order{}, err
	}

	est, err := admit(o, active, byCat)
	if err != nil {
		return domain.Order{}, err // rollback: order stays in cart, unchanged
	}

	readyAt := time.Now().UTC().Add(time.Duration(est) * time.Minute)
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status='accepted', estimated_prep_minutes=$2, estimated_ready_at=$3
		WHERE id=$1 AND status='cart'
	`, orderID, est, readyAt); err != nil {
		return domain.Order{}, fmt.Errorf("finalize order: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE order_items SET status='accepted' WHERE order_id=$1 AND quantity > 0
	`, orderID); err != nil {
		return domain.Order{}, fmt.Errorf("accept items: %w", err)
	}
	if err := appendStatusLog(ctx, tx, orderID, string(domain.StatusAccepted), "customer"); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return r.GetOrder(ctx, orderID)
}

func (r *Repository) TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to domain.OrderStatus, changedBy string) (domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status=$3 WHERE id=$1 AND status=$2
	`, orderID, from, to)
	if err != nil {
		return domain.Order{}, fmt.Errorf("transition %s->%s: %w", from, to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the order vanished or a concurrent transition got there
		// first. A stale move is never reapplied.
		if _, err := scanOrderTx(ctx, tx, orderID, false); err != nil {
			return domain.Order{}, err
		}
		return domain.Order{}, domain.ErrInvalidTransition
	}
	if to == domain.StatusReady {
		if _, err := tx.ExecContext(ctx, `
			UPDATE order_items SET status='served' WHERE order_id=$1 AND status='accepted'
		`, orderID); err != nil {
			return domain.Order{}, err
		}
	}
	if err := appendStatusLog(ctx, tx, orderID, string(to), changedBy); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return r.GetOrder(ctx, orderID)
}

func (r *Repository) ListActiveOrders(ctx context.Context, restaurantID int64) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE restaurant_id=$1 AND status IN ('accepted','ready')
		ORDER BY created_at ASC
	`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	return r.collect(ctx, rows)
}

func (r *Repository) ListSessionOrders(ctx context.Context, sessionID uuid.UUID) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM orders WHERE session_id=$1 ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session orders: %w", err)
	}
	return r.collect(ctx, rows)
}

func (r *Repository) collect(ctx context.Context, rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *Repository) loadItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, itemsQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	return scanItems(rows)
}

// --- shared query helpers ---

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const orderColumns = `id, order_number, session_id, restaurant_id, order_type, separate_bill,
	status, created_at, COALESCE(estimated_prep_minutes,0), estimated_ready_at`

const itemsQuery = `
	SELECT menu_item_id, variant_id, name, category, quantity, unit_price, status
	FROM order_items WHERE order_id=$1 ORDER BY menu_item_id, variant_id`

func scanOrderRow(row *sql.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.Number, &o.SessionID, &o.RestaurantID, &o.Type, &o.SeparateBill,
		&o.Status, &o.CreatedAt, &o.EstPrepMinutes, &o.EstReadyAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}

func scanOrder(ctx context.Context, q queryer, orderID uuid.UUID) (domain.Order, error) {
	return scanOrderRow(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
}

func scanOrderTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, lock bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	return scanOrderRow(tx.QueryRowContext(ctx, query, orderID))
}

func scanCartOrder(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID, separateBill bool) (domain.Order, error) {
	var o domain.Order
	err := tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE session_id=$1 AND separate_bill=$2 AND status='cart'
	`, sessionID, separateBill).Scan(&o.ID, &o.Number, &o.SessionID, &o.RestaurantID, &o.Type,
		&o.SeparateBill, &o.Status, &o.CreatedAt, &o.EstPrepMinutes, &o.EstReadyAt)
	return o, err
}

func loadItemsTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := tx.QueryContext(ctx, itemsQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]domain.OrderItem, error) {
	defer rows.Close()
	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.Key.MenuItemID, &it.Key.VariantID, &it.Name, &it.Category,
			&it.Quantity, &it.UnitPrice, &it.Status); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// lockCustomerMutable locks the order row and verifies the customer may still
// edit items. A gone or non-cart order surfaces as OrderNotFound so the
// ledger's stale-reference recovery can kick in.
func lockCustomerMutable(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) error {
	var status domain.OrderStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("lock order: %w", err)
	}
	if !status.CustomerMutable() {
		return domain.ErrOrderNotFound
	}
	return nil
}

func appendStatusLog(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, status, changedBy string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_log (order_id, status, changed_by, changed_at)
		VALUES ($1,$2,$3,now())
	`, orderID, status, changedBy); err != nil {
		return fmt.Errorf("append status log: %w", err)
	}
	return nil
}

func nextOrderNumber(ctx context.Context, tx *sql.Tx) (string, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return fmt.Sprintf("ORD_%s_%03d", time.Now().UTC().Format("20060102"), seq), nil
}

func countUnits(items []domain.OrderItem) int {
	var n int
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
