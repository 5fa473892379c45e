package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ocean5tech/grydemo/internal/domain"
)

// OrderRepository persists the order/order-item aggregate. Mutating
// methods are unexported and reachable only through a Tx so every
// write happens inside a unit of work.
type OrderRepository struct {
	db querier
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: pool}
}

func (r *OrderRepository) insert(ctx context.Context, order domain.Order) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO orders (id, user_id, total_amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, order.UserID, order.TotalAmount, order.Status, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	for _, item := range order.Items {
		_, err := r.db.Exec(ctx,
			`INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4, $5)`,
			item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *OrderRepository) get(ctx context.Context, orderID string, forUpdate bool) (domain.Order, error) {
	query := `SELECT id, user_id, total_amount, status, created_at, updated_at FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var o domain.Order
	err := r.db.QueryRow(ctx, query, orderID).
		Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	items, err := r.itemsFor(ctx, []string{o.ID})
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *OrderRepository) setStatus(ctx context.Context, orderID string, status domain.OrderStatus, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		orderID, status, now,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) delete(ctx context.Context, orderID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) insertIdempotencyKey(ctx context.Context, key, orderID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO order_idempotency (idempotency_key, order_id) VALUES ($1, $2)`,
		key, orderID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	return nil
}

// Get loads an order with its items.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return r.get(ctx, orderID, false)
}

// List pages through all orders regardless of owner or status.
func (r *OrderRepository) List(ctx context.Context, limit, offset int) ([]domain.Order, error) {
	const query = `
SELECT id, user_id, total_amount, status, created_at, updated_at
FROM orders
ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	return r.list(ctx, query, limit, offset)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, error) {
	const query = `
SELECT id, user_id, total_amount, status, created_at, updated_at
FROM orders WHERE user_id = $1
ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, query, userID, limit, offset)
}

func (r *OrderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]domain.Order, error) {
	const query = `
SELECT id, user_id, total_amount, status, created_at, updated_at
FROM orders WHERE status = $1
ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, query, status, limit, offset)
}

func (r *OrderRepository) CountByUserAndStatus(ctx context.Context, userID string, status domain.OrderStatus) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status = $2`,
		userID, status,
	).Scan(&n)
	if err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// FindIDByIdempotencyKey returns the order previously created under
// key, or "" when the key is unused.
func (r *OrderRepository) FindIDByIdempotencyKey(ctx context.Context, key string) (string, error) {
	var orderID string
	err := r.db.QueryRow(ctx,
		`SELECT order_id FROM order_idempotency WHERE idempotency_key = $1`, key,
	).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find order by idempotency key: %w", err)
	}
	return orderID, nil
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	var ids []string
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *OrderRepository) itemsFor(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price
		 FROM order_items WHERE order_id = ANY($1)`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}
