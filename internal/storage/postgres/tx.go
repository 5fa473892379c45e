package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ocean5tech/grydemo/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so repository
// code can run standalone or inside a unit of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// Begin opens a unit of work covering order and stock writes. The
// caller owns the value and must finish it with Commit or Rollback.
func (m *TxManager) Begin(ctx context.Context) (*Tx, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{
		tx:     tx,
		orders: &OrderRepository{db: tx},
		stock:  &StockLedger{db: tx},
	}, nil
}

// Tx is a single transactional unit: every order and stock mutation
// performed through it lands atomically on Commit, or not at all.
type Tx struct {
	tx     pgx.Tx
	orders *OrderRepository
	stock  *StockLedger
}

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback is safe to defer after Commit; a closed transaction is not
// an error.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (t *Tx) ReserveStock(ctx context.Context, productID string, quantity int32) (int32, error) {
	return t.stock.Reserve(ctx, productID, quantity)
}

func (t *Tx) RestoreStock(ctx context.Context, productID string, quantity int32) (int32, error) {
	return t.stock.Restore(ctx, productID, quantity)
}

func (t *Tx) InsertOrder(ctx context.Context, order domain.Order) error {
	return t.orders.insert(ctx, order)
}

func (t *Tx) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return t.orders.get(ctx, orderID, true)
}

func (t *Tx) SetOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, now time.Time) error {
	return t.orders.setStatus(ctx, orderID, status, now)
}

func (t *Tx) DeleteOrder(ctx context.Context, orderID string) error {
	return t.orders.delete(ctx, orderID)
}

func (t *Tx) InsertIdempotencyKey(ctx context.Context, key, orderID string) error {
	return t.orders.insertIdempotencyKey(ctx, key, orderID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
