package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ocean5tech/grydemo/internal/clock"
	"github.com/ocean5tech/grydemo/internal/domain"
	"github.com/ocean5tech/grydemo/pkg/logging"
)

// UnitOfWork is one atomic boundary around stock and order writes.
// Every mutation made through it lands on Commit or is undone by
// Rollback, including already-applied stock decrements.
type UnitOfWork interface {
	ReserveStock(ctx context.Context, productID string, quantity int32) (int32, error)
	RestoreStock(ctx context.Context, productID string, quantity int32) (int32, error)
	InsertOrder(ctx context.Context, order domain.Order) error
	GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	SetOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, now time.Time) error
	DeleteOrder(ctx context.Context, orderID string) error
	InsertIdempotencyKey(ctx context.Context, key, orderID string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type TxManager interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

type OrderReader interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, limit, offset int) ([]domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]domain.Order, error)
	CountByUserAndStatus(ctx context.Context, userID string, status domain.OrderStatus) (int64, error)
}

type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// EventPublisher delivers lifecycle events best-effort; implementations
// swallow and record transport failures, they never surface them here.
type EventPublisher interface {
	OrderCreated(ctx context.Context, order domain.Order)
	OrderStatusChanged(ctx context.Context, order domain.Order, oldStatus domain.OrderStatus)
	OrderDeleted(ctx context.Context, order domain.Order)
}

// OrderWorkflow orchestrates order creation, status transition and
// deletion against the stock ledger, and emits a lifecycle event after
// every committed mutation.
type OrderWorkflow struct {
	txs    TxManager
	orders OrderReader
	users  UserDirectory
	events EventPublisher
	clock  clock.Clock
}

func NewOrderWorkflow(txs TxManager, orders OrderReader, users UserDirectory, events EventPublisher, clk clock.Clock) *OrderWorkflow {
	return &OrderWorkflow{
		txs:    txs,
		orders: orders,
		users:  users,
		events: events,
		clock:  clk,
	}
}

type CreateOrderItem struct {
	ProductID string
	Quantity  int32
	UnitPrice decimal.Decimal
}

type CreateOrderInput struct {
	UserID      string
	TotalAmount decimal.Decimal
	Items       []CreateOrderItem
	// IdempotencyKey, when set, is claimed in the same unit of work as
	// the order; a replay fails with ErrDuplicateIdempotencyKey.
	IdempotencyKey string
}

// CreateOrder reserves stock for every item in list order and persists
// the aggregate as one atomic unit. If any reservation fails, the
// rollback of the unit of work releases every reservation already made
// in this call and nothing is persisted.
func (w *OrderWorkflow) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	if len(in.Items) == 0 {
		return domain.Order{}, domain.ErrEmptyOrder
	}
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return domain.Order{}, domain.ErrInvalidQuantity
		}
	}

	exists, err := w.users.Exists(ctx, in.UserID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return domain.Order{}, domain.ErrUserNotFound
	}

	now := w.clock.Now()
	order := domain.Order{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		TotalAmount: in.TotalAmount,
		Status:      domain.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, item := range in.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	uow, err := w.txs.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin unit of work: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	for _, item := range order.Items {
		if _, err := uow.ReserveStock(ctx, item.ProductID, item.Quantity); err != nil {
			return domain.Order{}, err
		}
	}
	if err := uow.InsertOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}
	if in.IdempotencyKey != "" {
		if err := uow.InsertIdempotencyKey(ctx, in.IdempotencyKey, order.ID); err != nil {
			return domain.Order{}, err
		}
	}
	if err := uow.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("commit order: %w", err)
	}

	logging.Log(logging.Fields{
		Service: "order-workflow",
		OrderID: order.ID,
		Step:    "create_order",
		Status:  "committed",
	})

	// The order is durable at this point; publish failures are the
	// publisher's problem and never invalidate the created order.
	w.events.OrderCreated(ctx, order)
	return order, nil
}

// UpdateStatus replaces the order status with newStatus. Any status may
// replace any other; the permissive transition behavior is intentional.
func (w *OrderWorkflow) UpdateStatus(ctx context.Context, orderID string, newStatus domain.OrderStatus) (domain.Order, error) {
	if !domain.ValidStatus(newStatus) {
		return domain.Order{}, domain.ErrInvalidStatus
	}

	now := w.clock.Now()

	uow, err := w.txs.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin unit of work: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	order, err := uow.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	oldStatus := order.Status

	if err := uow.SetOrderStatus(ctx, orderID, newStatus, now); err != nil {
		return domain.Order{}, err
	}
	if err := uow.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("commit status update: %w", err)
	}

	order.Status = newStatus
	order.UpdatedAt = now

	logging.Log(logging.Fields{
		Service: "order-workflow",
		OrderID: order.ID,
		Step:    "update_status",
		Status:  string(newStatus),
	})

	w.events.OrderStatusChanged(ctx, order, oldStatus)
	return order, nil
}

// DeleteOrder restores the reserved stock of every item, regardless of
// the order's current status, then removes the aggregate.
func (w *OrderWorkflow) DeleteOrder(ctx context.Context, orderID string) error {
	uow, err := w.txs.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	order, err := uow.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		if _, err := uow.RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	if err := uow.DeleteOrder(ctx, orderID); err != nil {
		return err
	}
	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	logging.Log(logging.Fields{
		Service: "order-workflow",
		OrderID: order.ID,
		Step:    "delete_order",
		Status:  "committed",
	})

	w.events.OrderDeleted(ctx, order)
	return nil
}

func (w *OrderWorkflow) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return w.orders.Get(ctx, orderID)
}

func (w *OrderWorkflow) ListOrders(ctx context.Context, limit, offset int) ([]domain.Order, error) {
	return w.orders.List(ctx, limit, offset)
}

func (w *OrderWorkflow) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, error) {
	exists, err := w.users.Exists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return nil, domain.ErrUserNotFound
	}
	return w.orders.ListByUser(ctx, userID, limit, offset)
}

func (w *OrderWorkflow) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]domain.Order, error) {
	if !domain.ValidStatus(status) {
		return nil, domain.ErrInvalidStatus
	}
	return w.orders.ListByStatus(ctx, status, limit, offset)
}

func (w *OrderWorkflow) CountOrdersByUserAndStatus(ctx context.Context, userID string, status domain.OrderStatus) (int64, error) {
	if !domain.ValidStatus(status) {
		return 0, domain.ErrInvalidStatus
	}
	return w.orders.CountByUserAndStatus(ctx, userID, status)
}
