package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ocean5tech/grydemo/internal/clock"
	"github.com/ocean5tech/grydemo/internal/domain"
)

var testNow = time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC)

func TestOrderWorkflow_CreateOrder(t *testing.T) {
	t.Parallel()

	t.Run("reserves stock and persists the order", func(t *testing.T) {
		store := newFakeStore(map[string]int32{"prod-1": 10, "prod-2": 5})
		events := &fakeEvents{}
		w := NewOrderWorkflow(store, store, store, events, clock.NewFixed(testNow))

		order, err := w.CreateOrder(context.Background(), CreateOrderInput{
			UserID:      "user-1",
			TotalAmount: decimal.RequireFromString("49.95"),
			Items: []CreateOrderItem{
				{ProductID: "prod-1", Quantity: 3, UnitPrice: decimal.RequireFromString("9.99")},
				{ProductID: "prod-2", Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")},
			},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if order.ID == "" {
			t.Fatalf("expected order ID to be set")
		}
		if order.Status != domain.OrderStatusPending {
			t.Fatalf("expected PENDING, got %s", order.Status)
		}
		if !order.CreatedAt.Equal(testNow) {
			t.Fatalf("expected created_at %s, got %s", testNow, order.CreatedAt)
		}
		if got := store.stock["prod-1"]; got != 7 {
			t.Fatalf("expected prod-1 stock 7, got %d", got)
		}
		if got := store.stock["prod-2"]; got != 3 {
			t.Fatalf("expected prod-2 stock 3, got %d", got)
		}
		if _, ok := store.orders[order.ID]; !ok {
			t.Fatalf("expected order persisted")
		}
		if len(events.created) != 1 || events.created[0].ID != order.ID {
			t.Fatalf("expected one created event for %s, got %+v", order.ID, events.created)
		}
	})

	t.Run("insufficient stock leaves every product untouched", func(t *testing.T) {
		store := newFakeStore(map[string]int32{"prod-1": 10, "prod-2": 1})
		events := &fakeEvents{}
		w := NewOrderWorkflow(store, store, store, events, clock.NewFixed(testNow))

		_, err := w.CreateOrder(context.Background(), CreateOrderInput{
			UserID:      "user-1",
			TotalAmount: decimal.RequireFromString("49.95"),
			Items: []CreateOrderItem{
				{ProductID: "prod-1", Quantity: 3, UnitPrice: decimal.RequireFromString("9.99")},
				{ProductID: "prod-2", Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")},
			},
		})
		stockErr, ok := domain.IsInsufficientStock(err)
		if !ok {
			t.Fatalf("expected insufficient stock error, got %v", err)
		}
		if stockErr.ProductID != "prod-2" || stockErr.Available != 1 || stockErr.Requested != 2 {
			t.Fatalf("unexpected error detail: %+v", stockErr)
		}
		// rollback must release the prod-1 reservation too
		if got := store.stock["prod-1"]; got != 10 {
			t.Fatalf("expected prod-1 stock back at 10, got %d", got)
		}
		if len(store.orders) != 0 {
			t.Fatalf("expected no order persisted")
		}
		if len(events.created) != 0 {
			t.Fatalf("expected no event published")
		}
	})

	t.Run("unknown product rolls back", func(t *testing.T) {
		store := newFakeStore(map[string]int32{"prod-1": 10})
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		_, err := w.CreateOrder(context.Background(), CreateOrderInput{
			UserID:      "user-1",
			TotalAmount: decimal.RequireFromString("19.98"),
			Items: []CreateOrderItem{
				{ProductID: "prod-1", Quantity: 1, UnitPrice: decimal.RequireFromString("9.99")},
				{ProductID: "missing", Quantity: 1, UnitPrice: decimal.RequireFromString("9.99")},
			},
		})
		if !errors.Is(err, domain.ErrProductNotFound) {
			t.Fatalf("expected ErrProductNotFound, got %v", err)
		}
		if got := store.stock["prod-1"]; got != 10 {
			t.Fatalf("expected prod-1 stock back at 10, got %d", got)
		}
	})

	t.Run("empty item list is rejected", func(t *testing.T) {
		store := newFakeStore(nil)
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		_, err := w.CreateOrder(context.Background(), CreateOrderInput{UserID: "user-1"})
		if !errors.Is(err, domain.ErrEmptyOrder) {
			t.Fatalf("expected ErrEmptyOrder, got %v", err)
		}
	})

	t.Run("non-positive quantity is rejected", func(t *testing.T) {
		store := newFakeStore(map[string]int32{"prod-1": 10})
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		_, err := w.CreateOrder(context.Background(), CreateOrderInput{
			UserID: "user-1",
			Items:  []CreateOrderItem{{ProductID: "prod-1", Quantity: 0}},
		})
		if !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Fatalf("expected ErrInvalidQuantity, got %v", err)
		}
	})

	t.Run("unknown user is rejected before any reservation", func(t *testing.T) {
		store := newFakeStore(map[string]int32{"prod-1": 10})
		store.missingUser = true
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		_, err := w.CreateOrder(context.Background(), CreateOrderInput{
			UserID: "nobody",
			Items:  []CreateOrderItem{{ProductID: "prod-1", Quantity: 1}},
		})
		if !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
		if store.begun != 0 {
			t.Fatalf("expected no unit of work, got %d", store.begun)
		}
	})

	t.Run("replayed idempotency key fails and rolls back", func(t *testing.T) {
		store := newFakeStore(map[string]int32{"prod-1": 10})
		store.idemKeys["key-1"] = "earlier-order"
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		_, err := w.CreateOrder(context.Background(), CreateOrderInput{
			UserID:         "user-1",
			Items:          []CreateOrderItem{{ProductID: "prod-1", Quantity: 2}},
			IdempotencyKey: "key-1",
		})
		if !errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
		}
		if got := store.stock["prod-1"]; got != 10 {
			t.Fatalf("expected stock back at 10, got %d", got)
		}
	})
}

func TestOrderWorkflow_UpdateStatus(t *testing.T) {
	t.Parallel()

	t.Run("any status may replace any other", func(t *testing.T) {
		store := newFakeStore(map[string]int32{"prod-1": 7})
		store.orders["order-1"] = domain.Order{
			ID:     "order-1",
			UserID: "user-1",
			Status: domain.OrderStatusPending,
			Items: []domain.OrderItem{
				{ID: "item-1", OrderID: "order-1", ProductID: "prod-1", Quantity: 3},
			},
		}
		events := &fakeEvents{}
		w := NewOrderWorkflow(store, store, store, events, clock.NewFixed(testNow))

		// PENDING straight to DELIVERED, skipping the intermediate states
		order, err := w.UpdateStatus(context.Background(), "order-1", domain.OrderStatusDelivered)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if order.Status != domain.OrderStatusDelivered {
			t.Fatalf("expected DELIVERED, got %s", order.Status)
		}
		if store.orders["order-1"].Status != domain.OrderStatusDelivered {
			t.Fatalf("expected persisted DELIVERED, got %s", store.orders["order-1"].Status)
		}
		if len(events.statusChanged) != 1 {
			t.Fatalf("expected one status event, got %d", len(events.statusChanged))
		}
		if events.statusChanged[0].old != domain.OrderStatusPending {
			t.Fatalf("expected old status PENDING, got %s", events.statusChanged[0].old)
		}
	})

	t.Run("invalid status string is rejected", func(t *testing.T) {
		store := newFakeStore(nil)
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		_, err := w.UpdateStatus(context.Background(), "order-1", domain.OrderStatus("SHOUTED"))
		if !errors.Is(err, domain.ErrInvalidStatus) {
			t.Fatalf("expected ErrInvalidStatus, got %v", err)
		}
	})

	t.Run("missing order returns not found", func(t *testing.T) {
		store := newFakeStore(nil)
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		_, err := w.UpdateStatus(context.Background(), "missing", domain.OrderStatusShipped)
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})
}

func TestOrderWorkflow_DeleteOrder(t *testing.T) {
	t.Parallel()

	t.Run("restores exact reserved quantities", func(t *testing.T) {
		store := newFakeStore(map[string]int32{"prod-1": 7, "prod-2": 3})
		store.orders["order-1"] = domain.Order{
			ID:     "order-1",
			UserID: "user-1",
			Status: domain.OrderStatusShipped,
			Items: []domain.OrderItem{
				{ID: "item-1", OrderID: "order-1", ProductID: "prod-1", Quantity: 3},
				{ID: "item-2", OrderID: "order-1", ProductID: "prod-2", Quantity: 2},
			},
		}
		events := &fakeEvents{}
		w := NewOrderWorkflow(store, store, store, events, clock.NewFixed(testNow))

		if err := w.DeleteOrder(context.Background(), "order-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := store.stock["prod-1"]; got != 10 {
			t.Fatalf("expected prod-1 stock 10, got %d", got)
		}
		if got := store.stock["prod-2"]; got != 5 {
			t.Fatalf("expected prod-2 stock 5, got %d", got)
		}
		if _, ok := store.orders["order-1"]; ok {
			t.Fatalf("expected order removed")
		}
		if len(events.deleted) != 1 || events.deleted[0].ID != "order-1" {
			t.Fatalf("expected one deleted event, got %+v", events.deleted)
		}
	})

	t.Run("delivered orders restore stock all the same", func(t *testing.T) {
		store := newFakeStore(map[string]int32{"prod-1": 0})
		store.orders["order-1"] = domain.Order{
			ID:     "order-1",
			Status: domain.OrderStatusDelivered,
			Items: []domain.OrderItem{
				{ID: "item-1", OrderID: "order-1", ProductID: "prod-1", Quantity: 4},
			},
		}
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		if err := w.DeleteOrder(context.Background(), "order-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := store.stock["prod-1"]; got != 4 {
			t.Fatalf("expected stock 4, got %d", got)
		}
	})

	t.Run("missing order returns not found", func(t *testing.T) {
		store := newFakeStore(nil)
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		err := w.DeleteOrder(context.Background(), "missing")
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})
}

func TestOrderWorkflow_Reads(t *testing.T) {
	t.Parallel()

	t.Run("list by status rejects invalid status", func(t *testing.T) {
		store := newFakeStore(nil)
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		_, err := w.ListOrdersByStatus(context.Background(), domain.OrderStatus("NOPE"), 20, 0)
		if !errors.Is(err, domain.ErrInvalidStatus) {
			t.Fatalf("expected ErrInvalidStatus, got %v", err)
		}
	})

	t.Run("list by user rejects unknown user", func(t *testing.T) {
		store := newFakeStore(nil)
		store.missingUser = true
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		_, err := w.ListOrdersByUser(context.Background(), "nobody", 20, 0)
		if !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("list without filter returns every order", func(t *testing.T) {
		store := newFakeStore(nil)
		store.orders["order-1"] = domain.Order{ID: "order-1", UserID: "user-1", Status: domain.OrderStatusPending}
		store.orders["order-2"] = domain.Order{ID: "order-2", UserID: "user-2", Status: domain.OrderStatusShipped}
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		all, err := w.ListOrders(context.Background(), 20, 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 orders, got %d", len(all))
		}
	})

	t.Run("count filters by user and status", func(t *testing.T) {
		store := newFakeStore(nil)
		store.orders["order-1"] = domain.Order{ID: "order-1", UserID: "user-1", Status: domain.OrderStatusPending}
		store.orders["order-2"] = domain.Order{ID: "order-2", UserID: "user-1", Status: domain.OrderStatusShipped}
		store.orders["order-3"] = domain.Order{ID: "order-3", UserID: "user-2", Status: domain.OrderStatusPending}
		w := NewOrderWorkflow(store, store, store, &fakeEvents{}, clock.NewFixed(testNow))

		n, err := w.CountOrdersByUserAndStatus(context.Background(), "user-1", domain.OrderStatusPending)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if n != 1 {
			t.Fatalf("expected count 1, got %d", n)
		}
	})
}

// fakeStore backs TxManager, OrderReader and UserDirectory with maps.
// Begin snapshots both maps; Rollback restores the snapshot unless the
// unit of work committed, which mirrors the all-or-nothing contract.
type fakeStore struct {
	stock       map[string]int32
	orders      map[string]domain.Order
	idemKeys    map[string]string
	missingUser bool
	begun       int
}

func newFakeStore(stock map[string]int32) *fakeStore {
	if stock == nil {
		stock = make(map[string]int32)
	}
	return &fakeStore{
		stock:    stock,
		orders:   make(map[string]domain.Order),
		idemKeys: make(map[string]string),
	}
}

func (f *fakeStore) Begin(_ context.Context) (UnitOfWork, error) {
	f.begun++
	stockSnap := make(map[string]int32, len(f.stock))
	for k, v := range f.stock {
		stockSnap[k] = v
	}
	ordersSnap := make(map[string]domain.Order, len(f.orders))
	for k, v := range f.orders {
		ordersSnap[k] = v
	}
	idemSnap := make(map[string]string, len(f.idemKeys))
	for k, v := range f.idemKeys {
		idemSnap[k] = v
	}
	return &fakeUow{store: f, stockSnap: stockSnap, ordersSnap: ordersSnap, idemSnap: idemSnap}, nil
}

func (f *fakeStore) Exists(_ context.Context, _ string) (bool, error) {
	return !f.missingUser, nil
}

func (f *fakeStore) Get(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeStore) List(_ context.Context, limit, offset int) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		out = append(out, o)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ListByUser(_ context.Context, userID string, _, _ int) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByStatus(_ context.Context, status domain.OrderStatus, _, _ int) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) CountByUserAndStatus(_ context.Context, userID string, status domain.OrderStatus) (int64, error) {
	var n int64
	for _, o := range f.orders {
		if o.UserID == userID && o.Status == status {
			n++
		}
	}
	return n, nil
}

type fakeUow struct {
	store      *fakeStore
	stockSnap  map[string]int32
	ordersSnap map[string]domain.Order
	idemSnap   map[string]string
	committed  bool
}

func (u *fakeUow) ReserveStock(_ context.Context, productID string, quantity int32) (int32, error) {
	available, ok := u.store.stock[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	if available < quantity {
		return 0, &domain.InsufficientStockError{ProductID: productID, Available: available, Requested: quantity}
	}
	u.store.stock[productID] = available - quantity
	return u.store.stock[productID], nil
}

func (u *fakeUow) RestoreStock(_ context.Context, productID string, quantity int32) (int32, error) {
	if _, ok := u.store.stock[productID]; !ok {
		return 0, domain.ErrProductNotFound
	}
	u.store.stock[productID] += quantity
	return u.store.stock[productID], nil
}

func (u *fakeUow) InsertOrder(_ context.Context, order domain.Order) error {
	u.store.orders[order.ID] = order
	return nil
}

func (u *fakeUow) GetOrderForUpdate(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := u.store.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (u *fakeUow) SetOrderStatus(_ context.Context, orderID string, status domain.OrderStatus, now time.Time) error {
	order, ok := u.store.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = now
	u.store.orders[orderID] = order
	return nil
}

func (u *fakeUow) DeleteOrder(_ context.Context, orderID string) error {
	delete(u.store.orders, orderID)
	return nil
}

func (u *fakeUow) InsertIdempotencyKey(_ context.Context, key, orderID string) error {
	if _, exists := u.store.idemKeys[key]; exists {
		return domain.ErrDuplicateIdempotencyKey
	}
	u.store.idemKeys[key] = orderID
	return nil
}

func (u *fakeUow) Commit(_ context.Context) error {
	u.committed = true
	return nil
}

func (u *fakeUow) Rollback(_ context.Context) error {
	if u.committed {
		return nil
	}
	u.store.stock = u.stockSnap
	u.store.orders = u.ordersSnap
	u.store.idemKeys = u.idemSnap
	return nil
}

type statusEvent struct {
	order domain.Order
	old   domain.OrderStatus
}

type fakeEvents struct {
	created       []domain.Order
	statusChanged []statusEvent
	deleted       []domain.Order
}

func (f *fakeEvents) OrderCreated(_ context.Context, order domain.Order) {
	f.created = append(f.created, order)
}

func (f *fakeEvents) OrderStatusChanged(_ context.Context, order domain.Order, old domain.OrderStatus) {
	f.statusChanged = append(f.statusChanged, statusEvent{order: order, old: old})
}

func (f *fakeEvents) OrderDeleted(_ context.Context, order domain.Order) {
	f.deleted = append(f.deleted, order)
}
