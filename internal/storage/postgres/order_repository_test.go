package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ocean5tech/grydemo/internal/domain"
	"github.com/ocean5tech/grydemo/internal/testutil"
)

func testOrderFor(userID, productID string, quantity int32) domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	order := domain.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		TotalAmount: decimal.RequireFromString("29.97"),
		Status:      domain.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	order.Items = []domain.OrderItem{{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: decimal.RequireFromString("9.99"),
	}}
	return order
}

func TestTx_OrderLifecycle(t *testing.T) {
	pool := testutil.NewTestPool(t)
	txs := NewTxManager(pool)
	repo := NewOrderRepository(pool)

	t.Run("commit persists order, items and stock decrement together", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool)
		productID := testutil.InsertProduct(t, ctx, pool, "Widget", 10)
		order := testOrderFor(userID, productID, 3)

		uow, err := txs.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer uow.Rollback(ctx)
		if _, err := uow.ReserveStock(ctx, productID, 3); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if err := uow.InsertOrder(ctx, order); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := uow.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}

		got, err := repo.Get(ctx, order.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != domain.OrderStatusPending {
			t.Fatalf("expected PENDING, got %s", got.Status)
		}
		if len(got.Items) != 1 || got.Items[0].Quantity != 3 {
			t.Fatalf("unexpected items: %+v", got.Items)
		}
		if !got.TotalAmount.Equal(order.TotalAmount) {
			t.Fatalf("expected total %s, got %s", order.TotalAmount, got.TotalAmount)
		}
		if stock := testutil.StockOf(t, ctx, pool, productID); stock != 7 {
			t.Fatalf("expected stock 7, got %d", stock)
		}
	})

	t.Run("rollback releases the reservation and drops the order", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool)
		productID := testutil.InsertProduct(t, ctx, pool, "Widget", 10)
		order := testOrderFor(userID, productID, 3)

		uow, err := txs.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if _, err := uow.ReserveStock(ctx, productID, 3); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if err := uow.InsertOrder(ctx, order); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := uow.Rollback(ctx); err != nil {
			t.Fatalf("rollback: %v", err)
		}

		if _, err := repo.Get(ctx, order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
		if stock := testutil.StockOf(t, ctx, pool, productID); stock != 10 {
			t.Fatalf("expected stock back at 10, got %d", stock)
		}
	})

	t.Run("delete cascades to items", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool)
		productID := testutil.InsertProduct(t, ctx, pool, "Widget", 10)
		order := testOrderFor(userID, productID, 2)

		uow, _ := txs.Begin(ctx)
		uow.InsertOrder(ctx, order)
		uow.Commit(ctx)

		uow2, err := txs.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer uow2.Rollback(ctx)
		if err := uow2.DeleteOrder(ctx, order.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := uow2.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}

		var items int
		if err := pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM order_items WHERE order_id = $1`, order.ID,
		).Scan(&items); err != nil {
			t.Fatalf("count items: %v", err)
		}
		if items != 0 {
			t.Fatalf("expected 0 items, got %d", items)
		}
	})

	t.Run("set status updates the timestamp", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool)
		productID := testutil.InsertProduct(t, ctx, pool, "Widget", 10)
		order := testOrderFor(userID, productID, 1)

		uow, _ := txs.Begin(ctx)
		uow.InsertOrder(ctx, order)
		uow.Commit(ctx)

		later := order.UpdatedAt.Add(time.Minute)
		uow2, _ := txs.Begin(ctx)
		defer uow2.Rollback(ctx)
		if err := uow2.SetOrderStatus(ctx, order.ID, domain.OrderStatusDelivered, later); err != nil {
			t.Fatalf("set status: %v", err)
		}
		uow2.Commit(ctx)

		got, err := repo.Get(ctx, order.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != domain.OrderStatusDelivered {
			t.Fatalf("expected DELIVERED, got %s", got.Status)
		}
		if !got.UpdatedAt.Equal(later) {
			t.Fatalf("expected updated_at %s, got %s", later, got.UpdatedAt)
		}
	})

	t.Run("duplicate idempotency key is rejected", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool)
		productID := testutil.InsertProduct(t, ctx, pool, "Widget", 10)

		first := testOrderFor(userID, productID, 1)
		uow, _ := txs.Begin(ctx)
		uow.InsertOrder(ctx, first)
		if err := uow.InsertIdempotencyKey(ctx, "key-1", first.ID); err != nil {
			t.Fatalf("insert key: %v", err)
		}
		uow.Commit(ctx)

		second := testOrderFor(userID, productID, 1)
		uow2, _ := txs.Begin(ctx)
		defer uow2.Rollback(ctx)
		uow2.InsertOrder(ctx, second)
		err := uow2.InsertIdempotencyKey(ctx, "key-1", second.ID)
		if !errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
		}

		if id, err := repo.FindIDByIdempotencyKey(ctx, "key-1"); err != nil || id != first.ID {
			t.Fatalf("expected key to map to %s, got %s (%v)", first.ID, id, err)
		}
	})
}

func TestOrderRepository_Reads(t *testing.T) {
	pool := testutil.NewTestPool(t)
	txs := NewTxManager(pool)
	repo := NewOrderRepository(pool)

	ctx := context.Background()
	testutil.TruncateAll(t, ctx, pool)
	userID := testutil.InsertUser(t, ctx, pool)
	productID := testutil.InsertProduct(t, ctx, pool, "Widget", 100)

	var ids []string
	for i := 0; i < 3; i++ {
		order := testOrderFor(userID, productID, 1)
		if i == 2 {
			order.Status = domain.OrderStatusShipped
		}
		uow, err := txs.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := uow.InsertOrder(ctx, order); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := uow.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		ids = append(ids, order.ID)
	}

	t.Run("list without filter pages every order", func(t *testing.T) {
		all, err := repo.List(ctx, 20, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 orders, got %d", len(all))
		}
		page, err := repo.List(ctx, 2, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page) != 1 {
			t.Fatalf("expected 1 order, got %d", len(page))
		}
	})

	t.Run("list by user honors limit and offset", func(t *testing.T) {
		page, err := repo.ListByUser(ctx, userID, 2, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page) != 2 {
			t.Fatalf("expected 2 orders, got %d", len(page))
		}
		rest, err := repo.ListByUser(ctx, userID, 2, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(rest) != 1 {
			t.Fatalf("expected 1 order, got %d", len(rest))
		}
	})

	t.Run("list by status filters", func(t *testing.T) {
		shipped, err := repo.ListByStatus(ctx, domain.OrderStatusShipped, 20, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(shipped) != 1 || shipped[0].ID != ids[2] {
			t.Fatalf("unexpected shipped page: %+v", shipped)
		}
	})

	t.Run("count by user and status", func(t *testing.T) {
		n, err := repo.CountByUserAndStatus(ctx, userID, domain.OrderStatusPending)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2, got %d", n)
		}
	})

	t.Run("missing idempotency key returns empty", func(t *testing.T) {
		id, err := repo.FindIDByIdempotencyKey(ctx, "never-used")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if id != "" {
			t.Fatalf("expected empty, got %s", id)
		}
	})
}
