package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/ocean5tech/grydemo/internal/domain"
	"github.com/ocean5tech/grydemo/internal/testutil"
)

func TestProductRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewProductRepository(pool)

	ctx := context.Background()
	testutil.TruncateAll(t, ctx, pool)
	testutil.InsertProduct(t, ctx, pool, "Blue Widget", 10)
	testutil.InsertProduct(t, ctx, pool, "Red Widget", 5)
	testutil.InsertProduct(t, ctx, pool, "Gadget", 3)

	t.Run("empty search lists everything", func(t *testing.T) {
		all, err := repo.List(ctx, "", 20, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 products, got %d", len(all))
		}
	})

	t.Run("search filters by name, case-insensitively", func(t *testing.T) {
		widgets, err := repo.List(ctx, "widget", 20, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(widgets) != 2 {
			t.Fatalf("expected 2 widgets, got %d", len(widgets))
		}
		for _, p := range widgets {
			if p.Name != "Blue Widget" && p.Name != "Red Widget" {
				t.Fatalf("unexpected product %q", p.Name)
			}
		}
	})

	t.Run("search honors pagination", func(t *testing.T) {
		page, err := repo.List(ctx, "widget", 1, 1)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page) != 1 {
			t.Fatalf("expected 1 product, got %d", len(page))
		}
	})

	t.Run("unknown product id maps to not found", func(t *testing.T) {
		_, err := repo.Get(ctx, "00000000-0000-0000-0000-000000000001")
		if !errors.Is(err, domain.ErrProductNotFound) {
			t.Fatalf("expected ErrProductNotFound, got %v", err)
		}
	})
}
