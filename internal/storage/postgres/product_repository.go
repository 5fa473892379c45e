package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ocean5tech/grydemo/internal/domain"
)

// ProductRepository covers plain product records; stock quantities are
// only ever written through the StockLedger.
type ProductRepository struct {
	db querier
}

func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{db: pool}
}

func (r *ProductRepository) Create(ctx context.Context, p domain.Product) (domain.Product, error) {
	err := r.db.QueryRow(ctx,
		`INSERT INTO products (name, description, price, stock_quantity)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		p.Name, p.Description, p.Price, p.StockQuantity,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, fmt.Errorf("create product: %w", err)
	}
	return p, nil
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRow(ctx,
		`SELECT id, name, description, price, stock_quantity, created_at, updated_at
		 FROM products WHERE id = $1`,
		productID,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// List pages through products; a non-empty search narrows the page to
// names containing it, case-insensitively.
func (r *ProductRepository) List(ctx context.Context, search string, limit, offset int) ([]domain.Product, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, description, price, stock_quantity, created_at, updated_at
		 FROM products
		 WHERE $1 = '' OR name ILIKE '%' || $1 || '%'
		 ORDER BY name LIMIT $2 OFFSET $3`,
		search, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
