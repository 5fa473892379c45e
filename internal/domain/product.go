package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product carries the stock counter mutated exclusively through the
// stock ledger's reserve/restore operations.
type Product struct {
	ID            string
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int32

	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}
