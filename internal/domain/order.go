package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// ValidStatus reports whether s is one of the known order statuses.
// There is deliberately no transition graph: any status may replace
// any other through the update path.
func ValidStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int32
	UnitPrice decimal.Decimal
}

// Order is the order/order-item aggregate. TotalAmount is supplied by
// the caller at creation and is not derived from the items.
type Order struct {
	ID          string
	UserID      string
	TotalAmount decimal.Decimal
	Status      OrderStatus
	Items       []OrderItem

	CreatedAt time.Time
	UpdatedAt time.Time
}
