package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidStatus   = errors.New("unknown order status")
	ErrEmptyOrder      = errors.New("order must contain at least one item")

	// ErrDuplicateIdempotencyKey marks a creation replayed under a key
	// that already produced an order.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

// InsufficientStockError is a business-expected outcome of a failed
// reservation, carrying enough context for the caller to report which
// product could not be reserved.
type InsufficientStockError struct {
	ProductID string
	Available int32
	Requested int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// IsInsufficientStock unwraps err into an InsufficientStockError if possible.
func IsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var ise *InsufficientStockError
	if errors.As(err, &ise) {
		return ise, true
	}
	return nil, false
}
