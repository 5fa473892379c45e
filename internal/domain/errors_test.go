package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidStatus(t *testing.T) {
	for _, s := range []OrderStatus{
		OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled,
	} {
		if !ValidStatus(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	for _, s := range []OrderStatus{"", "pending", "RETURNED"} {
		if ValidStatus(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestIsInsufficientStock(t *testing.T) {
	base := &InsufficientStockError{ProductID: "prod-1", Available: 1, Requested: 3}
	wrapped := fmt.Errorf("create order: %w", base)

	got, ok := IsInsufficientStock(wrapped)
	if !ok {
		t.Fatalf("expected match through wrapping")
	}
	if got.ProductID != "prod-1" || got.Available != 1 || got.Requested != 3 {
		t.Fatalf("unexpected detail: %+v", got)
	}

	if _, ok := IsInsufficientStock(errors.New("other")); ok {
		t.Fatalf("expected no match")
	}
}
