package contracts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event is the order lifecycle envelope shared by every producer and
// consumer of the order-events topic. EventID is the consumer-side
// dedup key; OldStatus/NewStatus are nil when the transition has no
// corresponding side.
type Event struct {
	EventID     string          `json:"eventId"`
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	EventType   string          `json:"eventType"`
	OldStatus   *string         `json:"oldStatus"`
	NewStatus   *string         `json:"newStatus"`
	Timestamp   time.Time       `json:"timestamp"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

const (
	EventOrderCreated       = "ORDER_CREATED"
	EventOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventOrderDeleted       = "ORDER_DELETED"
)

const (
	TopicOrderEvents        = "order-events"
	TopicNotificationEvents = "notification-events"
	TopicInventoryEvents    = "inventory-events"
)

// TopicPartitions is the partition count every pipeline topic is
// created with. Ordering is guaranteed only within a partition, i.e.
// within the events of a single order.
const TopicPartitions = 3

// DeadLetterTopic names the parking topic for a message that exhausted
// its retry budget, indexed by the last delivery attempt.
func DeadLetterTopic(topic string, attempt int) string {
	return fmt.Sprintf("%s-dlt-%d", topic, attempt)
}
