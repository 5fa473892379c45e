package events

import (
	"context"
	"encoding/json"

	"github.com/ocean5tech/grydemo/pkg/contracts"
	"github.com/ocean5tech/grydemo/pkg/logging"
)

// Deduper remembers processed event IDs across redeliveries. Seen is
// checked before dispatching; MarkSeen is recorded only after the
// event's side effects succeeded, so a failed attempt never blocks a
// later retry from performing them.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) (bool, error)
}

type NotificationStore interface {
	SaveNotification(ctx context.Context, eventID, orderID, kind string, payload map[string]any) error
}

// OrderEventHandler dispatches order lifecycle events by type. Because
// delivery is at-least-once, every branch is idempotent: a redelivered
// event ID is recognized and acknowledged without repeating side
// effects.
type OrderEventHandler struct {
	dedup    Deduper
	producer Producer
	service  string
}

func NewOrderEventHandler(dedup Deduper, producer Producer) *OrderEventHandler {
	return &OrderEventHandler{dedup: dedup, producer: producer, service: "order-processing-group"}
}

func (h *OrderEventHandler) Handle(ctx context.Context, msg Message) error {
	var evt contracts.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		// A malformed payload will never parse on redelivery either;
		// log and acknowledge instead of burning the retry budget.
		logging.Error(logging.Fields{Service: h.service, Topic: msg.Topic, Step: "decode", Status: "invalid_payload", Err: err})
		return nil
	}

	seen, err := h.dedup.Seen(ctx, evt.EventID)
	if err != nil {
		return err
	}
	if seen {
		logging.Log(logging.Fields{
			Service: h.service,
			OrderID: evt.OrderID,
			EventID: evt.EventID,
			Step:    evt.EventType,
			Status:  "duplicate_skipped",
		})
		return nil
	}

	switch evt.EventType {
	case contracts.EventOrderCreated:
		h.log(evt, "processed")
	case contracts.EventOrderStatusChanged:
		if err := h.handleStatusChanged(ctx, evt); err != nil {
			return err
		}
	case contracts.EventOrderDeleted:
		h.log(evt, "processed")
	default:
		logging.Log(logging.Fields{
			Service: h.service,
			EventID: evt.EventID,
			Step:    evt.EventType,
			Status:  "unknown_event_type",
		})
	}

	// Mark only after the side effects landed. A crash between them
	// and the mark causes one redelivered re-run, which the keyed
	// notification paths absorb.
	if _, err := h.dedup.MarkSeen(ctx, evt.EventID); err != nil {
		return err
	}
	return nil
}

func (h *OrderEventHandler) handleStatusChanged(ctx context.Context, evt contracts.Event) error {
	h.log(evt, "processed")
	if evt.NewStatus == nil || *evt.NewStatus != "DELIVERED" {
		return nil
	}

	// Delivered orders trigger a completion notification for the
	// notification consumer group.
	payload := map[string]any{
		"eventId": evt.EventID,
		"orderId": evt.OrderID,
		"userId":  evt.UserID,
		"kind":    "ORDER_COMPLETED",
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := h.producer.Publish(ctx, contracts.TopicNotificationEvents, nil, value); err != nil {
		return err
	}
	logging.Log(logging.Fields{
		Service: h.service,
		OrderID: evt.OrderID,
		EventID: evt.EventID,
		Topic:   contracts.TopicNotificationEvents,
		Step:    "completion_notification",
		Status:  "sent",
	})
	return nil
}

func (h *OrderEventHandler) log(evt contracts.Event, status string) {
	logging.Log(logging.Fields{
		Service: h.service,
		OrderID: evt.OrderID,
		EventID: evt.EventID,
		Step:    evt.EventType,
		Status:  status,
	})
}

// NotificationEventHandler persists incoming notification payloads.
// The payload is an opaque map; entries without an event ID are logged
// and acknowledged without being stored.
type NotificationEventHandler struct {
	store   NotificationStore
	service string
}

func NewNotificationEventHandler(store NotificationStore) *NotificationEventHandler {
	return &NotificationEventHandler{store: store, service: "notification-group"}
}

func (h *NotificationEventHandler) Handle(ctx context.Context, msg Message) error {
	var payload map[string]any
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		logging.Error(logging.Fields{Service: h.service, Topic: msg.Topic, Step: "decode", Status: "invalid_payload", Err: err})
		return nil
	}

	eventID, _ := payload["eventId"].(string)
	if eventID == "" {
		logging.Log(logging.Fields{Service: h.service, Topic: msg.Topic, Step: "notification", Status: "missing_event_id"})
		return nil
	}
	orderID, _ := payload["orderId"].(string)
	kind, _ := payload["kind"].(string)
	if kind == "" {
		kind = "NOTIFICATION"
	}

	if err := h.store.SaveNotification(ctx, eventID, orderID, kind, payload); err != nil {
		return err
	}
	logging.Log(logging.Fields{
		Service: h.service,
		OrderID: orderID,
		EventID: eventID,
		Step:    kind,
		Status:  "emitted",
	})
	return nil
}

// InventoryEventHandler is a stub consumer for the inventory events
// category; it acknowledges everything after logging.
type InventoryEventHandler struct {
	service string
}

func NewInventoryEventHandler() *InventoryEventHandler {
	return &InventoryEventHandler{service: "inventory-group"}
}

func (h *InventoryEventHandler) Handle(_ context.Context, msg Message) error {
	var payload map[string]any
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		logging.Error(logging.Fields{Service: h.service, Topic: msg.Topic, Step: "decode", Status: "invalid_payload", Err: err})
		return nil
	}
	logging.Log(logging.Fields{Service: h.service, Topic: msg.Topic, Step: "inventory_event", Status: "processed"})
	return nil
}
