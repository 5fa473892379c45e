package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ocean5tech/grydemo/internal/clock"
	"github.com/ocean5tech/grydemo/internal/domain"
	"github.com/ocean5tech/grydemo/pkg/contracts"
	"github.com/ocean5tech/grydemo/pkg/kafka"
	"github.com/ocean5tech/grydemo/pkg/logging"
	"github.com/ocean5tech/grydemo/pkg/metrics"
)

// Producer is the raw send path to the event channel.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// KafkaProducer writes through one hash-keyed writer per topic, so a
// stable key maps to a stable partition.
type KafkaProducer struct {
	client *kafka.Client

	mu      sync.Mutex
	writers map[string]*kafkago.Writer
}

func NewKafkaProducer(client *kafka.Client) *KafkaProducer {
	return &KafkaProducer{client: client, writers: make(map[string]*kafkago.Writer)}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if !p.client.Enabled() {
		return kafka.ErrDisabled
	}
	return p.writer(topic).WriteMessages(ctx, kafkago.Message{Key: key, Value: value})
}

func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.writers = make(map[string]*kafkago.Writer)
	return firstErr
}

func (p *KafkaProducer) writer(topic string) *kafkago.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[topic]
	if !ok {
		w = p.client.NewWriter(topic)
		p.writers[topic] = w
	}
	return w
}

// Publisher emits order lifecycle events to the order-events topic,
// keyed by order ID so one partition carries all events of an order.
// Delivery is best-effort: the triggering mutation has already
// committed, so a failed send is logged and counted, never returned.
type Publisher struct {
	producer Producer
	clock    clock.Clock
	metrics  *metrics.PipelineMetrics
}

func NewPublisher(producer Producer, clk clock.Clock, m *metrics.PipelineMetrics) *Publisher {
	return &Publisher{producer: producer, clock: clk, metrics: m}
}

func (p *Publisher) OrderCreated(ctx context.Context, order domain.Order) {
	p.publish(ctx, contracts.EventOrderCreated, order, nil, statusPtr(order.Status))
}

func (p *Publisher) OrderStatusChanged(ctx context.Context, order domain.Order, oldStatus domain.OrderStatus) {
	p.publish(ctx, contracts.EventOrderStatusChanged, order, statusPtr(oldStatus), statusPtr(order.Status))
}

func (p *Publisher) OrderDeleted(ctx context.Context, order domain.Order) {
	p.publish(ctx, contracts.EventOrderDeleted, order, statusPtr(order.Status), nil)
}

func (p *Publisher) publish(ctx context.Context, eventType string, order domain.Order, oldStatus, newStatus *string) {
	evt := contracts.Event{
		EventID:     uuid.NewString(),
		OrderID:     order.ID,
		UserID:      order.UserID,
		EventType:   eventType,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		Timestamp:   p.clock.Now(),
		TotalAmount: order.TotalAmount,
	}

	value, err := json.Marshal(evt)
	if err != nil {
		p.record(ctx, evt, eventType, "encode_error", err)
		return
	}
	if err := p.producer.Publish(ctx, contracts.TopicOrderEvents, []byte(order.ID), value); err != nil {
		p.record(ctx, evt, eventType, "publish_error", err)
		return
	}
	p.record(ctx, evt, eventType, "published", nil)
}

func (p *Publisher) record(_ context.Context, evt contracts.Event, eventType, status string, err error) {
	if p.metrics != nil {
		p.metrics.Published.WithLabelValues(contracts.TopicOrderEvents, eventType, status).Inc()
	}
	f := logging.Fields{
		Service: "event-publisher",
		OrderID: evt.OrderID,
		EventID: evt.EventID,
		Topic:   contracts.TopicOrderEvents,
		Step:    eventType,
		Status:  status,
		Err:     err,
	}
	if err != nil {
		logging.Error(f)
		return
	}
	logging.Log(f)
}

func statusPtr(s domain.OrderStatus) *string {
	v := string(s)
	return &v
}
