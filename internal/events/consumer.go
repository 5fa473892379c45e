package events

import (
	"context"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ocean5tech/grydemo/pkg/contracts"
	"github.com/ocean5tech/grydemo/pkg/kafka"
	"github.com/ocean5tech/grydemo/pkg/logging"
	"github.com/ocean5tech/grydemo/pkg/metrics"
)

// Message is one delivery pulled from a topic partition.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// Fetcher pulls messages and commits offsets for one (topic, group)
// pair. Commit acknowledges everything up to and including the message.
type Fetcher interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

const (
	// maxAttempts is the total delivery budget per message; the first
	// delivery counts as attempt 1.
	maxAttempts = 3
	baseBackoff = 1 * time.Second
)

// Consumer runs the per-message state machine: deliver, and on handler
// failure redeliver with doubling backoff until the attempt budget is
// exhausted, then park the message on a dead-letter topic. The offset
// is committed only after handler success or dead-letter routing, so a
// crash in between causes redelivery (at-least-once). Because the
// failed message is retried in place before its offset moves,
// per-partition ordering survives the retry path.
type Consumer struct {
	topic   string
	group   string
	fetcher Fetcher
	handler Handler
	dlq     Producer
	metrics *metrics.PipelineMetrics

	// sleep is swapped in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewConsumer(topic, group string, fetcher Fetcher, handler Handler, dlq Producer, m *metrics.PipelineMetrics) *Consumer {
	return &Consumer{
		topic:   topic,
		group:   group,
		fetcher: fetcher,
		handler: handler,
		dlq:     dlq,
		metrics: m,
		sleep:   sleepCtx,
	}
}

// Run consumes until ctx is cancelled. An in-flight message always
// reaches an acknowledge, retry or dead-letter decision before the
// loop exits, unless the context interrupts a backoff wait, in which
// case the uncommitted message is redelivered later.
func (c *Consumer) Run(ctx context.Context) error {
	logging.Log(logging.Fields{Service: c.group, Topic: c.topic, Step: "consume", Status: "started"})
	defer c.fetcher.Close()

	for {
		msg, err := c.fetcher.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logging.Log(logging.Fields{Service: c.group, Topic: c.topic, Step: "consume", Status: "stopped"})
				return nil
			}
			logging.Error(logging.Fields{Service: c.group, Topic: c.topic, Step: "fetch", Status: "error", Err: err})
			if serr := c.sleep(ctx, 2*time.Second); serr != nil {
				return nil
			}
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			// Could not reach a terminal decision (e.g. dead-letter
			// publish failed). Leave the offset uncommitted so the
			// message is redelivered.
			logging.Error(logging.Fields{Service: c.group, Topic: c.topic, Step: "process", Status: "error", Err: err})
			continue
		}
		if err := c.fetcher.Commit(ctx, msg); err != nil {
			logging.Error(logging.Fields{Service: c.group, Topic: c.topic, Step: "commit", Status: "error", Err: err})
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg Message) error {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := c.handler.Handle(ctx, msg)
		if c.metrics != nil {
			c.metrics.HandlerMS.WithLabelValues(c.topic).Observe(float64(time.Since(start).Milliseconds()))
		}
		if err == nil {
			if c.metrics != nil {
				c.metrics.Consumed.WithLabelValues(c.topic, "acknowledged").Inc()
			}
			return nil
		}

		logging.Error(logging.Fields{
			Service: c.group,
			Topic:   c.topic,
			Step:    "handle",
			Status:  "failed",
			Attempt: attempt,
			Err:     err,
		})

		if attempt >= maxAttempts {
			return c.deadLetter(ctx, msg, attempt)
		}

		if c.metrics != nil {
			c.metrics.Retries.WithLabelValues(c.topic).Inc()
		}
		if err := c.sleep(ctx, backoff(attempt)); err != nil {
			return err
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg Message, attempt int) error {
	topic := contracts.DeadLetterTopic(c.topic, attempt-1)
	err := c.dlq.Publish(ctx, topic, msg.Key, msg.Value)
	if err != nil && !errors.Is(err, kafka.ErrDisabled) {
		return err
	}
	if c.metrics != nil {
		c.metrics.DeadLettered.WithLabelValues(c.topic).Inc()
	}
	logging.Error(logging.Fields{
		Service: c.group,
		Topic:   topic,
		Step:    "dead_letter",
		Status:  "parked",
		Attempt: attempt,
	})
	return nil
}

// backoff doubles per delivery attempt: 1s after the first failure,
// 2s after the second, and so on.
func backoff(attempt int) time.Duration {
	return baseBackoff << (attempt - 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// KafkaFetcher adapts a kafka-go reader to the Fetcher interface.
type KafkaFetcher struct {
	reader *kafkago.Reader
	// raw holds the last fetched kafka message per partition/offset so
	// commits map back to the original delivery.
	pending map[int64]kafkago.Message
}

func NewKafkaFetcher(client *kafka.Client, topic, group string) *KafkaFetcher {
	return &KafkaFetcher{
		reader:  client.NewReader(topic, group),
		pending: make(map[int64]kafkago.Message),
	}
}

func (f *KafkaFetcher) Fetch(ctx context.Context) (Message, error) {
	m, err := f.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	f.pending[key(m.Partition, m.Offset)] = m
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
	}, nil
}

func (f *KafkaFetcher) Commit(ctx context.Context, msg Message) error {
	k := key(msg.Partition, msg.Offset)
	m, ok := f.pending[k]
	if !ok {
		return nil
	}
	delete(f.pending, k)
	return f.reader.CommitMessages(ctx, m)
}

func (f *KafkaFetcher) Close() error {
	return f.reader.Close()
}

func key(partition int, offset int64) int64 {
	return int64(partition)<<48 | offset
}
