package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ocean5tech/grydemo/internal/events"
	"github.com/ocean5tech/grydemo/internal/storage/postgres"
	"github.com/ocean5tech/grydemo/migrations"
	"github.com/ocean5tech/grydemo/pkg/contracts"
	"github.com/ocean5tech/grydemo/pkg/kafka"
	"github.com/ocean5tech/grydemo/pkg/logging"
	"github.com/ocean5tech/grydemo/pkg/metrics"
)

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	if brokers == "" {
		return cfg{}, errors.New("KAFKA_BROKERS is required")
	}
	return cfg{
		Port:         getenv("PORT", "8081"),
		DatabaseURL:  db,
		KafkaBrokers: brokers,
	}, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	defer logging.Sync()

	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(startupCtx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	if err := migrations.Apply(startupCtx, pool); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if err := kafkaClient.EnsureTopics(contracts.TopicPartitions,
		contracts.TopicOrderEvents,
		contracts.TopicNotificationEvents,
		contracts.TopicInventoryEvents,
	); err != nil {
		log.Printf("ensure topics: %v", err)
	}

	pipeMetrics := metrics.NewPipelineMetrics("event_consumer")
	producer := events.NewKafkaProducer(kafkaClient)
	defer producer.Close()

	inbox := postgres.NewInbox(pool)

	// One consumer group per event category; groups do not share
	// offsets or retry counters.
	consumers := []*events.Consumer{
		events.NewConsumer(
			contracts.TopicOrderEvents, "order-processing-group",
			events.NewKafkaFetcher(kafkaClient, contracts.TopicOrderEvents, "order-processing-group"),
			events.NewOrderEventHandler(inbox, producer),
			producer, pipeMetrics,
		),
		events.NewConsumer(
			contracts.TopicNotificationEvents, "notification-group",
			events.NewKafkaFetcher(kafkaClient, contracts.TopicNotificationEvents, "notification-group"),
			events.NewNotificationEventHandler(inbox),
			producer, pipeMetrics,
		),
		events.NewConsumer(
			contracts.TopicInventoryEvents, "inventory-group",
			events.NewKafkaFetcher(kafkaClient, contracts.TopicInventoryEvents, "inventory-group"),
			events.NewInventoryEventHandler(),
			producer, pipeMetrics,
		),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, c := range consumers {
		wg.Add(1)
		go func(c *events.Consumer) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				log.Printf("consumer stopped with error: %v", err)
			}
		}(c)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("event-consumer listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
