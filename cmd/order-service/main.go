package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ocean5tech/grydemo/internal/clock"
	"github.com/ocean5tech/grydemo/internal/domain"
	"github.com/ocean5tech/grydemo/internal/events"
	"github.com/ocean5tech/grydemo/internal/storage/postgres"
	"github.com/ocean5tech/grydemo/internal/workflow"
	"github.com/ocean5tech/grydemo/migrations"
	"github.com/ocean5tech/grydemo/pkg/contracts"
	"github.com/ocean5tech/grydemo/pkg/idempotency"
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
	return cfg{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  db,
		KafkaBrokers: getenv("KAFKA_BROKERS", ""),
	}, nil
}

// txManager adapts the postgres unit of work to the workflow interface.
type txManager struct {
	inner *postgres.TxManager
}

func (t txManager) Begin(ctx context.Context) (workflow.UnitOfWork, error) {
	return t.inner.Begin(ctx)
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
	if kafkaClient.Enabled() {
		if err := kafkaClient.EnsureTopics(contracts.TopicPartitions,
			contracts.TopicOrderEvents,
			contracts.TopicNotificationEvents,
			contracts.TopicInventoryEvents,
		); err != nil {
			log.Printf("ensure topics: %v", err)
		}
	} else {
		log.Printf("KAFKA_BROKERS not set, event publishing disabled")
	}

	srvMetrics := metrics.NewServerMetrics("order_service")
	pipeMetrics := metrics.NewPipelineMetrics("order_service")

	producer := events.NewKafkaProducer(kafkaClient)
	defer producer.Close()

	clk := clock.NewSystem()
	publisher := events.NewPublisher(producer, clk, pipeMetrics)
	orderRepo := postgres.NewOrderRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	productRepo := postgres.NewProductRepository(pool)
	orders := workflow.NewOrderWorkflow(txManager{postgres.NewTxManager(pool)}, orderRepo, userRepo, publisher, clk)

	api := &server{
		orders:   orders,
		orderIdx: orderRepo,
		users:    userRepo,
		products: productRepo,
		metrics:  srvMetrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/orders", api.instrument("orders", api.handleOrders))
	mux.HandleFunc("/orders/", api.instrument("order_by_id", api.handleOrderByID))
	mux.HandleFunc("/users", api.instrument("users", api.handleUsers))
	mux.HandleFunc("/users/", api.instrument("user_by_id", api.handleUserByID))
	mux.HandleFunc("/products", api.instrument("products", api.handleProducts))
	mux.HandleFunc("/products/", api.instrument("product_by_id", api.handleProductByID))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("order-service listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// Shutdown stops accepting new requests and lets in-flight
	// transactional units finish.
	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

type server struct {
	orders   *workflow.OrderWorkflow
	orderIdx *postgres.OrderRepository
	users    *postgres.UserRepository
	products *postgres.ProductRepository
	metrics  *metrics.ServerMetrics
}

type orderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type createOrderRequest struct {
	UserID      string             `json:"user_id"`
	TotalAmount string             `json:"total_amount"`
	Items       []orderItemRequest `json:"items"`
}

func (s *server) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createOrder(w, r)
	case http.MethodGet:
		limit, offset := pagination(r)
		var (
			list []domain.Order
			err  error
		)
		if raw := r.URL.Query().Get("status"); raw != "" {
			list, err = s.orders.ListOrdersByStatus(r.Context(), domain.OrderStatus(raw), limit, offset)
		} else {
			list, err = s.orders.ListOrders(r.Context(), limit, offset)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": toOrderViews(list)})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (s *server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	total, err := decimal.NewFromString(strings.TrimSpace(req.TotalAmount))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "total_amount must be a decimal string"})
		return
	}

	in := workflow.CreateOrderInput{
		UserID:         strings.TrimSpace(req.UserID),
		TotalAmount:    total,
		IdempotencyKey: idempotency.Key(r),
	}
	for _, item := range req.Items {
		price, err := decimal.NewFromString(strings.TrimSpace(item.UnitPrice))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unit_price must be a decimal string"})
			return
		}
		in.Items = append(in.Items, workflow.CreateOrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}

	// Replay: a known idempotency key returns the order it created.
	if in.IdempotencyKey != "" {
		if existing, err := s.orderIdx.FindIDByIdempotencyKey(r.Context(), in.IdempotencyKey); err == nil && existing != "" {
			s.replayOrder(w, r, existing)
			return
		}
	}

	order, err := s.orders.CreateOrder(r.Context(), in)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) && in.IdempotencyKey != "" {
			if existing, qerr := s.orderIdx.FindIDByIdempotencyKey(r.Context(), in.IdempotencyKey); qerr == nil && existing != "" {
				s.replayOrder(w, r, existing)
				return
			}
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderView(order))
}

func (s *server) replayOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := s.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": toOrderView(order), "status": "IDEMPOTENT_REPLAY"})
}

func (s *server) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/orders/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	orderID := parts[0]
	if orderID == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "order id required"})
		return
	}

	if len(parts) == 2 && parts[1] == "status" {
		if r.Method != http.MethodPut {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		order, err := s.orders.UpdateStatus(r.Context(), orderID, domain.OrderStatus(req.Status))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderView(order))
		return
	}

	switch r.Method {
	case http.MethodGet:
		order, err := s.orders.GetOrder(r.Context(), orderID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderView(order))
	case http.MethodDelete:
		if err := s.orders.DeleteOrder(r.Context(), orderID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (s *server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Email) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "username and email are required"})
		return
	}
	user, err := s.users.Create(r.Context(), domain.User{Username: req.Username, Email: req.Email})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	userID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		user, err := s.users.Get(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case len(parts) == 2 && parts[1] == "orders" && r.Method == http.MethodGet:
		limit, offset := pagination(r)
		list, err := s.orders.ListOrdersByUser(r.Context(), userID, limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": toOrderViews(list)})
	case len(parts) == 3 && parts[1] == "orders" && parts[2] == "count" && r.Method == http.MethodGet:
		status := domain.OrderStatus(r.URL.Query().Get("status"))
		n, err := s.orders.CountOrdersByUserAndStatus(r.Context(), userID, status)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": n})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	}
}

func (s *server) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name          string `json:"name"`
			Description   string `json:"description"`
			Price         string `json:"price"`
			StockQuantity int32  `json:"stock_quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "price must be a decimal string"})
			return
		}
		if req.StockQuantity < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "stock_quantity must be >= 0"})
			return
		}
		product, err := s.products.Create(r.Context(), domain.Product{
			Name:          req.Name,
			Description:   req.Description,
			Price:         price,
			StockQuantity: req.StockQuantity,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, product)
	case http.MethodGet:
		limit, offset := pagination(r)
		search := strings.TrimSpace(r.URL.Query().Get("search"))
		list, err := s.products.List(r.Context(), search, limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": list})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (s *server) handleProductByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	productID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/products/"), "/")
	product, err := s.products.Get(r.Context(), productID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// statusRecorder captures the response code for the request counter.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *server) instrument(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.Requests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		s.metrics.LatencyMS.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
	}
}

type orderView struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	TotalAmount string          `json:"total_amount"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Items       []orderItemView `json:"items"`
}

type orderItemView struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

func toOrderView(o domain.Order) orderView {
	v := orderView{
		ID:          o.ID,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	for _, item := range o.Items {
		v.Items = append(v.Items, orderItemView{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
		})
	}
	return v
}

func toOrderViews(orders []domain.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderView(o))
	}
	return out
}

func writeError(w http.ResponseWriter, err error) {
	if ise, ok := domain.IsInsufficientStock(err); ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient stock",
			"product_id": ise.ProductID,
			"available":  ise.Available,
			"requested":  ise.Requested,
		})
		return
	}
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrEmptyOrder):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
