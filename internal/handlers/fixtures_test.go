package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lokapasar/lokapasar/internal/cache"
	"github.com/lokapasar/lokapasar/internal/config"
	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/gateway"
	"github.com/lokapasar/lokapasar/internal/models"
	"github.com/lokapasar/lokapasar/internal/services"
)

const testServerKey = "SB-Mid-server-test"

// memStore backs the handler tests with the same conditional transitions the
// real store performs in SQL.
type memStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*db.Order
	products map[uuid.UUID]*db.Product
	attempts map[uuid.UUID]*db.PaymentAttempt
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[uuid.UUID]*db.Order),
		products: make(map[uuid.UUID]*db.Product),
		attempts: make(map[uuid.UUID]*db.PaymentAttempt),
	}
}

func (m *memStore) addProduct(p *db.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *p
	m.products[p.ID] = &clone
}

func (m *memStore) addOrder(o *db.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
}

func cloneOrder(o *db.Order) *db.Order {
	clone := *o
	clone.Items = append([]db.OrderItem(nil), o.Items...)
	return &clone
}

func (m *memStore) CreateCheckout(ctx context.Context, order *db.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range order.Items {
		product, ok := m.products[item.ProductID]
		if !ok || !product.Purchasable() {
			return db.ErrProductNotAvailable
		}
		if product.Stock < item.Quantity {
			return db.ErrInsufficientStock
		}
	}
	for _, item := range order.Items {
		m.products[item.ProductID].Stock -= item.Quantity
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *memStore) GetByID(ctx context.Context, orderID uuid.UUID) (*db.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, db.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (m *memStore) MarkPaid(ctx context.Context, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok || order.PaymentStatus != models.PaymentPending {
		return db.ErrInvalidStatusTransition
	}
	order.PaymentStatus = models.PaymentPaid
	order.PaidAt = time.Now()
	return nil
}

func (m *memStore) MarkFailedAndRestock(ctx context.Context, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok || order.PaymentStatus != models.PaymentPending {
		return db.ErrInvalidStatusTransition
	}
	order.PaymentStatus = models.PaymentFailed
	for _, item := range order.Items {
		if product, ok := m.products[item.ProductID]; ok {
			product.Stock += item.Quantity
		}
	}
	return nil
}

func (m *memStore) MarkShipped(ctx context.Context, orderID uuid.UUID, courier, trackingNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok || order.PaymentStatus != models.PaymentPaid {
		return db.ErrInvalidStatusTransition
	}
	if order.FulfillmentStatus != models.FulfillmentProcessed && order.FulfillmentStatus != models.FulfillmentPacked {
		return db.ErrInvalidStatusTransition
	}
	order.FulfillmentStatus = models.FulfillmentShipped
	order.Courier = courier
	order.TrackingNumber = trackingNumber
	order.ShippedAt = time.Now()
	return nil
}

func (m *memStore) UpdateShipmentDetails(ctx context.Context, orderID uuid.UUID, courier, trackingNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok || order.FulfillmentStatus != models.FulfillmentShipped {
		return db.ErrInvalidStatusTransition
	}
	order.Courier = courier
	order.TrackingNumber = trackingNumber
	return nil
}

func (m *memStore) AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, next db.FulfillmentState, expected ...db.FulfillmentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return db.ErrInvalidStatusTransition
	}
	for _, state := range expected {
		if order.FulfillmentStatus == state {
			order.FulfillmentStatus = next
			if next == models.FulfillmentDelivered {
				order.DeliveredAt = time.Now()
			}
			return nil
		}
	}
	return db.ErrInvalidStatusTransition
}

func (m *memStore) FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var ids []uuid.UUID
	for id, order := range m.orders {
		if order.PaymentStatus == models.PaymentPending && order.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

func (m *memStore) GetPurchasable(ctx context.Context, productID uuid.UUID) (*db.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	product, ok := m.products[productID]
	if !ok || !product.Purchasable() {
		return nil, db.ErrProductNotAvailable
	}
	clone := *product
	return &clone, nil
}

func (m *memStore) Create(ctx context.Context, attempt *db.PaymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.attempts {
		if existing.OrderID == attempt.OrderID && !existing.Status.Terminal() {
			return db.ErrActiveAttemptExists
		}
	}
	now := time.Now()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	clone := *attempt
	m.attempts[attempt.ID] = &clone
	return nil
}

func (m *memStore) GetByGatewayRef(ctx context.Context, gatewayRef string) (*db.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, attempt := range m.attempts {
		if attempt.GatewayRef == gatewayRef {
			clone := *attempt
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetLatestByOrder(ctx context.Context, orderID uuid.UUID) (*db.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *db.PaymentAttempt
	for _, attempt := range m.attempts {
		if attempt.OrderID != orderID {
			continue
		}
		if latest == nil || attempt.CreatedAt.After(latest.CreatedAt) {
			latest = attempt
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (m *memStore) Resolve(ctx context.Context, attemptID uuid.UUID, status models.AttemptStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if attempt, ok := m.attempts[attemptID]; ok && attempt.Status == models.AttemptPending {
		attempt.Status = status
	}
	return nil
}

// gatewayStub emulates the Midtrans charge and status endpoints.
type gatewayStub struct {
	mu          sync.Mutex
	chargeFails bool
	status      string
}

func (g *gatewayStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		chargeFails, status := g.chargeFails, g.status
		g.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/charge":
			if chargeFails {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			var req struct {
				TransactionDetails struct {
					OrderID string `json:"order_id"`
				} `json:"transaction_details"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status_code":        "201",
				"transaction_id":     "txn-" + req.TransactionDetails.OrderID,
				"transaction_status": "pending",
				"payment_type":       "bank_transfer",
				"va_numbers":         []map[string]string{{"bank": "bca", "va_number": "8808123456"}},
			})
		case r.Method == http.MethodGet:
			if status == "" {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]string{"status_code": "404"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status_code":        "200",
				"transaction_status": status,
				"fraud_status":       "accept",
			})
		default:
			http.NotFound(w, r)
		}
	})
}

func (g *gatewayStub) setChargeFails(fails bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeFails = fails
}

func (g *gatewayStub) setStatus(status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = status
}

type fixture struct {
	store    *memStore
	stub     *gatewayStub
	handlers *Handlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	stub := &gatewayStub{}
	ts := httptest.NewServer(stub.handler())
	t.Cleanup(ts.Close)

	client := gateway.NewClient(gateway.Config{
		ServerKey: testServerKey,
		BaseURL:   ts.URL,
	})

	cacheProvider, err := cache.NewProvider(cache.Config{Provider: "memory"})
	if err != nil {
		t.Fatalf("cache provider: %v", err)
	}
	t.Cleanup(func() { _ = cacheProvider.Close() })

	logger := slog.New(slog.DiscardHandler)
	checkoutService := services.NewCheckoutService(store, store, store, client, logger)
	reconciliationService := services.NewReconciliationService(store, store, client, nil, 15*time.Minute, logger)
	fulfillmentService := services.NewFulfillmentService(store, nil, logger)

	h := &Handlers{
		config:                &config.Config{},
		orderStore:            store,
		cacheProvider:         cacheProvider,
		gatewayClient:         client,
		checkoutService:       checkoutService,
		reconciliationService: reconciliationService,
		fulfillmentService:    fulfillmentService,
		logger:                logger,
	}

	return &fixture{store: store, stub: stub, handlers: h}
}

func (f *fixture) seedProduct(price int64, stock int) uuid.UUID {
	id := uuid.New()
	f.store.addProduct(&db.Product{
		ID:        id,
		Name:      "Keripik Tempe",
		Price:     price,
		Stock:     stock,
		Published: true,
	})
	return id
}

func (f *fixture) seedOrder(payment db.PaymentStatus, fulfillment db.FulfillmentState) *db.Order {
	order := &db.Order{
		ID:                uuid.New(),
		BuyerID:           uuid.New(),
		TotalAmount:       100000,
		PaymentMethod:     models.MethodBCAVA,
		PaymentStatus:     payment,
		FulfillmentStatus: fulfillment,
		CreatedAt:         time.Now(),
	}
	f.store.addOrder(order)
	return order
}
