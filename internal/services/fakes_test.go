package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/gateway"
	"github.com/lokapasar/lokapasar/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeStore is an in-memory stand-in for the db package. Every transition
// method takes the same compare-and-set decision the real store takes in SQL,
// under one mutex, so racing goroutines in tests exercise the same
// single-winner behavior.
type fakeStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*db.Order
	products map[uuid.UUID]*db.Product
	attempts map[uuid.UUID]*db.PaymentAttempt

	restocks map[uuid.UUID]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:   make(map[uuid.UUID]*db.Order),
		products: make(map[uuid.UUID]*db.Product),
		attempts: make(map[uuid.UUID]*db.PaymentAttempt),
		restocks: make(map[uuid.UUID]int),
	}
}

func (f *fakeStore) addProduct(product *db.Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *product
	f.products[product.ID] = &clone
}

func (f *fakeStore) addOrder(order *db.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = cloneOrder(order)
}

func (f *fakeStore) productStock(productID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[productID].Stock
}

func (f *fakeStore) restockCount(orderID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restocks[orderID]
}

func cloneOrder(order *db.Order) *db.Order {
	clone := *order
	clone.Items = append([]db.OrderItem(nil), order.Items...)
	if order.ShippingAddress != nil {
		clone.ShippingAddress = make(map[string]any, len(order.ShippingAddress))
		for k, v := range order.ShippingAddress {
			clone.ShippingAddress[k] = v
		}
	}
	return &clone
}

func (f *fakeStore) CreateCheckout(ctx context.Context, order *db.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, item := range order.Items {
		product, ok := f.products[item.ProductID]
		if !ok || !product.Purchasable() {
			return db.ErrProductNotAvailable
		}
		if product.Stock < item.Quantity {
			return db.ErrInsufficientStock
		}
	}
	for _, item := range order.Items {
		f.products[item.ProductID].Stock -= item.Quantity
	}

	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	f.orders[order.ID] = cloneOrder(order)
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, orderID uuid.UUID) (*db.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok {
		return nil, db.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (f *fakeStore) MarkPaid(ctx context.Context, orderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok || order.PaymentStatus != models.PaymentPending {
		return db.ErrInvalidStatusTransition
	}
	now := time.Now()
	order.PaymentStatus = models.PaymentPaid
	order.PaidAt = now
	order.UpdatedAt = now
	return nil
}

func (f *fakeStore) MarkFailedAndRestock(ctx context.Context, orderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok || order.PaymentStatus != models.PaymentPending {
		return db.ErrInvalidStatusTransition
	}
	order.PaymentStatus = models.PaymentFailed
	order.UpdatedAt = time.Now()
	for _, item := range order.Items {
		if product, ok := f.products[item.ProductID]; ok {
			product.Stock += item.Quantity
		}
	}
	f.restocks[orderID]++
	return nil
}

func (f *fakeStore) MarkShipped(ctx context.Context, orderID uuid.UUID, courier, trackingNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok || order.PaymentStatus != models.PaymentPaid {
		return db.ErrInvalidStatusTransition
	}
	if order.FulfillmentStatus != models.FulfillmentProcessed && order.FulfillmentStatus != models.FulfillmentPacked {
		return db.ErrInvalidStatusTransition
	}
	now := time.Now()
	order.FulfillmentStatus = models.FulfillmentShipped
	order.Courier = courier
	order.TrackingNumber = trackingNumber
	order.ShippedAt = now
	order.UpdatedAt = now
	return nil
}

func (f *fakeStore) UpdateShipmentDetails(ctx context.Context, orderID uuid.UUID, courier, trackingNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok || order.FulfillmentStatus != models.FulfillmentShipped {
		return db.ErrInvalidStatusTransition
	}
	order.Courier = courier
	order.TrackingNumber = trackingNumber
	order.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, next db.FulfillmentState, expected ...db.FulfillmentState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok {
		return db.ErrInvalidStatusTransition
	}
	allowed := false
	for _, state := range expected {
		if order.FulfillmentStatus == state {
			allowed = true
			break
		}
	}
	if !allowed {
		return db.ErrInvalidStatusTransition
	}
	now := time.Now()
	order.FulfillmentStatus = next
	if next == models.FulfillmentDelivered {
		order.DeliveredAt = now
	}
	order.UpdatedAt = now
	return nil
}

func (f *fakeStore) FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var ids []uuid.UUID
	for id, order := range f.orders {
		if order.PaymentStatus == models.PaymentPending && order.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

func (f *fakeStore) GetPurchasable(ctx context.Context, productID uuid.UUID) (*db.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	product, ok := f.products[productID]
	if !ok || !product.Purchasable() {
		return nil, db.ErrProductNotAvailable
	}
	clone := *product
	return &clone, nil
}

func (f *fakeStore) Create(ctx context.Context, attempt *db.PaymentAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.attempts {
		if existing.OrderID == attempt.OrderID && !existing.Status.Terminal() {
			return db.ErrActiveAttemptExists
		}
	}
	now := time.Now()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	clone := *attempt
	f.attempts[attempt.ID] = &clone
	return nil
}

func (f *fakeStore) GetByGatewayRef(ctx context.Context, gatewayRef string) (*db.PaymentAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, attempt := range f.attempts {
		if attempt.GatewayRef == gatewayRef {
			clone := *attempt
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetLatestByOrder(ctx context.Context, orderID uuid.UUID) (*db.PaymentAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *db.PaymentAttempt
	for _, attempt := range f.attempts {
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

func (f *fakeStore) Resolve(ctx context.Context, attemptID uuid.UUID, status models.AttemptStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt, ok := f.attempts[attemptID]
	if !ok {
		return fmt.Errorf("attempt %s: %w", attemptID, errNotFound)
	}
	if attempt.Status == models.AttemptPending {
		attempt.Status = status
		attempt.UpdatedAt = time.Now()
	}
	return nil
}

func (f *fakeStore) attemptStatus(attemptID uuid.UUID) models.AttemptStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[attemptID].Status
}

var errNotFound = fmt.Errorf("not found")

// fakeGateway is a scriptable payment gateway.
type fakeGateway struct {
	mu           sync.Mutex
	chargeResult *gateway.ChargeResult
	chargeErr    error
	status       models.PaymentStatus
	statusErr    error
	charges      int
	statusCalls  int
}

func (f *fakeGateway) Charge(ctx context.Context, input gateway.ChargeInput) (*gateway.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.charges++
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	if f.chargeResult != nil {
		result := *f.chargeResult
		return &result, nil
	}
	return &gateway.ChargeResult{
		TransactionID: "txn-" + input.OrderID,
		Instruction:   map[string]any{"va_number": "8808123456"},
	}, nil
}

func (f *fakeGateway) QueryStatus(ctx context.Context, orderID string) (models.PaymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statusCalls++
	if f.statusErr != nil {
		return models.PaymentPending, f.statusErr
	}
	if f.status == "" {
		return models.PaymentPending, nil
	}
	return f.status, nil
}

func (f *fakeGateway) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.charges
}

// fakeEmailSender records every notification it is asked to deliver.
type fakeEmailSender struct {
	mu        sync.Mutex
	confirmed []uuid.UUID
	shipped   []uuid.UUID
	err       error
}

func (f *fakeEmailSender) SendPaymentConfirmed(ctx context.Context, order *db.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, order.ID)
	return f.err
}

func (f *fakeEmailSender) SendOrderShipped(ctx context.Context, order *db.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shipped = append(f.shipped, order.ID)
	return f.err
}

func (f *fakeEmailSender) confirmedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.confirmed)
}

func (f *fakeEmailSender) shippedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shipped)
}
