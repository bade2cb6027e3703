package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/gateway"
	"github.com/lokapasar/lokapasar/internal/models"
)

// Storage and gateway contracts consumed by the services. The db package
// satisfies them; tests swap in in-memory fakes.

type orderStore interface {
	CreateCheckout(ctx context.Context, order *db.Order) error
	GetByID(ctx context.Context, orderID uuid.UUID) (*db.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID) error
	MarkFailedAndRestock(ctx context.Context, orderID uuid.UUID) error
	MarkShipped(ctx context.Context, orderID uuid.UUID, courier, trackingNumber string) error
	UpdateShipmentDetails(ctx context.Context, orderID uuid.UUID, courier, trackingNumber string) error
	AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, next db.FulfillmentState, expected ...db.FulfillmentState) error
	FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error)
}

type productStore interface {
	GetPurchasable(ctx context.Context, productID uuid.UUID) (*db.Product, error)
}

type attemptStore interface {
	Create(ctx context.Context, attempt *db.PaymentAttempt) error
	GetByGatewayRef(ctx context.Context, gatewayRef string) (*db.PaymentAttempt, error)
	GetLatestByOrder(ctx context.Context, orderID uuid.UUID) (*db.PaymentAttempt, error)
	Resolve(ctx context.Context, attemptID uuid.UUID, status models.AttemptStatus) error
}

type paymentGateway interface {
	Charge(ctx context.Context, input gateway.ChargeInput) (*gateway.ChargeResult, error)
	QueryStatus(ctx context.Context, orderID string) (models.PaymentStatus, error)
}
