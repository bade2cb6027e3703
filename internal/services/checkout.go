package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/gateway"
	"github.com/lokapasar/lokapasar/internal/logging"
	"github.com/lokapasar/lokapasar/internal/models"
	"github.com/lokapasar/lokapasar/internal/observability"
)

// ErrValidation marks checkout input rejected before any mutation.
var ErrValidation = errors.New("invalid checkout input")

var checkoutValidator = validator.New()

type CheckoutService struct {
	orderStore   orderStore
	productStore productStore
	attemptStore attemptStore
	gateway      paymentGateway
	logger       *slog.Logger
}

func NewCheckoutService(orderStore orderStore, productStore productStore, attemptStore attemptStore, gw paymentGateway, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		orderStore:   orderStore,
		productStore: productStore,
		attemptStore: attemptStore,
		gateway:      gw,
		logger:       logger,
	}
}

func (s *CheckoutService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type CheckoutInput struct {
	BuyerID         uuid.UUID      `json:"buyer_id" validate:"required"`
	Items           []CheckoutItem `json:"items" validate:"required,min=1,dive"`
	PaymentMethod   string         `json:"payment_method" validate:"required"`
	ShippingAddress map[string]any `json:"shipping_address" validate:"required"`
}

type CheckoutItem struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

// CheckoutResult carries the created order and, when the charge succeeded, the
// payment instruction the buyer needs to settle.
type CheckoutResult struct {
	Order       *db.Order      `json:"order"`
	Instruction map[string]any `json:"instruction,omitempty"`
}

// Checkout validates the cart, reserves stock and persists the order in one
// transaction, then delegates the charge to the gateway.
//
// A gateway failure after the order is persisted does NOT roll it back: the
// result still carries the order, together with gateway.ErrUnavailable, and the
// reserved stock stays with the order until payment terminally fails. The buyer
// retries the charge via RetryPayment.
func (s *CheckoutService) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.checkout",
		sentry.WithOpName("service.checkout"),
		sentry.WithDescription("Checkout"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.Count("checkout.received", 1)

	if err := checkoutValidator.Struct(input); err != nil {
		meter.Count("checkout.rejected", 1, sentry.WithAttributes(attribute.String("reason", "validation")))
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	method, ok := models.ParsePaymentMethod(input.PaymentMethod)
	if !ok {
		meter.Count("checkout.rejected", 1, sentry.WithAttributes(attribute.String("reason", "unsupported_method")))
		return nil, fmt.Errorf("%w: %q", gateway.ErrUnsupportedMethod, input.PaymentMethod)
	}

	items, total, err := s.priceItems(ctx, input.Items)
	if err != nil {
		meter.Count("checkout.rejected", 1, sentry.WithAttributes(attribute.String("reason", "pricing")))
		return nil, err
	}

	order := &db.Order{
		ID:                uuid.New(),
		BuyerID:           input.BuyerID,
		Items:             items,
		TotalAmount:       total,
		PaymentMethod:     method,
		PaymentStatus:     db.PaymentPending,
		FulfillmentStatus: db.FulfillmentProcessed,
		ShippingAddress:   input.ShippingAddress,
	}

	if err := s.orderStore.CreateCheckout(ctx, order); err != nil {
		if errors.Is(err, db.ErrInsufficientStock) || errors.Is(err, db.ErrProductNotAvailable) {
			meter.Count("checkout.rejected", 1, sentry.WithAttributes(attribute.String("reason", "stock")))
			return nil, err
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	meter.Count("checkout.order_created", 1, sentry.WithAttributes(
		attribute.String("payment_method", string(method)),
	))

	instruction, err := s.chargeOrder(ctx, order)
	if err != nil {
		logger.Warn("charge failed after order creation, order left pending", "order_id", order.ID, "error", err)
		meter.Count("checkout.charge_unavailable", 1)
		return &CheckoutResult{Order: order}, err
	}

	logger.Info("checkout completed", "order_id", order.ID, "total", order.TotalAmount, "method", method)
	return &CheckoutResult{Order: order, Instruction: instruction}, nil
}

// RetryPayment creates a fresh payment attempt for an order whose previous
// charge failed to go out. It refuses while payment is already terminal or a
// prior attempt is still live at the gateway.
func (s *CheckoutService) RetryPayment(ctx context.Context, orderID uuid.UUID) (*CheckoutResult, error) {
	logger := s.loggerFromContext(ctx)

	order, err := s.orderStore.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != db.PaymentPending {
		return nil, fmt.Errorf("%w: payment already %s", db.ErrInvalidStatusTransition, order.PaymentStatus)
	}

	// Refuse before touching the gateway: charging again while an attempt is
	// live would double-bill the buyer.
	latest, err := s.attemptStore.GetLatestByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if latest != nil && !latest.Status.Terminal() {
		return nil, fmt.Errorf("%w: attempt %s still pending", db.ErrActiveAttemptExists, latest.ID)
	}

	instruction, err := s.chargeOrder(ctx, order)
	if err != nil {
		return &CheckoutResult{Order: order}, err
	}

	logger.Info("payment retried", "order_id", order.ID)
	return &CheckoutResult{Order: order, Instruction: instruction}, nil
}

// chargeOrder performs the gateway charge and records the attempt. The attempt
// is only persisted once the charge call succeeded, so a gateway outage never
// leaves an orphaned pending-forever attempt behind.
func (s *CheckoutService) chargeOrder(ctx context.Context, order *db.Order) (map[string]any, error) {
	result, err := s.gateway.Charge(ctx, gateway.ChargeInput{
		OrderID: order.ID.String(),
		Amount:  order.TotalAmount,
		Method:  order.PaymentMethod,
	})
	if err != nil {
		return nil, err
	}

	attempt := &db.PaymentAttempt{
		ID:          uuid.New(),
		OrderID:     order.ID,
		GatewayRef:  result.TransactionID,
		Instruction: result.Instruction,
		Status:      models.AttemptPending,
	}
	if err := s.attemptStore.Create(ctx, attempt); err != nil {
		if errors.Is(err, db.ErrActiveAttemptExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record payment attempt: %w", err)
	}

	return result.Instruction, nil
}

func (s *CheckoutService) priceItems(ctx context.Context, items []CheckoutItem) ([]db.OrderItem, int64, error) {
	seen := make(map[uuid.UUID]bool, len(items))
	priced := make([]db.OrderItem, 0, len(items))
	var total int64

	for _, item := range items {
		if seen[item.ProductID] {
			return nil, 0, fmt.Errorf("%w: duplicate product %s", ErrValidation, item.ProductID)
		}
		seen[item.ProductID] = true

		product, err := s.productStore.GetPurchasable(ctx, item.ProductID)
		if err != nil {
			return nil, 0, err
		}
		if product.Stock < item.Quantity {
			return nil, 0, fmt.Errorf("%w: product %s, wanted %d, have %d", db.ErrInsufficientStock, product.ID, item.Quantity, product.Stock)
		}

		priced = append(priced, db.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
		})
		total += product.Price * int64(item.Quantity)
	}

	return priced, total, nil
}
