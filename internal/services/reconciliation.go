package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/gateway"
	"github.com/lokapasar/lokapasar/internal/logging"
	"github.com/lokapasar/lokapasar/internal/models"
	"github.com/lokapasar/lokapasar/internal/observability"
)

const sweepBatchSize = 50

// ReconciliationService brings the order's recorded payment status into
// agreement with the gateway. Webhook notifications, client polls, and the
// stale-order sweeper all funnel into the same conditional transition, so
// duplicate and racing triggers collapse to at most one effective write.
type ReconciliationService struct {
	orderStore   orderStore
	attemptStore attemptStore
	gateway      paymentGateway
	emailSender  OrderEmailSender
	staleAfter   time.Duration
	logger       *slog.Logger
}

func NewReconciliationService(orderStore orderStore, attemptStore attemptStore, gw paymentGateway, emailSender OrderEmailSender, staleAfter time.Duration, logger *slog.Logger) *ReconciliationService {
	if emailSender == nil {
		emailSender = noopOrderEmailSender{}
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &ReconciliationService{
		orderStore:   orderStore,
		attemptStore: attemptStore,
		gateway:      gw,
		emailSender:  emailSender,
		staleAfter:   staleAfter,
		logger:       logger,
	}
}

func (s *ReconciliationService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// HandleNotification processes an inbound gateway notification. Redundant
// notifications for an already-terminal order are acknowledged and discarded;
// only malformed input is an error.
func (s *ReconciliationService) HandleNotification(ctx context.Context, notif *gateway.Notification) (models.PaymentStatus, error) {
	span := sentry.StartSpan(
		ctx,
		"service.reconciliation.notification",
		sentry.WithOpName("service.reconciliation"),
		sentry.WithDescription("HandleNotification"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.Count("reconciliation.notification.received", 1, sentry.WithAttributes(
		attribute.String("native_status", notif.TransactionStatus),
	))

	orderID, err := uuid.Parse(notif.OrderID)
	if err != nil {
		return "", fmt.Errorf("notification carries invalid order reference %q: %w", notif.OrderID, err)
	}

	mapped := gateway.MapStatus(notif.TransactionStatus, notif.FraudStatus)
	status, err := s.apply(ctx, orderID, mapped, notif.TransactionStatus, notif.TransactionID)
	if err != nil {
		return "", err
	}

	logger.Info("notification reconciled", "order_id", orderID, "native_status", notif.TransactionStatus, "payment_status", status)
	return status, nil
}

// CheckPaymentStatus is the poll path: it exists because notification delivery
// is not guaranteed. Gateway unreachability surfaces as "still pending", never
// as an error to the caller.
func (s *ReconciliationService) CheckPaymentStatus(ctx context.Context, orderID uuid.UUID) (models.PaymentStatus, *db.PaymentAttempt, error) {
	order, err := s.orderStore.GetByID(ctx, orderID)
	if err != nil {
		return "", nil, err
	}

	attempt, err := s.attemptStore.GetLatestByOrder(ctx, orderID)
	if err != nil {
		attempt = nil
	}

	if order.PaymentStatus.Terminal() {
		return order.PaymentStatus, attempt, nil
	}

	mapped, err := s.gateway.QueryStatus(ctx, orderID.String())
	if err != nil {
		// The gateway contract already degrades lookup failures to pending;
		// anything else is treated the same way here.
		mapped = models.PaymentPending
	}

	gatewayRef := ""
	if attempt != nil {
		gatewayRef = attempt.GatewayRef
	}
	status, err := s.apply(ctx, orderID, mapped, "", gatewayRef)
	if err != nil {
		return "", nil, err
	}
	return status, attempt, nil
}

// RunSweeper periodically polls orders stuck in pending payment. It reuses the
// poll path, so every transition it applies carries the same idempotence and
// race guarantees.
func (s *ReconciliationService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("reconciliation sweeper started", "interval", interval, "stale_after", s.staleAfter)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ReconciliationService) sweep(ctx context.Context) {
	orderIDs, err := s.orderStore.FindStalePending(ctx, s.staleAfter, sweepBatchSize)
	if err != nil {
		s.logger.Error("sweep failed to list stale orders", "error", err)
		return
	}
	if len(orderIDs) == 0 {
		return
	}

	s.logger.Info("sweeping stale pending orders", "count", len(orderIDs))
	for _, orderID := range orderIDs {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := s.CheckPaymentStatus(ctx, orderID); err != nil {
			s.logger.Warn("sweep reconciliation failed", "order_id", orderID, "error", err)
		}
	}
}

// apply is the single transition point: set the terminal status only while the
// order is still pending. Losing writers see ErrInvalidStatusTransition from
// the store and discard their write; side effects run only on the winning
// path, which makes the stock restore exactly-once.
func (s *ReconciliationService) apply(ctx context.Context, orderID uuid.UUID, mapped models.PaymentStatus, nativeStatus, gatewayRef string) (models.PaymentStatus, error) {
	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	switch mapped {
	case models.PaymentPending:
		return s.currentStatus(ctx, orderID)

	case models.PaymentPaid:
		if err := s.orderStore.MarkPaid(ctx, orderID); err != nil {
			if errors.Is(err, db.ErrInvalidStatusTransition) {
				logger.Info("discarding redundant paid transition", "order_id", orderID)
				return s.currentStatus(ctx, orderID)
			}
			return "", err
		}
		meter.Count("reconciliation.paid", 1)
		s.resolveAttempt(ctx, orderID, gatewayRef, models.AttemptPaid)
		s.onPaid(ctx, orderID)
		return models.PaymentPaid, nil

	case models.PaymentFailed:
		if err := s.orderStore.MarkFailedAndRestock(ctx, orderID); err != nil {
			if errors.Is(err, db.ErrInvalidStatusTransition) {
				logger.Info("discarding redundant failed transition", "order_id", orderID)
				return s.currentStatus(ctx, orderID)
			}
			return "", err
		}
		meter.Count("reconciliation.failed", 1, sentry.WithAttributes(
			attribute.String("native_status", nativeStatus),
		))
		s.resolveAttempt(ctx, orderID, gatewayRef, attemptStatusForNative(nativeStatus))
		return models.PaymentFailed, nil

	default:
		return "", fmt.Errorf("unmapped payment status %q", mapped)
	}
}

func (s *ReconciliationService) currentStatus(ctx context.Context, orderID uuid.UUID) (models.PaymentStatus, error) {
	order, err := s.orderStore.GetByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	return order.PaymentStatus, nil
}

// onPaid confirms the fulfillment machine is live at processed and notifies
// the buyer. Both are best effort; payment state is already committed.
func (s *ReconciliationService) onPaid(ctx context.Context, orderID uuid.UUID) {
	logger := s.loggerFromContext(ctx)

	order, err := s.orderStore.GetByID(ctx, orderID)
	if err != nil {
		logger.Warn("failed to reload paid order", "order_id", orderID, "error", err)
		return
	}
	// Fulfillment starts at processed when the order is created; anything at
	// or past processed needs no confirmation write.
	if !order.FulfillmentStatus.Valid() {
		logger.Error("paid order has unknown fulfillment state", "order_id", orderID, "state", order.FulfillmentStatus)
	}

	if err := s.emailSender.SendPaymentConfirmed(ctx, order); err != nil {
		logger.Warn("failed to send payment confirmation email", "order_id", orderID, "error", err)
	}
}

// resolveAttempt moves the matching payment attempt to a terminal status. A
// missing attempt is tolerated: a charge can succeed at the gateway while the
// response was lost before the attempt row existed.
func (s *ReconciliationService) resolveAttempt(ctx context.Context, orderID uuid.UUID, gatewayRef string, status models.AttemptStatus) {
	logger := s.loggerFromContext(ctx)

	var attempt *db.PaymentAttempt
	var err error
	if gatewayRef != "" {
		attempt, err = s.attemptStore.GetByGatewayRef(ctx, gatewayRef)
	} else {
		attempt, err = s.attemptStore.GetLatestByOrder(ctx, orderID)
	}
	if err != nil || attempt == nil {
		logger.Info("no payment attempt to resolve", "order_id", orderID, "gateway_ref", gatewayRef)
		return
	}

	if err := s.attemptStore.Resolve(ctx, attempt.ID, status); err != nil {
		logger.Warn("failed to resolve payment attempt", "order_id", orderID, "attempt_id", attempt.ID, "error", err)
	}
}

func attemptStatusForNative(nativeStatus string) models.AttemptStatus {
	if nativeStatus == gateway.StatusExpire {
		return models.AttemptExpired
	}
	return models.AttemptFailed
}
