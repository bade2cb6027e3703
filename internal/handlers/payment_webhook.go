package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/lokapasar/lokapasar/internal/cache"
	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/gateway"
)

// paymentWebhookIdempotencyTTL is how long processed notification keys are
// kept for deduplication.
const paymentWebhookIdempotencyTTL = 24 * time.Hour

// PaymentWebhook receives gateway payment notifications. The gateway retries
// until it sees a 2xx, so everything that is not our fault must be
// acknowledged: duplicates, redundant status updates, and notifications for
// orders we never issued. Only malformed payloads and bad signatures are
// rejected.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("failed to read webhook payload", "error", err)
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}

	notif, err := gateway.ParseNotification(body)
	if err != nil {
		logger.Error("failed to parse payment notification", "error", err)
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}

	if !h.gatewayClient.VerifySignature(notif) {
		logger.Warn("payment notification failed signature verification", "order_id", notif.OrderID)
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	// One key per transaction and status: the gateway re-sends the same
	// status on retry, but a later status for the same transaction must still
	// get through.
	cacheKey := cache.WebhookKey("midtrans", notif.TransactionID+":"+notif.TransactionStatus)
	if _, err := h.cacheProvider.Get(ctx, cacheKey); err == nil {
		logger.Info("webhook already processed", "order_id", notif.OrderID, "status", notif.TransactionStatus)
		w.WriteHeader(http.StatusOK)
		return
	}

	status, processErr := h.reconciliationService.HandleNotification(ctx, notif)
	if processErr != nil {
		if errors.Is(processErr, db.ErrOrderNotFound) {
			logger.Warn("payment notification for unknown order", "order_id", notif.OrderID)
			w.WriteHeader(http.StatusOK)
			return
		}
		logger.Error("failed to process payment notification", "error", processErr, "order_id", notif.OrderID)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	if err := h.cacheProvider.Set(ctx, cacheKey, "processed", paymentWebhookIdempotencyTTL); err != nil {
		logger.Error("failed to mark webhook as processed in cache", "error", err)
	}

	logger.Info("payment notification processed", "order_id", notif.OrderID, "payment_status", status)
	w.WriteHeader(http.StatusOK)
}
