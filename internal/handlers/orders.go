package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/gateway"
	"github.com/lokapasar/lokapasar/internal/models"
	"github.com/lokapasar/lokapasar/internal/services"
)

type orderDetailResponse struct {
	Order    *db.Order                  `json:"order"`
	Timeline *services.TrackingTimeline `json:"timeline,omitempty"`
}

// OrderDetail returns the order together with its buyer-facing tracking
// timeline. The timeline only renders once payment landed.
func (h *Handlers) OrderDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, ok := h.orderIDFromRequest(w, r)
	if !ok {
		return
	}

	order, err := h.orderStore.GetByID(ctx, orderID)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	response := orderDetailResponse{Order: order}
	if order.PaymentStatus == models.PaymentPaid {
		timeline, err := services.Timeline(order.FulfillmentStatus)
		if err != nil {
			h.writeServiceError(ctx, w, err)
			return
		}
		response.Timeline = &timeline
	}

	h.writeJSON(ctx, w, http.StatusOK, response)
}

type paymentCheckResponse struct {
	OrderID       uuid.UUID        `json:"order_id"`
	PaymentStatus db.PaymentStatus `json:"payment_status"`
	Instruction   map[string]any   `json:"instruction,omitempty"`
}

// PaymentCheck reconciles the order against the gateway on demand. Buyers hit
// this when a webhook never arrived; the response reflects whatever the
// gateway knows right now.
func (h *Handlers) PaymentCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, ok := h.orderIDFromRequest(w, r)
	if !ok {
		return
	}

	status, attempt, err := h.reconciliationService.CheckPaymentStatus(ctx, orderID)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	response := paymentCheckResponse{OrderID: orderID, PaymentStatus: status}
	if status == models.PaymentPending && attempt != nil && !attempt.Status.Terminal() {
		response.Instruction = attempt.Instruction
	}
	h.writeJSON(ctx, w, http.StatusOK, response)
}

// PaymentRetry issues a fresh charge for an order whose previous charge never
// went out.
func (h *Handlers) PaymentRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, ok := h.orderIDFromRequest(w, r)
	if !ok {
		return
	}

	result, err := h.checkoutService.RetryPayment(ctx, orderID)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) && result != nil && result.Order != nil {
			h.writeJSON(ctx, w, http.StatusAccepted, result)
			return
		}
		h.writeServiceError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, result)
}

func (h *Handlers) orderIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := mux.Vars(r)["id"]
	orderID, err := uuid.Parse(raw)
	if err != nil {
		h.writeBadRequest(r.Context(), w, "invalid order id")
		return uuid.Nil, false
	}
	return orderID, true
}
