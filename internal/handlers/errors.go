package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/gateway"
	"github.com/lokapasar/lokapasar/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeServiceError translates domain errors into HTTP responses. Anything
// unrecognized is a 500 with the detail kept out of the body.
func (h *Handlers) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := h.loggerFromContext(ctx)

	switch {
	case errors.Is(err, db.ErrOrderNotFound):
		h.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "order not found", Code: "order_not_found"})
	case errors.Is(err, services.ErrValidation):
		h.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "validation_failed"})
	case errors.Is(err, gateway.ErrUnsupportedMethod):
		h.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "unsupported_payment_method"})
	case errors.Is(err, services.ErrIncompleteShipmentInfo):
		h.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "incomplete_shipment_info"})
	case errors.Is(err, services.ErrUnknownFulfillmentState):
		h.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "unknown_fulfillment_state"})
	case errors.Is(err, db.ErrInsufficientStock):
		h.writeJSON(ctx, w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "insufficient_stock"})
	case errors.Is(err, db.ErrProductNotAvailable):
		h.writeJSON(ctx, w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "product_not_available"})
	case errors.Is(err, db.ErrActiveAttemptExists):
		h.writeJSON(ctx, w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "active_attempt_exists"})
	case errors.Is(err, db.ErrInvalidStatusTransition):
		h.writeJSON(ctx, w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "invalid_status_transition"})
	case errors.Is(err, gateway.ErrUnavailable):
		h.writeJSON(ctx, w, http.StatusBadGateway, errorResponse{Error: "payment gateway unavailable", Code: "gateway_unavailable"})
	default:
		logger.Error("unhandled service error", "error", err)
		h.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: "internal"})
	}
}

func (h *Handlers) writeBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	h.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: message, Code: "bad_request"})
}
