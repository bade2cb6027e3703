package handlers

import (
	"net/http"

	"github.com/lokapasar/lokapasar/internal/models"
)

type shipmentRequest struct {
	Courier        string `json:"courier"`
	TrackingNumber string `json:"tracking_number"`
}

// CreateShipment records courier details and marks the order shipped.
func (h *Handlers) CreateShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, ok := h.orderIDFromRequest(w, r)
	if !ok {
		return
	}

	var req shipmentRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeBadRequest(ctx, w, err.Error())
		return
	}

	order, err := h.fulfillmentService.MarkShipped(ctx, orderID, req.Courier, req.TrackingNumber)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, order)
}

// CorrectShipment replaces courier details on an already shipped order without
// re-firing the shipped transition.
func (h *Handlers) CorrectShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, ok := h.orderIDFromRequest(w, r)
	if !ok {
		return
	}

	var req shipmentRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeBadRequest(ctx, w, err.Error())
		return
	}

	order, err := h.fulfillmentService.CorrectShipment(ctx, orderID, req.Courier, req.TrackingNumber)
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, order)
}

type fulfillmentAdvanceRequest struct {
	State string `json:"state"`
}

// AdvanceFulfillment moves the order one step through the delivery machine.
func (h *Handlers) AdvanceFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, ok := h.orderIDFromRequest(w, r)
	if !ok {
		return
	}

	var req fulfillmentAdvanceRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeBadRequest(ctx, w, err.Error())
		return
	}
	if req.State == "" {
		h.writeBadRequest(ctx, w, "state is required")
		return
	}

	order, err := h.fulfillmentService.Advance(ctx, orderID, models.FulfillmentState(req.State))
	if err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, order)
}
