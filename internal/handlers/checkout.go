package handlers

import (
	"errors"
	"net/http"

	"github.com/lokapasar/lokapasar/internal/gateway"
	"github.com/lokapasar/lokapasar/internal/services"
)

// Checkout creates an order and initiates the payment charge.
//
// A gateway outage after the order is persisted is not a failure of the
// checkout: the response is 202 with the order and no instruction, and the
// client retries the charge via the payment retry endpoint.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input services.CheckoutInput
	if err := h.decodeJSON(w, r, &input); err != nil {
		h.writeBadRequest(ctx, w, err.Error())
		return
	}

	result, err := h.checkoutService.Checkout(ctx, input)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) && result != nil && result.Order != nil {
			h.writeJSON(ctx, w, http.StatusAccepted, result)
			return
		}
		h.writeServiceError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusCreated, result)
}
