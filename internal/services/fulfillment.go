package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/logging"
	"github.com/lokapasar/lokapasar/internal/models"
)

var (
	// ErrIncompleteShipmentInfo is returned when a ship request is missing
	// the courier or the tracking number.
	ErrIncompleteShipmentInfo = errors.New("shipment requires a courier and a tracking number")

	// ErrUnknownFulfillmentState is returned for a state outside the machine.
	ErrUnknownFulfillmentState = errors.New("unknown fulfillment state")
)

// FulfillmentService drives the post-payment delivery state machine. Shipping
// is the only transition with preconditions beyond ordering: the order must be
// paid and carry complete shipment details.
type FulfillmentService struct {
	orderStore  orderStore
	emailSender OrderEmailSender
	logger      *slog.Logger
}

func NewFulfillmentService(orderStore orderStore, emailSender OrderEmailSender, logger *slog.Logger) *FulfillmentService {
	if emailSender == nil {
		emailSender = noopOrderEmailSender{}
	}
	return &FulfillmentService{orderStore: orderStore, emailSender: emailSender, logger: logger}
}

// MarkShipped records courier and tracking details and moves the order to
// shipped. The store rejects unpaid orders and orders already past packed, so
// a double ship surfaces as ErrInvalidStatusTransition.
func (s *FulfillmentService) MarkShipped(ctx context.Context, orderID uuid.UUID, courier, trackingNumber string) (*db.Order, error) {
	logger := logging.FromContext(ctx, s.logger)

	courier = ResolveCarrier(courier)
	trackingNumber = strings.TrimSpace(trackingNumber)
	if courier == "" || trackingNumber == "" {
		return nil, ErrIncompleteShipmentInfo
	}

	if err := s.orderStore.MarkShipped(ctx, orderID, courier, trackingNumber); err != nil {
		return nil, err
	}

	order, err := s.orderStore.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	logger.Info("order shipped", "order_id", orderID, "courier", courier)
	if err := s.emailSender.SendOrderShipped(ctx, order); err != nil {
		logger.Warn("failed to send shipment email", "order_id", orderID, "error", err)
	}
	return order, nil
}

// CorrectShipment replaces the courier and tracking details of an order that
// is already shipped but not yet moving through the carrier network. It never
// re-fires the shipped transition or its notification.
func (s *FulfillmentService) CorrectShipment(ctx context.Context, orderID uuid.UUID, courier, trackingNumber string) (*db.Order, error) {
	courier = ResolveCarrier(courier)
	trackingNumber = strings.TrimSpace(trackingNumber)
	if courier == "" || trackingNumber == "" {
		return nil, ErrIncompleteShipmentInfo
	}

	if err := s.orderStore.UpdateShipmentDetails(ctx, orderID, courier, trackingNumber); err != nil {
		return nil, err
	}
	return s.orderStore.GetByID(ctx, orderID)
}

// Advance moves the order one step forward in the fulfillment machine. The
// shipped state is excluded: it carries shipment details and goes through
// MarkShipped instead.
func (s *FulfillmentService) Advance(ctx context.Context, orderID uuid.UUID, next models.FulfillmentState) (*db.Order, error) {
	expected, err := advancePredecessors(next)
	if err != nil {
		return nil, err
	}

	if err := s.orderStore.AdvanceFulfillment(ctx, orderID, next, expected...); err != nil {
		return nil, err
	}
	return s.orderStore.GetByID(ctx, orderID)
}

// advancePredecessors returns the states an order may be in for the requested
// step. Packed is the only skippable state, and skipping it still lands the
// order on shipped, so in_transit only ever follows shipped.
func advancePredecessors(next models.FulfillmentState) ([]models.FulfillmentState, error) {
	switch next {
	case models.FulfillmentPacked:
		return []models.FulfillmentState{models.FulfillmentProcessed}, nil
	case models.FulfillmentInTransit:
		return []models.FulfillmentState{models.FulfillmentShipped}, nil
	case models.FulfillmentNearDestination:
		return []models.FulfillmentState{models.FulfillmentInTransit}, nil
	case models.FulfillmentDelivered:
		return []models.FulfillmentState{models.FulfillmentNearDestination}, nil
	case models.FulfillmentShipped:
		return nil, fmt.Errorf("%w: shipped requires courier details", ErrUnknownFulfillmentState)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFulfillmentState, next)
	}
}

// TimelineStep is one entry of the buyer-facing tracking view.
type TimelineStep struct {
	State     models.FulfillmentState `json:"state"`
	Label     string                  `json:"label"`
	Completed bool                    `json:"completed"`
	Current   bool                    `json:"current"`
}

// TrackingTimeline renders the full machine with the order's position marked.
type TrackingTimeline struct {
	Progress int            `json:"progress"`
	Steps    []TimelineStep `json:"steps"`
}

var fulfillmentLabels = map[models.FulfillmentState]string{
	models.FulfillmentProcessed:       "Order processed",
	models.FulfillmentPacked:          "Packed",
	models.FulfillmentShipped:         "Shipped",
	models.FulfillmentInTransit:       "In transit",
	models.FulfillmentNearDestination: "Near destination",
	models.FulfillmentDelivered:       "Delivered",
}

// Timeline builds the tracking view for a fulfillment state. Progress runs
// from 0 at processed to 100 at delivered in equal steps.
func Timeline(state models.FulfillmentState) (TrackingTimeline, error) {
	if !state.Valid() {
		return TrackingTimeline{}, fmt.Errorf("%w: %q", ErrUnknownFulfillmentState, state)
	}

	rank := state.Rank()
	timeline := TrackingTimeline{
		Progress: rank * 20,
		Steps:    make([]TimelineStep, 0, len(models.FulfillmentStates)),
	}
	for _, step := range models.FulfillmentStates {
		timeline.Steps = append(timeline.Steps, TimelineStep{
			State:     step,
			Label:     fulfillmentLabels[step],
			Completed: step.Rank() < rank,
			Current:   step == state,
		})
	}
	return timeline, nil
}
