package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/models"
)

type fulfillmentFixture struct {
	store  *fakeStore
	emails *fakeEmailSender
	svc    *FulfillmentService
}

func newFulfillmentFixture() *fulfillmentFixture {
	store := newFakeStore()
	emails := &fakeEmailSender{}
	svc := NewFulfillmentService(store, emails, testLogger())
	return &fulfillmentFixture{store: store, emails: emails, svc: svc}
}

func (f *fulfillmentFixture) seedOrder(t *testing.T, payment models.PaymentStatus, fulfillment models.FulfillmentState) uuid.UUID {
	t.Helper()

	order := &db.Order{
		ID:                uuid.New(),
		BuyerID:           uuid.New(),
		TotalAmount:       150000,
		PaymentMethod:     models.MethodQRIS,
		PaymentStatus:     payment,
		FulfillmentStatus: fulfillment,
		ShippingAddress:   map[string]any{"name": "Dewi", "email": "dewi@example.com"},
	}
	f.store.addOrder(order)
	return order.ID
}

func TestMarkShipped(t *testing.T) {
	t.Parallel()

	f := newFulfillmentFixture()
	orderID := f.seedOrder(t, models.PaymentPaid, models.FulfillmentProcessed)

	order, err := f.svc.MarkShipped(context.Background(), orderID, "jne", "JNE123456789")
	if err != nil {
		t.Fatalf("MarkShipped() error = %v", err)
	}
	if order.FulfillmentStatus != models.FulfillmentShipped {
		t.Errorf("fulfillment = %q, want shipped", order.FulfillmentStatus)
	}
	if order.Courier != "JNE" {
		t.Errorf("courier = %q, want normalized JNE", order.Courier)
	}
	if order.TrackingNumber != "JNE123456789" {
		t.Errorf("tracking = %q", order.TrackingNumber)
	}
	if order.ShippedAt.IsZero() {
		t.Error("shipped_at not set")
	}
	if f.emails.shippedCount() != 1 {
		t.Errorf("shipment emails = %d, want 1", f.emails.shippedCount())
	}
}

func TestMarkShippedFromPacked(t *testing.T) {
	t.Parallel()

	f := newFulfillmentFixture()
	orderID := f.seedOrder(t, models.PaymentPaid, models.FulfillmentPacked)

	order, err := f.svc.MarkShipped(context.Background(), orderID, "SiCepat", "000123")
	if err != nil {
		t.Fatalf("MarkShipped() error = %v", err)
	}
	if order.FulfillmentStatus != models.FulfillmentShipped {
		t.Errorf("fulfillment = %q, want shipped", order.FulfillmentStatus)
	}
}

func TestMarkShippedRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		payment     models.PaymentStatus
		fulfillment models.FulfillmentState
		courier     string
		tracking    string
		wantErr     error
	}{
		{
			name:        "unpaid order",
			payment:     models.PaymentPending,
			fulfillment: models.FulfillmentProcessed,
			courier:     "jne",
			tracking:    "X1",
			wantErr:     db.ErrInvalidStatusTransition,
		},
		{
			name:        "failed order",
			payment:     models.PaymentFailed,
			fulfillment: models.FulfillmentProcessed,
			courier:     "jne",
			tracking:    "X1",
			wantErr:     db.ErrInvalidStatusTransition,
		},
		{
			name:        "already shipped",
			payment:     models.PaymentPaid,
			fulfillment: models.FulfillmentShipped,
			courier:     "jne",
			tracking:    "X1",
			wantErr:     db.ErrInvalidStatusTransition,
		},
		{
			name:        "missing courier",
			payment:     models.PaymentPaid,
			fulfillment: models.FulfillmentProcessed,
			courier:     "  ",
			tracking:    "X1",
			wantErr:     ErrIncompleteShipmentInfo,
		},
		{
			name:        "missing tracking number",
			payment:     models.PaymentPaid,
			fulfillment: models.FulfillmentProcessed,
			courier:     "jne",
			tracking:    "",
			wantErr:     ErrIncompleteShipmentInfo,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFulfillmentFixture()
			orderID := f.seedOrder(t, tc.payment, tc.fulfillment)

			_, err := f.svc.MarkShipped(context.Background(), orderID, tc.courier, tc.tracking)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("MarkShipped() error = %v, want %v", err, tc.wantErr)
			}
			if f.emails.shippedCount() != 0 {
				t.Errorf("shipment email sent on rejected ship")
			}
		})
	}
}

func TestCorrectShipment(t *testing.T) {
	t.Parallel()

	f := newFulfillmentFixture()
	orderID := f.seedOrder(t, models.PaymentPaid, models.FulfillmentProcessed)

	if _, err := f.svc.MarkShipped(context.Background(), orderID, "jne", "WRONG01"); err != nil {
		t.Fatalf("MarkShipped() error = %v", err)
	}

	order, err := f.svc.CorrectShipment(context.Background(), orderID, "sicepat", "RIGHT02")
	if err != nil {
		t.Fatalf("CorrectShipment() error = %v", err)
	}
	if order.Courier != "SiCepat" || order.TrackingNumber != "RIGHT02" {
		t.Errorf("shipment = %q/%q, want SiCepat/RIGHT02", order.Courier, order.TrackingNumber)
	}
	if order.FulfillmentStatus != models.FulfillmentShipped {
		t.Errorf("fulfillment = %q, correction must not advance state", order.FulfillmentStatus)
	}
	if f.emails.shippedCount() != 1 {
		t.Errorf("shipment emails = %d, correction must not re-notify", f.emails.shippedCount())
	}
}

func TestCorrectShipmentOnlyWhileShipped(t *testing.T) {
	t.Parallel()

	f := newFulfillmentFixture()
	orderID := f.seedOrder(t, models.PaymentPaid, models.FulfillmentInTransit)

	_, err := f.svc.CorrectShipment(context.Background(), orderID, "jne", "X1")
	if !errors.Is(err, db.ErrInvalidStatusTransition) {
		t.Fatalf("CorrectShipment() error = %v, want ErrInvalidStatusTransition", err)
	}
}

func TestAdvanceWalksTheMachineInOrder(t *testing.T) {
	t.Parallel()

	f := newFulfillmentFixture()
	orderID := f.seedOrder(t, models.PaymentPaid, models.FulfillmentShipped)

	steps := []models.FulfillmentState{
		models.FulfillmentInTransit,
		models.FulfillmentNearDestination,
		models.FulfillmentDelivered,
	}
	for _, next := range steps {
		order, err := f.svc.Advance(context.Background(), orderID, next)
		if err != nil {
			t.Fatalf("Advance(%q) error = %v", next, err)
		}
		if order.FulfillmentStatus != next {
			t.Fatalf("fulfillment = %q, want %q", order.FulfillmentStatus, next)
		}
	}

	order, _ := f.store.GetByID(context.Background(), orderID)
	if order.DeliveredAt.IsZero() {
		t.Error("delivered_at not set")
	}
}

func TestAdvanceRejectsSkipsAndRegressions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    models.FulfillmentState
		to      models.FulfillmentState
		wantErr error
	}{
		{
			name:    "skip to delivered",
			from:    models.FulfillmentShipped,
			to:      models.FulfillmentDelivered,
			wantErr: db.ErrInvalidStatusTransition,
		},
		{
			name:    "regress to packed",
			from:    models.FulfillmentInTransit,
			to:      models.FulfillmentPacked,
			wantErr: db.ErrInvalidStatusTransition,
		},
		{
			name:    "repeat current state",
			from:    models.FulfillmentInTransit,
			to:      models.FulfillmentInTransit,
			wantErr: db.ErrInvalidStatusTransition,
		},
		{
			name:    "ship via advance",
			from:    models.FulfillmentPacked,
			to:      models.FulfillmentShipped,
			wantErr: ErrUnknownFulfillmentState,
		},
		{
			name:    "unknown state",
			from:    models.FulfillmentProcessed,
			to:      models.FulfillmentState("lost"),
			wantErr: ErrUnknownFulfillmentState,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFulfillmentFixture()
			orderID := f.seedOrder(t, models.PaymentPaid, tc.from)

			_, err := f.svc.Advance(context.Background(), orderID, tc.to)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Advance() error = %v, want %v", err, tc.wantErr)
			}

			order, _ := f.store.GetByID(context.Background(), orderID)
			if order.FulfillmentStatus != tc.from {
				t.Errorf("fulfillment moved to %q on rejected advance", order.FulfillmentStatus)
			}
		})
	}
}

func TestTimeline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state        models.FulfillmentState
		wantProgress int
	}{
		{models.FulfillmentProcessed, 0},
		{models.FulfillmentPacked, 20},
		{models.FulfillmentShipped, 40},
		{models.FulfillmentInTransit, 60},
		{models.FulfillmentNearDestination, 80},
		{models.FulfillmentDelivered, 100},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(string(tc.state), func(t *testing.T) {
			t.Parallel()

			timeline, err := Timeline(tc.state)
			if err != nil {
				t.Fatalf("Timeline() error = %v", err)
			}
			if timeline.Progress != tc.wantProgress {
				t.Errorf("progress = %d, want %d", timeline.Progress, tc.wantProgress)
			}
			if len(timeline.Steps) != len(models.FulfillmentStates) {
				t.Fatalf("steps = %d, want %d", len(timeline.Steps), len(models.FulfillmentStates))
			}

			currents := 0
			for _, step := range timeline.Steps {
				if step.Current {
					currents++
					if step.State != tc.state {
						t.Errorf("current step = %q, want %q", step.State, tc.state)
					}
				}
				if step.Completed && step.State.Rank() >= tc.state.Rank() {
					t.Errorf("step %q marked completed ahead of %q", step.State, tc.state)
				}
			}
			if currents != 1 {
				t.Errorf("current steps = %d, want 1", currents)
			}
		})
	}
}

func TestTimelineRejectsUnknownState(t *testing.T) {
	t.Parallel()

	if _, err := Timeline(models.FulfillmentState("teleported")); !errors.Is(err, ErrUnknownFulfillmentState) {
		t.Fatalf("Timeline() error = %v, want ErrUnknownFulfillmentState", err)
	}
}
