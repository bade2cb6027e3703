package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Terminal reports whether no further payment transition is legal.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

type FulfillmentState string

const (
	FulfillmentProcessed       FulfillmentState = "processed"
	FulfillmentPacked          FulfillmentState = "packed"
	FulfillmentShipped         FulfillmentState = "shipped"
	FulfillmentInTransit       FulfillmentState = "in_transit"
	FulfillmentNearDestination FulfillmentState = "near_destination"
	FulfillmentDelivered       FulfillmentState = "delivered"
)

// FulfillmentStates lists every state in lifecycle order.
var FulfillmentStates = []FulfillmentState{
	FulfillmentProcessed,
	FulfillmentPacked,
	FulfillmentShipped,
	FulfillmentInTransit,
	FulfillmentNearDestination,
	FulfillmentDelivered,
}

var fulfillmentRank = map[FulfillmentState]int{
	FulfillmentProcessed:       0,
	FulfillmentPacked:          1,
	FulfillmentShipped:         2,
	FulfillmentInTransit:       3,
	FulfillmentNearDestination: 4,
	FulfillmentDelivered:       5,
}

// Rank returns the position of the state in the lifecycle, or -1 for an
// unknown value.
func (s FulfillmentState) Rank() int {
	rank, ok := fulfillmentRank[s]
	if !ok {
		return -1
	}
	return rank
}

func (s FulfillmentState) Valid() bool {
	_, ok := fulfillmentRank[s]
	return ok
}

type PaymentMethod string

const (
	MethodBCAVA       PaymentMethod = "bca_va"
	MethodBNIVA       PaymentMethod = "bni_va"
	MethodBRIVA       PaymentMethod = "bri_va"
	MethodPermataVA   PaymentMethod = "permata_va"
	MethodMandiriBill PaymentMethod = "mandiri_bill"
	MethodQRIS        PaymentMethod = "qris"
	MethodGoPay       PaymentMethod = "gopay"
)

// ParsePaymentMethod resolves a payment method string against the closed set
// of supported methods. Unknown values return false; callers must reject them
// before any gateway interaction.
func ParsePaymentMethod(value string) (PaymentMethod, bool) {
	switch PaymentMethod(value) {
	case MethodBCAVA, MethodBNIVA, MethodBRIVA, MethodPermataVA, MethodMandiriBill, MethodQRIS, MethodGoPay:
		return PaymentMethod(value), true
	default:
		return "", false
	}
}

type Order struct {
	ID                uuid.UUID        `json:"id"`
	BuyerID           uuid.UUID        `json:"buyer_id"`
	Items             []OrderItem      `json:"items"`
	TotalAmount       int64            `json:"total_amount"`
	PaymentMethod     PaymentMethod    `json:"payment_method"`
	PaymentStatus     PaymentStatus    `json:"payment_status"`
	FulfillmentStatus FulfillmentState `json:"fulfillment_status"`
	ShippingAddress   map[string]any   `json:"shipping_address"`
	Courier           string           `json:"courier,omitempty"`
	TrackingNumber    string           `json:"tracking_number,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	PaidAt            time.Time        `json:"paid_at,omitzero"`
	ShippedAt         time.Time        `json:"shipped_at,omitzero"`
	DeliveredAt       time.Time        `json:"delivered_at,omitzero"`
}

// OrderItem captures product name and unit price at order time; catalog
// changes never alter a placed order.
type OrderItem struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	UnitPrice   int64     `json:"unit_price"`
}

type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptPaid    AttemptStatus = "paid"
	AttemptFailed  AttemptStatus = "failed"
	AttemptExpired AttemptStatus = "expired"
)

func (s AttemptStatus) Terminal() bool {
	return s == AttemptPaid || s == AttemptFailed || s == AttemptExpired
}

// PaymentAttempt is one gateway charge tied to an order. The order id is a
// non-owning back-reference; at most one attempt per order may be non-terminal.
type PaymentAttempt struct {
	ID          uuid.UUID      `json:"id"`
	OrderID     uuid.UUID      `json:"order_id"`
	GatewayRef  string         `json:"gateway_ref"`
	Instruction map[string]any `json:"instruction"`
	Status      AttemptStatus  `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
