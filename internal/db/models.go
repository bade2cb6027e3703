package db

import "github.com/lokapasar/lokapasar/internal/models"

type Order = models.Order
type OrderItem = models.OrderItem
type PaymentAttempt = models.PaymentAttempt
type Product = models.Product
type PaymentStatus = models.PaymentStatus
type FulfillmentState = models.FulfillmentState

const (
	PaymentPending = models.PaymentPending
	PaymentPaid    = models.PaymentPaid
	PaymentFailed  = models.PaymentFailed

	FulfillmentProcessed       = models.FulfillmentProcessed
	FulfillmentPacked          = models.FulfillmentPacked
	FulfillmentShipped         = models.FulfillmentShipped
	FulfillmentInTransit       = models.FulfillmentInTransit
	FulfillmentNearDestination = models.FulfillmentNearDestination
	FulfillmentDelivered       = models.FulfillmentDelivered
)
