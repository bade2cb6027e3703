package services

import (
	"context"
	"log/slog"

	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/email"
)

// OrderEmailSender delivers buyer notifications for order lifecycle events.
// Implementations must treat delivery as best effort; callers never fail an
// order transition over a notification.
type OrderEmailSender interface {
	SendPaymentConfirmed(ctx context.Context, order *db.Order) error
	SendOrderShipped(ctx context.Context, order *db.Order) error
}

type noopOrderEmailSender struct{}

func (noopOrderEmailSender) SendPaymentConfirmed(context.Context, *db.Order) error { return nil }
func (noopOrderEmailSender) SendOrderShipped(context.Context, *db.Order) error     { return nil }

// NewNoopOrderEmailSender returns a sender that silently drops every email.
// Used when no email provider is configured.
func NewNoopOrderEmailSender() OrderEmailSender {
	return noopOrderEmailSender{}
}

// ProviderEmailSender sends order emails through a configured email provider.
type ProviderEmailSender struct {
	provider email.Provider
	logger   *slog.Logger
}

func NewProviderEmailSender(provider email.Provider, logger *slog.Logger) *ProviderEmailSender {
	return &ProviderEmailSender{provider: provider, logger: logger}
}

func (s *ProviderEmailSender) SendPaymentConfirmed(ctx context.Context, order *db.Order) error {
	info, ok := s.orderInfo(order)
	if !ok {
		s.logger.Info("skipping payment confirmation email, order has no buyer email", "order_id", order.ID)
		return nil
	}
	return email.SendPaymentConfirmed(ctx, s.provider, info)
}

func (s *ProviderEmailSender) SendOrderShipped(ctx context.Context, order *db.Order) error {
	info, ok := s.orderInfo(order)
	if !ok {
		s.logger.Info("skipping shipment email, order has no buyer email", "order_id", order.ID)
		return nil
	}
	info.Courier = order.Courier
	info.TrackingNumber = order.TrackingNumber
	info.TrackingURL = BuildTrackingURL(order.Courier, order.TrackingNumber)
	return email.SendOrderShipped(ctx, s.provider, info)
}

func (s *ProviderEmailSender) orderInfo(order *db.Order) (*email.OrderInfo, bool) {
	buyerEmail := addressField(order.ShippingAddress, "email")
	if buyerEmail == "" {
		return nil, false
	}

	info := &email.OrderInfo{
		OrderNumber:   order.ID.String(),
		BuyerName:     addressField(order.ShippingAddress, "name"),
		BuyerEmail:    buyerEmail,
		PaymentMethod: string(order.PaymentMethod),
		OrderDate:     order.CreatedAt.Format("2 January 2006"),
		Total:         email.FormatIDR(order.TotalAmount),
	}
	for _, item := range order.Items {
		info.Items = append(info.Items, email.OrderItem{
			Name:       item.ProductName,
			Quantity:   item.Quantity,
			UnitPrice:  email.FormatIDR(item.UnitPrice),
			TotalPrice: email.FormatIDR(item.UnitPrice * int64(item.Quantity)),
		})
	}
	return info, true
}

func addressField(address map[string]any, key string) string {
	if address == nil {
		return ""
	}
	value, ok := address[key].(string)
	if !ok {
		return ""
	}
	return value
}

var _ OrderEmailSender = (*ProviderEmailSender)(nil)
