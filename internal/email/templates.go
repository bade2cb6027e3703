// Package email provides buyer notification templates.
package email

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"text/template"
)

// OrderInfo carries everything the order email templates need.
type OrderInfo struct {
	OrderNumber    string
	BuyerName      string
	BuyerEmail     string
	PaymentMethod  string
	Courier        string
	TrackingNumber string
	TrackingURL    string
	OrderDate      string
	Items          []OrderItem
	Total          string
}

// OrderItem represents a single line of an order.
type OrderItem struct {
	Name       string
	Quantity   int
	UnitPrice  string
	TotalPrice string
}

// FormatIDR renders an amount in whole rupiah with dot thousand separators.
func FormatIDR(amount int64) string {
	digits := strconv.FormatInt(amount, 10)
	negative := false
	if len(digits) > 0 && digits[0] == '-' {
		negative = true
		digits = digits[1:]
	}

	var buf bytes.Buffer
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			buf.WriteByte('.')
		}
		buf.WriteRune(r)
	}
	if negative {
		return "-Rp" + buf.String()
	}
	return "Rp" + buf.String()
}

// Renderer provides methods to render email templates.
type Renderer struct {
	templates *template.Template
}

// NewRenderer creates a new email template renderer with built-in templates.
func NewRenderer() (*Renderer, error) {
	templates := map[string]struct {
		HTML string
		Text string
	}{
		"payment_confirmed": {HTML: paymentConfirmedHTML, Text: paymentConfirmedText},
		"order_shipped":     {HTML: orderShippedHTML, Text: orderShippedText},
	}

	tmpl := template.New("email")
	for key, t := range templates {
		if _, err := tmpl.New(key + "_html").Parse(t.HTML); err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", key, err)
		}
		if _, err := tmpl.New(key + "_text").Parse(t.Text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", key, err)
		}
	}

	return &Renderer{templates: tmpl}, nil
}

// Render renders an email template with the given data.
func (r *Renderer) Render(ctx context.Context, templateName string, data *OrderInfo) (*Email, error) {
	var htmlBuf, textBuf bytes.Buffer

	if err := r.templates.ExecuteTemplate(&htmlBuf, templateName+"_html", data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}
	if err := r.templates.ExecuteTemplate(&textBuf, templateName+"_text", data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}

	subject := ""
	switch templateName {
	case "payment_confirmed":
		subject = fmt.Sprintf("Payment Received - Order %s", data.OrderNumber)
	case "order_shipped":
		subject = fmt.Sprintf("Your Order Has Shipped - %s", data.OrderNumber)
	}

	return &Email{
		To:      data.BuyerEmail,
		Subject: subject,
		Text:    textBuf.String(),
		HTML:    htmlBuf.String(),
	}, nil
}

// SendPaymentConfirmed sends the payment confirmation email.
func SendPaymentConfirmed(ctx context.Context, p Provider, orderInfo *OrderInfo) error {
	if p == nil {
		return nil
	}

	renderer, err := NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	email, err := renderer.Render(ctx, "payment_confirmed", orderInfo)
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	return p.SendEmail(ctx, email)
}

// SendOrderShipped sends the shipment notification email.
func SendOrderShipped(ctx context.Context, p Provider, orderInfo *OrderInfo) error {
	if p == nil {
		return nil
	}

	renderer, err := NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	email, err := renderer.Render(ctx, "order_shipped", orderInfo)
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	return p.SendEmail(ctx, email)
}

// Template text content - Payment Confirmed
const paymentConfirmedText = `Your payment has been received!

Order Number: {{.OrderNumber}}
Order Date: {{.OrderDate}}
Payment Method: {{.PaymentMethod}}

Items:
{{range .Items}}
- {{.Name}} x{{.Quantity}} - {{.TotalPrice}}
{{end}}

Total: {{.Total}}

The seller is preparing your order. We'll email you again when it ships.

Terima kasih sudah berbelanja di Lokapasar!
`

// Template HTML content - Payment Confirmed
const paymentConfirmedHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Payment Received</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #2563eb; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .order-info { background: white; padding: 15px; border-radius: 6px; margin: 15px 0; }
    .items-table { width: 100%; border-collapse: collapse; margin: 15px 0; }
    .items-table th { text-align: left; padding: 10px; background: #f3f4f6; border-bottom: 2px solid #e5e7eb; }
    .items-table td { padding: 10px; border-bottom: 1px solid #e5e7eb; }
    .total { font-size: 18px; font-weight: bold; text-align: right; padding: 15px 0; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Payment Received!</h1>
    <p>Thank you, {{.BuyerName}}</p>
  </div>
  <div class="content">
    <div class="order-info">
      <strong>Order Number:</strong> {{.OrderNumber}}<br>
      <strong>Order Date:</strong> {{.OrderDate}}<br>
      <strong>Payment Method:</strong> {{.PaymentMethod}}
    </div>

    <h3>Order Summary</h3>
    <table class="items-table">
      <thead>
        <tr>
          <th>Item</th>
          <th>Qty</th>
          <th>Price</th>
        </tr>
      </thead>
      <tbody>
        {{range .Items}}
        <tr>
          <td>{{.Name}}</td>
          <td>{{.Quantity}}</td>
          <td>{{.TotalPrice}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>

    <div class="total">
      <p>Total: {{.Total}}</p>
    </div>

    <p>The seller is preparing your order. We'll email you again when it ships.</p>
  </div>
  <div class="footer">
    <p>Terima kasih sudah berbelanja di Lokapasar!</p>
  </div>
</body>
</html>
`

// Template text content - Order Shipped
const orderShippedText = `Great news! Your order has shipped!

Order Number: {{.OrderNumber}}

{{if .TrackingNumber}}
Courier: {{.Courier}}
Tracking Number: {{.TrackingNumber}}
{{if .TrackingURL}}Track your package: {{.TrackingURL}}{{end}}
{{end}}

Terima kasih sudah berbelanja di Lokapasar!
`

// Template HTML content - Order Shipped
const orderShippedHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Order Shipped</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #059669; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .tracking { background: white; padding: 20px; border-radius: 6px; margin: 15px 0; border-left: 4px solid #059669; }
    .tracking-number { font-size: 24px; font-weight: bold; color: #059669; }
    .button { display: inline-block; background: #059669; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; margin-top: 15px; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Your Order Has Shipped!</h1>
    <p>Great news, {{.BuyerName}}! Your order is on its way.</p>
  </div>
  <div class="content">
    <p><strong>Order Number:</strong> {{.OrderNumber}}</p>

    {{if .TrackingNumber}}
    <div class="tracking">
      <p><strong>Courier:</strong> {{.Courier}}</p>
      <p class="tracking-number">{{.TrackingNumber}}</p>
      {{if .TrackingURL}}
      <a href="{{.TrackingURL}}" class="button">Track Your Package</a>
      {{end}}
    </div>
    {{end}}
  </div>
  <div class="footer">
    <p>Terima kasih sudah berbelanja di Lokapasar!</p>
  </div>
</body>
</html>
`
