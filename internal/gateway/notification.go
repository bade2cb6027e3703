package gateway

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Notification is the inbound payment notification payload. Midtrans signs it
// with sha512(order_id + status_code + gross_amount + server_key).
type Notification struct {
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
}

// ParseNotification decodes and structurally validates a notification body.
// Signature verification is a separate step so tests can exercise each alone.
func ParseNotification(body []byte) (*Notification, error) {
	var notif Notification
	if err := json.Unmarshal(body, &notif); err != nil {
		return nil, fmt.Errorf("malformed notification payload: %w", err)
	}
	if notif.OrderID == "" {
		return nil, fmt.Errorf("notification missing order_id")
	}
	if notif.TransactionStatus == "" {
		return nil, fmt.Errorf("notification missing transaction_status")
	}
	if notif.SignatureKey == "" {
		return nil, fmt.Errorf("notification missing signature_key")
	}
	return &notif, nil
}

// Signature computes the expected notification signature for the given fields.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks the notification signature under the configured
// server key.
func (c *Client) VerifySignature(notif *Notification) bool {
	if notif == nil {
		return false
	}
	expected := Signature(notif.OrderID, notif.StatusCode, notif.GrossAmount, c.serverKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(notif.SignatureKey)) == 1
}
