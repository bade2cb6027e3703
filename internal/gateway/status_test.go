package gateway

import (
	"testing"

	"github.com/lokapasar/lokapasar/internal/models"
)

func TestMapStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		transactionStatus string
		fraudStatus       string
		want              models.PaymentStatus
	}{
		{name: "capture is paid", transactionStatus: "capture", want: models.PaymentPaid},
		{name: "capture with fraud accept is paid", transactionStatus: "capture", fraudStatus: "accept", want: models.PaymentPaid},
		{name: "capture under fraud challenge stays pending", transactionStatus: "capture", fraudStatus: "challenge", want: models.PaymentPending},
		{name: "capture with fraud deny fails", transactionStatus: "capture", fraudStatus: "deny", want: models.PaymentFailed},
		{name: "settlement is paid", transactionStatus: "settlement", want: models.PaymentPaid},
		{name: "pending stays pending", transactionStatus: "pending", want: models.PaymentPending},
		{name: "deny fails", transactionStatus: "deny", want: models.PaymentFailed},
		{name: "cancel fails", transactionStatus: "cancel", want: models.PaymentFailed},
		{name: "expire fails", transactionStatus: "expire", want: models.PaymentFailed},
		{name: "unknown value degrades to pending", transactionStatus: "refund", want: models.PaymentPending},
		{name: "empty value degrades to pending", transactionStatus: "", want: models.PaymentPending},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := MapStatus(tc.transactionStatus, tc.fraudStatus)
			if got != tc.want {
				t.Fatalf("MapStatus(%q, %q) = %q, want %q", tc.transactionStatus, tc.fraudStatus, got, tc.want)
			}
		})
	}
}
