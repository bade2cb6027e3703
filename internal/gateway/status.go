package gateway

import "github.com/lokapasar/lokapasar/internal/models"

// Native Midtrans transaction status vocabulary. Translated at this boundary,
// never stored as the order's status of record.
const (
	StatusCapture    = "capture"
	StatusSettlement = "settlement"
	StatusPending    = "pending"
	StatusDeny       = "deny"
	StatusCancel     = "cancel"
	StatusExpire     = "expire"

	FraudAccept    = "accept"
	FraudChallenge = "challenge"
	FraudDeny      = "deny"
)

// MapStatus translates the gateway vocabulary to the internal payment status.
// The default for anything unrecognized is pending, never paid and never a
// failure: a status we cannot interpret may still settle later.
func MapStatus(transactionStatus, fraudStatus string) models.PaymentStatus {
	switch transactionStatus {
	case StatusCapture:
		// A captured card transaction still under fraud review is not money
		// in the bank yet.
		if fraudStatus == FraudChallenge {
			return models.PaymentPending
		}
		if fraudStatus == FraudDeny {
			return models.PaymentFailed
		}
		return models.PaymentPaid
	case StatusSettlement:
		return models.PaymentPaid
	case StatusPending:
		return models.PaymentPending
	case StatusDeny, StatusCancel, StatusExpire:
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}
