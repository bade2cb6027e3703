package services

import (
	"net/url"
	"strings"
)

const (
	CarrierJNE      = "jne"
	CarrierJNT      = "jnt"
	CarrierSiCepat  = "sicepat"
	CarrierAnterAja = "anteraja"
	CarrierPOS      = "pos"
)

// NormalizeCarrier returns a canonical carrier key for known couriers.
func NormalizeCarrier(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	replacer := strings.NewReplacer(" ", "", "-", "", "_", "", "&", "", ".", "")
	normalized = replacer.Replace(normalized)

	switch normalized {
	case "jne", "jalurnugrahaekakurir":
		return CarrierJNE
	case "jnt", "jtexpress", "jntexpress":
		return CarrierJNT
	case "sicepat", "sicepatekspres":
		return CarrierSiCepat
	case "anteraja":
		return CarrierAnterAja
	case "pos", "posindonesia":
		return CarrierPOS
	default:
		return ""
	}
}

// CanonicalCarrierName maps a carrier key to the display name.
func CanonicalCarrierName(carrier string) string {
	switch NormalizeCarrier(carrier) {
	case CarrierJNE:
		return "JNE"
	case CarrierJNT:
		return "J&T Express"
	case CarrierSiCepat:
		return "SiCepat"
	case CarrierAnterAja:
		return "AnterAja"
	case CarrierPOS:
		return "POS Indonesia"
	default:
		return ""
	}
}

// ResolveCarrier keeps custom couriers untouched and normalizes known ones.
func ResolveCarrier(carrier string) string {
	trimmed := strings.TrimSpace(carrier)
	if trimmed == "" {
		return ""
	}
	if canonical := CanonicalCarrierName(trimmed); canonical != "" {
		return canonical
	}
	return trimmed
}

// BuildTrackingURL returns a carrier-specific tracking URL. Unknown carriers return empty.
func BuildTrackingURL(carrier, trackingNumber string) string {
	number := strings.TrimSpace(trackingNumber)
	if number == "" {
		return ""
	}

	escaped := url.QueryEscape(number)
	switch NormalizeCarrier(carrier) {
	case CarrierJNE:
		return "https://www.jne.co.id/en/tracking/trace?awb=" + escaped
	case CarrierJNT:
		return "https://www.jet.co.id/track?billcode=" + escaped
	case CarrierSiCepat:
		return "https://www.sicepat.com/checkAwb?receipt=" + escaped
	case CarrierAnterAja:
		return "https://anteraja.id/tracking?receipt=" + escaped
	case CarrierPOS:
		return "https://www.posindonesia.co.id/en/tracking?barcode=" + escaped
	default:
		return ""
	}
}
