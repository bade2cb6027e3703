// Package gateway is the payment gateway adapter. It speaks the Midtrans Core
// API wire protocol and normalizes every gateway-facing failure into the
// service error taxonomy before it crosses into the services layer.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lokapasar/lokapasar/internal/models"
)

const (
	sandboxBaseURL    = "https://api.sandbox.midtrans.com"
	productionBaseURL = "https://api.midtrans.com"

	defaultTimeout = 8 * time.Second
)

var (
	// ErrUnavailable covers transport failures, timeouts, and gateway-side
	// errors during a charge. Callers must not persist a payment attempt when
	// they see it.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrUnsupportedMethod is returned before any network call for a method
	// outside the closed supported set.
	ErrUnsupportedMethod = errors.New("unsupported payment method")
)

// Config is provided once at construction and never mutated afterwards.
type Config struct {
	ServerKey  string
	Production bool
	// BaseURL overrides the Midtrans endpoint; used by tests.
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client, e.g. to add tracing. The
	// Timeout field is ignored when it is set.
	HTTPClient *http.Client
}

type Client struct {
	serverKey  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Production {
			baseURL = productionBaseURL
		} else {
			baseURL = sandboxBaseURL
		}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		serverKey:  cfg.ServerKey,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// ChargeInput identifies the order at the gateway. The amount is the order's
// frozen total.
type ChargeInput struct {
	OrderID string
	Amount  int64
	Method  models.PaymentMethod
}

// ChargeResult carries the gateway transaction reference and the opaque
// payment instruction (VA number, bill key, QR payload, deeplink) the payer
// needs to settle out-of-band.
type ChargeResult struct {
	TransactionID string
	Instruction   map[string]any
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type bankTransferDetails struct {
	Bank string `json:"bank"`
}

type echannelDetails struct {
	BillInfo1 string `json:"bill_info1"`
	BillInfo2 string `json:"bill_info2"`
}

type chargeRequest struct {
	PaymentType        string               `json:"payment_type"`
	TransactionDetails transactionDetails   `json:"transaction_details"`
	BankTransfer       *bankTransferDetails `json:"bank_transfer,omitempty"`
	EChannel           *echannelDetails     `json:"echannel,omitempty"`
}

type vaNumber struct {
	Bank     string `json:"bank"`
	VANumber string `json:"va_number"`
}

type action struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

type chargeResponse struct {
	StatusCode        string     `json:"status_code"`
	StatusMessage     string     `json:"status_message"`
	TransactionID     string     `json:"transaction_id"`
	OrderID           string     `json:"order_id"`
	GrossAmount       string     `json:"gross_amount"`
	PaymentType       string     `json:"payment_type"`
	TransactionStatus string     `json:"transaction_status"`
	FraudStatus       string     `json:"fraud_status"`
	VANumbers         []vaNumber `json:"va_numbers"`
	PermataVANumber   string     `json:"permata_va_number"`
	BillKey           string     `json:"bill_key"`
	BillerCode        string     `json:"biller_code"`
	QRString          string     `json:"qr_string"`
	Actions           []action   `json:"actions"`
	ExpiryTime        string     `json:"expiry_time"`
}

// buildChargeRequest is the dispatch table from payment method to gateway
// request shape. Every supported method must appear here; anything else fails
// loud with ErrUnsupportedMethod.
func buildChargeRequest(input ChargeInput) (*chargeRequest, error) {
	req := &chargeRequest{
		TransactionDetails: transactionDetails{
			OrderID:     input.OrderID,
			GrossAmount: input.Amount,
		},
	}

	switch input.Method {
	case models.MethodBCAVA:
		req.PaymentType = "bank_transfer"
		req.BankTransfer = &bankTransferDetails{Bank: "bca"}
	case models.MethodBNIVA:
		req.PaymentType = "bank_transfer"
		req.BankTransfer = &bankTransferDetails{Bank: "bni"}
	case models.MethodBRIVA:
		req.PaymentType = "bank_transfer"
		req.BankTransfer = &bankTransferDetails{Bank: "bri"}
	case models.MethodPermataVA:
		req.PaymentType = "bank_transfer"
		req.BankTransfer = &bankTransferDetails{Bank: "permata"}
	case models.MethodMandiriBill:
		// Mandiri uses the echannel bill-payment shape, not the generic
		// bank_transfer one.
		req.PaymentType = "echannel"
		req.EChannel = &echannelDetails{
			BillInfo1: "Pembayaran:",
			BillInfo2: "Lokapasar order " + input.OrderID,
		}
	case models.MethodQRIS:
		req.PaymentType = "qris"
	case models.MethodGoPay:
		req.PaymentType = "gopay"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, input.Method)
	}

	return req, nil
}

// Charge creates a gateway transaction for the order. Transport and
// gateway-side failures come back as ErrUnavailable so the caller can leave
// the order pending without an attempt record.
func (c *Client) Charge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	req, err := buildChargeRequest(input)
	if err != nil {
		return nil, err
	}

	var resp chargeResponse
	if err := c.post(ctx, "/v2/charge", req, &resp); err != nil {
		return nil, err
	}

	if resp.StatusCode != "200" && resp.StatusCode != "201" {
		return nil, fmt.Errorf("%w: charge rejected with status %s: %s", ErrUnavailable, resp.StatusCode, resp.StatusMessage)
	}
	if resp.TransactionID == "" {
		return nil, fmt.Errorf("%w: charge response missing transaction id", ErrUnavailable)
	}

	return &ChargeResult{
		TransactionID: resp.TransactionID,
		Instruction:   buildInstruction(&resp),
	}, nil
}

// buildInstruction extracts the payer-facing payload per payment branch. The
// result is persisted opaquely on the payment attempt and never interpreted
// again.
func buildInstruction(resp *chargeResponse) map[string]any {
	instruction := map[string]any{
		"payment_type": resp.PaymentType,
	}
	if resp.ExpiryTime != "" {
		instruction["expiry_time"] = resp.ExpiryTime
	}

	switch {
	case len(resp.VANumbers) > 0:
		instruction["bank"] = resp.VANumbers[0].Bank
		instruction["va_number"] = resp.VANumbers[0].VANumber
	case resp.PermataVANumber != "":
		instruction["bank"] = "permata"
		instruction["va_number"] = resp.PermataVANumber
	case resp.BillKey != "":
		instruction["bill_key"] = resp.BillKey
		instruction["biller_code"] = resp.BillerCode
	}

	if resp.QRString != "" {
		instruction["qr_string"] = resp.QRString
	}
	for _, act := range resp.Actions {
		switch act.Name {
		case "generate-qr-code":
			instruction["qr_code_url"] = act.URL
		case "deeplink-redirect":
			instruction["deeplink_url"] = act.URL
		}
	}

	return instruction
}

type statusResponse struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
}

// QueryStatus asks the gateway for the authoritative transaction status of an
// order. Lookups that fail in any way degrade to pending: a transient gateway
// problem must never fail an order that may still settle.
func (c *Client) QueryStatus(ctx context.Context, orderID string) (models.PaymentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/"+orderID+"/status", nil)
	if err != nil {
		return models.PaymentPending, nil
	}
	req.SetBasicAuth(c.serverKey, "")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return models.PaymentPending, nil
	}
	defer httpResp.Body.Close()

	var resp statusResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return models.PaymentPending, nil
	}
	if resp.StatusCode == "404" || resp.TransactionStatus == "" {
		return models.PaymentPending, nil
	}

	return MapStatus(resp.TransactionStatus, resp.FraudStatus), nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.SetBasicAuth(c.serverKey, "")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: gateway returned HTTP %d", ErrUnavailable, httpResp.StatusCode)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: undecodable gateway response", ErrUnavailable)
	}
	return nil
}
