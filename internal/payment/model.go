package payment

import (
	"encoding/json"
	"time"

	"paygate-be/internal/invoice"
)

// State is the gateway's view of a payment.
type State string

const (
	StateCreated    State = "created"
	StateAuthorized State = "authorized"
	StateCaptured   State = "captured"
	StateFailed     State = "failed"
	StateUnknown    State = "unknown"
)

// Outcome is the normalized result of a gateway call or webhook payload.
type Outcome struct {
	PaymentID        string
	OrderID          string
	State            State
	Method           string
	Amount           int64
	Currency         string
	Email            string
	InvoiceID        string
	ErrorCode        string
	ErrorDescription string
	ProcessedAt      time.Time
	Raw              json.RawMessage
}

type OrderParams struct {
	InvoiceID      string
	UserID         string
	Amount         int64
	Currency       string
	Description    string
	IdempotencyKey string
}

type OrderRef struct {
	OrderID        string    `json:"orderId"`
	InvoiceID      string    `json:"invoiceId"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Receipt        string    `json:"receipt"`
	KeyID          string    `json:"keyId"`
	IdempotencyKey string    `json:"idempotencyKey"`
	CreatedAt      time.Time `json:"createdAt"`
}

type CreateInvoiceInput struct {
	Amount      int64
	Currency    string
	Description *string
}

type OrderRequest struct {
	InvoiceID string
	AttemptAt time.Time
}

type ConfirmRequest struct {
	InvoiceID        string
	PaymentMethod    string
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
}

// ConfirmResult is returned synchronously on the direct path. Pending means
// the gateway could not give a definitive answer and the invoice was left
// untouched; a webhook or a retry will settle it.
type ConfirmResult struct {
	Success     bool                 `json:"success"`
	Pending     bool                 `json:"pending,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Invoice     *invoice.Invoice     `json:"invoice,omitempty"`
	Transaction *invoice.Transaction `json:"transaction,omitempty"`
}

type WebhookDelivery struct {
	Body      []byte
	Signature string
	EventID   string
}

// WebhookRecord is one row of the webhook delivery ledger.
type WebhookRecord struct {
	Provider       string
	EventID        string
	EventType      string
	PaymentID      string
	Payload        json.RawMessage
	SignatureValid bool
}
