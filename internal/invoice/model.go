package invoice

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Source names the path that produced a transaction.
type Source string

const (
	SourceDirect                      Source = "direct_verification"
	SourceWebhookCapture              Source = "webhook_capture"
	SourceWebhookAuthorizationCapture Source = "webhook_authorization_capture"
	SourceWebhookFailure              Source = "webhook_failure"
)

type Invoice struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	Status      Status     `json:"status"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"createdAt"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
}

type Transaction struct {
	ID               string            `json:"id"`
	InvoiceID        string            `json:"invoiceId"`
	UserID           string            `json:"userId"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	PaymentMethod    string            `json:"paymentMethod"`
	Status           TransactionStatus `json:"status"`
	GatewayPaymentID string            `json:"gatewayPaymentId"`
	GatewayResponse  GatewayResponse   `json:"gatewayResponse"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// GatewayResponse is the normalized audit record stored with a transaction.
// Raw keeps the gateway payload verbatim and is never interpreted.
type GatewayResponse struct {
	Source      Source          `json:"source"`
	Success     bool            `json:"success"`
	PaymentID   string          `json:"paymentId,omitempty"`
	OrderID     string          `json:"orderId,omitempty"`
	Method      string          `json:"method,omitempty"`
	State       string          `json:"state,omitempty"`
	ProcessedAt time.Time       `json:"processedAt"`
	ErrorCode   string          `json:"errorCode,omitempty"`
	ErrorReason string          `json:"errorReason,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Attempt is one atomic store write: a conditional invoice transition plus
// the transaction that records it.
type Attempt struct {
	InvoiceID   string
	From        []Status
	To          Status
	PaidAt      *time.Time
	Transaction *Transaction
}

// Allows reports whether the attempt may move an invoice out of s.
func (a Attempt) Allows(s Status) bool {
	for _, f := range a.From {
		if f == s {
			return true
		}
	}
	return false
}

// StatusStrings converts statuses for driver arguments.
func StatusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
