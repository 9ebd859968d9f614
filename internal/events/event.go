package events

import (
	"context"
	"time"

	"paygate-be/internal/invoice"
)

const (
	TypeInvoiceCreated = "INVOICE_CREATED"
	TypePaymentSuccess = "PAYMENT_SUCCESS"
	TypePaymentFailed  = "PAYMENT_FAILED"
)

// Event is the envelope written to the bus. Key partitions the stream so
// events for one invoice stay ordered.
type Event struct {
	Type      string    `json:"eventType"`
	Key       string    `json:"-"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, topic string, evt Event) error
	Close() error
}

type PaymentSuccessData struct {
	Invoice     *invoice.Invoice     `json:"invoice"`
	Transaction *invoice.Transaction `json:"transaction"`
}

type PaymentFailedData struct {
	Invoice     *invoice.Invoice     `json:"invoice"`
	Transaction *invoice.Transaction `json:"transaction,omitempty"`
	Error       string               `json:"error"`
}

func InvoiceCreated(inv *invoice.Invoice) Event {
	return Event{
		Type:      TypeInvoiceCreated,
		Key:       inv.ID,
		Data:      inv,
		Timestamp: time.Now().UTC(),
	}
}

func PaymentSucceeded(inv *invoice.Invoice, txn *invoice.Transaction) Event {
	return Event{
		Type:      TypePaymentSuccess,
		Key:       inv.ID,
		Data:      PaymentSuccessData{Invoice: inv, Transaction: txn},
		Timestamp: time.Now().UTC(),
	}
}

func PaymentFailed(inv *invoice.Invoice, txn *invoice.Transaction, reason string) Event {
	return Event{
		Type:      TypePaymentFailed,
		Key:       inv.ID,
		Data:      PaymentFailedData{Invoice: inv, Transaction: txn, Error: reason},
		Timestamp: time.Now().UTC(),
	}
}
