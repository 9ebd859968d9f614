package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"paygate-be/internal/invoice"
	"paygate-be/internal/logger"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func sampleInvoice() *invoice.Invoice {
	return &invoice.Invoice{
		ID: "inv-1", UserID: "user-1", Amount: 50000, Currency: "INR",
		Status: invoice.StatusPaid, CreatedAt: time.Now(),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	inv := sampleInvoice()
	txn := &invoice.Transaction{ID: "txn-1", InvoiceID: inv.ID, Status: invoice.TransactionCompleted}

	ctx := logger.WithRequestID(context.Background(), "req-1")
	require.NoError(t, p.Publish(ctx, "payment-events", PaymentSucceeded(inv, txn)))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "payment-events", msg.Topic)
	assert.Equal(t, "inv-1", string(msg.Key))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "requestId", Value: []byte("req-1")})

	var envelope struct {
		EventType string `json:"eventType"`
		Data      struct {
			Invoice     invoice.Invoice     `json:"invoice"`
			Transaction invoice.Transaction `json:"transaction"`
		} `json:"data"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &envelope))
	assert.Equal(t, TypePaymentSuccess, envelope.EventType)
	assert.Equal(t, "txn-1", envelope.Data.Transaction.ID)
	assert.Equal(t, invoice.StatusPaid, envelope.Data.Invoice.Status)
	assert.False(t, envelope.Timestamp.IsZero())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}}

	err := p.Publish(context.Background(), "payment-events", InvoiceCreated(sampleInvoice()))
	assert.ErrorContains(t, err, "broker down")
}

func TestLogPublisher(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Init("test") })

	err := NewLogPublisher().Publish(context.Background(), "payment-events",
		PaymentFailed(sampleInvoice(), nil, "card declined"))
	require.NoError(t, err)

	logs := observed.TakeAll()
	require.Len(t, logs, 1)
	assert.Equal(t, TypePaymentFailed, logs[0].ContextMap()["event_type"])
	assert.Contains(t, logs[0].ContextMap()["payload"], "card declined")
}
