package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"paygate-be/internal/invoice"
	"paygate-be/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedInvoice(t *testing.T, s *Store, id string, status invoice.Status) *invoice.Invoice {
	t.Helper()
	inv := &invoice.Invoice{
		ID:          id,
		UserID:      "user-1",
		Amount:      50000,
		Currency:    "INR",
		Status:      status,
		Description: "Order #1",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateInvoice(context.Background(), inv))
	return inv
}

func attempt(invoiceID, txnID, paymentID string, to invoice.Status) invoice.Attempt {
	now := time.Now().UTC()
	txn := &invoice.Transaction{
		ID:               txnID,
		InvoiceID:        invoiceID,
		UserID:           "user-1",
		Amount:           50000,
		Currency:         "INR",
		PaymentMethod:    "upi",
		Status:           invoice.TransactionFailed,
		GatewayPaymentID: paymentID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	a := invoice.Attempt{
		InvoiceID:   invoiceID,
		From:        []invoice.Status{invoice.StatusPending, invoice.StatusFailed},
		To:          to,
		Transaction: txn,
	}
	if to == invoice.StatusPaid {
		txn.Status = invoice.TransactionCompleted
		a.PaidAt = &now
	}
	return a
}

func TestStore_Invoices(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.FindInvoiceByID(ctx, "missing")
	assert.ErrorIs(t, err, invoice.ErrInvoiceNotFound)

	first := seedInvoice(t, s, "inv-1", invoice.StatusPending)
	second := seedInvoice(t, s, "inv-2", invoice.StatusPending)
	assert.Error(t, s.CreateInvoice(ctx, first), "duplicate id")

	got, err := s.FindInvoiceByID(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), got.Amount)

	list, err := s.ListInvoicesByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	empty, err := s.ListInvoicesByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestStore_UpdateInvoiceStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedInvoice(t, s, "inv-1", invoice.StatusPending)

	paidAt := time.Now().UTC()
	inv, err := s.UpdateInvoiceStatus(ctx, "inv-1", []invoice.Status{invoice.StatusPending}, invoice.StatusPaid, &paidAt)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)

	current, err := s.UpdateInvoiceStatus(ctx, "inv-1", []invoice.Status{invoice.StatusPending}, invoice.StatusFailed, nil)
	assert.ErrorIs(t, err, invoice.ErrStatusConflict)
	assert.Equal(t, invoice.StatusPaid, current.Status)

	_, err = s.UpdateInvoiceStatus(ctx, "missing", []invoice.Status{invoice.StatusPending}, invoice.StatusPaid, nil)
	assert.ErrorIs(t, err, invoice.ErrInvoiceNotFound)
}

func TestStore_RecordAttempt(t *testing.T) {
	ctx := context.Background()

	t.Run("Success inserts completed transaction", func(t *testing.T) {
		s := newTestStore(t)
		seedInvoice(t, s, "inv-1", invoice.StatusPending)

		inv, txn, err := s.RecordAttempt(ctx, attempt("inv-1", "txn-1", "pay_1", invoice.StatusPaid))
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPaid, inv.Status)
		assert.Equal(t, invoice.TransactionCompleted, txn.Status)

		found, err := s.FindCompletedTransaction(ctx, "inv-1")
		require.NoError(t, err)
		assert.Equal(t, "txn-1", found.ID)
	})

	t.Run("Resolves pending transaction for the same payment", func(t *testing.T) {
		s := newTestStore(t)
		seedInvoice(t, s, "inv-1", invoice.StatusPending)

		created := time.Now().UTC().Add(-time.Minute)
		require.NoError(t, s.CreateTransaction(ctx, &invoice.Transaction{
			ID:               "txn-pending",
			InvoiceID:        "inv-1",
			UserID:           "user-1",
			Status:           invoice.TransactionPending,
			GatewayPaymentID: "pay_1",
			CreatedAt:        created,
			UpdatedAt:        created,
		}))

		_, txn, err := s.RecordAttempt(ctx, attempt("inv-1", "txn-new", "pay_1", invoice.StatusPaid))
		require.NoError(t, err)
		assert.Equal(t, "txn-pending", txn.ID)

		list, err := s.ListTransactionsByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, invoice.TransactionCompleted, list[0].Status)
	})

	t.Run("Already paid writes nothing", func(t *testing.T) {
		s := newTestStore(t)
		seedInvoice(t, s, "inv-1", invoice.StatusPending)
		_, _, err := s.RecordAttempt(ctx, attempt("inv-1", "txn-1", "pay_1", invoice.StatusPaid))
		require.NoError(t, err)

		current, txn, err := s.RecordAttempt(ctx, attempt("inv-1", "txn-2", "pay_1", invoice.StatusPaid))
		assert.ErrorIs(t, err, invoice.ErrStatusConflict)
		assert.Nil(t, txn)
		assert.Equal(t, invoice.StatusPaid, current.Status)

		list, err := s.ListTransactionsByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("Failed invoice accepts a new attempt", func(t *testing.T) {
		s := newTestStore(t)
		seedInvoice(t, s, "inv-1", invoice.StatusPending)

		inv, _, err := s.RecordAttempt(ctx, attempt("inv-1", "txn-1", "pay_1", invoice.StatusFailed))
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusFailed, inv.Status)

		inv, _, err = s.RecordAttempt(ctx, attempt("inv-1", "txn-2", "pay_2", invoice.StatusPaid))
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPaid, inv.Status)
	})

	t.Run("Repeated failure for a settled payment writes nothing", func(t *testing.T) {
		s := newTestStore(t)
		seedInvoice(t, s, "inv-1", invoice.StatusPending)
		_, _, err := s.RecordAttempt(ctx, attempt("inv-1", "txn-1", "pay_1", invoice.StatusFailed))
		require.NoError(t, err)

		current, txn, err := s.RecordAttempt(ctx, attempt("inv-1", "txn-2", "pay_1", invoice.StatusFailed))
		assert.ErrorIs(t, err, invoice.ErrDuplicateAttempt)
		assert.Equal(t, invoice.StatusFailed, current.Status)
		require.NotNil(t, txn)
		assert.Equal(t, "txn-1", txn.ID)

		list, err := s.ListTransactionsByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("Failed payment captured later settles the same row", func(t *testing.T) {
		s := newTestStore(t)
		seedInvoice(t, s, "inv-1", invoice.StatusPending)
		_, _, err := s.RecordAttempt(ctx, attempt("inv-1", "txn-1", "pay_1", invoice.StatusFailed))
		require.NoError(t, err)

		inv, txn, err := s.RecordAttempt(ctx, attempt("inv-1", "txn-2", "pay_1", invoice.StatusPaid))
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPaid, inv.Status)
		assert.Equal(t, "txn-1", txn.ID)

		list, err := s.ListTransactionsByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, invoice.TransactionCompleted, list[0].Status)
	})

	t.Run("Missing invoice", func(t *testing.T) {
		s := newTestStore(t)
		_, _, err := s.RecordAttempt(ctx, attempt("missing", "txn-1", "pay_1", invoice.StatusPaid))
		assert.ErrorIs(t, err, invoice.ErrInvoiceNotFound)
	})
}

func TestStore_RecordAttempt_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedInvoice(t, s, "inv-1", invoice.StatusPending)

	const writers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.RecordAttempt(ctx, attempt("inv-1", fmt.Sprintf("txn-%d", i), "pay_1", invoice.StatusPaid))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, invoice.ErrStatusConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	list, err := s.ListTransactionsByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_Transactions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedInvoice(t, s, "inv-1", invoice.StatusPending)

	now := time.Now().UTC()
	require.NoError(t, s.CreateTransaction(ctx, &invoice.Transaction{
		ID: "txn-1", InvoiceID: "inv-1", UserID: "user-1",
		Status: invoice.TransactionPending, GatewayPaymentID: "pay_1",
		CreatedAt: now, UpdatedAt: now,
	}))

	txn, err := s.FindTransactionByPayment(ctx, "inv-1", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "txn-1", txn.ID)

	_, err = s.FindTransactionByPayment(ctx, "inv-1", "pay_other")
	assert.ErrorIs(t, err, invoice.ErrTransactionNotFound)

	_, err = s.FindCompletedTransaction(ctx, "inv-1")
	assert.ErrorIs(t, err, invoice.ErrTransactionNotFound)

	resp := invoice.GatewayResponse{Source: invoice.SourceWebhookFailure, ErrorCode: "BAD_REQUEST_ERROR"}
	require.NoError(t, s.UpdateTransactionStatus(ctx, "txn-1", invoice.TransactionFailed, resp))

	txn, err = s.FindTransactionByPayment(ctx, "inv-1", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, invoice.TransactionFailed, txn.Status)
	assert.Equal(t, "BAD_REQUEST_ERROR", txn.GatewayResponse.ErrorCode)

	err = s.UpdateTransactionStatus(ctx, "missing", invoice.TransactionFailed, resp)
	assert.ErrorIs(t, err, invoice.ErrTransactionNotFound)
}

func TestStore_WebhookLedger(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := payment.WebhookRecord{
		Provider:       payment.ProviderRazorpay,
		EventID:        "evt_1",
		EventType:      "payment.captured",
		PaymentID:      "pay_1",
		Payload:        json.RawMessage(`{"event":"payment.captured"}`),
		SignatureValid: true,
	}

	id, processed, err := s.SaveWebhook(ctx, rec)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Positive(t, id)

	require.NoError(t, s.MarkWebhookFailed(ctx, id, "boom"))

	again, processed, err := s.SaveWebhook(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.False(t, processed, "failed deliveries are retried")

	require.NoError(t, s.MarkWebhookProcessed(ctx, id))

	_, processed, err = s.SaveWebhook(ctx, rec)
	require.NoError(t, err)
	assert.True(t, processed)

	other := rec
	other.EventID = "evt_2"
	otherID, _, err := s.SaveWebhook(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, id, otherID)

	assert.Error(t, s.MarkWebhookProcessed(ctx, 9999))
}
