// Package boltstore is a single-file embedded backend implementing the invoice
// repository and the webhook ledger. Bolt serializes write transactions, so
// every conditional transition is a check-then-write inside one db.Update.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"paygate-be/internal/invoice"
	"paygate-be/internal/payment"

	bolt "github.com/boltdb/bolt"
)

var (
	invoicesBucket     = []byte("invoices")
	transactionsBucket = []byte("transactions")
	webhooksBucket     = []byte("webhooks")
	webhookIDsBucket   = []byte("webhook_ids")
)

type Store struct {
	db *bolt.DB
}

var (
	_ invoice.Repository        = (*Store)(nil)
	_ payment.WebhookRepository = (*Store)(nil)
)

// Open opens (or creates) the database at path and ensures every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{invoicesBucket, transactionsBucket, webhooksBucket, webhookIDsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func get[T any](b *bolt.Bucket, key string) (*T, error) {
	v := b.Get([]byte(key))
	if v == nil {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func put(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// ----------------- Invoices -----------------

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(invoicesBucket)
		if b.Get([]byte(inv.ID)) != nil {
			return fmt.Errorf("invoice %s already exists", inv.ID)
		}
		return put(b, inv.ID, inv)
	})
}

func (s *Store) FindInvoiceByID(ctx context.Context, id string) (*invoice.Invoice, error) {
	var inv *invoice.Invoice
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		inv, err = get[invoice.Invoice](tx.Bucket(invoicesBucket), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invoice.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *Store) UpdateInvoiceStatus(
	ctx context.Context,
	id string,
	from []invoice.Status,
	to invoice.Status,
	paidAt *time.Time,
) (*invoice.Invoice, error) {
	var inv *invoice.Invoice
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		inv, err = transition(tx, invoice.Attempt{InvoiceID: id, From: from, To: to, PaidAt: paidAt})
		return err
	})
	return inv, err
}

// transition applies the conditional status change. On conflict it returns
// the current invoice with ErrStatusConflict and the caller's tx rolls back.
func transition(tx *bolt.Tx, a invoice.Attempt) (*invoice.Invoice, error) {
	b := tx.Bucket(invoicesBucket)
	inv, err := get[invoice.Invoice](b, a.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invoice.ErrInvoiceNotFound
	}
	if !a.Allows(inv.Status) {
		return inv, invoice.ErrStatusConflict
	}

	inv.Status = a.To
	if a.PaidAt != nil {
		paidAt := a.PaidAt.UTC()
		inv.PaidAt = &paidAt
	}
	if err := put(b, inv.ID, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Store) ListInvoicesByUser(ctx context.Context, userID string) ([]*invoice.Invoice, error) {
	invoices := []*invoice.Invoice{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(invoicesBucket).ForEach(func(k, v []byte) error {
			var inv invoice.Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return err
			}
			if inv.UserID == userID {
				invoices = append(invoices, &inv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})
	return invoices, nil
}

// ----------------- Transactions -----------------

func (s *Store) CreateTransaction(ctx context.Context, txn *invoice.Transaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return insertTransaction(tx, txn)
	})
}

func insertTransaction(tx *bolt.Tx, txn *invoice.Transaction) error {
	b := tx.Bucket(transactionsBucket)
	if b.Get([]byte(txn.ID)) != nil {
		return fmt.Errorf("transaction %s already exists", txn.ID)
	}
	if txn.Status == invoice.TransactionCompleted {
		existing, err := findTransaction(tx, func(t *invoice.Transaction) bool {
			return t.InvoiceID == txn.InvoiceID && t.Status == invoice.TransactionCompleted
		})
		if err != nil {
			return err
		}
		if existing != nil {
			return invoice.ErrStatusConflict
		}
	}
	if txn.Status != invoice.TransactionPending && txn.GatewayPaymentID != "" {
		existing, err := findTransaction(tx, func(t *invoice.Transaction) bool {
			return t.InvoiceID == txn.InvoiceID &&
				t.GatewayPaymentID == txn.GatewayPaymentID &&
				t.Status != invoice.TransactionPending
		})
		if err != nil {
			return err
		}
		if existing != nil {
			return invoice.ErrDuplicateAttempt
		}
	}
	return put(b, txn.ID, txn)
}

// findTransaction returns the newest transaction matching fn.
func findTransaction(tx *bolt.Tx, fn func(*invoice.Transaction) bool) (*invoice.Transaction, error) {
	var found *invoice.Transaction
	err := tx.Bucket(transactionsBucket).ForEach(func(k, v []byte) error {
		var t invoice.Transaction
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if fn(&t) && (found == nil || t.CreatedAt.After(found.CreatedAt)) {
			found = &t
		}
		return nil
	})
	return found, err
}

func (s *Store) UpdateTransactionStatus(
	ctx context.Context,
	id string,
	status invoice.TransactionStatus,
	resp invoice.GatewayResponse,
) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(transactionsBucket)
		txn, err := get[invoice.Transaction](b, id)
		if err != nil {
			return err
		}
		if txn == nil {
			return invoice.ErrTransactionNotFound
		}
		txn.Status = status
		txn.GatewayResponse = resp
		txn.UpdatedAt = time.Now().UTC()
		return put(b, id, txn)
	})
}

func (s *Store) FindTransactionByPayment(ctx context.Context, invoiceID, paymentID string) (*invoice.Transaction, error) {
	return s.viewTransaction(func(t *invoice.Transaction) bool {
		return t.InvoiceID == invoiceID && t.GatewayPaymentID == paymentID
	})
}

func (s *Store) FindCompletedTransaction(ctx context.Context, invoiceID string) (*invoice.Transaction, error) {
	return s.viewTransaction(func(t *invoice.Transaction) bool {
		return t.InvoiceID == invoiceID && t.Status == invoice.TransactionCompleted
	})
}

func (s *Store) viewTransaction(fn func(*invoice.Transaction) bool) (*invoice.Transaction, error) {
	var txn *invoice.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		txn, err = findTransaction(tx, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, invoice.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Store) ListTransactionsByUser(ctx context.Context, userID string) ([]*invoice.Transaction, error) {
	txns := []*invoice.Transaction{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(transactionsBucket).ForEach(func(k, v []byte) error {
			var t invoice.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.UserID == userID {
				txns = append(txns, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
	return txns, nil
}

// ----------------- Attempts -----------------

func (s *Store) RecordAttempt(ctx context.Context, a invoice.Attempt) (*invoice.Invoice, *invoice.Transaction, error) {
	var (
		inv     *invoice.Invoice
		current *invoice.Invoice
		settled *invoice.Transaction
	)
	txn := a.Transaction

	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		inv, err = transition(tx, a)
		if err != nil {
			current = inv
			return err
		}

		existing, err := findTransaction(tx, func(t *invoice.Transaction) bool {
			return txn.GatewayPaymentID != "" &&
				t.InvoiceID == txn.InvoiceID &&
				t.GatewayPaymentID == txn.GatewayPaymentID
		})
		if err != nil {
			return err
		}
		if existing == nil {
			return insertTransaction(tx, txn)
		}
		if a.To == invoice.StatusFailed && existing.Status != invoice.TransactionPending {
			settled = existing
			return invoice.ErrDuplicateAttempt
		}

		txn.ID = existing.ID
		txn.CreatedAt = existing.CreatedAt
		// The stored row is replaced, so only other rows can clash.
		if err := tx.Bucket(transactionsBucket).Delete([]byte(existing.ID)); err != nil {
			return err
		}
		return insertTransaction(tx, txn)
	})

	switch {
	case errors.Is(err, invoice.ErrDuplicateAttempt) && settled != nil:
		current, err = s.FindInvoiceByID(ctx, a.InvoiceID)
		if err != nil {
			return nil, nil, err
		}
		return current, settled, invoice.ErrDuplicateAttempt
	case errors.Is(err, invoice.ErrStatusConflict), errors.Is(err, invoice.ErrDuplicateAttempt):
		if current == nil {
			current, err = s.FindInvoiceByID(ctx, a.InvoiceID)
			if err != nil {
				return nil, nil, err
			}
		}
		return current, nil, invoice.ErrStatusConflict
	case err != nil:
		return nil, nil, err
	}
	return inv, txn, nil
}

// ----------------- Webhook ledger -----------------

type webhookEntry struct {
	ID             int64           `json:"id"`
	Provider       string          `json:"provider"`
	EventID        string          `json:"eventId"`
	EventType      string          `json:"eventType"`
	ExternalID     string          `json:"externalId"`
	SignatureValid bool            `json:"signatureValid"`
	Payload        json.RawMessage `json:"payload"`
	Attempts       int             `json:"attempts"`
	LastReceivedAt time.Time       `json:"lastReceivedAt"`
	ProcessedAt    *time.Time      `json:"processedAt,omitempty"`
	ProcessError   string          `json:"processError,omitempty"`
}

func webhookKey(provider, eventID string) string {
	return provider + ":" + eventID
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func (s *Store) SaveWebhook(ctx context.Context, rec payment.WebhookRecord) (int64, bool, error) {
	var (
		id        int64
		processed bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(webhooksBucket)
		key := webhookKey(rec.Provider, rec.EventID)
		now := time.Now().UTC()

		entry, err := get[webhookEntry](b, key)
		if err != nil {
			return err
		}
		if entry != nil {
			entry.Attempts++
			entry.LastReceivedAt = now
			id, processed = entry.ID, entry.ProcessedAt != nil
			return put(b, key, entry)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		entry = &webhookEntry{
			ID:             id,
			Provider:       rec.Provider,
			EventID:        rec.EventID,
			EventType:      rec.EventType,
			ExternalID:     rec.PaymentID,
			SignatureValid: rec.SignatureValid,
			Payload:        rec.Payload,
			Attempts:       1,
			LastReceivedAt: now,
		}
		if err := tx.Bucket(webhookIDsBucket).Put(itob(id), []byte(key)); err != nil {
			return err
		}
		return put(b, key, entry)
	})
	if err != nil {
		return 0, false, fmt.Errorf("save webhook: %w", err)
	}
	return id, processed, nil
}

func (s *Store) MarkWebhookProcessed(ctx context.Context, webhookID int64) error {
	return s.updateWebhook(webhookID, func(e *webhookEntry) {
		now := time.Now().UTC()
		e.ProcessedAt = &now
		e.ProcessError = ""
	})
}

func (s *Store) MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error {
	return s.updateWebhook(webhookID, func(e *webhookEntry) {
		e.ProcessError = reason
	})
}

func (s *Store) updateWebhook(webhookID int64, fn func(*webhookEntry)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := tx.Bucket(webhookIDsBucket).Get(itob(webhookID))
		if key == nil {
			return fmt.Errorf("webhook %d not found", webhookID)
		}
		b := tx.Bucket(webhooksBucket)
		entry, err := get[webhookEntry](b, string(key))
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("webhook %d not found", webhookID)
		}
		fn(entry)
		return put(b, string(key), entry)
	})
}
