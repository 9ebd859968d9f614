package invoice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paygate-be/internal/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// settledPaymentIndex allows one non-pending transaction per gateway payment.
const settledPaymentIndex = "uniq_transactions_settled_payment"

type Repository interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	FindInvoiceByID(ctx context.Context, id string) (*Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id string, from []Status, to Status, paidAt *time.Time) (*Invoice, error)
	ListInvoicesByUser(ctx context.Context, userID string) ([]*Invoice, error)

	CreateTransaction(ctx context.Context, txn *Transaction) error
	UpdateTransactionStatus(ctx context.Context, id string, status TransactionStatus, resp GatewayResponse) error
	FindTransactionByPayment(ctx context.Context, invoiceID, paymentID string) (*Transaction, error)
	FindCompletedTransaction(ctx context.Context, invoiceID string) (*Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID string) ([]*Transaction, error)

	// RecordAttempt applies the invoice transition and writes its transaction
	// atomically. When the invoice is not in one of a.From it returns the
	// current invoice together with ErrStatusConflict and writes nothing.
	// A failed attempt for a gateway payment that already has a settled
	// transaction returns that transaction with ErrDuplicateAttempt.
	RecordAttempt(ctx context.Context, a Attempt) (*Invoice, *Transaction, error)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const invoiceColumns = `id, user_id, amount, currency, status, description, created_at, paid_at`

const transactionColumns = `id, invoice_id, user_id, amount, currency, payment_method, status,
	gateway_payment_id, gateway_response, created_at, updated_at`

func scanInvoice(row scanner) (*Invoice, error) {
	var (
		inv    Invoice
		paidAt sql.NullTime
	)
	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.Amount, &inv.Currency, &inv.Status,
		&inv.Description, &inv.CreatedAt, &paidAt,
	)
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		t := paidAt.Time
		inv.PaidAt = &t
	}
	return &inv, nil
}

func scanTransaction(row scanner) (*Transaction, error) {
	var (
		txn  Transaction
		resp []byte
	)
	err := row.Scan(
		&txn.ID, &txn.InvoiceID, &txn.UserID, &txn.Amount, &txn.Currency,
		&txn.PaymentMethod, &txn.Status, &txn.GatewayPaymentID, &resp,
		&txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(resp) > 0 {
		if err := json.Unmarshal(resp, &txn.GatewayResponse); err != nil {
			return nil, fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return &txn, nil
}

// ----------------- Invoices -----------------

func (r *repository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invoices (id, user_id, amount, currency, status, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		inv.ID, inv.UserID, inv.Amount, inv.Currency, inv.Status, inv.Description, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (r *repository) FindInvoiceByID(ctx context.Context, id string) (*Invoice, error) {
	return findInvoice(ctx, r.db, id)
}

func findInvoice(ctx context.Context, q querier, id string) (*Invoice, error) {
	inv, err := scanInvoice(q.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	return inv, nil
}

func (r *repository) UpdateInvoiceStatus(
	ctx context.Context,
	id string,
	from []Status,
	to Status,
	paidAt *time.Time,
) (*Invoice, error) {
	return transitionInvoice(ctx, r.db, id, from, to, paidAt)
}

func transitionInvoice(
	ctx context.Context,
	q querier,
	id string,
	from []Status,
	to Status,
	paidAt *time.Time,
) (*Invoice, error) {
	inv, err := scanInvoice(q.QueryRowContext(ctx, `
		UPDATE invoices
		SET status = $1, paid_at = COALESCE($2, paid_at)
		WHERE id = $3 AND status = ANY($4)
		RETURNING `+invoiceColumns,
		to, paidAt, id, pq.Array(StatusStrings(from)),
	))
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update invoice status: %w", err)
	}

	// Zero rows: either the invoice is missing or it moved on already.
	current, err := findInvoice(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return current, ErrStatusConflict
}

func (r *repository) ListInvoicesByUser(ctx context.Context, userID string) ([]*Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	invoices := []*Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// ----------------- Transactions -----------------

func (r *repository) CreateTransaction(ctx context.Context, txn *Transaction) error {
	return insertTransaction(ctx, r.db, txn)
}

func insertTransaction(ctx context.Context, q querier, txn *Transaction) error {
	resp, err := json.Marshal(txn.GatewayResponse)
	if err != nil {
		return fmt.Errorf("encode gateway response: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO transactions (id, invoice_id, user_id, amount, currency, payment_method, status,
			gateway_payment_id, gateway_response, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		txn.ID, txn.InvoiceID, txn.UserID, txn.Amount, txn.Currency, txn.PaymentMethod, txn.Status,
		txn.GatewayPaymentID, resp, txn.CreatedAt, txn.UpdatedAt,
	)
	if uerr := uniqueErr(err); uerr != nil {
		return uerr
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *repository) UpdateTransactionStatus(
	ctx context.Context,
	id string,
	status TransactionStatus,
	resp GatewayResponse,
) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode gateway response: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, gateway_response = $2, updated_at = $3
		WHERE id = $4
	`, status, raw, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *repository) FindTransactionByPayment(ctx context.Context, invoiceID, paymentID string) (*Transaction, error) {
	return findPaymentTransaction(ctx, r.db, invoiceID, paymentID)
}

func findPaymentTransaction(ctx context.Context, q querier, invoiceID, paymentID string) (*Transaction, error) {
	if paymentID == "" {
		return nil, ErrTransactionNotFound
	}
	txn, err := scanTransaction(q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE invoice_id = $1 AND gateway_payment_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, invoiceID, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return txn, nil
}

func (r *repository) FindCompletedTransaction(ctx context.Context, invoiceID string) (*Transaction, error) {
	txn, err := scanTransaction(r.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE invoice_id = $1 AND status = $2
		LIMIT 1
	`, invoiceID, TransactionCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find completed transaction: %w", err)
	}
	return txn, nil
}

func (r *repository) ListTransactionsByUser(ctx context.Context, userID string) ([]*Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txns := []*Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// ----------------- Attempts -----------------

func (r *repository) RecordAttempt(ctx context.Context, a Attempt) (*Invoice, *Transaction, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "RecordAttempt"),
		zap.String("invoice_id", a.InvoiceID),
		zap.String("to", string(a.To)),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	inv, err := transitionInvoice(ctx, tx, a.InvoiceID, a.From, a.To, a.PaidAt)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) && inv != nil {
			log.Info("invoice already moved on", zap.String("current", string(inv.Status)))
		}
		return inv, nil, err
	}

	txn := a.Transaction
	existing, err := findPaymentTransaction(ctx, tx, txn.InvoiceID, txn.GatewayPaymentID)
	if err != nil && !errors.Is(err, ErrTransactionNotFound) {
		return nil, nil, err
	}
	if existing != nil && a.To == StatusFailed && existing.Status != TransactionPending {
		_ = tx.Rollback()
		log.Info("payment already settled", zap.String("transaction_id", existing.ID))
		return r.duplicate(ctx, a.InvoiceID, existing)
	}

	settled := existing != nil
	if settled {
		err = settleTransaction(ctx, tx, existing, txn)
	} else {
		err = insertTransaction(ctx, tx, txn)
	}
	if err == nil {
		err = tx.Commit()
		if uerr := uniqueErr(err); uerr != nil {
			err = uerr
		} else if err != nil {
			return nil, nil, fmt.Errorf("commit attempt: %w", err)
		}
	}

	switch {
	case errors.Is(err, ErrDuplicateAttempt) && a.To == StatusFailed:
		_ = tx.Rollback()
		current, ferr := r.FindTransactionByPayment(ctx, a.InvoiceID, txn.GatewayPaymentID)
		if ferr != nil {
			return nil, nil, ferr
		}
		return r.duplicate(ctx, a.InvoiceID, current)
	case errors.Is(err, ErrDuplicateAttempt), errors.Is(err, ErrStatusConflict):
		_ = tx.Rollback()
		return r.conflict(ctx, a.InvoiceID)
	case err != nil:
		return nil, nil, err
	}

	log.Info("attempt recorded", zap.String("transaction_id", txn.ID), zap.Bool("settled_existing", settled))
	return inv, txn, nil
}

// settleTransaction moves the stored transaction for the same gateway
// payment to its final state. txn takes over the stored id.
func settleTransaction(ctx context.Context, q querier, existing, txn *Transaction) error {
	resp, err := json.Marshal(txn.GatewayResponse)
	if err != nil {
		return fmt.Errorf("encode gateway response: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, gateway_response = $2, payment_method = $3, updated_at = $4
		WHERE id = $5
	`, txn.Status, resp, txn.PaymentMethod, txn.UpdatedAt, existing.ID)
	if uerr := uniqueErr(err); uerr != nil {
		return uerr
	}
	if err != nil {
		return fmt.Errorf("settle transaction: %w", err)
	}

	txn.ID = existing.ID
	txn.CreatedAt = existing.CreatedAt
	return nil
}

// uniqueErr maps unique violations on the transaction indexes to sentinels.
func uniqueErr(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	if pqErr.Constraint == settledPaymentIndex {
		return ErrDuplicateAttempt
	}
	return ErrStatusConflict
}

// duplicate reports the invoice and the transaction that already settled the payment.
func (r *repository) duplicate(ctx context.Context, invoiceID string, existing *Transaction) (*Invoice, *Transaction, error) {
	current, err := r.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	return current, existing, ErrDuplicateAttempt
}

// conflict reports the invoice as it stands after a concurrent writer won.
func (r *repository) conflict(ctx context.Context, invoiceID string) (*Invoice, *Transaction, error) {
	current, err := r.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	return current, nil, ErrStatusConflict
}
