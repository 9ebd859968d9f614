package invoice

import "errors"

var (
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrStatusConflict means the invoice was not in an allowed source status
	// when a conditional write ran.
	ErrStatusConflict = errors.New("invoice status conflict")
	// ErrDuplicateAttempt means the gateway payment already has a settled
	// transaction, so a repeated failure for it is not recorded again.
	ErrDuplicateAttempt = errors.New("payment already settled")
)
