package utils

import (
	"fmt"
	"time"
)

// IdempotencyKey identifies one payment attempt on an invoice. Retrying an
// attempt with the same timestamp yields the same key.
func IdempotencyKey(invoiceID string, attemptAt time.Time) string {
	return fmt.Sprintf("invoice_%s_%d", invoiceID, attemptAt.UnixMilli())
}
