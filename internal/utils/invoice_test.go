package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	t.Run("Format", func(t *testing.T) {
		assert.Equal(t, "invoice_inv-1_1700000000123", IdempotencyKey("inv-1", at))
	})

	t.Run("Stable for the same attempt", func(t *testing.T) {
		assert.Equal(t, IdempotencyKey("inv-1", at), IdempotencyKey("inv-1", at))
		assert.NotEqual(t, IdempotencyKey("inv-1", at), IdempotencyKey("inv-1", at.Add(time.Millisecond)))
	})
}
