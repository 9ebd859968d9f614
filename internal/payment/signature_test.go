package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"event":"payment.captured","payload":{}}`)
	sig := Sign(body, secret)

	t.Run("Valid", func(t *testing.T) {
		assert.True(t, Verify(body, sig, secret))
	})

	t.Run("Upper case hex", func(t *testing.T) {
		upper := []byte(sig)
		for i, c := range upper {
			if c >= 'a' && c <= 'f' {
				upper[i] = c - 32
			}
		}
		assert.True(t, Verify(body, string(upper), secret))
	})

	t.Run("Tampered body", func(t *testing.T) {
		tampered := []byte(`{"event":"payment.captured","payload":{"x":1}}`)
		assert.False(t, Verify(tampered, sig, secret))
	})

	t.Run("Reformatted body", func(t *testing.T) {
		assert.False(t, Verify([]byte(`{"event": "payment.captured", "payload": {}}`), sig, secret))
	})

	t.Run("Wrong secret", func(t *testing.T) {
		assert.False(t, Verify(body, sig, "other"))
	})

	t.Run("Malformed signatures", func(t *testing.T) {
		assert.False(t, Verify(body, "", secret))
		assert.False(t, Verify(body, "not-hex", secret))
		assert.False(t, Verify(body, sig[:10], secret))
		assert.False(t, Verify(body, sig, ""))
	})
}

func TestVerifyPaymentSignature(t *testing.T) {
	secret := "key_secret"
	sig := Sign([]byte("order_1|pay_1"), secret)

	assert.True(t, VerifyPaymentSignature("order_1", "pay_1", sig, secret))
	assert.False(t, VerifyPaymentSignature("order_2", "pay_1", sig, secret))
	assert.False(t, VerifyPaymentSignature("", "pay_1", sig, secret))
}
