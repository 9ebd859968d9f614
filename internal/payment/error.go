package payment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("invoice not found")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("invoice already paid")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnauthenticated  = errors.New("unauthenticated")
	// ErrDataQuality marks webhook payloads that can never be processed.
	// They are logged and acknowledged so the gateway stops redelivering.
	ErrDataQuality = errors.New("webhook data quality issue")
)

// GatewayError is returned by Gateway implementations. Transient errors
// (timeouts, network failures, 5xx) leave the payment outcome unknown.
type GatewayError struct {
	Code       string
	Message    string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("razorpay error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("razorpay error (%s): %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a gateway error whose outcome is unknown.
func IsTransient(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Transient
}
