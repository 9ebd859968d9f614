package payment

import "context"

// Gateway is the slice of the payment provider API the service depends on.
// Implementations return *GatewayError for provider failures.
type Gateway interface {
	CreateOrder(ctx context.Context, params OrderParams) (*OrderRef, error)
	FetchPayment(ctx context.Context, paymentID string) (*Outcome, error)
	// CapturePayment captures an authorized payment for exactly amount.
	// Capturing an already captured payment succeeds with the captured outcome.
	CapturePayment(ctx context.Context, paymentID string, amount int64, currency string) (*Outcome, error)
}
