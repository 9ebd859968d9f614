package payment

import (
	"context"
	"database/sql"
	"fmt"
)

const ProviderRazorpay = "RAZORPAY"

// WebhookRepository is the delivery ledger for gateway webhooks.
type WebhookRepository interface {
	// SaveWebhook records a delivery. Redeliveries of an event already marked
	// processed report alreadyProcessed so the caller can acknowledge them
	// without side effects.
	SaveWebhook(ctx context.Context, rec WebhookRecord) (webhookID int64, alreadyProcessed bool, err error)
	MarkWebhookProcessed(ctx context.Context, webhookID int64) error
	MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) WebhookRepository {
	return &repository{db: db}
}

func (r *repository) SaveWebhook(ctx context.Context, rec WebhookRecord) (int64, bool, error) {
	const q = `
	INSERT INTO payment_webhooks (
		provider,
		event_id,
		event_type,
		external_id,
		signature_valid,
		payload
	)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (provider, event_id)
	DO UPDATE SET attempts = payment_webhooks.attempts + 1, last_received_at = now()
	RETURNING id, processed_at IS NOT NULL;
	`

	var (
		id        int64
		processed bool
	)
	err := r.db.QueryRowContext(
		ctx,
		q,
		rec.Provider,
		rec.EventID,
		rec.EventType,
		rec.PaymentID,
		rec.SignatureValid,
		[]byte(rec.Payload),
	).Scan(&id, &processed)
	if err != nil {
		return 0, false, fmt.Errorf("save webhook: %w", err)
	}

	return id, processed, nil
}

func (r *repository) MarkWebhookProcessed(ctx context.Context, webhookID int64) error {
	const q = `
	UPDATE payment_webhooks
	SET processed_at = now(), process_error = NULL
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID)
	return err
}

func (r *repository) MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error {
	const q = `
	UPDATE payment_webhooks
	SET process_error = $2
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID, reason)
	return err
}
