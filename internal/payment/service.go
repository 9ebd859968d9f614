package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"paygate-be/internal/events"
	"paygate-be/internal/invoice"
	"paygate-be/internal/logger"
	"paygate-be/internal/metrics"
	"paygate-be/internal/notification"
	"paygate-be/internal/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentFailed     = "payment.failed"

	sideEffectTimeout = 10 * time.Second
)

type Service interface {
	CreateInvoice(ctx context.Context, userID string, in CreateInvoiceInput) (*invoice.Invoice, error)
	CreateOrder(ctx context.Context, userID string, req OrderRequest) (*OrderRef, error)
	ConfirmPayment(ctx context.Context, userID string, req ConfirmRequest) (*ConfirmResult, error)
	HandleWebhook(ctx context.Context, d WebhookDelivery) error
	GetUserInvoices(ctx context.Context, userID string) ([]*invoice.Invoice, error)
	GetUserTransactions(ctx context.Context, userID string) ([]*invoice.Transaction, error)
}

type Options struct {
	KeySecret       string
	WebhookSecret   string
	DefaultCurrency string
	Topic           string
	GatewayTimeout  time.Duration
}

type Deps struct {
	Invoices  invoice.Repository
	Webhooks  WebhookRepository
	Gateway   Gateway
	Publisher events.Publisher
	Notifier  notification.Notifier
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Options   Options

	Now   func() time.Time
	NewID func() string
}

type service struct {
	invoices  invoice.Repository
	webhooks  WebhookRepository
	gateway   Gateway
	publisher events.Publisher
	notifier  notification.Notifier
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	opts      Options
	now       func() time.Time
	newID     func() string
}

func NewService(d Deps) Service {
	s := &service{
		invoices:  d.Invoices,
		webhooks:  d.Webhooks,
		gateway:   d.Gateway,
		publisher: d.Publisher,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		tracer:    d.Tracer,
		opts:      d.Options,
		now:       d.Now,
		newID:     d.NewID,
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("paygate-be/payment")
	}
	if s.publisher == nil {
		s.publisher = events.NewLogPublisher()
	}
	if s.notifier == nil {
		s.notifier = notification.NewLogNotifier()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	if s.opts.DefaultCurrency == "" {
		s.opts.DefaultCurrency = "INR"
	}
	if s.opts.Topic == "" {
		s.opts.Topic = "payment-events"
	}
	if s.opts.GatewayTimeout <= 0 {
		s.opts.GatewayTimeout = 15 * time.Second
	}
	return s
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// resolution is a payment outcome normalized for applyOutcome.
type resolution struct {
	Success   bool
	Source    invoice.Source
	Outcome   *Outcome
	PaymentID string
	OrderID   string
	Method    string
	ErrorCode string
	Reason    string
	Recipient string
}

func (r resolution) gatewayResponse(now time.Time) invoice.GatewayResponse {
	resp := invoice.GatewayResponse{
		Source:      r.Source,
		Success:     r.Success,
		PaymentID:   r.PaymentID,
		OrderID:     r.OrderID,
		Method:      r.Method,
		ProcessedAt: now,
		ErrorCode:   r.ErrorCode,
		ErrorReason: r.Reason,
	}
	if r.Outcome != nil {
		resp.State = string(r.Outcome.State)
		resp.Raw = r.Outcome.Raw
	}
	return resp
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

// ----------------- Invoices -----------------

func (s *service) CreateInvoice(ctx context.Context, userID string, in CreateInvoiceInput) (*invoice.Invoice, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CreateInvoice"),
		zap.String("user_id", userID),
	)

	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if in.Description == nil {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidRequest)
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	if !validCurrency(currency) {
		return nil, fmt.Errorf("%w: currency must be a 3-letter ISO code", ErrInvalidRequest)
	}

	inv := &invoice.Invoice{
		ID:          s.newID(),
		UserID:      userID,
		Amount:      in.Amount,
		Currency:    currency,
		Status:      invoice.StatusPending,
		Description: *in.Description,
		CreatedAt:   s.now(),
	}

	if err := s.invoices.CreateInvoice(ctx, inv); err != nil {
		log.Error("failed to create invoice", zap.Error(err))
		return nil, err
	}

	log.Info("invoice created", zap.String("invoice_id", inv.ID), zap.Int64("amount", inv.Amount))
	s.publish(ctx, events.InvoiceCreated(inv))
	return inv, nil
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (s *service) GetUserInvoices(ctx context.Context, userID string) ([]*invoice.Invoice, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	return s.invoices.ListInvoicesByUser(ctx, userID)
}

func (s *service) GetUserTransactions(ctx context.Context, userID string) ([]*invoice.Transaction, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	return s.invoices.ListTransactionsByUser(ctx, userID)
}

// loadOwned returns the invoice if userID owns it.
func (s *service) loadOwned(ctx context.Context, userID, invoiceID string) (*invoice.Invoice, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if invoiceID == "" {
		return nil, fmt.Errorf("%w: invoiceId is required", ErrInvalidRequest)
	}

	inv, err := s.invoices.FindInvoiceByID(ctx, invoiceID)
	if errors.Is(err, invoice.ErrInvoiceNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if inv.UserID != userID {
		return nil, ErrForbidden
	}
	return inv, nil
}

// ----------------- Orders -----------------

func (s *service) CreateOrder(ctx context.Context, userID string, req OrderRequest) (_ *OrderRef, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.CreateOrder",
		trace.WithAttributes(attribute.String("invoice.id", req.InvoiceID)))
	defer func() { endSpan(span, err) }()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CreateOrder"),
		zap.String("invoice_id", req.InvoiceID),
	)

	inv, err := s.loadOwned(ctx, userID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == invoice.StatusPaid {
		return nil, ErrConflict
	}

	attemptAt := req.AttemptAt
	if attemptAt.IsZero() {
		attemptAt = s.now()
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	ref, err := s.gateway.CreateOrder(gctx, OrderParams{
		InvoiceID:      inv.ID,
		UserID:         inv.UserID,
		Amount:         inv.Amount,
		Currency:       inv.Currency,
		Description:    inv.Description,
		IdempotencyKey: utils.IdempotencyKey(inv.ID, attemptAt),
	})
	if err != nil {
		log.Error("gateway order creation failed", zap.Error(err))
		return nil, err
	}

	log.Info("gateway order created", zap.String("order_id", ref.OrderID))
	return ref, nil
}

// ----------------- Direct confirmation -----------------

func (s *service) ConfirmPayment(ctx context.Context, userID string, req ConfirmRequest) (_ *ConfirmResult, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.ConfirmPayment", trace.WithAttributes(
		attribute.String("invoice.id", req.InvoiceID),
		attribute.String("gateway.payment_id", req.GatewayPaymentID),
	))
	defer func() { endSpan(span, err) }()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ConfirmPayment"),
		zap.String("invoice_id", req.InvoiceID),
		zap.String("payment_id", req.GatewayPaymentID),
	)

	inv, err := s.loadOwned(ctx, userID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.GatewaySignature == "" {
		return nil, fmt.Errorf("%w: gateway order id, payment id and signature are required", ErrInvalidRequest)
	}
	if inv.Status == invoice.StatusPaid {
		return nil, ErrConflict
	}

	if !VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.GatewaySignature, s.opts.KeySecret) {
		log.Warn("payment signature mismatch")
		s.metrics.Outcome(string(invoice.SourceDirect), "invalid_signature")
		return &ConfirmResult{Success: false, Invoice: inv, Reason: "invalid payment signature"}, nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	out, err := s.gateway.FetchPayment(gctx, req.GatewayPaymentID)
	if err != nil {
		return s.gatewayFailure(ctx, inv, req, nil, err)
	}

	if out.OrderID != req.GatewayOrderID {
		log.Warn("payment belongs to another order", zap.String("payment_order_id", out.OrderID))
		s.metrics.Outcome(string(invoice.SourceDirect), "declined")
		return &ConfirmResult{Success: false, Invoice: inv, Reason: "payment does not belong to this order"}, nil
	}

	if out.State == StateAuthorized {
		captured, err := s.gateway.CapturePayment(gctx, out.PaymentID, inv.Amount, inv.Currency)
		if err != nil {
			return s.gatewayFailure(ctx, inv, req, out, err)
		}
		out = captured
	}

	res := resolution{
		Source:    invoice.SourceDirect,
		Outcome:   out,
		PaymentID: req.GatewayPaymentID,
		OrderID:   req.GatewayOrderID,
		Method:    resolveMethod(out.Method, req.PaymentMethod),
		Recipient: utils.GetUserEmailFromContext(ctx),
	}
	if res.Recipient == "" {
		res.Recipient = out.Email
	}

	switch {
	case out.State != StateCaptured:
		res.ErrorCode = out.ErrorCode
		res.Reason = failureReason(out)
	case out.Amount != inv.Amount || !strings.EqualFold(out.Currency, inv.Currency):
		log.Warn("captured amount does not match invoice",
			zap.Int64("captured", out.Amount), zap.String("currency", out.Currency))
		res.ErrorCode = "AMOUNT_MISMATCH"
		res.Reason = "captured amount does not match invoice"
	default:
		res.Success = true
	}

	return s.applyOutcome(ctx, inv, res)
}

func failureReason(out *Outcome) string {
	if out.ErrorDescription != "" {
		return out.ErrorDescription
	}
	return fmt.Sprintf("payment is %s", out.State)
}

// gatewayFailure handles an adapter error on the direct path. Transient
// errors leave the invoice untouched and park a pending transaction.
func (s *service) gatewayFailure(
	ctx context.Context,
	inv *invoice.Invoice,
	req ConfirmRequest,
	prior *Outcome,
	gwErr error,
) (*ConfirmResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "gatewayFailure"),
		zap.String("invoice_id", inv.ID),
		zap.String("payment_id", req.GatewayPaymentID),
	)

	var typed *GatewayError
	if !errors.As(gwErr, &typed) {
		typed = &GatewayError{Code: "UNKNOWN", Message: gwErr.Error(), Transient: true, Err: gwErr}
	}

	method := NormalizeMethod(req.PaymentMethod)
	if prior != nil {
		method = resolveMethod(prior.Method, req.PaymentMethod)
	}

	if !typed.Transient {
		log.Warn("gateway declined payment", zap.Error(gwErr))
		return s.applyOutcome(ctx, inv, resolution{
			Source:    invoice.SourceDirect,
			Outcome:   prior,
			PaymentID: req.GatewayPaymentID,
			OrderID:   req.GatewayOrderID,
			Method:    method,
			ErrorCode: typed.Code,
			Reason:    typed.Message,
		})
	}

	log.Warn("gateway unavailable, recording pending attempt", zap.Error(gwErr))
	s.metrics.Outcome(string(invoice.SourceDirect), "pending")

	existing, err := s.invoices.FindTransactionByPayment(ctx, inv.ID, req.GatewayPaymentID)
	if err == nil {
		return &ConfirmResult{Pending: true, Invoice: inv, Transaction: existing, Reason: "payment status unknown, awaiting gateway"}, nil
	}
	if !errors.Is(err, invoice.ErrTransactionNotFound) {
		return nil, err
	}

	now := s.now()
	res := resolution{
		Source:    invoice.SourceDirect,
		Outcome:   prior,
		PaymentID: req.GatewayPaymentID,
		OrderID:   req.GatewayOrderID,
		Method:    method,
		ErrorCode: typed.Code,
		Reason:    typed.Message,
	}
	txn := &invoice.Transaction{
		ID:               s.newID(),
		InvoiceID:        inv.ID,
		UserID:           inv.UserID,
		Amount:           inv.Amount,
		Currency:         inv.Currency,
		PaymentMethod:    method,
		Status:           invoice.TransactionPending,
		GatewayPaymentID: req.GatewayPaymentID,
		GatewayResponse:  res.gatewayResponse(now),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.invoices.CreateTransaction(ctx, txn); err != nil {
		log.Error("failed to record pending transaction", zap.Error(err))
		return nil, err
	}

	return &ConfirmResult{Pending: true, Invoice: inv, Transaction: txn, Reason: "payment status unknown, awaiting gateway"}, nil
}

// ----------------- Outcome application -----------------

// applyOutcome writes the outcome atomically and then fires side effects.
// Duplicate outcomes for an invoice that is already paid write nothing.
func (s *service) applyOutcome(ctx context.Context, inv *invoice.Invoice, res resolution) (*ConfirmResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "applyOutcome"),
		zap.String("invoice_id", inv.ID),
		zap.String("source", string(res.Source)),
		zap.Bool("success", res.Success),
	)

	now := s.now()
	txn := &invoice.Transaction{
		ID:               s.newID(),
		InvoiceID:        inv.ID,
		UserID:           inv.UserID,
		Amount:           inv.Amount,
		Currency:         inv.Currency,
		PaymentMethod:    res.Method,
		Status:           invoice.TransactionFailed,
		GatewayPaymentID: res.PaymentID,
		GatewayResponse:  res.gatewayResponse(now),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	attempt := invoice.Attempt{
		InvoiceID:   inv.ID,
		From:        []invoice.Status{invoice.StatusPending, invoice.StatusFailed},
		To:          invoice.StatusFailed,
		Transaction: txn,
	}
	if res.Success {
		txn.Status = invoice.TransactionCompleted
		attempt.To = invoice.StatusPaid
		attempt.PaidAt = &now
	}

	updated, saved, err := s.invoices.RecordAttempt(ctx, attempt)
	switch {
	case errors.Is(err, invoice.ErrStatusConflict):
		return s.alreadySettled(ctx, updated, res, txn)
	case errors.Is(err, invoice.ErrDuplicateAttempt):
		return s.failureRecorded(ctx, updated, saved, res)
	case errors.Is(err, invoice.ErrInvoiceNotFound):
		return nil, ErrNotFound
	case err != nil:
		log.Error("failed to record payment attempt", zap.Error(err))
		return nil, fmt.Errorf("record payment attempt: %w", err)
	}

	s.metrics.Outcome(string(res.Source), resultLabel(res.Success))
	log.Info("payment outcome recorded",
		zap.String("transaction_id", saved.ID),
		zap.String("invoice_status", string(updated.Status)),
	)

	if !res.Success {
		s.publish(ctx, events.PaymentFailed(updated, saved, res.Reason))
		return &ConfirmResult{Success: false, Invoice: updated, Transaction: saved, Reason: res.Reason}, nil
	}

	s.publish(ctx, events.PaymentSucceeded(updated, saved))
	s.notify(ctx, res.Recipient, updated, saved)
	return &ConfirmResult{Success: true, Invoice: updated, Transaction: saved}, nil
}

// alreadySettled handles a conditional write that found the invoice paid.
func (s *service) alreadySettled(
	ctx context.Context,
	current *invoice.Invoice,
	res resolution,
	attempted *invoice.Transaction,
) (*ConfirmResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "alreadySettled"),
		zap.String("invoice_id", attempted.InvoiceID),
		zap.String("payment_id", res.PaymentID),
	)

	if res.Success {
		_, existing, err := s.settledCapture(ctx, attempted.InvoiceID, res)
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Success: true, Invoice: current, Transaction: existing}, nil
	}

	s.metrics.Outcome(string(res.Source), "ignored_after_paid")

	// A pending record for this payment can still be settled.
	if res.PaymentID != "" {
		pending, err := s.invoices.FindTransactionByPayment(ctx, attempted.InvoiceID, res.PaymentID)
		switch {
		case err == nil && pending.Status == invoice.TransactionPending:
			if err := s.invoices.UpdateTransactionStatus(ctx, pending.ID, invoice.TransactionFailed, attempted.GatewayResponse); err != nil {
				return nil, fmt.Errorf("resolve pending transaction: %w", err)
			}
			log.Info("pending transaction resolved as failed", zap.String("transaction_id", pending.ID))
		case err != nil && !errors.Is(err, invoice.ErrTransactionNotFound):
			return nil, err
		}
	}

	log.Info("failure outcome ignored for paid invoice")
	return &ConfirmResult{Success: false, Invoice: current, Reason: "invoice already paid"}, nil
}

// settledCapture classifies a success outcome for an invoice that is already
// paid. A different gateway payment means the payer was charged twice.
func (s *service) settledCapture(ctx context.Context, invoiceID string, res resolution) (string, *invoice.Transaction, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("invoice_id", invoiceID),
		zap.String("payment_id", res.PaymentID),
		zap.String("source", string(res.Source)),
	)

	existing, err := s.invoices.FindCompletedTransaction(ctx, invoiceID)
	if err != nil {
		return "", nil, fmt.Errorf("load completed transaction: %w", err)
	}
	if existing.GatewayPaymentID != res.PaymentID {
		log.Error("second payment captured for a paid invoice",
			zap.String("completed_payment_id", existing.GatewayPaymentID))
		s.metrics.Outcome(string(res.Source), "double_payment")
		return "double_payment", existing, nil
	}

	log.Info("duplicate success outcome ignored")
	s.metrics.Outcome(string(res.Source), "duplicate")
	return "duplicate", existing, nil
}

// failureRecorded handles a failure for a gateway payment whose outcome is
// already stored. Nothing is written or published.
func (s *service) failureRecorded(
	ctx context.Context,
	current *invoice.Invoice,
	existing *invoice.Transaction,
	res resolution,
) (*ConfirmResult, error) {
	logger.FromCtx(ctx).Info("failure already recorded for payment",
		zap.String("invoice_id", current.ID),
		zap.String("payment_id", res.PaymentID),
		zap.String("transaction_id", existing.ID),
		zap.String("source", string(res.Source)),
	)
	s.metrics.Outcome(string(res.Source), "duplicate")

	reason := existing.GatewayResponse.ErrorReason
	if reason == "" {
		reason = res.Reason
	}
	return &ConfirmResult{Success: false, Invoice: current, Transaction: existing, Reason: reason}, nil
}

// ----------------- Side effects -----------------

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

func (s *service) publish(ctx context.Context, evt events.Event) {
	ctx, cancel := detached(ctx)
	defer cancel()

	if err := s.publisher.Publish(ctx, s.opts.Topic, evt); err != nil {
		logger.FromCtx(ctx).Error("event publish failed",
			zap.String("event_type", evt.Type),
			zap.String("key", evt.Key),
			zap.Error(err),
		)
		s.metrics.SideEffectFailed("publish")
	}
}

func (s *service) notify(ctx context.Context, recipient string, inv *invoice.Invoice, txn *invoice.Transaction) {
	log := logger.FromCtx(ctx).With(zap.String("invoice_id", inv.ID))
	if recipient == "" {
		log.Warn("no recipient for payment confirmation")
		return
	}

	ctx, cancel := detached(ctx)
	defer cancel()

	if err := s.notifier.NotifyPaymentConfirmed(ctx, recipient, inv, txn); err != nil {
		log.Error("payment confirmation failed", zap.Error(err))
		s.metrics.SideEffectFailed("notify")
	}
}

// ----------------- Webhooks -----------------

func (s *service) HandleWebhook(ctx context.Context, d WebhookDelivery) (err error) {
	ctx, span := s.tracer.Start(ctx, "payment.HandleWebhook")
	defer func() { endSpan(span, err) }()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "HandleWebhook"),
	)

	if !Verify(d.Body, d.Signature, s.opts.WebhookSecret) {
		log.Warn("webhook signature mismatch")
		s.metrics.Webhook("unknown", "invalid_signature")
		return ErrInvalidSignature
	}

	var env webhookEnvelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.Warn("malformed webhook payload", zap.Error(err))
		s.metrics.Webhook("unknown", "malformed")
		return nil
	}

	var out *Outcome
	if len(env.Payload.Payment.Entity) > 0 {
		out, err = ParsePaymentEntity(env.Payload.Payment.Entity)
		if err != nil {
			log.Warn("malformed payment entity", zap.Error(err))
			out = nil
		}
	}

	eventID := d.EventID
	if eventID == "" {
		sum := sha256.Sum256(d.Body)
		eventID = "sha256:" + hex.EncodeToString(sum[:])
	}

	rec := WebhookRecord{
		Provider:       ProviderRazorpay,
		EventID:        eventID,
		EventType:      env.Event,
		Payload:        json.RawMessage(d.Body),
		SignatureValid: true,
	}
	if out != nil {
		rec.PaymentID = out.PaymentID
	}

	span.SetAttributes(
		attribute.String("webhook.event", env.Event),
		attribute.String("webhook.event_id", eventID),
	)
	log = log.With(zap.String("event", env.Event), zap.String("event_id", eventID))

	webhookID, processed, err := s.webhooks.SaveWebhook(ctx, rec)
	if err != nil {
		log.Error("failed to record webhook delivery", zap.Error(err))
		s.metrics.Webhook(env.Event, "error")
		return err
	}
	if processed {
		log.Info("webhook already processed")
		s.metrics.Webhook(env.Event, "redelivered")
		return nil
	}

	result, err := s.dispatchWebhook(ctx, env.Event, out)
	switch {
	case err == nil:
		if markErr := s.webhooks.MarkWebhookProcessed(ctx, webhookID); markErr != nil {
			log.Error("failed to mark webhook processed", zap.Error(markErr))
		}
		s.metrics.Webhook(env.Event, result)
		return nil
	case errors.Is(err, ErrDataQuality):
		log.Error("webhook rejected", zap.Error(err))
		if markErr := s.webhooks.MarkWebhookFailed(ctx, webhookID, err.Error()); markErr != nil {
			log.Error("failed to mark webhook failed", zap.Error(markErr))
		}
		s.metrics.Webhook(env.Event, "data_quality")
		return nil
	default:
		log.Error("webhook processing failed", zap.Error(err))
		if markErr := s.webhooks.MarkWebhookFailed(ctx, webhookID, err.Error()); markErr != nil {
			log.Error("failed to mark webhook failed", zap.Error(markErr))
		}
		s.metrics.Webhook(env.Event, "error")
		return err
	}
}

// dispatchWebhook returns a short result label for metrics.
func (s *service) dispatchWebhook(ctx context.Context, event string, out *Outcome) (string, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "dispatchWebhook"),
		zap.String("event", event),
	)

	switch event {
	case EventPaymentCaptured, EventPaymentAuthorized, EventPaymentFailed:
	default:
		log.Info("ignoring unhandled webhook event")
		return "ignored", nil
	}

	if out == nil || out.PaymentID == "" {
		return "", fmt.Errorf("%w: payload has no payment entity", ErrDataQuality)
	}
	if out.InvoiceID == "" {
		return "", fmt.Errorf("%w: payment %s has no invoiceId note", ErrDataQuality, out.PaymentID)
	}

	inv, err := s.invoices.FindInvoiceByID(ctx, out.InvoiceID)
	if errors.Is(err, invoice.ErrInvoiceNotFound) {
		return "", fmt.Errorf("%w: invoice %s not found", ErrDataQuality, out.InvoiceID)
	}
	if err != nil {
		return "", err
	}

	switch event {
	case EventPaymentCaptured:
		return s.onCaptured(ctx, inv, out)
	case EventPaymentAuthorized:
		return s.onAuthorized(ctx, inv, out)
	default:
		return s.onFailed(ctx, inv, out)
	}
}

func (s *service) onCaptured(ctx context.Context, inv *invoice.Invoice, out *Outcome) (string, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("invoice_id", inv.ID),
		zap.String("payment_id", out.PaymentID),
	)

	res := resolution{
		Success:   true,
		Source:    invoice.SourceWebhookCapture,
		Outcome:   out,
		PaymentID: out.PaymentID,
		OrderID:   out.OrderID,
		Method:    NormalizeMethod(out.Method),
		Recipient: out.Email,
	}

	if inv.Status == invoice.StatusPaid {
		log.Info("invoice already paid")
		label, _, err := s.settledCapture(ctx, inv.ID, res)
		return label, err
	}
	if out.Amount != inv.Amount || !strings.EqualFold(out.Currency, inv.Currency) {
		return "", fmt.Errorf("%w: captured %d %s for invoice of %d %s",
			ErrDataQuality, out.Amount, out.Currency, inv.Amount, inv.Currency)
	}

	if _, err := s.applyOutcome(ctx, inv, res); err != nil {
		return "", err
	}
	return "success", nil
}

func (s *service) onAuthorized(ctx context.Context, inv *invoice.Invoice, out *Outcome) (string, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("invoice_id", inv.ID),
		zap.String("payment_id", out.PaymentID),
	)

	if inv.Status == invoice.StatusPaid {
		log.Info("invoice already paid, not capturing authorization")
		return "skipped", nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	captured, err := s.gateway.CapturePayment(gctx, out.PaymentID, inv.Amount, inv.Currency)
	if err == nil {
		log.Info("authorization captured, awaiting payment.captured", zap.String("state", string(captured.State)))
		return "captured", nil
	}
	if IsTransient(err) {
		return "", fmt.Errorf("capture payment %s: %w", out.PaymentID, err)
	}

	code, reason := "CAPTURE_FAILED", err.Error()
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		code, reason = gwErr.Code, gwErr.Message
	}

	log.Warn("capture declined", zap.Error(err))
	if _, err := s.applyOutcome(ctx, inv, resolution{
		Source:    invoice.SourceWebhookAuthorizationCapture,
		Outcome:   out,
		PaymentID: out.PaymentID,
		OrderID:   out.OrderID,
		Method:    NormalizeMethod(out.Method),
		ErrorCode: code,
		Reason:    reason,
	}); err != nil {
		return "", err
	}
	return "failed", nil
}

func (s *service) onFailed(ctx context.Context, inv *invoice.Invoice, out *Outcome) (string, error) {
	if _, err := s.applyOutcome(ctx, inv, resolution{
		Source:    invoice.SourceWebhookFailure,
		Outcome:   out,
		PaymentID: out.PaymentID,
		OrderID:   out.OrderID,
		Method:    NormalizeMethod(out.Method),
		ErrorCode: out.ErrorCode,
		Reason:    failureReason(out),
	}); err != nil {
		return "", err
	}
	return "failed", nil
}
