package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paygate-be/internal/logger"
	"paygate-be/internal/metrics"

	"go.uber.org/zap"
)

const (
	defaultRazorpayBaseURL = "https://api.razorpay.com"
	maxReceiptLength       = 40
)

type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Timeout   time.Duration
}

type razorpayGateway struct {
	keyID      string
	keySecret  string
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// ----------------- Constructor -----------------

func NewRazorpayGateway(cfg RazorpayConfig, m *metrics.Metrics) Gateway {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		logger.L().Warn("Razorpay credentials are empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRazorpayBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &razorpayGateway{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		metrics: m,
	}
}

// ----------------- CreateOrder -----------------

func (g *razorpayGateway) CreateOrder(ctx context.Context, params OrderParams) (*OrderRef, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("invoice_id", params.InvoiceID),
		zap.Int64("amount", params.Amount),
		zap.String("currency", params.Currency),
	)

	receipt := "receipt_" + params.InvoiceID
	if len(receipt) > maxReceiptLength {
		receipt = receipt[:maxReceiptLength]
	}

	body := map[string]any{
		"amount":   params.Amount,
		"currency": params.Currency,
		"receipt":  receipt,
		"notes": map[string]string{
			"invoiceId":      params.InvoiceID,
			"userId":         params.UserID,
			"description":    params.Description,
			"idempotencyKey": params.IdempotencyKey,
		},
	}

	headers := map[string]string{}
	if params.IdempotencyKey != "" {
		headers["Idempotency-Key"] = params.IdempotencyKey
	}

	raw, err := g.do(ctx, "create_order", http.MethodPost, "/v1/orders", body, headers)
	if err != nil {
		log.Error("Razorpay order creation failed", zap.Error(err))
		return nil, err
	}

	var order razorpayOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		log.Error("Failed decoding Razorpay order", zap.Error(err))
		return nil, &GatewayError{Code: "DECODE_ERROR", Message: err.Error(), Err: err}
	}

	created := time.Now().UTC()
	if order.CreatedAt > 0 {
		created = time.Unix(order.CreatedAt, 0).UTC()
	}

	log.Info("Razorpay order created", zap.String("order_id", order.ID))

	return &OrderRef{
		OrderID:        order.ID,
		InvoiceID:      params.InvoiceID,
		Amount:         order.Amount,
		Currency:       strings.ToUpper(order.Currency),
		Receipt:        order.Receipt,
		KeyID:          g.keyID,
		IdempotencyKey: params.IdempotencyKey,
		CreatedAt:      created,
	}, nil
}

// ----------------- FetchPayment -----------------

func (g *razorpayGateway) FetchPayment(ctx context.Context, paymentID string) (*Outcome, error) {
	log := logger.FromCtx(ctx).With(zap.String("payment_id", paymentID))

	raw, err := g.do(ctx, "fetch_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, nil)
	if err != nil {
		log.Warn("Razorpay payment fetch failed", zap.Error(err))
		return nil, err
	}

	out, err := ParsePaymentEntity(raw)
	if err != nil {
		log.Error("Failed decoding Razorpay payment", zap.Error(err))
		return nil, &GatewayError{Code: "DECODE_ERROR", Message: err.Error(), Transient: true, Err: err}
	}
	return out, nil
}

// ----------------- CapturePayment -----------------

func (g *razorpayGateway) CapturePayment(
	ctx context.Context,
	paymentID string,
	amount int64,
	currency string,
) (*Outcome, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("payment_id", paymentID),
		zap.Int64("amount", amount),
	)

	body := map[string]any{
		"amount":   amount,
		"currency": currency,
	}

	raw, err := g.do(ctx, "capture_payment", http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/capture", body, nil)
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && isAlreadyCaptured(gwErr) {
			log.Info("Payment already captured, refetching")
			return g.FetchPayment(ctx, paymentID)
		}
		log.Error("Razorpay capture failed", zap.Error(err))
		return nil, err
	}

	out, err := ParsePaymentEntity(raw)
	if err != nil {
		// The capture may have gone through, so the payment state is unknown.
		log.Error("Failed decoding Razorpay capture", zap.Error(err))
		return nil, &GatewayError{Code: "DECODE_ERROR", Message: err.Error(), Transient: true, Err: err}
	}

	log.Info("Payment captured", zap.String("state", string(out.State)))
	return out, nil
}

func isAlreadyCaptured(err *GatewayError) bool {
	return err.StatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(err.Message), "already been captured")
}

// ----------------- Transport -----------------

func (g *razorpayGateway) do(
	ctx context.Context,
	operation string,
	method string,
	path string,
	body any,
	headers map[string]string,
) ([]byte, error) {
	timer := metrics.StartTimer()
	defer g.metrics.ObserveGateway(operation, timer)

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, &GatewayError{Code: "ENCODE_ERROR", Message: err.Error(), Err: err}
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, &GatewayError{Code: "REQUEST_ERROR", Message: err.Error(), Err: err}
	}

	req.SetBasicAuth(g.keyID, g.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Code: "NETWORK_ERROR", Message: err.Error(), Transient: true, Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{
			Code:       "READ_ERROR",
			Message:    fmt.Sprintf("failed to read razorpay response: %v", err),
			StatusCode: resp.StatusCode,
			Transient:  true,
			Err:        err,
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return bodyBytes, nil
	}

	gwErr := &GatewayError{
		Code:       "HTTP_ERROR",
		Message:    string(bodyBytes),
		StatusCode: resp.StatusCode,
		Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}

	var errBody razorpayErrorBody
	if json.Unmarshal(bodyBytes, &errBody) == nil && errBody.Error.Code != "" {
		gwErr.Code = errBody.Error.Code
		gwErr.Message = errBody.Error.Description
	}
	return nil, gwErr
}
