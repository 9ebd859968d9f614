package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"paygate-be/internal/invoice"
	"paygate-be/internal/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	confirmationSubject  = "Payment Confirmation"
	confirmationTemplate = "payment-confirmation"
)

type Notifier interface {
	NotifyPaymentConfirmed(ctx context.Context, recipient string, inv *invoice.Invoice, txn *invoice.Transaction) error
}

type EmailRequest struct {
	Recipient string           `json:"recipient"`
	Subject   string           `json:"subject"`
	Template  string           `json:"template"`
	Data      ConfirmationData `json:"data"`
}

type ConfirmationData struct {
	InvoiceID     string `json:"invoiceId"`
	Amount        int64  `json:"amount"`
	DisplayAmount string `json:"displayAmount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transactionId"`
	PaymentMethod string `json:"paymentMethod"`
	Date          string `json:"date"`
}

// minorUnitExponent lists ISO 4217 currencies whose minor unit is not 1/100.
var minorUnitExponent = map[string]int32{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0, "UGX": 0,
	"BHD": 3, "KWD": 3, "OMR": 3, "JOD": 3, "TND": 3,
}

// FormatAmount renders minor units in major units, e.g. 50000 INR -> "500.00".
func FormatAmount(amount int64, currency string) string {
	exp, ok := minorUnitExponent[strings.ToUpper(currency)]
	if !ok {
		exp = 2
	}
	return decimal.New(amount, -exp).StringFixed(exp)
}

func buildRequest(recipient string, inv *invoice.Invoice, txn *invoice.Transaction, now time.Time) EmailRequest {
	return EmailRequest{
		Recipient: recipient,
		Subject:   confirmationSubject,
		Template:  confirmationTemplate,
		Data: ConfirmationData{
			InvoiceID:     inv.ID,
			Amount:        inv.Amount,
			DisplayAmount: FormatAmount(inv.Amount, inv.Currency) + " " + inv.Currency,
			Currency:      inv.Currency,
			TransactionID: txn.ID,
			PaymentMethod: txn.PaymentMethod,
			Date:          now.Format("2006-01-02"),
		},
	}
}

type httpNotifier struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPNotifier posts confirmation requests to the email service.
func NewHTTPNotifier(baseURL string, timeout time.Duration) Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpNotifier{
		endpoint: strings.TrimRight(baseURL, "/") + "/v1/emails/payment-confirmation",
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (n *httpNotifier) NotifyPaymentConfirmed(
	ctx context.Context,
	recipient string,
	inv *invoice.Invoice,
	txn *invoice.Transaction,
) error {
	log := logger.FromCtx(ctx).With(
		zap.String("invoice_id", inv.ID),
		zap.String("transaction_id", txn.ID),
	)

	body, err := json.Marshal(buildRequest(recipient, inv, txn, time.Now()))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if reqID := logger.RequestIDFrom(ctx); reqID != "" {
		req.Header.Set(logger.RequestIDHeader, reqID)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Error("Email service request failed", zap.Error(err))
		return fmt.Errorf("email service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Error("Email service returned error",
			zap.Int("http_status", resp.StatusCode),
			zap.ByteString("response", respBody),
		)
		return fmt.Errorf("email service error: %d %s", resp.StatusCode, string(respBody))
	}

	log.Info("Payment confirmation sent")
	return nil
}

type logNotifier struct{}

// NewLogNotifier logs confirmations instead of sending them.
func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) NotifyPaymentConfirmed(
	ctx context.Context,
	recipient string,
	inv *invoice.Invoice,
	txn *invoice.Transaction,
) error {
	req := buildRequest(recipient, inv, txn, time.Now())
	logger.FromCtx(ctx).Info("payment confirmation",
		zap.String("recipient", req.Recipient),
		zap.String("invoice_id", req.Data.InvoiceID),
		zap.String("transaction_id", req.Data.TransactionID),
		zap.String("amount", req.Data.DisplayAmount),
	)
	return nil
}
