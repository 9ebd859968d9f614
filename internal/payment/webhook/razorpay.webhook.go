package webhook

import (
	"errors"
	"io"
	"net/http"

	"paygate-be/internal/logger"
	"paygate-be/internal/payment"
	"paygate-be/internal/utils"

	"go.uber.org/zap"
)

const (
	SignatureHeader = "X-Razorpay-Signature"
	EventIDHeader   = "X-Razorpay-Event-Id"

	maxBodyBytes = 1 << 20
)

// Handler receives Razorpay webhook deliveries. The body is passed through
// untouched because the signature covers the exact bytes.
type Handler struct {
	PaymentSvc payment.Service
}

func NewWebhookHandler(paymentSvc payment.Service) *Handler {
	return &Handler{PaymentSvc: paymentSvc}
}

func (h *Handler) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context()).With(
		zap.String("layer", "webhook"),
		zap.String("provider", payment.ProviderRazorpay),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("failed to read webhook body", zap.Error(err))
		utils.WriteJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	err = h.PaymentSvc.HandleWebhook(r.Context(), payment.WebhookDelivery{
		Body:      body,
		Signature: r.Header.Get(SignatureHeader),
		EventID:   r.Header.Get(EventIDHeader),
	})
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		utils.WriteJSONError(w, "invalid signature", http.StatusBadRequest)
		return
	case err != nil:
		log.Error("webhook processing failed", zap.Error(err))
		utils.WriteJSONError(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
