package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"paygate-be/internal/logger"
	"paygate-be/internal/payment"
	"paygate-be/internal/utils"

	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type Handler struct {
	PaymentSvc payment.Service
}

func NewHandler(paymentSvc payment.Service) *Handler {
	return &Handler{PaymentSvc: paymentSvc}
}

// Register mounts the user-facing routes. Every route requires an
// authenticated user.
func (h *Handler) Register(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.Handle("POST /invoices", requireAuth(http.HandlerFunc(h.CreateInvoice)))
	mux.Handle("GET /invoices", requireAuth(http.HandlerFunc(h.ListInvoices)))
	mux.Handle("GET /transactions", requireAuth(http.HandlerFunc(h.ListTransactions)))
	mux.Handle("POST /invoices/{id}/orders", requireAuth(http.HandlerFunc(h.CreateOrder)))
	mux.Handle("POST /payments", requireAuth(http.HandlerFunc(h.ConfirmPayment)))
}

type createInvoiceRequest struct {
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Description *string `json:"description"`
}

type createOrderRequest struct {
	AttemptTimestamp *int64 `json:"attemptTimestamp"`
}

type confirmPaymentRequest struct {
	InvoiceID        string `json:"invoiceId"`
	PaymentMethod    string `json:"paymentMethod"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	GatewaySignature string `json:"gatewaySignature"`
}

// decode reads a JSON body. An empty body is allowed when optional is set.
func decode(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeError maps service errors to HTTP responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var gwErr *payment.GatewayError

	switch {
	case errors.Is(err, payment.ErrUnauthenticated):
		utils.WriteJSONError(w, "unauthenticated", http.StatusUnauthorized)
	case errors.Is(err, payment.ErrNotFound):
		utils.WriteJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, payment.ErrForbidden):
		utils.WriteJSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, payment.ErrConflict):
		utils.WriteJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrInvalidRequest),
		errors.Is(err, payment.ErrInvalidSignature):
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &gwErr):
		logger.FromCtx(r.Context()).Warn("gateway error", zap.Error(err))
		code := http.StatusBadGateway
		if gwErr.Transient {
			code = http.StatusServiceUnavailable
		}
		utils.WriteJSONError(w, "payment gateway error", code)
	default:
		logger.FromCtx(r.Context()).Error("request failed", zap.Error(err))
		utils.WriteJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	userID, _ := utils.GetUserIDFromContext(r.Context())

	var req createInvoiceRequest
	if err := decode(r, &req, false); err != nil {
		utils.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	inv, err := h.PaymentSvc.CreateInvoice(r.Context(), userID, payment.CreateInvoiceInput{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, inv)
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	userID, _ := utils.GetUserIDFromContext(r.Context())

	invoices, err := h.PaymentSvc.GetUserInvoices(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, invoices)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _ := utils.GetUserIDFromContext(r.Context())

	txns, err := h.PaymentSvc.GetUserTransactions(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, txns)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := utils.GetUserIDFromContext(r.Context())

	var req createOrderRequest
	if err := decode(r, &req, true); err != nil {
		utils.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	orderReq := payment.OrderRequest{InvoiceID: r.PathValue("id")}
	if req.AttemptTimestamp != nil {
		orderReq.AttemptAt = time.UnixMilli(*req.AttemptTimestamp).UTC()
	}

	ref, err := h.PaymentSvc.CreateOrder(r.Context(), userID, orderReq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, ref)
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	userID, _ := utils.GetUserIDFromContext(r.Context())

	var req confirmPaymentRequest
	if err := decode(r, &req, false); err != nil {
		utils.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.PaymentSvc.ConfirmPayment(r.Context(), userID, payment.ConfirmRequest{
		InvoiceID:        req.InvoiceID,
		PaymentMethod:    req.PaymentMethod,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		GatewaySignature: req.GatewaySignature,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch {
	case res.Success:
		utils.WriteJSON(w, http.StatusOK, res)
	case res.Pending:
		utils.WriteJSON(w, http.StatusAccepted, res)
	default:
		utils.WriteJSON(w, http.StatusBadRequest, res)
	}
}
