package payment

import (
	"encoding/json"
	"strings"
	"time"
)

// razorpayPayment is the payment entity as returned by the REST API and
// embedded in webhook payloads.
type razorpayPayment struct {
	ID               string          `json:"id"`
	Entity           string          `json:"entity"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	OrderID          string          `json:"order_id"`
	Method           string          `json:"method"`
	Captured         bool            `json:"captured"`
	Email            string          `json:"email"`
	Notes            json.RawMessage `json:"notes"`
	ErrorCode        string          `json:"error_code"`
	ErrorDescription string          `json:"error_description"`
	CreatedAt        int64           `json:"created_at"`
}

type razorpayOrder struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type razorpayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

// webhookEnvelope is the outer shape of every Razorpay webhook.
type webhookEnvelope struct {
	Entity    string   `json:"entity"`
	AccountID string   `json:"account_id"`
	Event     string   `json:"event"`
	Contains  []string `json:"contains"`
	Payload   struct {
		Payment struct {
			Entity json.RawMessage `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// notes is an object when set and an empty array otherwise.
func decodeNotes(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 || raw[0] != '{' {
		return out
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return out
	}
	for k, v := range generic {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func mapState(status string) State {
	switch strings.ToLower(status) {
	case "created":
		return StateCreated
	case "authorized":
		return StateAuthorized
	case "captured":
		return StateCaptured
	case "failed":
		return StateFailed
	default:
		return StateUnknown
	}
}

func (p razorpayPayment) outcome(raw []byte) *Outcome {
	processed := time.Now().UTC()
	if p.CreatedAt > 0 {
		processed = time.Unix(p.CreatedAt, 0).UTC()
	}
	return &Outcome{
		PaymentID:        p.ID,
		OrderID:          p.OrderID,
		State:            mapState(p.Status),
		Method:           p.Method,
		Amount:           p.Amount,
		Currency:         strings.ToUpper(p.Currency),
		Email:            p.Email,
		InvoiceID:        decodeNotes(p.Notes)["invoiceId"],
		ErrorCode:        p.ErrorCode,
		ErrorDescription: p.ErrorDescription,
		ProcessedAt:      processed,
		Raw:              json.RawMessage(raw),
	}
}

// ParsePaymentEntity normalizes a raw payment entity.
func ParsePaymentEntity(raw []byte) (*Outcome, error) {
	var p razorpayPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p.outcome(raw), nil
}
