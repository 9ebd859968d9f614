package payment

import "strings"

// Methods reported by Razorpay on a payment entity.
const (
	MethodCard       = "card"
	MethodUPI        = "upi"
	MethodNetbanking = "netbanking"
	MethodWallet     = "wallet"
	MethodEMI        = "emi"
	MethodBank       = "bank_transfer"
	MethodUnknown    = "unknown"
)

var methodAliases = map[string]string{
	"card":          MethodCard,
	"credit_card":   MethodCard,
	"debit_card":    MethodCard,
	"upi":           MethodUPI,
	"netbanking":    MethodNetbanking,
	"net_banking":   MethodNetbanking,
	"wallet":        MethodWallet,
	"emi":           MethodEMI,
	"cardless_emi":  MethodEMI,
	"bank_transfer": MethodBank,
	"nach":          MethodBank,
}

// NormalizeMethod maps gateway or client supplied method names to the
// stored vocabulary.
func NormalizeMethod(method string) string {
	key := strings.ToLower(strings.TrimSpace(method))
	if m, ok := methodAliases[key]; ok {
		return m
	}
	if key == "" {
		return MethodUnknown
	}
	return key
}

// resolveMethod prefers what the gateway observed over what the client sent.
func resolveMethod(gatewayMethod, clientMethod string) string {
	if gatewayMethod != "" {
		return NormalizeMethod(gatewayMethod)
	}
	return NormalizeMethod(clientMethod)
}
