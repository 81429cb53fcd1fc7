// Package gateway adapts the supported payment providers to one contract
// and routes each organization's payments to its configured provider.
package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
)

// Adapter defines the per-provider payment contract
type Adapter interface {
	// Provider returns the provider this adapter serves
	Provider() domain.Provider

	// RequiredCredentials lists credential keys that must be non-empty
	RequiredCredentials() []string

	// Initiate prepares a checkout for the browser
	Initiate(ctx context.Context, cfg *domain.GatewayConfig, order *Order) (*InitiateResult, error)

	// Verify authenticates a provider callback and reports its outcome.
	// A declined payment is Success=false with a nil error.
	Verify(ctx context.Context, cfg *domain.GatewayConfig, cb *Callback) (*VerifyResult, error)

	// OrderID locates this provider's order id in an unverified callback.
	// It returns "" when the callback does not look like this provider's.
	OrderID(cb *Callback) string
}

// Method tells the client how to hand off to the provider
type Method string

const (
	MethodRedirect Method = "redirect"
	MethodInline   Method = "inline"
	MethodForm     Method = "form"
)

// Customer is the payer shown on provider checkout pages
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Order is a checkout request for one pending transaction
type Order struct {
	TransactionID  string
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	BillingCycle   domain.BillingCycle
	OrganizationID string
	PlanID         string
	PlanName       string
	Customer       Customer

	// SuccessURL and FailureURL are this service's callback endpoints
	SuccessURL string
	FailureURL string

	// ReturnURL and CancelURL are browser landing pages for hosted checkouts
	ReturnURL string
	CancelURL string
}

// InitiateResult is what the client needs to start the checkout
type InitiateResult struct {
	OrderID    string
	PaymentURL string
	PaymentKey string
	FormData   map[string]string
	Method     Method
}

// Callback is a raw, untrusted provider callback. Form holds the body
// fields only; callback URL parameters stay in Query and never enter a
// signed field set.
type Callback struct {
	Form   url.Values
	Query  url.Values
	Body   []byte
	Header http.Header
}

// VerifyResult is the authenticated outcome of a callback.
// BillingCycle and OrganizationID are the values claimed by the callback
// and only serve cross-checks against the stored transaction.
type VerifyResult struct {
	Success           bool
	Pending           bool
	OrderID           string
	ProviderPaymentID string
	Amount            decimal.Decimal
	BillingCycle      domain.BillingCycle
	OrganizationID    string
	Status            string
	Raw               map[string]any
}

func formValue(cb *Callback, key string) string {
	if cb == nil || cb.Form == nil {
		return ""
	}
	return cb.Form.Get(key)
}

// locateValue reads key from the body, then the callback URL. Only for
// finding an order id; verification reads Form alone.
func locateValue(cb *Callback, key string) string {
	if v := formValue(cb, key); v != "" {
		return v
	}
	if cb == nil || cb.Query == nil {
		return ""
	}
	return cb.Query.Get(key)
}

func headerValue(cb *Callback, key string) string {
	if cb == nil || cb.Header == nil {
		return ""
	}
	return cb.Header.Get(key)
}

// formMap flattens the first value of each form key
func formMap(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func rawMap(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// parseClaimedAmount maps an unparsable amount to an amount mismatch
func parseClaimedAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.VerificationFailure(domain.ReasonAmountMismatch, "callback amount is not a number", err)
	}
	return amount, nil
}

func signatureMismatch(provider domain.Provider) error {
	return domain.VerificationFailure(domain.ReasonVerificationFailed, string(provider)+" signature mismatch", nil)
}
