package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
)

const (
	stripeSecretKey     = "secret_key"
	stripeWebhookSecret = "webhook_secret"

	stripeSignatureHeader = "Stripe-Signature"

	eventCheckoutCompleted           = "checkout.session.completed"
	eventCheckoutAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"
	eventCheckoutAsyncPaymentFailed  = "checkout.session.async_payment_failed"
	eventCheckoutExpired             = "checkout.session.expired"
)

// StripeAdapter redirects to a hosted Checkout Session and completes the
// transaction from the signed checkout.session.* webhook.
type StripeAdapter struct {
	backends *stripe.Backends
}

// NewStripeAdapter uses the default Stripe backends when backends is nil
func NewStripeAdapter(backends *stripe.Backends) *StripeAdapter {
	return &StripeAdapter{backends: backends}
}

func (a *StripeAdapter) Provider() domain.Provider { return domain.ProviderStripe }

func (a *StripeAdapter) RequiredCredentials() []string {
	return []string{stripeSecretKey, stripeWebhookSecret}
}

func (a *StripeAdapter) Initiate(ctx context.Context, cfg *domain.GatewayConfig, order *Order) (*InitiateResult, error) {
	// per-organization keys, so no global stripe.Key
	sc := client.New(cfg.Credential(stripeSecretKey), a.backends)

	metadata := map[string]string{
		"organization_id": order.OrganizationID,
		"billing_cycle":   string(order.BillingCycle),
		"plan_id":         order.PlanID,
		"transaction_id":  order.TransactionID,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(order.OrderID),
		SuccessURL:        stripe.String(order.ReturnURL),
		CancelURL:         stripe.String(order.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(order.Currency)),
					UnitAmount: stripe.Int64(toMinorUnits(order.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(order.PlanName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if order.Customer.Email != "" {
		params.CustomerEmail = stripe.String(order.Customer.Email)
	}
	params.Context = ctx

	session, err := sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	return &InitiateResult{
		OrderID:    order.OrderID,
		PaymentURL: session.URL,
		Method:     MethodRedirect,
		FormData:   map[string]string{"session_id": session.ID},
	}, nil
}

func (a *StripeAdapter) Verify(_ context.Context, cfg *domain.GatewayConfig, cb *Callback) (*VerifyResult, error) {
	header := ""
	if cb.Header != nil {
		header = cb.Header.Get(stripeSignatureHeader)
	}

	event, err := webhook.ConstructEventWithOptions(cb.Body, header, cfg.Credential(stripeWebhookSecret), webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, domain.VerificationFailure(domain.ReasonVerificationFailed, "stripe webhook signature mismatch", err)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, domain.VerificationFailure(domain.ReasonVerificationFailed, "stripe event is not a checkout session", err)
	}

	raw := map[string]any{}
	_ = json.Unmarshal(cb.Body, &raw)

	result := &VerifyResult{
		OrderID:           session.ClientReferenceID,
		ProviderPaymentID: session.ID,
		Amount:            decimal.New(session.AmountTotal, -2),
		OrganizationID:    session.Metadata["organization_id"],
		BillingCycle:      domain.BillingCycle(session.Metadata["billing_cycle"]),
		Status:            string(session.PaymentStatus),
		Raw:               raw,
	}
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		result.ProviderPaymentID = session.PaymentIntent.ID
	}

	paid := session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	switch string(event.Type) {
	case eventCheckoutCompleted, eventCheckoutAsyncPaymentSuccess:
		result.Success = paid
		// delayed payment methods complete later via async_payment_succeeded
		result.Pending = !paid
	case eventCheckoutAsyncPaymentFailed, eventCheckoutExpired:
		result.Success = false
	default:
		result.Pending = true
	}
	return result, nil
}

func (a *StripeAdapter) OrderID(cb *Callback) string {
	if cb == nil || cb.Header == nil || cb.Header.Get(stripeSignatureHeader) == "" || len(cb.Body) == 0 {
		return ""
	}
	var envelope struct {
		Data struct {
			Object struct {
				ClientReferenceID string `json:"client_reference_id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(cb.Body, &envelope); err != nil {
		return ""
	}
	return envelope.Data.Object.ClientReferenceID
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusUnauthorized {
		return domain.ConfigurationError("PROVIDER_REJECTED_CREDENTIALS", "stripe rejected the secret key", err)
	}
	return domain.TransientError("PROVIDER_UNAVAILABLE", "stripe checkout session request failed", err)
}
