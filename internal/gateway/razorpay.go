package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/internal/signature"
)

const (
	RazorpayBaseURL = "https://api.razorpay.com"

	razorpayKeyID     = "key_id"
	razorpayKeySecret = "key_secret"
	// optional; webhooks fall back to key_secret when unset
	razorpayWebhookSecret = "webhook_secret"

	razorpaySignatureHeader = "X-Razorpay-Signature"

	razorpayEventOrderPaid       = "order.paid"
	razorpayEventPaymentCaptured = "payment.captured"
	razorpayEventPaymentFailed   = "payment.failed"

	razorpayOrderPaid = "paid"
)

// RazorpayAdapter creates orders through the Orders API and verifies both
// the checkout signature posted to the callback URL and server-to-server
// webhooks signed over the raw body.
type RazorpayAdapter struct {
	client *resty.Client
}

func NewRazorpayAdapter(baseURL string, timeout time.Duration) *RazorpayAdapter {
	if baseURL == "" {
		baseURL = RazorpayBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &RazorpayAdapter{client: client}
}

func (a *RazorpayAdapter) Provider() domain.Provider { return domain.ProviderRazorpay }

func (a *RazorpayAdapter) RequiredCredentials() []string {
	return []string{razorpayKeyID, razorpayKeySecret}
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID       string          `json:"id"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
	Status   string          `json:"status"`
	Notes    json.RawMessage `json:"notes"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// notes is an object when populated and [] when empty
func (o *razorpayOrder) notes() map[string]string {
	out := map[string]string{}
	_ = json.Unmarshal(o.Notes, &out)
	return out
}

func (a *RazorpayAdapter) Initiate(ctx context.Context, cfg *domain.GatewayConfig, order *Order) (*InitiateResult, error) {
	keyID := cfg.Credential(razorpayKeyID)

	req := razorpayOrderRequest{
		Amount:   toMinorUnits(order.Amount),
		Currency: order.Currency,
		Receipt:  order.OrderID,
		Notes: map[string]string{
			"organization_id": order.OrganizationID,
			"billing_cycle":   string(order.BillingCycle),
			"plan_id":         order.PlanID,
			"transaction_id":  order.TransactionID,
		},
	}

	var created razorpayOrder
	var apiErr razorpayError
	resp, err := a.client.R().
		SetContext(ctx).
		SetBasicAuth(keyID, cfg.Credential(razorpayKeySecret)).
		SetBody(req).
		SetResult(&created).
		SetError(&apiErr).
		Post("/v1/orders")
	if err != nil {
		return nil, domain.TransientError("PROVIDER_UNAVAILABLE", "razorpay order request failed", err)
	}
	if resp.IsError() {
		return nil, a.classify(resp.StatusCode(), apiErr)
	}
	if created.ID == "" {
		return nil, domain.TransientError("PROVIDER_BAD_RESPONSE", "razorpay returned no order id", nil)
	}

	return &InitiateResult{
		OrderID:    created.ID,
		PaymentKey: keyID,
		Method:     MethodInline,
		FormData: map[string]string{
			"key":             keyID,
			"order_id":        created.ID,
			"amount":          strconv.FormatInt(created.Amount, 10),
			"currency":        order.Currency,
			"name":            order.PlanName,
			"description":     fmt.Sprintf("%s (%s)", order.PlanName, order.BillingCycle),
			"callback_url":    order.SuccessURL,
			"cancel_url":      order.FailureURL,
			"prefill.name":    order.Customer.Name,
			"prefill.email":   order.Customer.Email,
			"prefill.contact": order.Customer.Phone,
		},
	}, nil
}

// razorpayEvent is the subset of a webhook delivery we read
type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

func (e *razorpayEvent) orderID() string {
	if id := e.Payload.Payment.Entity.OrderID; id != "" {
		return id
	}
	return e.Payload.Order.Entity.ID
}

func (a *RazorpayAdapter) Verify(ctx context.Context, cfg *domain.GatewayConfig, cb *Callback) (*VerifyResult, error) {
	if sig := headerValue(cb, razorpaySignatureHeader); sig != "" {
		return a.verifyWebhook(ctx, cfg, cb, sig)
	}

	orderID := formValue(cb, "razorpay_order_id")
	paymentID := formValue(cb, "razorpay_payment_id")
	sig := formValue(cb, "razorpay_signature")

	// Failed checkouts post error[...] fields without a signature
	if code := formValue(cb, "error[code]"); code != "" && sig == "" {
		return &VerifyResult{
			Success: false,
			OrderID: a.OrderID(cb),
			Status:  "failed",
			Raw:     rawMap(formMap(cb.Form)),
		}, nil
	}

	if !signature.VerifyRazorpay(cfg.Credential(razorpayKeySecret), orderID, paymentID, sig) {
		return nil, signatureMismatch(domain.ProviderRazorpay)
	}

	// Amount, cycle and organization come from the order we created
	fetched, err := a.fetchOrder(ctx, cfg, orderID)
	if err != nil {
		return nil, err
	}

	raw := rawMap(formMap(cb.Form))
	raw["order_status"] = fetched.Status
	raw["order_amount"] = fetched.Amount

	result := fetched.result(true, paymentID, raw)
	result.OrderID = orderID
	return result, nil
}

// verifyWebhook authenticates the raw body against X-Razorpay-Signature.
// Paid events still re-read the order so amount and notes come from the
// order we created, not the event.
func (a *RazorpayAdapter) verifyWebhook(ctx context.Context, cfg *domain.GatewayConfig, cb *Callback, sig string) (*VerifyResult, error) {
	secret := cfg.Credential(razorpayWebhookSecret)
	if secret == "" {
		secret = cfg.Credential(razorpayKeySecret)
	}
	if !signature.VerifyRazorpayWebhook(secret, cb.Body, sig) {
		return nil, signatureMismatch(domain.ProviderRazorpay)
	}

	var event razorpayEvent
	if err := json.Unmarshal(cb.Body, &event); err != nil {
		return nil, domain.VerificationFailure(domain.ReasonVerificationFailed, "razorpay webhook is not an event", err)
	}
	orderID := event.orderID()
	if orderID == "" {
		return nil, domain.VerificationFailure(domain.ReasonVerificationFailed, "razorpay webhook carries no order id", nil)
	}

	raw := map[string]any{}
	_ = json.Unmarshal(cb.Body, &raw)
	payment := event.Payload.Payment.Entity

	switch event.Event {
	case razorpayEventOrderPaid, razorpayEventPaymentCaptured:
		fetched, err := a.fetchOrder(ctx, cfg, orderID)
		if err != nil {
			return nil, err
		}
		result := fetched.result(fetched.Status == razorpayOrderPaid, payment.ID, raw)
		result.OrderID = orderID
		result.Pending = !result.Success
		return result, nil
	case razorpayEventPaymentFailed:
		return &VerifyResult{
			OrderID:           orderID,
			ProviderPaymentID: payment.ID,
			Status:            payment.Status,
			Raw:               raw,
		}, nil
	default:
		// payment.authorized and anything newer settle on a later event
		return &VerifyResult{
			Pending:           true,
			OrderID:           orderID,
			ProviderPaymentID: payment.ID,
			Status:            event.Event,
			Raw:               raw,
		}, nil
	}
}

// result maps a fetched order onto a verify result; amount, cycle and
// organization come from the order notes set at Initiate
func (o *razorpayOrder) result(success bool, paymentID string, raw map[string]any) *VerifyResult {
	notes := o.notes()
	return &VerifyResult{
		Success:           success,
		OrderID:           o.ID,
		ProviderPaymentID: paymentID,
		Amount:            decimal.New(o.Amount, -2),
		BillingCycle:      domain.BillingCycle(notes["billing_cycle"]),
		OrganizationID:    notes["organization_id"],
		Status:            o.Status,
		Raw:               raw,
	}
}

func (a *RazorpayAdapter) OrderID(cb *Callback) string {
	if headerValue(cb, razorpaySignatureHeader) != "" {
		var event razorpayEvent
		if json.Unmarshal(cb.Body, &event) != nil {
			return ""
		}
		return event.orderID()
	}
	if id := locateValue(cb, "razorpay_order_id"); id != "" {
		return id
	}
	// error[metadata] = {"order_id": "...", "payment_id": "..."}
	if meta := formValue(cb, "error[metadata]"); meta != "" {
		var m struct {
			OrderID string `json:"order_id"`
		}
		if json.Unmarshal([]byte(meta), &m) == nil {
			return m.OrderID
		}
	}
	return ""
}

func (a *RazorpayAdapter) fetchOrder(ctx context.Context, cfg *domain.GatewayConfig, orderID string) (*razorpayOrder, error) {
	var fetched razorpayOrder
	var apiErr razorpayError
	resp, err := a.client.R().
		SetContext(ctx).
		SetBasicAuth(cfg.Credential(razorpayKeyID), cfg.Credential(razorpayKeySecret)).
		SetPathParam("id", orderID).
		SetResult(&fetched).
		SetError(&apiErr).
		Get("/v1/orders/{id}")
	if err != nil {
		return nil, domain.TransientError("PROVIDER_UNAVAILABLE", "razorpay order lookup failed", err)
	}
	if resp.IsError() {
		return nil, a.classify(resp.StatusCode(), apiErr)
	}
	return &fetched, nil
}

func (a *RazorpayAdapter) classify(status int, apiErr razorpayError) error {
	msg := fmt.Sprintf("razorpay responded %d: %s", status, apiErr.Error.Description)
	if status == http.StatusUnauthorized {
		return domain.ConfigurationError("PROVIDER_REJECTED_CREDENTIALS", msg, nil)
	}
	return domain.TransientError("PROVIDER_ERROR", msg, nil)
}

// toMinorUnits converts a two-decimal amount to paise or cents
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
