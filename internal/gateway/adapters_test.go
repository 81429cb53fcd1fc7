package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/internal/signature"
)

func testOrder() *Order {
	return &Order{
		TransactionID:  "txn-1",
		OrderID:        "SUB123",
		Amount:         decimal.RequireFromString("999.00"),
		Currency:       "INR",
		BillingCycle:   domain.BillingCycleMonthly,
		OrganizationID: "org-1",
		PlanID:         "plan-1",
		PlanName:       "Pro",
		Customer:       Customer{Name: "Asha", Email: "asha@example.com", Phone: "9999999999"},
		SuccessURL:     "https://api.example.com/subscription-payments/callback/success",
		FailureURL:     "https://api.example.com/subscription-payments/callback/failure",
		ReturnURL:      "https://app.example.com/billing/success",
		CancelURL:      "https://app.example.com/billing/failure",
	}
}

func payuConfig() *domain.GatewayConfig {
	return &domain.GatewayConfig{
		OrganizationID: "org-1",
		Provider:       domain.ProviderPayUMoney,
		Credentials:    map[string]string{"merchant_key": "gtKFFx", "merchant_salt": "eCwWELxi"},
		Mode:           domain.ModeTest,
		IsActive:       true,
	}
}

// payuCallback simulates what PayU posts back for a checkout form
func payuCallback(form map[string]string, status string) url.Values {
	fields := signature.PayUFields{
		TxnID:       form["txnid"],
		Amount:      form["amount"],
		ProductInfo: form["productinfo"],
		FirstName:   form["firstname"],
		Email:       form["email"],
		UDF:         [5]string{form["udf1"], form["udf2"], form["udf3"]},
	}
	return url.Values{
		"mihpayid":    {"403993715521937565"},
		"status":      {status},
		"txnid":       {fields.TxnID},
		"amount":      {fields.Amount},
		"productinfo": {fields.ProductInfo},
		"firstname":   {fields.FirstName},
		"email":       {fields.Email},
		"udf1":        {fields.UDF[0]},
		"udf2":        {fields.UDF[1]},
		"udf3":        {fields.UDF[2]},
		"hash":        {signature.PayUResponseHash("gtKFFx", "eCwWELxi", status, "", fields)},
	}
}

func TestPayUAdapter_RoundTrip(t *testing.T) {
	adapter := NewPayUAdapter()
	cfg := payuConfig()

	res, err := adapter.Initiate(context.Background(), cfg, testOrder())
	require.NoError(t, err)
	assert.Equal(t, MethodForm, res.Method)
	assert.Equal(t, PayUTestURL, res.PaymentURL)
	assert.Equal(t, "999.00", res.FormData["amount"])
	assert.Equal(t, "org-1", res.FormData["udf1"])
	assert.Equal(t, "monthly", res.FormData["udf2"])

	fields := signature.PayUFields{TxnID: "SUB123", Amount: "999.00", ProductInfo: "Pro", FirstName: "Asha", Email: "asha@example.com", UDF: [5]string{"org-1", "monthly", "plan-1"}}
	assert.Equal(t, signature.PayURequestHash("gtKFFx", "eCwWELxi", fields), res.FormData["hash"])

	cb := &Callback{Form: payuCallback(res.FormData, "success")}
	assert.Equal(t, "SUB123", adapter.OrderID(cb))

	result, err := adapter.Verify(context.Background(), cfg, cb)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "SUB123", result.OrderID)
	assert.Equal(t, "403993715521937565", result.ProviderPaymentID)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("999")))
	assert.Equal(t, domain.BillingCycleMonthly, result.BillingCycle)
	assert.Equal(t, "org-1", result.OrganizationID)
}

func TestPayUAdapter_Verify(t *testing.T) {
	adapter := NewPayUAdapter()
	cfg := payuConfig()
	res, err := adapter.Initiate(context.Background(), cfg, testOrder())
	require.NoError(t, err)

	t.Run("declined is not an error", func(t *testing.T) {
		result, err := adapter.Verify(context.Background(), cfg, &Callback{Form: payuCallback(res.FormData, "failure")})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "failure", result.Status)
	})

	t.Run("tampered amount", func(t *testing.T) {
		form := payuCallback(res.FormData, "success")
		form.Set("amount", "9.00")
		_, err := adapter.Verify(context.Background(), cfg, &Callback{Form: form})
		assert.Equal(t, domain.ReasonVerificationFailed, domain.ReasonOf(err))
	})

	t.Run("forward hash echoed back", func(t *testing.T) {
		form := payuCallback(res.FormData, "success")
		form.Set("hash", res.FormData["hash"])
		_, err := adapter.Verify(context.Background(), cfg, &Callback{Form: form})
		assert.True(t, domain.IsKind(err, domain.KindVerification))
	})
}

func TestPaytmAdapter_RoundTrip(t *testing.T) {
	adapter := NewPaytmAdapter()
	cfg := &domain.GatewayConfig{
		Provider:    domain.ProviderPaytm,
		Credentials: map[string]string{"merchant_id": "MID123", "merchant_key": "abcdEFGH12345678"},
		IsActive:    true,
	}

	res, err := adapter.Initiate(context.Background(), cfg, testOrder())
	require.NoError(t, err)
	assert.Equal(t, "org-1|monthly", res.FormData["MERC_UNQ_REF"])
	assert.True(t, signature.VerifyPaytmChecksum("abcdEFGH12345678", res.FormData, res.FormData["CHECKSUMHASH"]))

	posted := map[string]string{
		"MID":          "MID123",
		"ORDERID":      "SUB123",
		"TXNID":        "20260101111212800110168",
		"TXNAMOUNT":    "999.00",
		"STATUS":       "TXN_SUCCESS",
		"RESPCODE":     "01",
		"MERC_UNQ_REF": "org-1|monthly",
	}
	checksum, err := signature.PaytmChecksum("abcdEFGH12345678", posted)
	require.NoError(t, err)

	form := url.Values{"CHECKSUMHASH": {checksum}}
	for k, v := range posted {
		form.Set(k, v)
	}
	cb := &Callback{Form: form}
	assert.Equal(t, "SUB123", adapter.OrderID(cb))

	result, err := adapter.Verify(context.Background(), cfg, cb)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "org-1", result.OrganizationID)
	assert.Equal(t, domain.BillingCycleMonthly, result.BillingCycle)
	assert.NotContains(t, result.Raw, "CHECKSUMHASH")

	form.Set("STATUS", "TXN_FAILURE")
	_, err = adapter.Verify(context.Background(), cfg, &Callback{Form: form})
	assert.True(t, domain.IsKind(err, domain.KindVerification))
}

func TestPaytmAdapter_CallbackURLParamsAreNotSigned(t *testing.T) {
	adapter := NewPaytmAdapter()
	cfg := &domain.GatewayConfig{
		Provider:    domain.ProviderPaytm,
		Credentials: map[string]string{"merchant_id": "MID123", "merchant_key": "abcdEFGH12345678"},
	}
	posted := map[string]string{
		"MID":          "MID123",
		"ORDERID":      "SUB123",
		"TXNID":        "20260101111212800110168",
		"TXNAMOUNT":    "999.00",
		"STATUS":       "TXN_SUCCESS",
		"MERC_UNQ_REF": "org-1|monthly",
	}
	checksum, err := signature.PaytmChecksum("abcdEFGH12345678", posted)
	require.NoError(t, err)

	form := url.Values{"CHECKSUMHASH": {checksum}}
	for k, v := range posted {
		form.Set(k, v)
	}
	cb := &Callback{Form: form, Query: url.Values{"utm_source": {"email"}, "STATUS": {"TXN_FAILURE"}}}

	result, err := adapter.Verify(context.Background(), cfg, cb)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotContains(t, result.Raw, "utm_source")
}

func TestPaytmAdapter_InvalidKeyIsConfigurationError(t *testing.T) {
	cfg := &domain.GatewayConfig{
		Provider:    domain.ProviderPaytm,
		Credentials: map[string]string{"merchant_id": "MID123", "merchant_key": "short"},
	}
	_, err := NewPaytmAdapter().Initiate(context.Background(), cfg, testOrder())
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestCCAvenueAdapter_RoundTrip(t *testing.T) {
	adapter := NewCCAvenueAdapter()
	cfg := &domain.GatewayConfig{
		Provider:    domain.ProviderCCAvenue,
		Credentials: map[string]string{"merchant_id": "M1", "access_code": "AVAB00", "working_key": "ABCDEF0123456789ABCDEF0123456789"},
		Mode:        domain.ModeLive,
	}

	res, err := adapter.Initiate(context.Background(), cfg, testOrder())
	require.NoError(t, err)
	assert.Equal(t, CCAvenueLiveURL, res.PaymentURL)
	assert.Equal(t, "AVAB00", res.FormData["access_code"])

	plain, err := signature.CCAvenueDecrypt("ABCDEF0123456789ABCDEF0123456789", res.FormData["encRequest"])
	require.NoError(t, err)
	sent := signature.ParseKeyValue(plain)
	assert.Equal(t, "SUB123", sent["order_id"])
	assert.Equal(t, "999.00", sent["amount"])

	respPlain := "order_id=SUB123&tracking_id=3100012345&order_status=Success&amount=999.00&merchant_param1=org-1&merchant_param2=monthly"
	encResp, err := signature.CCAvenueEncrypt("ABCDEF0123456789ABCDEF0123456789", respPlain)
	require.NoError(t, err)

	cb := &Callback{Form: url.Values{"encResp": {encResp}, "orderNo": {"SUB123"}}}
	result, err := adapter.Verify(context.Background(), cfg, cb)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "3100012345", result.ProviderPaymentID)
	assert.Equal(t, "org-1", result.OrganizationID)

	_, err = adapter.Verify(context.Background(), cfg, &Callback{Form: url.Values{"encResp": {encResp}, "orderNo": {"SUB999"}}})
	assert.True(t, domain.IsKind(err, domain.KindVerification))

	wrongKey := &domain.GatewayConfig{Credentials: map[string]string{"working_key": "another-key"}}
	_, err = adapter.Verify(context.Background(), wrongKey, cb)
	assert.True(t, domain.IsKind(err, domain.KindVerification))
}

func newRazorpayServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "rzp_secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`))
			return
		}
		var req razorpayOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(99900), req.Amount)
		assert.Equal(t, "SUB123", req.Receipt)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_TEST1","amount":99900,"currency":"INR","receipt":"SUB123","status":"created","notes":{"organization_id":"org-1","billing_cycle":"monthly"}}`))
	})
	mux.HandleFunc("GET /v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"` + r.PathValue("id") + `","amount":99900,"currency":"INR","status":"paid","notes":{"organization_id":"org-1","billing_cycle":"monthly"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRazorpayAdapter_RoundTrip(t *testing.T) {
	srv := newRazorpayServer(t)
	adapter := NewRazorpayAdapter(srv.URL, 2*time.Second)
	cfg := &domain.GatewayConfig{
		Provider:    domain.ProviderRazorpay,
		Credentials: map[string]string{"key_id": "rzp_test_key", "key_secret": "rzp_secret"},
	}

	res, err := adapter.Initiate(context.Background(), cfg, testOrder())
	require.NoError(t, err)
	assert.Equal(t, "order_TEST1", res.OrderID)
	assert.Equal(t, MethodInline, res.Method)
	assert.Equal(t, "rzp_test_key", res.PaymentKey)

	form := url.Values{
		"razorpay_order_id":   {"order_TEST1"},
		"razorpay_payment_id": {"pay_TEST1"},
		"razorpay_signature":  {signature.RazorpaySignature("rzp_secret", "order_TEST1", "pay_TEST1")},
	}
	result, err := adapter.Verify(context.Background(), cfg, &Callback{Form: form})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "pay_TEST1", result.ProviderPaymentID)
	assert.Equal(t, "999.00", result.Amount.StringFixed(2))
	assert.Equal(t, domain.BillingCycleMonthly, result.BillingCycle)

	form.Set("razorpay_payment_id", "pay_OTHER")
	_, err = adapter.Verify(context.Background(), cfg, &Callback{Form: form})
	assert.Equal(t, domain.ReasonVerificationFailed, domain.ReasonOf(err))
}

func TestRazorpayAdapter_InitiateErrors(t *testing.T) {
	srv := newRazorpayServer(t)
	badKey := &domain.GatewayConfig{Credentials: map[string]string{"key_id": "rzp_test_key", "key_secret": "wrong"}}

	_, err := NewRazorpayAdapter(srv.URL, time.Second).Initiate(context.Background(), badKey, testOrder())
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	_, err = NewRazorpayAdapter(down.URL, time.Second).Initiate(context.Background(), badKey, testOrder())
	assert.True(t, domain.IsKind(err, domain.KindTransient))

	unreachable := NewRazorpayAdapter("http://127.0.0.1:1", 200*time.Millisecond)
	_, err = unreachable.Initiate(context.Background(), badKey, testOrder())
	assert.True(t, domain.IsKind(err, domain.KindTransient))
}

func TestRazorpayAdapter_FailedCheckout(t *testing.T) {
	adapter := NewRazorpayAdapter("http://127.0.0.1:1", time.Second)
	cfg := &domain.GatewayConfig{Credentials: map[string]string{"key_id": "k", "key_secret": "s"}}
	form := url.Values{
		"error[code]":        {"BAD_REQUEST_ERROR"},
		"error[description]": {"Payment failed"},
		"error[metadata]":    {`{"order_id":"order_TEST1","payment_id":"pay_TEST1"}`},
	}

	result, err := adapter.Verify(context.Background(), cfg, &Callback{Form: form})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "order_TEST1", result.OrderID)
}

func razorpayWebhook(event, orderID, secret string) *Callback {
	body := []byte(`{"entity":"event","event":"` + event + `","payload":{"payment":{"entity":{` +
		`"id":"pay_TEST1","order_id":"` + orderID + `","amount":99900,"currency":"INR","status":"captured","notes":[]}}}}`)
	header := http.Header{}
	header.Set("X-Razorpay-Signature", signature.RazorpayWebhookSignature(secret, body))
	header.Set("Content-Type", "application/json")
	return &Callback{Body: body, Header: header}
}

func TestRazorpayAdapter_Webhook(t *testing.T) {
	srv := newRazorpayServer(t)
	adapter := NewRazorpayAdapter(srv.URL, 2*time.Second)
	cfg := &domain.GatewayConfig{
		Provider: domain.ProviderRazorpay,
		Credentials: map[string]string{
			"key_id":         "rzp_test_key",
			"key_secret":     "rzp_secret",
			"webhook_secret": "rzp_whsec",
		},
	}

	t.Run("captured payment settles from the fetched order", func(t *testing.T) {
		cb := razorpayWebhook("payment.captured", "order_TEST1", "rzp_whsec")
		assert.Equal(t, "order_TEST1", adapter.OrderID(cb))

		result, err := adapter.Verify(context.Background(), cfg, cb)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.False(t, result.Pending)
		assert.Equal(t, "order_TEST1", result.OrderID)
		assert.Equal(t, "pay_TEST1", result.ProviderPaymentID)
		assert.Equal(t, "999.00", result.Amount.StringFixed(2))
		assert.Equal(t, "org-1", result.OrganizationID)
		assert.Equal(t, domain.BillingCycleMonthly, result.BillingCycle)
	})

	t.Run("order paid", func(t *testing.T) {
		result, err := adapter.Verify(context.Background(), cfg, razorpayWebhook("order.paid", "order_TEST1", "rzp_whsec"))
		require.NoError(t, err)
		assert.True(t, result.Success)
	})

	t.Run("failed payment is a decline", func(t *testing.T) {
		result, err := adapter.Verify(context.Background(), cfg, razorpayWebhook("payment.failed", "order_TEST1", "rzp_whsec"))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.False(t, result.Pending)
	})

	t.Run("authorized payment waits for capture", func(t *testing.T) {
		result, err := adapter.Verify(context.Background(), cfg, razorpayWebhook("payment.authorized", "order_TEST1", "rzp_whsec"))
		require.NoError(t, err)
		assert.True(t, result.Pending)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := adapter.Verify(context.Background(), cfg, razorpayWebhook("payment.captured", "order_TEST1", "rzp_secret"))
		assert.Equal(t, domain.ReasonVerificationFailed, domain.ReasonOf(err))
	})

	t.Run("tampered body", func(t *testing.T) {
		cb := razorpayWebhook("payment.failed", "order_TEST1", "rzp_whsec")
		cb.Body = []byte(strings.Replace(string(cb.Body), "payment.failed", "order.paid", 1))
		_, err := adapter.Verify(context.Background(), cfg, cb)
		assert.Equal(t, domain.ReasonVerificationFailed, domain.ReasonOf(err))
	})

	t.Run("key secret signs when no webhook secret is set", func(t *testing.T) {
		noWebhookSecret := &domain.GatewayConfig{
			Provider:    domain.ProviderRazorpay,
			Credentials: map[string]string{"key_id": "rzp_test_key", "key_secret": "rzp_secret"},
		}
		result, err := adapter.Verify(context.Background(), noWebhookSecret, razorpayWebhook("order.paid", "order_TEST1", "rzp_secret"))
		require.NoError(t, err)
		assert.True(t, result.Success)
	})
}

func stripeEvent(eventType, paymentStatus string) []byte {
	return []byte(`{"id":"evt_1","object":"event","type":"` + eventType + `","api_version":"2020-08-27","data":{"object":{` +
		`"id":"cs_test_1","object":"checkout.session","client_reference_id":"SUB123","payment_status":"` + paymentStatus + `",` +
		`"amount_total":99900,"currency":"inr","payment_intent":"pi_1",` +
		`"metadata":{"organization_id":"org-1","billing_cycle":"monthly"}}}}`)
}

func TestStripeAdapter_Verify(t *testing.T) {
	adapter := NewStripeAdapter(nil)
	cfg := &domain.GatewayConfig{
		Provider:    domain.ProviderStripe,
		Credentials: map[string]string{"secret_key": "sk_test", "webhook_secret": "whsec_test"},
	}

	sign := func(payload []byte, secret string) *Callback {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})
		return &Callback{Body: payload, Header: http.Header{"Stripe-Signature": {signed.Header}}}
	}

	cb := sign(stripeEvent("checkout.session.completed", "paid"), "whsec_test")
	assert.Equal(t, "SUB123", adapter.OrderID(cb))

	result, err := adapter.Verify(context.Background(), cfg, cb)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "SUB123", result.OrderID)
	assert.Equal(t, "pi_1", result.ProviderPaymentID)
	assert.Equal(t, "999.00", result.Amount.StringFixed(2))
	assert.Equal(t, "org-1", result.OrganizationID)

	result, err = adapter.Verify(context.Background(), cfg, sign(stripeEvent("checkout.session.completed", "unpaid"), "whsec_test"))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Pending)

	result, err = adapter.Verify(context.Background(), cfg, sign(stripeEvent("checkout.session.expired", "unpaid"), "whsec_test"))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.False(t, result.Pending)

	_, err = adapter.Verify(context.Background(), cfg, sign(stripeEvent("checkout.session.completed", "paid"), "whsec_other"))
	assert.Equal(t, domain.ReasonVerificationFailed, domain.ReasonOf(err))
}
