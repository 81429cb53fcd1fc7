package gateway

import (
	"context"
	"strings"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/internal/signature"
)

const (
	PaytmTestURL = "https://securegw-stage.paytm.in/order/process"
	PaytmLiveURL = "https://securegw.paytm.in/order/process"

	paytmMerchantID   = "merchant_id"
	paytmMerchantKey  = "merchant_key"
	paytmWebsite      = "website"
	paytmIndustryType = "industry_type"

	paytmStatusSuccess = "TXN_SUCCESS"
	paytmStatusPending = "PENDING"
)

// PaytmAdapter posts the legacy order/process form. MERC_UNQ_REF echoes
// "organization|cycle" back on the callback.
type PaytmAdapter struct{}

func NewPaytmAdapter() *PaytmAdapter {
	return &PaytmAdapter{}
}

func (a *PaytmAdapter) Provider() domain.Provider { return domain.ProviderPaytm }

func (a *PaytmAdapter) RequiredCredentials() []string {
	return []string{paytmMerchantID, paytmMerchantKey}
}

func (a *PaytmAdapter) Initiate(_ context.Context, cfg *domain.GatewayConfig, order *Order) (*InitiateResult, error) {
	website := cfg.Credential(paytmWebsite)
	if website == "" {
		website = "WEBSTAGING"
		if cfg.IsLive() {
			website = "DEFAULT"
		}
	}
	industry := cfg.Credential(paytmIndustryType)
	if industry == "" {
		industry = "Retail"
	}

	params := map[string]string{
		"MID":              cfg.Credential(paytmMerchantID),
		"ORDER_ID":         order.OrderID,
		"CUST_ID":          order.OrganizationID,
		"TXN_AMOUNT":       signature.FormatAmount(order.Amount),
		"CHANNEL_ID":       "WEB",
		"WEBSITE":          website,
		"INDUSTRY_TYPE_ID": industry,
		"CALLBACK_URL":     order.SuccessURL,
		"MERC_UNQ_REF":     order.OrganizationID + "|" + string(order.BillingCycle),
	}
	if order.Customer.Email != "" {
		params["EMAIL"] = order.Customer.Email
	}
	if order.Customer.Phone != "" {
		params["MOBILE_NO"] = order.Customer.Phone
	}

	checksum, err := signature.PaytmChecksum(cfg.Credential(paytmMerchantKey), params)
	if err != nil {
		return nil, domain.ConfigurationError("INVALID_MERCHANT_KEY", "paytm merchant key must be 16, 24 or 32 bytes", err)
	}
	params[signature.ChecksumField] = checksum

	actionURL := PaytmTestURL
	if cfg.IsLive() {
		actionURL = PaytmLiveURL
	}

	return &InitiateResult{
		OrderID:    order.OrderID,
		PaymentURL: actionURL,
		PaymentKey: params["MID"],
		Method:     MethodForm,
		FormData:   params,
	}, nil
}

func (a *PaytmAdapter) Verify(_ context.Context, cfg *domain.GatewayConfig, cb *Callback) (*VerifyResult, error) {
	params := formMap(cb.Form)
	checksum := params[signature.ChecksumField]

	if !signature.VerifyPaytmChecksum(cfg.Credential(paytmMerchantKey), params, checksum) {
		return nil, signatureMismatch(domain.ProviderPaytm)
	}
	if params["MID"] != cfg.Credential(paytmMerchantID) {
		return nil, domain.VerificationFailure(domain.ReasonVerificationFailed, "paytm callback for another merchant", nil)
	}

	amount, err := parseClaimedAmount(params["TXNAMOUNT"])
	if err != nil {
		return nil, err
	}
	orgID, cycle, _ := strings.Cut(params["MERC_UNQ_REF"], "|")

	raw := rawMap(params)
	delete(raw, signature.ChecksumField)

	return &VerifyResult{
		Success:           params["STATUS"] == paytmStatusSuccess,
		Pending:           params["STATUS"] == paytmStatusPending,
		OrderID:           params["ORDERID"],
		ProviderPaymentID: params["TXNID"],
		Amount:            amount,
		OrganizationID:    orgID,
		BillingCycle:      domain.BillingCycle(cycle),
		Status:            params["STATUS"],
		Raw:               raw,
	}, nil
}

func (a *PaytmAdapter) OrderID(cb *Callback) string {
	if formValue(cb, signature.ChecksumField) == "" {
		return ""
	}
	return locateValue(cb, "ORDERID")
}
