package gateway

import (
	"context"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/internal/signature"
)

const (
	CCAvenueTestURL = "https://test.ccavenue.com/transaction/transaction.do?command=initiateTransaction"
	CCAvenueLiveURL = "https://secure.ccavenue.com/transaction/transaction.do?command=initiateTransaction"

	ccavenueMerchantID = "merchant_id"
	ccavenueAccessCode = "access_code"
	ccavenueWorkingKey = "working_key"
)

// ccavenueRequestKeys fixes the plaintext field order of encRequest
var ccavenueRequestKeys = []string{
	"merchant_id",
	"order_id",
	"currency",
	"amount",
	"redirect_url",
	"cancel_url",
	"language",
	"billing_name",
	"billing_email",
	"billing_tel",
	"merchant_param1",
	"merchant_param2",
	"merchant_param3",
}

// CCAvenueAdapter encrypts the whole order with the working key. A callback
// that decrypts under the same key is authentic.
type CCAvenueAdapter struct{}

func NewCCAvenueAdapter() *CCAvenueAdapter {
	return &CCAvenueAdapter{}
}

func (a *CCAvenueAdapter) Provider() domain.Provider { return domain.ProviderCCAvenue }

func (a *CCAvenueAdapter) RequiredCredentials() []string {
	return []string{ccavenueMerchantID, ccavenueAccessCode, ccavenueWorkingKey}
}

func (a *CCAvenueAdapter) Initiate(_ context.Context, cfg *domain.GatewayConfig, order *Order) (*InitiateResult, error) {
	fields := map[string]string{
		"merchant_id":     cfg.Credential(ccavenueMerchantID),
		"order_id":        order.OrderID,
		"currency":        order.Currency,
		"amount":          signature.FormatAmount(order.Amount),
		"redirect_url":    order.SuccessURL,
		"cancel_url":      order.FailureURL,
		"language":        "EN",
		"billing_name":    order.Customer.Name,
		"billing_email":   order.Customer.Email,
		"billing_tel":     order.Customer.Phone,
		"merchant_param1": order.OrganizationID,
		"merchant_param2": string(order.BillingCycle),
		"merchant_param3": order.PlanID,
	}

	encRequest, err := signature.CCAvenueEncrypt(cfg.Credential(ccavenueWorkingKey), signature.EncodeKeyValue(ccavenueRequestKeys, fields))
	if err != nil {
		return nil, domain.ConfigurationError("INVALID_WORKING_KEY", "ccavenue working key rejected", err)
	}

	actionURL := CCAvenueTestURL
	if cfg.IsLive() {
		actionURL = CCAvenueLiveURL
	}

	return &InitiateResult{
		OrderID:    order.OrderID,
		PaymentURL: actionURL,
		PaymentKey: cfg.Credential(ccavenueAccessCode),
		Method:     MethodForm,
		FormData: map[string]string{
			"encRequest":  encRequest,
			"access_code": cfg.Credential(ccavenueAccessCode),
		},
	}, nil
}

func (a *CCAvenueAdapter) Verify(_ context.Context, cfg *domain.GatewayConfig, cb *Callback) (*VerifyResult, error) {
	plain, err := signature.CCAvenueDecrypt(cfg.Credential(ccavenueWorkingKey), formValue(cb, "encResp"))
	if err != nil {
		return nil, domain.VerificationFailure(domain.ReasonVerificationFailed, "ccavenue response did not decrypt", err)
	}
	fields := signature.ParseKeyValue(plain)

	// orderNo travels in clear text and must agree with the sealed order_id
	if posted := formValue(cb, "orderNo"); posted != "" && posted != fields["order_id"] {
		return nil, signatureMismatch(domain.ProviderCCAvenue)
	}

	amount, err := parseClaimedAmount(fields["amount"])
	if err != nil {
		return nil, err
	}

	status := fields["order_status"]
	return &VerifyResult{
		Success:           status == "Success",
		Pending:           status == "Awaited" || status == "Initiated",
		OrderID:           fields["order_id"],
		ProviderPaymentID: fields["tracking_id"],
		Amount:            amount,
		OrganizationID:    fields["merchant_param1"],
		BillingCycle:      domain.BillingCycle(fields["merchant_param2"]),
		Status:            status,
		Raw:               rawMap(fields),
	}, nil
}

func (a *CCAvenueAdapter) OrderID(cb *Callback) string {
	if formValue(cb, "encResp") == "" {
		return ""
	}
	return locateValue(cb, "orderNo")
}
