package gateway

import (
	"context"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/internal/signature"
)

const (
	PayUTestURL = "https://test.payu.in/_payment"
	PayULiveURL = "https://secure.payu.in/_payment"

	payuMerchantKey  = "merchant_key"
	payuMerchantSalt = "merchant_salt"
)

// PayUAdapter builds the hosted-checkout form and verifies the reverse hash
// PayU posts back. udf1..udf3 carry organization id, billing cycle and plan id.
type PayUAdapter struct{}

func NewPayUAdapter() *PayUAdapter {
	return &PayUAdapter{}
}

func (a *PayUAdapter) Provider() domain.Provider { return domain.ProviderPayUMoney }

func (a *PayUAdapter) RequiredCredentials() []string {
	return []string{payuMerchantKey, payuMerchantSalt}
}

func (a *PayUAdapter) Initiate(_ context.Context, cfg *domain.GatewayConfig, order *Order) (*InitiateResult, error) {
	key := cfg.Credential(payuMerchantKey)
	fields := signature.PayUFields{
		TxnID:       order.OrderID,
		Amount:      signature.FormatAmount(order.Amount),
		ProductInfo: order.PlanName,
		FirstName:   order.Customer.Name,
		Email:       order.Customer.Email,
		UDF:         [5]string{order.OrganizationID, string(order.BillingCycle), order.PlanID},
	}

	actionURL := PayUTestURL
	if cfg.IsLive() {
		actionURL = PayULiveURL
	}

	return &InitiateResult{
		OrderID:    order.OrderID,
		PaymentURL: actionURL,
		PaymentKey: key,
		Method:     MethodForm,
		FormData: map[string]string{
			"key":         key,
			"txnid":       fields.TxnID,
			"amount":      fields.Amount,
			"productinfo": fields.ProductInfo,
			"firstname":   fields.FirstName,
			"email":       fields.Email,
			"phone":       order.Customer.Phone,
			"udf1":        fields.UDF[0],
			"udf2":        fields.UDF[1],
			"udf3":        fields.UDF[2],
			"surl":        order.SuccessURL,
			"furl":        order.FailureURL,
			"hash":        signature.PayURequestHash(key, cfg.Credential(payuMerchantSalt), fields),
		},
	}, nil
}

func (a *PayUAdapter) Verify(_ context.Context, cfg *domain.GatewayConfig, cb *Callback) (*VerifyResult, error) {
	fields := signature.PayUFields{
		TxnID:       formValue(cb, "txnid"),
		Amount:      formValue(cb, "amount"),
		ProductInfo: formValue(cb, "productinfo"),
		FirstName:   formValue(cb, "firstname"),
		Email:       formValue(cb, "email"),
		UDF: [5]string{
			formValue(cb, "udf1"),
			formValue(cb, "udf2"),
			formValue(cb, "udf3"),
			formValue(cb, "udf4"),
			formValue(cb, "udf5"),
		},
	}
	status := formValue(cb, "status")

	ok := signature.VerifyPayUResponse(
		cfg.Credential(payuMerchantKey),
		cfg.Credential(payuMerchantSalt),
		status,
		formValue(cb, "additionalCharges"),
		fields,
		formValue(cb, "hash"),
	)
	if !ok {
		return nil, signatureMismatch(domain.ProviderPayUMoney)
	}

	amount, err := parseClaimedAmount(fields.Amount)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		Success:           status == "success",
		Pending:           status == "pending",
		OrderID:           fields.TxnID,
		ProviderPaymentID: formValue(cb, "mihpayid"),
		Amount:            amount,
		OrganizationID:    fields.UDF[0],
		BillingCycle:      domain.BillingCycle(fields.UDF[1]),
		Status:            status,
		Raw:               rawMap(formMap(cb.Form)),
	}, nil
}

func (a *PayUAdapter) OrderID(cb *Callback) string {
	if formValue(cb, "hash") == "" && formValue(cb, "mihpayid") == "" {
		return ""
	}
	return locateValue(cb, "txnid")
}
