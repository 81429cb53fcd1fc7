package dto

import (
	"github.com/prohmpiriya/subscription-payments/internal/gateway"
	"github.com/prohmpiriya/subscription-payments/internal/service"
)

// InitiatePaymentRequest represents a request to start a subscription checkout
type InitiatePaymentRequest struct {
	OrganizationID string `json:"organizationId" binding:"required"`
	PlanID         string `json:"planId" binding:"required"`
	BillingCycle   string `json:"billingCycle" binding:"required"`
	Provider       string `json:"provider,omitempty"`
	CustomerName   string `json:"customerName" binding:"required"`
	CustomerEmail  string `json:"customerEmail" binding:"required,email"`
	CustomerPhone  string `json:"customerPhone,omitempty"`
}

// ToServiceRequest converts the body plus token claims into a service request
func (r *InitiatePaymentRequest) ToServiceRequest(userID, callerOrgID string) *service.InitiateRequest {
	return &service.InitiateRequest{
		OrganizationID: r.OrganizationID,
		PlanID:         r.PlanID,
		BillingCycle:   r.BillingCycle,
		Provider:       r.Provider,
		Customer: gateway.Customer{
			Name:  r.CustomerName,
			Email: r.CustomerEmail,
			Phone: r.CustomerPhone,
		},
		InitiatedBy:          userID,
		CallerOrganizationID: callerOrgID,
	}
}

// InitiatePaymentResponse carries the provider payload. Which of paymentUrl,
// paymentKey and formData are set depends on method.
type InitiatePaymentResponse struct {
	TransactionID string            `json:"transactionId"`
	OrderID       string            `json:"orderId"`
	Provider      string            `json:"provider"`
	Method        string            `json:"method"`
	PaymentURL    string            `json:"paymentUrl,omitempty"`
	PaymentKey    string            `json:"paymentKey,omitempty"`
	FormData      map[string]string `json:"formData,omitempty"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	BillingCycle  string            `json:"billingCycle"`
}

// FromInitiateResponse converts a service response to InitiatePaymentResponse
func FromInitiateResponse(r *service.InitiateResponse) *InitiatePaymentResponse {
	return &InitiatePaymentResponse{
		TransactionID: r.TransactionID,
		OrderID:       r.OrderID,
		Provider:      string(r.Provider),
		Method:        string(r.Method),
		PaymentURL:    r.PaymentURL,
		PaymentKey:    r.PaymentKey,
		FormData:      r.FormData,
		Amount:        r.Amount.StringFixed(2),
		Currency:      r.Currency,
		BillingCycle:  string(r.BillingCycle),
	}
}

// WebhookAck is returned to server-to-server callbacks instead of a redirect
type WebhookAck struct {
	Received bool   `json:"received"`
	OrderID  string `json:"orderId,omitempty"`
	Success  bool   `json:"success"`
	Reason   string `json:"reason,omitempty"`
}
