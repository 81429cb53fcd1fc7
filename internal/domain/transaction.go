package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus represents the lifecycle of a payment attempt (matches DB ENUM)
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// PaymentTransaction is one initiated subscription payment attempt
type PaymentTransaction struct {
	ID                string            `json:"id"`
	OrganizationID    string            `json:"organization_id"`
	PlanID            string            `json:"plan_id"`
	InitiatedBy       string            `json:"initiated_by,omitempty"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	Status            TransactionStatus `json:"status"`
	Provider          Provider          `json:"provider"`
	ProviderOrderID   string            `json:"provider_order_id"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty"`
	BillingCycle      BillingCycle      `json:"billing_cycle"`
	ProviderResponse  map[string]any    `json:"provider_response,omitempty"`
	FailureReason     Reason            `json:"failure_reason,omitempty"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewPaymentTransaction creates a pending transaction
func NewPaymentTransaction(orgID, planID string, amount decimal.Decimal, currency string, cycle BillingCycle, provider Provider, providerOrderID string) (*PaymentTransaction, error) {
	if orgID == "" {
		return nil, errors.New("organization_id is required")
	}
	if planID == "" {
		return nil, errors.New("plan_id is required")
	}
	if !amount.IsPositive() {
		return nil, ErrNonPositivePrice
	}
	if !cycle.IsValid() {
		return nil, ErrInvalidBillingCycle
	}
	if providerOrderID == "" {
		return nil, errors.New("provider_order_id is required")
	}
	if currency == "" {
		currency = "INR"
	}

	now := time.Now().UTC()
	return &PaymentTransaction{
		ID:              uuid.New().String(),
		OrganizationID:  orgID,
		PlanID:          planID,
		Amount:          amount.Round(2),
		Currency:        currency,
		Status:          TransactionPending,
		Provider:        provider,
		ProviderOrderID: providerOrderID,
		BillingCycle:    cycle,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsFinal reports whether the transaction reached a terminal status
func (t *PaymentTransaction) IsFinal() bool {
	return t.Status == TransactionCompleted || t.Status == TransactionFailed
}

// Complete moves a pending transaction to completed
func (t *PaymentTransaction) Complete(providerPaymentID string, response map[string]any, at time.Time) error {
	if t.Status != TransactionPending {
		return ErrTransactionNotPending
	}
	t.Status = TransactionCompleted
	t.ProviderPaymentID = providerPaymentID
	t.ProviderResponse = response
	t.PaidAt = &at
	t.UpdatedAt = at
	return nil
}

// Fail moves a pending transaction to failed
func (t *PaymentTransaction) Fail(reason Reason, response map[string]any, at time.Time) error {
	if t.Status != TransactionPending {
		return ErrTransactionNotPending
	}
	t.Status = TransactionFailed
	t.FailureReason = reason
	if response != nil {
		t.ProviderResponse = response
	}
	t.UpdatedAt = at
	return nil
}

// Clone returns a deep-enough copy for in-memory stores
func (t *PaymentTransaction) Clone() *PaymentTransaction {
	c := *t
	if t.ProviderResponse != nil {
		c.ProviderResponse = make(map[string]any, len(t.ProviderResponse))
		for k, v := range t.ProviderResponse {
			c.ProviderResponse[k] = v
		}
	}
	if t.PaidAt != nil {
		p := *t.PaidAt
		c.PaidAt = &p
	}
	return &c
}
