package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBillingCycle(t *testing.T) {
	tests := []struct {
		in      string
		want    BillingCycle
		wantErr bool
	}{
		{"monthly", BillingCycleMonthly, false},
		{" Quarterly ", BillingCycleQuarterly, false},
		{"ANNUAL", BillingCycleAnnual, false},
		{"yearly", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBillingCycle(tt.in)
			if tt.wantErr {
				assert.True(t, IsKind(err, KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBillingCycle_AddTo(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC), BillingCycleMonthly.AddTo(start))
	assert.Equal(t, time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC), BillingCycleQuarterly.AddTo(start))
	assert.Equal(t, time.Date(2027, 1, 15, 10, 0, 0, 0, time.UTC), BillingCycleAnnual.AddTo(start))
}

func TestSubscriptionPlan_PriceFor(t *testing.T) {
	plan := &SubscriptionPlan{
		MonthlyPrice:   decimal.RequireFromString("999"),
		QuarterlyPrice: decimal.RequireFromString("2699.499"),
		AnnualPrice:    decimal.Zero,
	}

	assert.Equal(t, "999.00", plan.PriceFor(BillingCycleMonthly).StringFixed(2))
	assert.Equal(t, "2699.50", plan.PriceFor(BillingCycleQuarterly).StringFixed(2))
	assert.True(t, plan.PriceFor(BillingCycleAnnual).IsZero())
	assert.True(t, plan.PriceFor("weekly").IsZero())
}

func TestNewPaymentTransaction(t *testing.T) {
	amount := decimal.RequireFromString("999.00")

	txn, err := NewPaymentTransaction("org-1", "plan-1", amount, "INR", BillingCycleMonthly, ProviderPayUMoney, "SUB1")
	require.NoError(t, err)
	assert.Equal(t, TransactionPending, txn.Status)
	assert.Equal(t, "999.00", txn.Amount.StringFixed(2))
	assert.NotEmpty(t, txn.ID)
	assert.False(t, txn.IsFinal())

	_, err = NewPaymentTransaction("org-1", "plan-1", decimal.Zero, "INR", BillingCycleMonthly, ProviderPayUMoney, "SUB1")
	assert.ErrorIs(t, err, ErrNonPositivePrice)

	_, err = NewPaymentTransaction("org-1", "plan-1", amount, "INR", "weekly", ProviderPayUMoney, "SUB1")
	assert.ErrorIs(t, err, ErrInvalidBillingCycle)

	_, err = NewPaymentTransaction("", "plan-1", amount, "INR", BillingCycleMonthly, ProviderPayUMoney, "SUB1")
	assert.Error(t, err)
}

func TestPaymentTransaction_TerminalStatesAreFinal(t *testing.T) {
	now := time.Now()
	txn, err := NewPaymentTransaction("org-1", "plan-1", decimal.NewFromInt(10), "INR", BillingCycleMonthly, ProviderRazorpay, "order_1")
	require.NoError(t, err)

	require.NoError(t, txn.Complete("pay_1", map[string]any{"status": "captured"}, now))
	assert.True(t, txn.IsFinal())
	assert.Equal(t, "pay_1", txn.ProviderPaymentID)

	assert.ErrorIs(t, txn.Complete("pay_2", nil, now), ErrTransactionNotPending)
	assert.ErrorIs(t, txn.Fail(ReasonPaymentDeclined, nil, now), ErrTransactionNotPending)
	assert.Equal(t, TransactionCompleted, txn.Status)
	assert.True(t, IsKind(ErrTransactionNotPending, KindInvariant))
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("resolve gateway: %w", ErrNoActiveGateway)

	assert.Equal(t, KindConfiguration, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrNoActiveGateway))
	assert.False(t, errors.Is(wrapped, ErrIncompleteCredentials))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))

	vf := VerificationFailure(ReasonAmountMismatch, "amount differs", nil)
	assert.Equal(t, ReasonAmountMismatch, ReasonOf(fmt.Errorf("x: %w", vf)))
	assert.Equal(t, ReasonUnknownOrder, ReasonOf(ErrTransactionNotFound))
	assert.Equal(t, ReasonInternalError, ReasonOf(errors.New("db down")))
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("PayUMoney")
	require.NoError(t, err)
	assert.Equal(t, ProviderPayUMoney, p)

	_, err = ParseProvider("midtrans")
	assert.True(t, IsKind(err, KindConfiguration))
}

func TestGatewayConfig_MissingCredentials(t *testing.T) {
	cfg := &GatewayConfig{Credentials: map[string]string{"key_id": "rzp_test", "key_secret": "  "}}

	assert.Equal(t, []string{"key_secret"}, cfg.MissingCredentials([]string{"key_id", "key_secret"}))
	assert.Empty(t, (&GatewayConfig{}).Credential("anything"))
}
