// Package subscription advances an organization's subscription when one of
// its payment transactions completes.
package subscription

import (
	"time"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
)

// StateMachine applies completed payments to organizations
type StateMachine struct {
	now func() time.Time
}

// NewStateMachine uses clock for timestamps, or time.Now when clock is nil
func NewStateMachine(clock func() time.Time) *StateMachine {
	if clock == nil {
		clock = time.Now
	}
	return &StateMachine{now: clock}
}

// Now returns the current time in UTC from the injected clock
func (m *StateMachine) Now() time.Time {
	return m.now().UTC()
}

// ApplyPayment returns a copy of org with an active subscription on plan
// that ends one billing cycle after now. The cycle always comes from the
// stored transaction. A claimedCycle that disagrees with it is rejected.
func (m *StateMachine) ApplyPayment(org *domain.Organization, txn *domain.PaymentTransaction, plan *domain.SubscriptionPlan, claimedCycle domain.BillingCycle, now time.Time) (*domain.Organization, error) {
	if txn.Status != domain.TransactionCompleted {
		return nil, domain.InvariantViolation("TRANSACTION_NOT_COMPLETED", "subscription can only advance from a completed transaction")
	}
	if org.ID != txn.OrganizationID {
		return nil, domain.VerificationFailure(domain.ReasonOrganizationMismatch, "transaction belongs to another organization", nil)
	}
	if plan.ID != txn.PlanID {
		return nil, domain.InvariantViolation("PLAN_MISMATCH", "plan does not match transaction")
	}
	if !txn.BillingCycle.IsValid() {
		return nil, domain.ErrInvalidBillingCycle
	}
	if claimedCycle != "" && claimedCycle != txn.BillingCycle {
		return nil, domain.VerificationFailure(domain.ReasonCycleMismatch, "callback billing cycle differs from transaction", nil)
	}

	start := now.UTC()
	end := txn.BillingCycle.AddTo(start)

	next := org.Clone()
	next.SubscriptionStatus = domain.SubscriptionActive
	next.SubscriptionPlan = plan.Name
	next.PlanID = plan.ID
	next.SubscriptionStartsAt = &start
	next.SubscriptionEndsAt = &end
	next.UpdatedAt = start
	return next, nil
}
