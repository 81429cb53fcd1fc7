package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
)

// PostgreSQL error code for unique violation
const pgUniqueViolationCode = "23505"

// TransactionRepository is the payment transaction ledger.
// Status transitions are guarded: they only apply to pending rows and
// report whether they applied.
type TransactionRepository interface {
	// Create inserts a pending transaction. Returns domain.ErrDuplicateOrderID
	// when the provider order id is already taken by any provider.
	Create(ctx context.Context, txn *domain.PaymentTransaction) error

	// GetByID retrieves a transaction by its ID
	GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error)

	// GetByProviderOrderID retrieves a transaction by provider order ID.
	// Order ids are unique across all providers.
	GetByProviderOrderID(ctx context.Context, orderID string) (*domain.PaymentTransaction, error)

	// AttachProviderOrderID replaces the order id of a pending transaction
	// with the one the provider minted. A collision with any other
	// transaction returns domain.ErrDuplicateOrderID.
	AttachProviderOrderID(ctx context.Context, id, orderID string) error

	// MarkFailed moves a pending transaction to failed. Returns false when
	// the transaction was no longer pending.
	MarkFailed(ctx context.Context, id string, reason domain.Reason, response map[string]any) (bool, error)

	// ListStalePending returns pending transactions created before olderThan
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.PaymentTransaction, error)

	// WithinTx runs fn as one atomic unit. Any error rolls everything back.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the view of the ledger available inside WithinTx
type LedgerTx interface {
	// MarkCompleted moves a pending transaction to completed. Returns false
	// when the transaction was no longer pending.
	MarkCompleted(ctx context.Context, id, providerPaymentID string, response map[string]any, paidAt time.Time) (bool, error)

	// GetOrganizationForUpdate loads and locks the organization row
	GetOrganizationForUpdate(ctx context.Context, orgID string) (*domain.Organization, error)

	// UpdateSubscription persists the subscription columns of org
	UpdateSubscription(ctx context.Context, org *domain.Organization) error
}

// GatewayConfigRepository stores per-organization gateway credentials
type GatewayConfigRepository interface {
	GetActiveByProvider(ctx context.Context, orgID string, provider domain.Provider) (*domain.GatewayConfig, error)
	GetDefault(ctx context.Context, orgID string) (*domain.GatewayConfig, error)

	// Upsert creates or replaces the config for (organization, provider).
	// Setting IsDefault clears the flag on the organization's other configs.
	// Used to provision configs; no request path writes them.
	Upsert(ctx context.Context, cfg *domain.GatewayConfig) error
}

// OrganizationRepository looks up organizations
type OrganizationRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Organization, error)
}

// PlanRepository looks up subscription plans
type PlanRepository interface {
	// GetPlan returns the plan whether or not it is active
	GetPlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error)

	// GetActivePlan returns domain.ErrPlanInactive for inactive plans
	GetActivePlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error)
}

// nullString returns nil if string is empty, otherwise returns pointer to string
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func activeOnly(plan *domain.SubscriptionPlan) (*domain.SubscriptionPlan, error) {
	if !plan.IsActive {
		return nil, domain.ErrPlanInactive
	}
	return plan, nil
}
