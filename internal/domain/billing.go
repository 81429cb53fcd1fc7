package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle is the subscription renewal interval fixed at initiation
type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleAnnual    BillingCycle = "annual"
)

// ParseBillingCycle accepts the three cycle names case-insensitively
func ParseBillingCycle(s string) (BillingCycle, error) {
	switch c := BillingCycle(strings.ToLower(strings.TrimSpace(s))); c {
	case BillingCycleMonthly, BillingCycleQuarterly, BillingCycleAnnual:
		return c, nil
	}
	return "", ErrInvalidBillingCycle
}

// IsValid reports whether c is one of the known cycles
func (c BillingCycle) IsValid() bool {
	switch c {
	case BillingCycleMonthly, BillingCycleQuarterly, BillingCycleAnnual:
		return true
	}
	return false
}

// AddTo returns t advanced by one cycle using calendar arithmetic
func (c BillingCycle) AddTo(t time.Time) time.Time {
	switch c {
	case BillingCycleQuarterly:
		return t.AddDate(0, 3, 0)
	case BillingCycleAnnual:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// SubscriptionPlan is read-only to this service
type SubscriptionPlan struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	MonthlyPrice   decimal.Decimal `json:"monthly_price"`
	QuarterlyPrice decimal.Decimal `json:"quarterly_price"`
	AnnualPrice    decimal.Decimal `json:"annual_price"`
	Currency       string          `json:"currency"`
	IsActive       bool            `json:"is_active"`
}

// PriceFor returns the plan price for a cycle, rounded to two places
func (p *SubscriptionPlan) PriceFor(c BillingCycle) decimal.Decimal {
	var price decimal.Decimal
	switch c {
	case BillingCycleMonthly:
		price = p.MonthlyPrice
	case BillingCycleQuarterly:
		price = p.QuarterlyPrice
	case BillingCycleAnnual:
		price = p.AnnualPrice
	}
	return price.Round(2)
}

// SubscriptionStatus is the organization subscription state
type SubscriptionStatus string

const (
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// Organization holds the subscription-relevant columns of an organization
type Organization struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	SubscriptionStatus   SubscriptionStatus `json:"subscription_status"`
	SubscriptionPlan     string             `json:"subscription_plan"`
	PlanID               string             `json:"plan_id,omitempty"`
	SubscriptionStartsAt *time.Time         `json:"subscription_starts_at,omitempty"`
	SubscriptionEndsAt   *time.Time         `json:"subscription_ends_at,omitempty"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Clone returns a deep copy
func (o *Organization) Clone() *Organization {
	c := *o
	if o.SubscriptionStartsAt != nil {
		t := *o.SubscriptionStartsAt
		c.SubscriptionStartsAt = &t
	}
	if o.SubscriptionEndsAt != nil {
		t := *o.SubscriptionEndsAt
		c.SubscriptionEndsAt = &t
	}
	return &c
}
