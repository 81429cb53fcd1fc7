package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/pkg/database"
)

// PostgresPlanRepository reads subscription plans
type PostgresPlanRepository struct {
	db *database.PostgresDB
}

func NewPostgresPlanRepository(db *database.PostgresDB) *PostgresPlanRepository {
	return &PostgresPlanRepository{db: db}
}

func (r *PostgresPlanRepository) GetPlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	query := `
		SELECT id, name, monthly_price::text, quarterly_price::text, annual_price::text, currency, is_active
		FROM subscription_plans
		WHERE id = $1`

	var plan domain.SubscriptionPlan
	var monthly, quarterly, annual string
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&plan.ID,
		&plan.Name,
		&monthly,
		&quarterly,
		&annual,
		&plan.Currency,
		&plan.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription plan: %w", err)
	}

	for _, p := range []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&plan.MonthlyPrice, monthly},
		{&plan.QuarterlyPrice, quarterly},
		{&plan.AnnualPrice, annual},
	} {
		if *p.dst, err = decimal.NewFromString(p.raw); err != nil {
			return nil, fmt.Errorf("failed to parse plan price %q: %w", p.raw, err)
		}
	}
	return &plan, nil
}

func (r *PostgresPlanRepository) GetActivePlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	plan, err := r.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	return activeOnly(plan)
}
