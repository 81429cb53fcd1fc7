package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/pkg/database"
)

// PostgresOrganizationRepository reads the subscription columns of organizations
type PostgresOrganizationRepository struct {
	db *database.PostgresDB
}

func NewPostgresOrganizationRepository(db *database.PostgresDB) *PostgresOrganizationRepository {
	return &PostgresOrganizationRepository{db: db}
}

const organizationColumns = `
	id, name, subscription_status, subscription_plan, plan_id,
	subscription_starts_at, subscription_ends_at, updated_at
`

func (r *PostgresOrganizationRepository) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = $1`
	return scanOrganization(r.db.Pool().QueryRow(ctx, query, id))
}

func updateSubscription(ctx context.Context, q database.Querier, org *domain.Organization) error {
	query := `
		UPDATE organizations
		SET subscription_status = $2,
		    subscription_plan = $3,
		    plan_id = $4,
		    subscription_starts_at = $5,
		    subscription_ends_at = $6,
		    updated_at = $7
		WHERE id = $1`

	result, err := q.Exec(ctx, query,
		org.ID,
		string(org.SubscriptionStatus),
		nullString(org.SubscriptionPlan),
		nullString(org.PlanID),
		org.SubscriptionStartsAt,
		org.SubscriptionEndsAt,
		org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrOrganizationNotFound
	}
	return nil
}

func scanOrganization(row pgx.Row) (*domain.Organization, error) {
	var org domain.Organization
	var status string
	var plan, planID *string

	err := row.Scan(
		&org.ID,
		&org.Name,
		&status,
		&plan,
		&planID,
		&org.SubscriptionStartsAt,
		&org.SubscriptionEndsAt,
		&org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to scan organization: %w", err)
	}

	org.SubscriptionStatus = domain.SubscriptionStatus(status)
	org.SubscriptionPlan = derefString(plan)
	org.PlanID = derefString(planID)
	return &org, nil
}
