package repository

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/pkg/database"
)

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func setupPostgres(t *testing.T) *database.PostgresDB {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := database.DefaultPostgresConfig()
	cfg.Host = getEnvOrDefault("DATABASE_HOST", "localhost")
	cfg.Port, _ = strconv.Atoi(getEnvOrDefault("DATABASE_PORT", "5432"))
	cfg.User = getEnvOrDefault("DATABASE_USER", "postgres")
	cfg.Password = getEnvOrDefault("DATABASE_PASSWORD", "postgres")
	cfg.Database = getEnvOrDefault("DATABASE_NAME", "subscription_payments_test")
	cfg.MaxRetries = 1

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	schema, err := os.ReadFile("../../migrations/001_subscription_payments.up.sql")
	require.NoError(t, err)
	_, err = db.Pool().Exec(ctx, string(schema))
	require.NoError(t, err)
	return db
}

func seedOrganization(t *testing.T, db *database.PostgresDB) (orgID, planID string) {
	t.Helper()
	ctx := context.Background()
	orgID = "org-" + uuid.NewString()
	planID = "plan-" + uuid.NewString()

	_, err := db.Pool().Exec(ctx, `INSERT INTO subscription_plans (id, name, monthly_price) VALUES ($1, 'Pro', 999.00)`, planID)
	require.NoError(t, err)
	_, err = db.Pool().Exec(ctx, `INSERT INTO organizations (id, name) VALUES ($1, 'Acme')`, orgID)
	require.NoError(t, err)
	return orgID, planID
}

func TestPostgresTransactionRepository_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	orgID, planID := seedOrganization(t, db)
	repo := NewPostgresTransactionRepository(db)

	plan, err := NewPostgresPlanRepository(db).GetActivePlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, "999.00", plan.MonthlyPrice.StringFixed(2))

	orderID := "SUB" + uuid.NewString()[:12]
	txn, err := domain.NewPaymentTransaction(orgID, planID, plan.MonthlyPrice, "INR", domain.BillingCycleMonthly, domain.ProviderPayUMoney, orderID)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, txn))
	assert.ErrorIs(t, repo.Create(ctx, txn), domain.ErrDuplicateOrderID)

	sameOrderOtherProvider, err := domain.NewPaymentTransaction(orgID, planID, plan.MonthlyPrice, "INR", domain.BillingCycleMonthly, domain.ProviderPaytm, orderID)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Create(ctx, sameOrderOtherProvider), domain.ErrDuplicateOrderID)

	paidAt := time.Now().UTC().Truncate(time.Microsecond)
	for i, want := range []bool{true, false} {
		err := repo.WithinTx(ctx, func(tx LedgerTx) error {
			applied, err := tx.MarkCompleted(ctx, txn.ID, "pay_1", map[string]any{"status": "success"}, paidAt)
			require.NoError(t, err)
			assert.Equal(t, want, applied, "attempt %d", i)
			if !applied {
				return nil
			}
			org, err := tx.GetOrganizationForUpdate(ctx, orgID)
			require.NoError(t, err)
			end := paidAt.AddDate(0, 1, 0)
			org.SubscriptionStatus = domain.SubscriptionActive
			org.PlanID = planID
			org.SubscriptionEndsAt = &end
			org.UpdatedAt = paidAt
			return tx.UpdateSubscription(ctx, org)
		})
		require.NoError(t, err)
	}

	applied, err := repo.MarkFailed(ctx, txn.ID, domain.ReasonAbandoned, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := repo.GetByProviderOrderID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, got.Status)
	assert.Equal(t, "999.00", got.Amount.StringFixed(2))
	assert.Equal(t, "success", got.ProviderResponse["status"])

	org, err := NewPostgresOrganizationRepository(db).GetByID(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, org.SubscriptionStatus)
}

func TestPostgresGatewayConfigRepository_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	orgID, _ := seedOrganization(t, db)
	repo := NewPostgresGatewayConfigRepository(db)
	now := time.Now().UTC()

	for _, p := range []domain.Provider{domain.ProviderPayUMoney, domain.ProviderRazorpay} {
		require.NoError(t, repo.Upsert(ctx, &domain.GatewayConfig{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			Provider:       p,
			Credentials:    map[string]string{"k": "v"},
			Mode:           domain.ModeTest,
			IsActive:       true,
			IsDefault:      true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}))
	}

	cfg, err := repo.GetDefault(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderRazorpay, cfg.Provider)
	assert.Equal(t, "v", cfg.Credential("k"))

	_, err = repo.GetActiveByProvider(ctx, orgID, domain.ProviderPaytm)
	assert.ErrorIs(t, err, domain.ErrGatewayConfigNotFound)
}
