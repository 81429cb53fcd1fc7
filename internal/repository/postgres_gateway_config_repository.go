package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/pkg/database"
)

// PostgresGatewayConfigRepository implements GatewayConfigRepository using PostgreSQL
type PostgresGatewayConfigRepository struct {
	db *database.PostgresDB
}

func NewPostgresGatewayConfigRepository(db *database.PostgresDB) *PostgresGatewayConfigRepository {
	return &PostgresGatewayConfigRepository{db: db}
}

const gatewayConfigColumns = `
	id, organization_id, provider, credentials, mode, is_active, is_default, created_at, updated_at
`

func (r *PostgresGatewayConfigRepository) GetActiveByProvider(ctx context.Context, orgID string, provider domain.Provider) (*domain.GatewayConfig, error) {
	query := `SELECT ` + gatewayConfigColumns + `
		FROM gateway_configs
		WHERE organization_id = $1 AND provider = $2 AND is_active`
	return scanGatewayConfig(r.db.Pool().QueryRow(ctx, query, orgID, string(provider)))
}

func (r *PostgresGatewayConfigRepository) GetDefault(ctx context.Context, orgID string) (*domain.GatewayConfig, error) {
	query := `SELECT ` + gatewayConfigColumns + `
		FROM gateway_configs
		WHERE organization_id = $1 AND is_default AND is_active`
	return scanGatewayConfig(r.db.Pool().QueryRow(ctx, query, orgID))
}

func (r *PostgresGatewayConfigRepository) Upsert(ctx context.Context, cfg *domain.GatewayConfig) error {
	credentials, err := json.Marshal(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if cfg.IsDefault {
			clearDefault := `
				UPDATE gateway_configs SET is_default = FALSE, updated_at = NOW()
				WHERE organization_id = $1 AND provider <> $2 AND is_default`
			if _, err := tx.Exec(ctx, clearDefault, cfg.OrganizationID, string(cfg.Provider)); err != nil {
				return fmt.Errorf("failed to clear default gateway: %w", err)
			}
		}

		upsert := `
			INSERT INTO gateway_configs (
				id, organization_id, provider, credentials, mode, is_active, is_default, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (organization_id, provider) DO UPDATE
			SET credentials = EXCLUDED.credentials,
			    mode = EXCLUDED.mode,
			    is_active = EXCLUDED.is_active,
			    is_default = EXCLUDED.is_default,
			    updated_at = EXCLUDED.updated_at`

		_, err := tx.Exec(ctx, upsert,
			cfg.ID,
			cfg.OrganizationID,
			string(cfg.Provider),
			credentials,
			string(cfg.Mode),
			cfg.IsActive,
			cfg.IsDefault,
			cfg.CreatedAt,
			cfg.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert gateway config: %w", err)
		}
		return nil
	})
}

func scanGatewayConfig(row pgx.Row) (*domain.GatewayConfig, error) {
	var cfg domain.GatewayConfig
	var provider, mode string
	var credentials []byte

	err := row.Scan(
		&cfg.ID,
		&cfg.OrganizationID,
		&provider,
		&credentials,
		&mode,
		&cfg.IsActive,
		&cfg.IsDefault,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGatewayConfigNotFound
		}
		return nil, fmt.Errorf("failed to scan gateway config: %w", err)
	}

	cfg.Provider = domain.Provider(provider)
	cfg.Mode = domain.GatewayMode(mode)
	if len(credentials) > 0 {
		if err := json.Unmarshal(credentials, &cfg.Credentials); err != nil {
			return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
		}
	}
	return &cfg, nil
}
