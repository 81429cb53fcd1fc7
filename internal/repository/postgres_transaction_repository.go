package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/pkg/database"
)

// PostgresTransactionRepository implements TransactionRepository using PostgreSQL
type PostgresTransactionRepository struct {
	db *database.PostgresDB
}

// NewPostgresTransactionRepository creates a new PostgreSQL transaction ledger
func NewPostgresTransactionRepository(db *database.PostgresDB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// transactionColumns defines the columns to select for transaction queries
const transactionColumns = `
	id, organization_id, plan_id, initiated_by, amount::text, currency, status,
	provider, provider_order_id, provider_payment_id, billing_cycle,
	provider_response, failure_reason, paid_at, created_at, updated_at
`

// Create inserts a pending transaction
func (r *PostgresTransactionRepository) Create(ctx context.Context, txn *domain.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (
			id, organization_id, plan_id, initiated_by, amount, currency, status,
			provider, provider_order_id, billing_cycle, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := r.db.Pool().Exec(ctx, query,
		txn.ID,
		txn.OrganizationID,
		txn.PlanID,
		nullString(txn.InitiatedBy),
		txn.Amount.StringFixed(2),
		txn.Currency,
		string(txn.Status),
		string(txn.Provider),
		txn.ProviderOrderID,
		string(txn.BillingCycle),
		txn.CreatedAt,
		txn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateOrderID
		}
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by its ID
func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE id = $1`
	return scanTransaction(r.db.Pool().QueryRow(ctx, query, id))
}

// GetByProviderOrderID retrieves a transaction by provider order ID
func (r *PostgresTransactionRepository) GetByProviderOrderID(ctx context.Context, orderID string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE provider_order_id = $1`
	return scanTransaction(r.db.Pool().QueryRow(ctx, query, orderID))
}

// AttachProviderOrderID records a provider-minted order id
func (r *PostgresTransactionRepository) AttachProviderOrderID(ctx context.Context, id, orderID string) error {
	query := `
		UPDATE payment_transactions
		SET provider_order_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := r.db.Pool().Exec(ctx, query, id, orderID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateOrderID
		}
		return fmt.Errorf("failed to attach provider order id: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// MarkFailed moves a pending transaction to failed
func (r *PostgresTransactionRepository) MarkFailed(ctx context.Context, id string, reason domain.Reason, response map[string]any) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = 'failed',
		    failure_reason = $2,
		    provider_response = COALESCE($3::jsonb, provider_response),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	responseJSON, err := marshalResponse(response)
	if err != nil {
		return false, err
	}

	result, err := r.db.Pool().Exec(ctx, query, id, string(reason), responseJSON)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListStalePending returns pending transactions created before olderThan, oldest first
func (r *PostgresTransactionRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`

	rows, err := r.db.Pool().Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale transactions: %w", err)
	}
	defer rows.Close()

	var txns []*domain.PaymentTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale transactions: %w", err)
	}
	return txns, nil
}

// WithinTx runs fn inside a database transaction
func (r *PostgresTransactionRepository) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&postgresLedgerTx{q: tx})
	})
}

// postgresLedgerTx runs ledger statements on an open pgx transaction
type postgresLedgerTx struct {
	q database.Querier
}

func (t *postgresLedgerTx) MarkCompleted(ctx context.Context, id, providerPaymentID string, response map[string]any, paidAt time.Time) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = 'completed',
		    provider_payment_id = $2,
		    provider_response = $3::jsonb,
		    paid_at = $4,
		    updated_at = $4
		WHERE id = $1 AND status = 'pending'`

	responseJSON, err := marshalResponse(response)
	if err != nil {
		return false, err
	}

	result, err := t.q.Exec(ctx, query, id, nullString(providerPaymentID), responseJSON, paidAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction completed: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (t *postgresLedgerTx) GetOrganizationForUpdate(ctx context.Context, orgID string) (*domain.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = $1 FOR UPDATE`
	return scanOrganization(t.q.QueryRow(ctx, query, orgID))
}

func (t *postgresLedgerTx) UpdateSubscription(ctx context.Context, org *domain.Organization) error {
	return updateSubscription(ctx, t.q, org)
}

// scanTransaction scans a single transaction from a row
func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	var amount, status, provider, cycle string
	var initiatedBy, providerPaymentID, failureReason *string
	var responseJSON []byte

	err := row.Scan(
		&txn.ID,
		&txn.OrganizationID,
		&txn.PlanID,
		&initiatedBy,
		&amount,
		&txn.Currency,
		&status,
		&provider,
		&txn.ProviderOrderID,
		&providerPaymentID,
		&cycle,
		&responseJSON,
		&failureReason,
		&txn.PaidAt,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan payment transaction: %w", err)
	}

	txn.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	txn.Status = domain.TransactionStatus(status)
	txn.Provider = domain.Provider(provider)
	txn.BillingCycle = domain.BillingCycle(cycle)
	txn.InitiatedBy = derefString(initiatedBy)
	txn.ProviderPaymentID = derefString(providerPaymentID)
	txn.FailureReason = domain.Reason(derefString(failureReason))

	if len(responseJSON) > 0 {
		if err := json.Unmarshal(responseJSON, &txn.ProviderResponse); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provider_response: %w", err)
		}
	}
	return &txn, nil
}

// marshalResponse returns nil for a nil map so COALESCE keeps the stored value
func marshalResponse(response map[string]any) ([]byte, error) {
	if response == nil {
		return nil, nil
	}
	b, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider_response: %w", err)
	}
	return b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode
}
