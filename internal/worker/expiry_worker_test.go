package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/internal/repository"
)

func seedTransaction(t *testing.T, txns *repository.MemoryTransactionRepository, orderID string, createdAt time.Time) *domain.PaymentTransaction {
	t.Helper()
	txn, err := domain.NewPaymentTransaction("org-1", "plan-1", decimal.NewFromInt(999), "INR", domain.BillingCycleMonthly, domain.ProviderPayUMoney, orderID)
	require.NoError(t, err)
	txn.CreatedAt = createdAt
	require.NoError(t, txns.Create(context.Background(), txn))
	return txn
}

func TestExpiryWorker_RunOnceAbandonsStalePending(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	txns := repository.NewMemoryStore().Transactions()

	stale := seedTransaction(t, txns, "SUB1", now.Add(-25*time.Hour))
	fresh := seedTransaction(t, txns, "SUB2", now.Add(-time.Hour))
	completed := seedTransaction(t, txns, "SUB3", now.Add(-48*time.Hour))
	require.NoError(t, txns.WithinTx(context.Background(), func(tx repository.LedgerTx) error {
		_, err := tx.MarkCompleted(context.Background(), completed.ID, "pay_3", nil, now)
		return err
	}))

	w := NewExpiryWorker(txns, &ExpiryWorkerConfig{PendingTTL: 24 * time.Hour, BatchSize: 10})
	w.now = func() time.Time { return now }

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := txns.GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionFailed, got.Status)
	assert.Equal(t, domain.ReasonAbandoned, got.FailureReason)

	got, err = txns.GetByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionPending, got.Status)

	got, err = txns.GetByID(context.Background(), completed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, got.Status)

	stats := w.GetStats()
	assert.Equal(t, int64(1), stats.TotalAbandoned)
	assert.Equal(t, 1, stats.LastExpiredCount)
	assert.Equal(t, now, stats.LastScanTime)

	n, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// racingLedger settles every listed transaction before the sweeper marks it
type racingLedger struct {
	*repository.MemoryTransactionRepository
}

func (r racingLedger) MarkFailed(ctx context.Context, id string, reason domain.Reason, response map[string]any) (bool, error) {
	if err := r.WithinTx(ctx, func(tx repository.LedgerTx) error {
		_, err := tx.MarkCompleted(ctx, id, "pay_late", nil, time.Now())
		return err
	}); err != nil {
		return false, err
	}
	return r.MemoryTransactionRepository.MarkFailed(ctx, id, reason, response)
}

func TestExpiryWorker_LateCallbackWins(t *testing.T) {
	now := time.Now()
	txns := repository.NewMemoryStore().Transactions()
	txn := seedTransaction(t, txns, "SUB1", now.Add(-48*time.Hour))

	w := NewExpiryWorker(racingLedger{txns}, nil)
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(1), w.GetStats().TotalSkipped)

	got, err := txns.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, got.Status)
}

type failingLedger struct{}

func (failingLedger) ListStalePending(context.Context, time.Time, int) ([]*domain.PaymentTransaction, error) {
	return nil, errors.New("db down")
}

func (failingLedger) MarkFailed(context.Context, string, domain.Reason, map[string]any) (bool, error) {
	return false, nil
}

func TestExpiryWorker_ListError(t *testing.T) {
	w := NewExpiryWorker(failingLedger{}, nil)
	_, err := w.RunOnce(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestExpiryWorker_StartStop(t *testing.T) {
	txns := repository.NewMemoryStore().Transactions()
	seedTransaction(t, txns, "SUB1", time.Now().Add(-48*time.Hour))

	w := NewExpiryWorker(txns, &ExpiryWorkerConfig{ScanInterval: time.Hour})
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		return w.GetStats().TotalAbandoned == 1
	}, time.Second, 10*time.Millisecond)

	w.Stop()
	assert.False(t, w.GetStats().IsRunning)
	w.Stop()
}
