package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/internal/metrics"
	"github.com/prohmpiriya/subscription-payments/pkg/logger"
)

// PendingLedger is the part of the transaction ledger the sweeper needs
type PendingLedger interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.PaymentTransaction, error)
	MarkFailed(ctx context.Context, id string, reason domain.Reason, response map[string]any) (bool, error)
}

// ExpiryWorkerConfig contains configuration for the expiry worker
type ExpiryWorkerConfig struct {
	// ScanInterval is the interval between scans for abandoned checkouts
	ScanInterval time.Duration
	// BatchSize is the number of transactions to process in each scan
	BatchSize int
	// PendingTTL is how long a checkout may stay pending before it is abandoned
	PendingTTL time.Duration
}

// DefaultExpiryWorkerConfig returns default configuration
func DefaultExpiryWorkerConfig() *ExpiryWorkerConfig {
	return &ExpiryWorkerConfig{
		ScanInterval: 5 * time.Minute,
		BatchSize:    100,
		PendingTTL:   24 * time.Hour,
	}
}

// ExpiryWorker marks checkouts that never received a callback as failed
// with reason abandoned. Completion and expiry race through the same
// guarded transition, so a late callback and the sweeper cannot both win.
type ExpiryWorker struct {
	ledger  PendingLedger
	config  *ExpiryWorkerConfig
	log     *logger.Logger
	now     func() time.Time
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Stats
	totalAbandoned   int64
	totalSkipped     int64
	lastScanTime     time.Time
	lastExpiredCount int
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(ledger PendingLedger, config *ExpiryWorkerConfig) *ExpiryWorker {
	defaults := DefaultExpiryWorkerConfig()
	if config == nil {
		config = defaults
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = defaults.ScanInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PendingTTL <= 0 {
		config.PendingTTL = defaults.PendingTTL
	}

	return &ExpiryWorker{
		ledger: ledger,
		config: config,
		log:    logger.Get(),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start starts the expiry worker
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting expiry worker",
		zap.Duration("scan_interval", w.config.ScanInterval),
		zap.Duration("pending_ttl", w.config.PendingTTL),
		zap.Int("batch_size", w.config.BatchSize),
	)

	w.wg.Add(1)
	go w.scan(ctx)

	return nil
}

// Stop stops the expiry worker
func (w *ExpiryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping expiry worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Expiry worker stopped")
}

// scan periodically sweeps abandoned checkouts
func (w *ExpiryWorker) scan(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		w.log.Error("Failed to sweep abandoned checkouts", zap.Error(err))
	}
}

// RunOnce processes one batch and returns how many transactions it abandoned
func (w *ExpiryWorker) RunOnce(ctx context.Context) (int, error) {
	now := w.now()
	cutoff := now.Add(-w.config.PendingTTL)

	w.mu.Lock()
	w.lastScanTime = now
	w.mu.Unlock()

	stale, err := w.ledger.ListStalePending(ctx, cutoff, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale pending transactions: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	w.log.Info("Found abandoned checkouts to process", zap.Int("count", len(stale)))

	var abandoned, skipped int
	for _, txn := range stale {
		applied, err := w.ledger.MarkFailed(ctx, txn.ID, domain.ReasonAbandoned, nil)
		if err != nil {
			w.log.Error("Failed to abandon transaction",
				zap.String("transaction_id", txn.ID),
				zap.Error(err),
			)
			continue
		}
		if !applied {
			// Settled by a callback since it was listed
			skipped++
			continue
		}
		abandoned++
		w.log.Info("Abandoned checkout",
			zap.String("transaction_id", txn.ID),
			zap.String("organization_id", txn.OrganizationID),
			zap.String("order_id", txn.ProviderOrderID),
			zap.String("provider", string(txn.Provider)),
			zap.Time("created_at", txn.CreatedAt),
		)
	}

	w.mu.Lock()
	w.totalAbandoned += int64(abandoned)
	w.totalSkipped += int64(skipped)
	w.lastExpiredCount = abandoned
	w.mu.Unlock()

	metrics.RecordCheckoutsAbandoned(ctx, abandoned)

	return abandoned, nil
}

// GetStats returns worker statistics
func (w *ExpiryWorker) GetStats() *ExpiryWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ExpiryWorkerStats{
		IsRunning:        w.running,
		TotalAbandoned:   w.totalAbandoned,
		TotalSkipped:     w.totalSkipped,
		LastScanTime:     w.lastScanTime,
		LastExpiredCount: w.lastExpiredCount,
	}
}

// ExpiryWorkerStats contains worker statistics
type ExpiryWorkerStats struct {
	IsRunning        bool      `json:"is_running"`
	TotalAbandoned   int64     `json:"total_abandoned"`
	TotalSkipped     int64     `json:"total_skipped"`
	LastScanTime     time.Time `json:"last_scan_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}
