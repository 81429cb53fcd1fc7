package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
)

// MemoryStore keeps every table in memory behind one mutex.
// This is useful for testing and development.
type MemoryStore struct {
	mu      sync.Mutex
	txns    map[string]*domain.PaymentTransaction
	orders  map[string]string // provider order ID -> transaction ID
	orgs    map[string]*domain.Organization
	plans   map[string]*domain.SubscriptionPlan
	configs map[string]*domain.GatewayConfig // orgID|provider -> config
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txns:    make(map[string]*domain.PaymentTransaction),
		orders:  make(map[string]string),
		orgs:    make(map[string]*domain.Organization),
		plans:   make(map[string]*domain.SubscriptionPlan),
		configs: make(map[string]*domain.GatewayConfig),
	}
}

func (s *MemoryStore) Transactions() *MemoryTransactionRepository {
	return &MemoryTransactionRepository{s: s}
}

func (s *MemoryStore) Organizations() *MemoryOrganizationRepository {
	return &MemoryOrganizationRepository{s: s}
}

func (s *MemoryStore) Plans() *MemoryPlanRepository {
	return &MemoryPlanRepository{s: s}
}

func (s *MemoryStore) GatewayConfigs() *MemoryGatewayConfigRepository {
	return &MemoryGatewayConfigRepository{s: s}
}

// MemoryTransactionRepository implements TransactionRepository on a MemoryStore
type MemoryTransactionRepository struct {
	s *MemoryStore
}

func (r *MemoryTransactionRepository) Create(ctx context.Context, txn *domain.PaymentTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.orders[txn.ProviderOrderID]; exists {
		return domain.ErrDuplicateOrderID
	}
	if _, exists := r.s.txns[txn.ID]; exists {
		return domain.ErrDuplicateOrderID
	}

	r.s.txns[txn.ID] = txn.Clone()
	r.s.orders[txn.ProviderOrderID] = txn.ID
	return nil
}

func (r *MemoryTransactionRepository) GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	txn, ok := r.s.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return txn.Clone(), nil
}

func (r *MemoryTransactionRepository) GetByProviderOrderID(ctx context.Context, orderID string) (*domain.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.orders[orderID]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return r.s.txns[id].Clone(), nil
}

func (r *MemoryTransactionRepository) AttachProviderOrderID(ctx context.Context, id, orderID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	txn, ok := r.s.txns[id]
	if !ok || txn.Status != domain.TransactionPending {
		return domain.ErrTransactionNotFound
	}
	if owner, exists := r.s.orders[orderID]; exists {
		if owner == id {
			return nil
		}
		return domain.ErrDuplicateOrderID
	}

	delete(r.s.orders, txn.ProviderOrderID)
	txn.ProviderOrderID = orderID
	txn.UpdatedAt = time.Now().UTC()
	r.s.orders[orderID] = id
	return nil
}

func (r *MemoryTransactionRepository) MarkFailed(ctx context.Context, id string, reason domain.Reason, response map[string]any) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	txn, ok := r.s.txns[id]
	if !ok {
		return false, nil
	}
	if err := txn.Fail(reason, response, time.Now().UTC()); err != nil {
		return false, nil
	}
	return true, nil
}

func (r *MemoryTransactionRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var stale []*domain.PaymentTransaction
	for _, txn := range r.s.txns {
		if txn.Status == domain.TransactionPending && txn.CreatedAt.Before(olderThan) {
			stale = append(stale, txn.Clone())
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// WithinTx holds the store lock for the whole of fn and restores the
// transaction and organization tables if fn fails. fn must only use tx.
func (r *MemoryTransactionRepository) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	txnSnapshot := make(map[string]*domain.PaymentTransaction, len(r.s.txns))
	for id, txn := range r.s.txns {
		txnSnapshot[id] = txn.Clone()
	}
	orgSnapshot := make(map[string]*domain.Organization, len(r.s.orgs))
	for id, org := range r.s.orgs {
		orgSnapshot[id] = org.Clone()
	}

	if err := fn(&memoryLedgerTx{s: r.s}); err != nil {
		r.s.txns = txnSnapshot
		r.s.orgs = orgSnapshot
		return err
	}
	return nil
}

// memoryLedgerTx runs with the store lock already held
type memoryLedgerTx struct {
	s *MemoryStore
}

func (t *memoryLedgerTx) MarkCompleted(ctx context.Context, id, providerPaymentID string, response map[string]any, paidAt time.Time) (bool, error) {
	txn, ok := t.s.txns[id]
	if !ok {
		return false, nil
	}
	if err := txn.Complete(providerPaymentID, response, paidAt); err != nil {
		return false, nil
	}
	return true, nil
}

func (t *memoryLedgerTx) GetOrganizationForUpdate(ctx context.Context, orgID string) (*domain.Organization, error) {
	org, ok := t.s.orgs[orgID]
	if !ok {
		return nil, domain.ErrOrganizationNotFound
	}
	return org.Clone(), nil
}

func (t *memoryLedgerTx) UpdateSubscription(ctx context.Context, org *domain.Organization) error {
	if _, ok := t.s.orgs[org.ID]; !ok {
		return domain.ErrOrganizationNotFound
	}
	t.s.orgs[org.ID] = org.Clone()
	return nil
}

// MemoryOrganizationRepository implements OrganizationRepository on a MemoryStore
type MemoryOrganizationRepository struct {
	s *MemoryStore
}

func (r *MemoryOrganizationRepository) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	org, ok := r.s.orgs[id]
	if !ok {
		return nil, domain.ErrOrganizationNotFound
	}
	return org.Clone(), nil
}

// Put seeds or replaces an organization
func (r *MemoryOrganizationRepository) Put(org *domain.Organization) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orgs[org.ID] = org.Clone()
}

// MemoryPlanRepository implements PlanRepository on a MemoryStore
type MemoryPlanRepository struct {
	s *MemoryStore
}

func (r *MemoryPlanRepository) GetPlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	plan, ok := r.s.plans[id]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	p := *plan
	return &p, nil
}

func (r *MemoryPlanRepository) GetActivePlan(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	plan, err := r.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	return activeOnly(plan)
}

// Put seeds or replaces a plan
func (r *MemoryPlanRepository) Put(plan *domain.SubscriptionPlan) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p := *plan
	r.s.plans[plan.ID] = &p
}

// MemoryGatewayConfigRepository implements GatewayConfigRepository on a MemoryStore
type MemoryGatewayConfigRepository struct {
	s *MemoryStore
}

func configKey(orgID string, provider domain.Provider) string {
	return orgID + "|" + string(provider)
}

func (r *MemoryGatewayConfigRepository) GetActiveByProvider(ctx context.Context, orgID string, provider domain.Provider) (*domain.GatewayConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cfg, ok := r.s.configs[configKey(orgID, provider)]
	if !ok || !cfg.IsActive {
		return nil, domain.ErrGatewayConfigNotFound
	}
	return cloneConfig(cfg), nil
}

func (r *MemoryGatewayConfigRepository) GetDefault(ctx context.Context, orgID string) (*domain.GatewayConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, cfg := range r.s.configs {
		if cfg.OrganizationID == orgID && cfg.IsDefault && cfg.IsActive {
			return cloneConfig(cfg), nil
		}
	}
	return nil, domain.ErrGatewayConfigNotFound
}

func (r *MemoryGatewayConfigRepository) Upsert(ctx context.Context, cfg *domain.GatewayConfig) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if cfg.IsDefault {
		for _, other := range r.s.configs {
			if other.OrganizationID == cfg.OrganizationID && other.Provider != cfg.Provider {
				other.IsDefault = false
			}
		}
	}
	r.s.configs[configKey(cfg.OrganizationID, cfg.Provider)] = cloneConfig(cfg)
	return nil
}

func cloneConfig(cfg *domain.GatewayConfig) *domain.GatewayConfig {
	c := *cfg
	c.Credentials = make(map[string]string, len(cfg.Credentials))
	for k, v := range cfg.Credentials {
		c.Credentials[k] = v
	}
	return &c
}
