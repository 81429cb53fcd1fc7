package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/pkg/logger"
	"github.com/prohmpiriya/subscription-payments/pkg/telemetry"
)

// Registry is the closed provider -> adapter map built once at startup
type Registry struct {
	adapters map[domain.Provider]Adapter
}

// NewRegistry fails unless every provider in domain.AllProviders has
// exactly one adapter.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	m := make(map[domain.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		p := a.Provider()
		if _, dup := m[p]; dup {
			return nil, fmt.Errorf("duplicate adapter for provider %s", p)
		}
		if _, err := domain.ParseProvider(string(p)); err != nil {
			return nil, fmt.Errorf("adapter for unknown provider %s", p)
		}
		m[p] = a
	}

	var missing []string
	for _, p := range domain.AllProviders() {
		if _, ok := m[p]; !ok {
			missing = append(missing, string(p))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no adapter for providers: %s", strings.Join(missing, ", "))
	}

	return &Registry{adapters: m}, nil
}

// DefaultAdapters returns the production adapter set
func DefaultAdapters(providerTimeout time.Duration) []Adapter {
	return []Adapter{
		NewRazorpayAdapter("", providerTimeout),
		NewStripeAdapter(nil),
		NewPayUAdapter(),
		NewPaytmAdapter(),
		NewCCAvenueAdapter(),
	}
}

// Get returns the adapter for p
func (r *Registry) Get(p domain.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, domain.ErrUnsupportedProvider
	}
	return a, nil
}

// ConfigStore is the read side of the gateway config store used for routing
type ConfigStore interface {
	GetActiveByProvider(ctx context.Context, orgID string, provider domain.Provider) (*domain.GatewayConfig, error)
	GetDefault(ctx context.Context, orgID string) (*domain.GatewayConfig, error)
}

// Router picks the gateway config for an organization and dispatches to its adapter
type Router struct {
	registry *Registry
	configs  ConfigStore
}

func NewRouter(registry *Registry, configs ConfigStore) *Router {
	return &Router{registry: registry, configs: configs}
}

// Resolve returns the active config for the explicit provider, or the
// organization's active default when provider is nil.
func (r *Router) Resolve(ctx context.Context, orgID string, provider *domain.Provider) (*domain.GatewayConfig, error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway.resolve", trace.WithAttributes(
		attribute.String("organization.id", orgID),
	))
	defer span.End()

	var (
		cfg *domain.GatewayConfig
		err error
	)
	if provider != nil {
		cfg, err = r.configs.GetActiveByProvider(ctx, orgID, *provider)
	} else {
		cfg, err = r.configs.GetDefault(ctx, orgID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrGatewayConfigNotFound) {
			return nil, domain.ErrNoActiveGateway
		}
		telemetry.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to load gateway config: %w", err)
	}
	if !cfg.IsActive {
		return nil, domain.ErrNoActiveGateway
	}

	adapter, err := r.registry.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if missing := cfg.MissingCredentials(adapter.RequiredCredentials()); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s missing %s", domain.ErrIncompleteCredentials, cfg.Provider, strings.Join(missing, ", "))
	}

	span.SetAttributes(attribute.String("payment.provider", string(cfg.Provider)))
	return cfg, nil
}

// Initiate dispatches to the adapter for cfg.Provider
func (r *Router) Initiate(ctx context.Context, cfg *domain.GatewayConfig, order *Order) (*InitiateResult, error) {
	adapter, err := r.registry.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway.initiate", trace.WithAttributes(
		attribute.String("payment.provider", string(cfg.Provider)),
		attribute.String("payment.order_id", order.OrderID),
	))
	defer span.End()

	result, err := adapter.Initiate(ctx, cfg, order)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	return result, nil
}

// Verify dispatches to the adapter for cfg.Provider
func (r *Router) Verify(ctx context.Context, cfg *domain.GatewayConfig, cb *Callback) (*VerifyResult, error) {
	adapter, err := r.registry.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway.verify", trace.WithAttributes(
		attribute.String("payment.provider", string(cfg.Provider)),
	))
	defer span.End()

	result, err := adapter.Verify(ctx, cfg, cb)
	if err != nil {
		telemetry.SetSpanError(span, err)
		logger.Get().Warn("callback verification failed",
			zap.String("provider", string(cfg.Provider)),
			zap.String("kind", domain.KindOf(err).String()),
			zap.Error(err),
		)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("payment.success", result.Success))
	return result, nil
}

// ExtractOrderID asks each adapter, in provider order, to find an order id
// in an unverified callback.
func (r *Router) ExtractOrderID(cb *Callback) (domain.Provider, string) {
	for _, p := range domain.AllProviders() {
		if id := r.registry.adapters[p].OrderID(cb); id != "" {
			return p, id
		}
	}
	return "", ""
}
