package di

import (
	"fmt"

	"github.com/prohmpiriya/subscription-payments/internal/gateway"
	"github.com/prohmpiriya/subscription-payments/internal/handler"
	"github.com/prohmpiriya/subscription-payments/internal/notify"
	"github.com/prohmpiriya/subscription-payments/internal/repository"
	"github.com/prohmpiriya/subscription-payments/internal/service"
	"github.com/prohmpiriya/subscription-payments/internal/subscription"
	"github.com/prohmpiriya/subscription-payments/internal/worker"
	"github.com/prohmpiriya/subscription-payments/pkg/config"
	"github.com/prohmpiriya/subscription-payments/pkg/database"
	"github.com/prohmpiriya/subscription-payments/pkg/kafka"
	"github.com/prohmpiriya/subscription-payments/pkg/logger"
	"github.com/prohmpiriya/subscription-payments/pkg/redis"
)

// Container holds all dependencies for the subscription payment service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	TransactionRepo   repository.TransactionRepository
	GatewayConfigRepo repository.GatewayConfigRepository
	OrganizationRepo  repository.OrganizationRepository
	PlanRepo          repository.PlanRepository

	// Gateways
	GatewayRouter *gateway.Router

	// Services
	Notifier                   notify.Notifier
	SubscriptionPaymentService service.SubscriptionPaymentService

	// Handlers
	HealthHandler              *handler.HealthHandler
	SubscriptionPaymentHandler *handler.SubscriptionPaymentHandler

	// Workers
	ExpiryWorker *worker.ExpiryWorker
}

// ContainerConfig contains configuration for building the container.
// DB, Redis and KafkaProducer are optional.
type ContainerConfig struct {
	Config        *config.Config
	DB            *database.PostgresDB
	Redis         *redis.Client
	KafkaProducer *kafka.Producer
	// Adapters overrides the production adapter set
	Adapters []gateway.Adapter
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	appCfg := cfg.Config
	log := logger.Get()

	c := &Container{
		DB:    cfg.DB,
		Redis: cfg.Redis,
	}

	if c.DB != nil {
		c.TransactionRepo = repository.NewPostgresTransactionRepository(c.DB)
		c.GatewayConfigRepo = repository.NewPostgresGatewayConfigRepository(c.DB)
		c.OrganizationRepo = repository.NewPostgresOrganizationRepository(c.DB)
		c.PlanRepo = repository.NewPostgresPlanRepository(c.DB)
		log.Info("Using PostgreSQL repositories")
	} else {
		store := repository.NewMemoryStore()
		c.TransactionRepo = store.Transactions()
		c.GatewayConfigRepo = store.GatewayConfigs()
		c.OrganizationRepo = store.Organizations()
		c.PlanRepo = store.Plans()
		log.Warn("Using in-memory repositories (data will not persist)")
	}

	if c.Redis != nil {
		c.PlanRepo = repository.NewCachedPlanRepository(c.PlanRepo, c.Redis, appCfg.Redis.PlanCacheTTL)
	}

	adapters := cfg.Adapters
	if len(adapters) == 0 {
		adapters = gateway.DefaultAdapters(appCfg.Payment.ProviderTimeout)
	}
	registry, err := gateway.NewRegistry(adapters...)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway registry: %w", err)
	}
	c.GatewayRouter = gateway.NewRouter(registry, c.GatewayConfigRepo)

	orderIDs, err := gateway.NewOrderIDGenerator(appCfg.Payment.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create order id generator: %w", err)
	}

	if cfg.KafkaProducer != nil {
		c.Notifier = notify.NewKafkaNotifier(cfg.KafkaProducer, &notify.KafkaNotifierConfig{
			Topic:       appCfg.Kafka.SubscriptionTopic,
			ServiceName: appCfg.App.Name,
		})
	} else {
		c.Notifier = notify.NewNoOpNotifier()
	}

	c.SubscriptionPaymentService = service.NewSubscriptionPaymentService(
		c.GatewayRouter,
		c.TransactionRepo,
		c.OrganizationRepo,
		c.PlanRepo,
		subscription.NewStateMachine(nil),
		c.Notifier,
		orderIDs,
		&service.SubscriptionPaymentServiceConfig{
			Currency:           appCfg.Payment.Currency,
			SuccessCallbackURL: appCfg.Payment.SuccessCallbackURL(),
			FailureCallbackURL: appCfg.Payment.FailureCallbackURL(),
			ReturnURL:          appCfg.Payment.FrontendSuccessURL,
			CancelURL:          appCfg.Payment.FrontendFailureURL,
		},
	)
	c.SubscriptionPaymentHandler = handler.NewSubscriptionPaymentHandler(
		c.SubscriptionPaymentService,
		appCfg.Payment.FrontendSuccessURL,
		appCfg.Payment.FrontendFailureURL,
	)

	// Typed nils must not reach the health handler as non-nil interfaces
	var dbCheck, redisCheck handler.HealthChecker
	if c.DB != nil {
		dbCheck = c.DB
	}
	if c.Redis != nil {
		redisCheck = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(dbCheck, redisCheck)

	c.ExpiryWorker = worker.NewExpiryWorker(c.TransactionRepo, &worker.ExpiryWorkerConfig{
		ScanInterval: appCfg.Sweeper.ScanInterval,
		BatchSize:    appCfg.Sweeper.BatchSize,
		PendingTTL:   appCfg.Sweeper.PendingTTL,
	})

	return c, nil
}

// Close flushes in-flight notifications
func (c *Container) Close() {
	if c.Notifier != nil {
		c.Notifier.Close()
	}
}
