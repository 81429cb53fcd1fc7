// Package notify tells downstream services that a subscription was activated.
// Delivery is best effort: a failed notification never affects the payment.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/pkg/logger"
	"github.com/prohmpiriya/subscription-payments/pkg/retry"
)

const (
	DefaultTopic       = "subscription-events"
	DefaultServiceName = "subscription-payments"
	DefaultTimeout     = 10 * time.Second

	EventTypeSubscriptionActivated = "subscription.activated"
)

// SubscriptionActivatedEvent is published after a payment activates a subscription
type SubscriptionActivatedEvent struct {
	EventID            string              `json:"event_id"`
	EventType          string              `json:"event_type"`
	OrganizationID     string              `json:"organization_id"`
	TransactionID      string              `json:"transaction_id"`
	PlanID             string              `json:"plan_id"`
	PlanName           string              `json:"plan_name"`
	BillingCycle       domain.BillingCycle `json:"billing_cycle"`
	Amount             decimal.Decimal     `json:"amount"`
	Currency           string              `json:"currency"`
	Provider           domain.Provider     `json:"provider"`
	SubscriptionEndsAt time.Time           `json:"subscription_ends_at"`
	OccurredAt         time.Time           `json:"occurred_at"`
}

// NewSubscriptionActivatedEvent builds the event from the committed state
func NewSubscriptionActivatedEvent(txn *domain.PaymentTransaction, org *domain.Organization) *SubscriptionActivatedEvent {
	evt := &SubscriptionActivatedEvent{
		EventID:        uuid.New().String(),
		EventType:      EventTypeSubscriptionActivated,
		OrganizationID: org.ID,
		TransactionID:  txn.ID,
		PlanID:         txn.PlanID,
		PlanName:       org.SubscriptionPlan,
		BillingCycle:   txn.BillingCycle,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		Provider:       txn.Provider,
		OccurredAt:     time.Now().UTC(),
	}
	if org.SubscriptionEndsAt != nil {
		evt.SubscriptionEndsAt = *org.SubscriptionEndsAt
	}
	return evt
}

// Notifier emits subscription events
type Notifier interface {
	// SubscriptionActivated schedules delivery and returns immediately
	SubscriptionActivated(ctx context.Context, event *SubscriptionActivatedEvent)

	// Close waits for in-flight deliveries
	Close()
}

// Publisher is the subset of the kafka producer used here
type Publisher interface {
	ProduceJSON(ctx context.Context, topic, key string, data any, headers map[string]string) error
}

// KafkaNotifierConfig holds configuration for KafkaNotifier
type KafkaNotifierConfig struct {
	Topic       string
	ServiceName string
	// Timeout bounds one delivery including retries
	Timeout time.Duration
	Retry   *retry.Config
}

// KafkaNotifier publishes events to Kafka on a detached goroutine
type KafkaNotifier struct {
	publisher   Publisher
	topic       string
	serviceName string
	timeout     time.Duration
	retrier     *retry.Retrier
	wg          sync.WaitGroup
}

// NewKafkaNotifier creates a new Kafka-backed notifier
func NewKafkaNotifier(publisher Publisher, cfg *KafkaNotifierConfig) *KafkaNotifier {
	if cfg == nil {
		cfg = &KafkaNotifierConfig{}
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &KafkaNotifier{
		publisher:   publisher,
		topic:       topic,
		serviceName: serviceName,
		timeout:     timeout,
		retrier:     retry.New(cfg.Retry),
	}
}

// SubscriptionActivated publishes in the background. The request context is
// only used for its values; cancellation of the request does not stop delivery.
func (n *KafkaNotifier) SubscriptionActivated(ctx context.Context, event *SubscriptionActivatedEvent) {
	if event == nil {
		return
	}

	headers := map[string]string{
		"event_type":   event.EventType,
		"event_id":     event.EventID,
		"source":       n.serviceName,
		"content_type": "application/json",
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		attempts, err := n.retrier.Do(deliverCtx, func(ctx context.Context) error {
			return n.publisher.ProduceJSON(ctx, n.topic, event.OrganizationID, event, headers)
		}, func(attempt int, err error, next time.Duration) {
			logger.Get().Debug("retrying subscription event",
				zap.String("event_id", event.EventID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		})
		if err != nil {
			logger.Get().Error("failed to publish subscription event",
				zap.String("event_id", event.EventID),
				zap.String("organization_id", event.OrganizationID),
				zap.String("transaction_id", event.TransactionID),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			return
		}

		logger.Get().Info("subscription event published",
			zap.String("event_id", event.EventID),
			zap.String("organization_id", event.OrganizationID),
			zap.String("topic", n.topic),
		)
	}()
}

// Close waits for in-flight deliveries to finish or time out
func (n *KafkaNotifier) Close() {
	n.wg.Wait()
}

// NoOpNotifier is used when Kafka is not configured
type NoOpNotifier struct{}

func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

func (n *NoOpNotifier) SubscriptionActivated(ctx context.Context, event *SubscriptionActivatedEvent) {}

func (n *NoOpNotifier) Close() {}
