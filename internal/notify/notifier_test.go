package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/pkg/retry"
)

type published struct {
	topic   string
	key     string
	data    any
	headers map[string]string
}

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	records  []published
}

func (f *fakePublisher) ProduceJSON(ctx context.Context, topic, key string, data any, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	f.records = append(f.records, published{topic: topic, key: key, data: data, headers: headers})
	return nil
}

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
}

func sampleEvent() *SubscriptionActivatedEvent {
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	txn := &domain.PaymentTransaction{
		ID:           "txn-1",
		PlanID:       "plan-1",
		Amount:       decimal.RequireFromString("999.00"),
		Currency:     "INR",
		BillingCycle: domain.BillingCycleMonthly,
		Provider:     domain.ProviderPayUMoney,
	}
	org := &domain.Organization{ID: "org-1", SubscriptionPlan: "Pro", SubscriptionEndsAt: &end}
	return NewSubscriptionActivatedEvent(txn, org)
}

func TestNewSubscriptionActivatedEvent(t *testing.T) {
	evt := sampleEvent()

	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, EventTypeSubscriptionActivated, evt.EventType)
	assert.Equal(t, "org-1", evt.OrganizationID)
	assert.Equal(t, "Pro", evt.PlanName)
	assert.Equal(t, domain.BillingCycleMonthly, evt.BillingCycle)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), evt.SubscriptionEndsAt)
}

func TestKafkaNotifier_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	n := NewKafkaNotifier(pub, &KafkaNotifierConfig{Retry: fastRetry()})

	evt := sampleEvent()
	n.SubscriptionActivated(context.Background(), evt)
	n.Close()

	require.Len(t, pub.records, 1)
	rec := pub.records[0]
	assert.Equal(t, DefaultTopic, rec.topic)
	assert.Equal(t, "org-1", rec.key)
	assert.Same(t, evt, rec.data)
	assert.Equal(t, EventTypeSubscriptionActivated, rec.headers["event_type"])
	assert.Equal(t, evt.EventID, rec.headers["event_id"])
	assert.Equal(t, DefaultServiceName, rec.headers["source"])
}

func TestKafkaNotifier_RetriesTransientFailures(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	n := NewKafkaNotifier(pub, &KafkaNotifierConfig{Topic: "custom", Retry: fastRetry()})

	n.SubscriptionActivated(context.Background(), sampleEvent())
	n.Close()

	assert.Equal(t, 3, pub.calls)
	require.Len(t, pub.records, 1)
	assert.Equal(t, "custom", pub.records[0].topic)
}

func TestKafkaNotifier_GivesUpSilently(t *testing.T) {
	pub := &fakePublisher{failures: 100}
	n := NewKafkaNotifier(pub, &KafkaNotifierConfig{Retry: fastRetry()})

	n.SubscriptionActivated(context.Background(), sampleEvent())
	n.Close()

	assert.Equal(t, 3, pub.calls)
	assert.Empty(t, pub.records)
}

func TestKafkaNotifier_SurvivesCanceledRequestContext(t *testing.T) {
	pub := &fakePublisher{}
	n := NewKafkaNotifier(pub, &KafkaNotifierConfig{Retry: fastRetry()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.SubscriptionActivated(ctx, sampleEvent())
	n.Close()

	assert.Len(t, pub.records, 1)
}

func TestNoOpNotifier(t *testing.T) {
	var n Notifier = NewNoOpNotifier()
	n.SubscriptionActivated(context.Background(), sampleEvent())
	n.Close()
}
