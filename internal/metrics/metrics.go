package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/subscription-payments/pkg/telemetry"
)

var (
	// Checkout counters
	CheckoutsInitiated *telemetry.Counter
	CheckoutsAbandoned *telemetry.Counter

	// Callback counters
	CallbacksReceived *telemetry.Counter
	PaymentsCompleted *telemetry.Counter
	PaymentsFailed    *telemetry.Counter

	// Histograms
	CallbackProcessingTime *telemetry.Histogram

	initOnce sync.Once
	initErr  error
)

// Init initializes all subscription payment metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	CheckoutsInitiated, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "subscription_checkouts_initiated_total",
		Description: "Total number of checkouts handed to a provider",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	CheckoutsAbandoned, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "subscription_checkouts_abandoned_total",
		Description: "Total number of pending checkouts swept as abandoned",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	CallbacksReceived, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "subscription_callbacks_received_total",
		Description: "Total number of provider callbacks received",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	PaymentsCompleted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "subscription_payments_completed_total",
		Description: "Total number of callbacks that ended in an active subscription",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	PaymentsFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "subscription_payments_failed_total",
		Description: "Total number of callbacks rejected, by reason",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	CallbackProcessingTime, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "subscription_callback_processing_seconds",
		Description: "Callback processing duration",
		Unit:        "s",
	}, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}) // 10ms to 5s
	if err != nil {
		return err
	}

	return nil
}

// RecordCheckoutInitiated records a checkout handed to a provider
func RecordCheckoutInitiated(ctx context.Context, provider, billingCycle string) {
	if CheckoutsInitiated != nil {
		CheckoutsInitiated.Inc(ctx,
			attribute.String("provider", provider),
			attribute.String("billing_cycle", billingCycle),
		)
	}
}

// RecordCheckoutsAbandoned records checkouts swept by the expiry worker
func RecordCheckoutsAbandoned(ctx context.Context, n int) {
	if CheckoutsAbandoned != nil && n > 0 {
		CheckoutsAbandoned.Add(ctx, int64(n))
	}
}

// RecordCallback records one callback and its outcome. kind is success or failure
// and names the endpoint, not the result.
func RecordCallback(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if CallbacksReceived != nil {
		CallbacksReceived.Inc(ctx, attribute.String("kind", kind))
	}

	if success {
		if PaymentsCompleted != nil {
			PaymentsCompleted.Inc(ctx)
		}
	} else if PaymentsFailed != nil {
		PaymentsFailed.Inc(ctx,
			attribute.String("kind", kind),
			attribute.String("reason", reason),
		)
	}

	if CallbackProcessingTime != nil {
		CallbackProcessingTime.Record(ctx, duration.Seconds(),
			attribute.String("kind", kind),
			attribute.Bool("success", success),
		)
	}
}
