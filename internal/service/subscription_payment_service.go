package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/internal/gateway"
	"github.com/prohmpiriya/subscription-payments/internal/metrics"
	"github.com/prohmpiriya/subscription-payments/internal/notify"
	"github.com/prohmpiriya/subscription-payments/internal/repository"
	"github.com/prohmpiriya/subscription-payments/internal/subscription"
	"github.com/prohmpiriya/subscription-payments/pkg/logger"
	"github.com/prohmpiriya/subscription-payments/pkg/telemetry"
)

// SubscriptionPaymentService starts subscription checkouts and settles
// provider callbacks against the ledger
type SubscriptionPaymentService interface {
	// Initiate creates a pending transaction and the provider checkout payload
	Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error)

	// HandleSuccessCallback verifies a provider callback and, when it holds
	// up, completes the transaction and activates the subscription
	HandleSuccessCallback(ctx context.Context, cb *gateway.Callback) *CallbackOutcome

	// HandleFailureCallback marks the transaction failed
	HandleFailureCallback(ctx context.Context, cb *gateway.Callback) *CallbackOutcome
}

// InitiateRequest represents a request to start a subscription checkout
type InitiateRequest struct {
	OrganizationID string
	PlanID         string
	BillingCycle   string
	// Provider optionally overrides the organization's default gateway
	Provider string
	Customer gateway.Customer

	// InitiatedBy and CallerOrganizationID come from the access token
	InitiatedBy          string
	CallerOrganizationID string
}

// InitiateResponse is returned unmodified to the client
type InitiateResponse struct {
	TransactionID string
	OrderID       string
	Provider      domain.Provider
	Method        gateway.Method
	PaymentURL    string
	PaymentKey    string
	FormData      map[string]string
	Amount        decimal.Decimal
	Currency      string
	BillingCycle  domain.BillingCycle
}

// CallbackOutcome tells the handler where to send the browser
type CallbackOutcome struct {
	Success bool
	OrderID string
	Reason  domain.Reason
}

// SubscriptionPaymentServiceConfig holds checkout settings
type SubscriptionPaymentServiceConfig struct {
	Currency string

	// Callback endpoints posted to by form and inline providers
	SuccessCallbackURL string
	FailureCallbackURL string

	// Frontend pages hosted checkouts return the browser to
	ReturnURL string
	CancelURL string
}

// OrderIDMinter mints provider order ids
type OrderIDMinter interface {
	Next() string
}

type subscriptionPaymentService struct {
	router   *gateway.Router
	txns     repository.TransactionRepository
	orgs     repository.OrganizationRepository
	plans    repository.PlanRepository
	machine  *subscription.StateMachine
	notifier notify.Notifier
	orderIDs OrderIDMinter
	config   *SubscriptionPaymentServiceConfig
}

// NewSubscriptionPaymentService creates a new SubscriptionPaymentService
func NewSubscriptionPaymentService(
	router *gateway.Router,
	txns repository.TransactionRepository,
	orgs repository.OrganizationRepository,
	plans repository.PlanRepository,
	machine *subscription.StateMachine,
	notifier notify.Notifier,
	orderIDs OrderIDMinter,
	config *SubscriptionPaymentServiceConfig,
) SubscriptionPaymentService {
	if config == nil {
		config = &SubscriptionPaymentServiceConfig{}
	}
	if config.Currency == "" {
		config.Currency = "INR"
	}
	if machine == nil {
		machine = subscription.NewStateMachine(nil)
	}
	if notifier == nil {
		notifier = notify.NewNoOpNotifier()
	}

	return &subscriptionPaymentService{
		router:   router,
		txns:     txns,
		orgs:     orgs,
		plans:    plans,
		machine:  machine,
		notifier: notifier,
		orderIDs: orderIDs,
		config:   config,
	}
}

// Initiate validates the plan and cycle, records a pending transaction and
// asks the organization's gateway for a checkout payload
func (s *subscriptionPaymentService) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error) {
	if req == nil {
		return nil, domain.ValidationError("INVALID_REQUEST", "request is required", nil)
	}

	cycle, err := domain.ParseBillingCycle(req.BillingCycle)
	if err != nil {
		return nil, err
	}

	plan, err := s.plans.GetActivePlan(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, domain.ErrPlanNotFound) {
			return nil, domain.ErrInvalidPlan
		}
		return nil, err
	}

	amount := plan.PriceFor(cycle)
	if !amount.IsPositive() {
		return nil, domain.ErrNonPositivePrice
	}

	if req.CallerOrganizationID != "" && req.CallerOrganizationID != req.OrganizationID {
		return nil, domain.ErrOrganizationForbidden
	}
	if _, err := s.orgs.GetByID(ctx, req.OrganizationID); err != nil {
		if errors.Is(err, domain.ErrOrganizationNotFound) {
			return nil, domain.ErrUnknownOrganization
		}
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}

	var provider *domain.Provider
	if req.Provider != "" {
		p, err := domain.ParseProvider(req.Provider)
		if err != nil {
			return nil, err
		}
		provider = &p
	}

	cfg, err := s.router.Resolve(ctx, req.OrganizationID, provider)
	if err != nil {
		return nil, err
	}

	currency := plan.Currency
	if currency == "" {
		currency = s.config.Currency
	}

	txn, err := domain.NewPaymentTransaction(req.OrganizationID, plan.ID, amount, currency, cycle, cfg.Provider, s.orderIDs.Next())
	if err != nil {
		return nil, err
	}
	txn.InitiatedBy = req.InitiatedBy

	if err := s.txns.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	order := &gateway.Order{
		TransactionID:  txn.ID,
		OrderID:        txn.ProviderOrderID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		BillingCycle:   cycle,
		OrganizationID: txn.OrganizationID,
		PlanID:         plan.ID,
		PlanName:       plan.Name,
		Customer:       req.Customer,
		SuccessURL:     s.config.SuccessCallbackURL,
		FailureURL:     s.config.FailureCallbackURL,
		ReturnURL:      s.config.ReturnURL,
		CancelURL:      s.config.CancelURL,
	}

	// The pending row is left for the expiry sweeper when the provider call fails
	result, err := s.router.Initiate(ctx, cfg, order)
	if err != nil {
		logger.Get().Warn("checkout initiation failed",
			zap.String("transaction_id", txn.ID),
			zap.String("provider", string(cfg.Provider)),
			zap.String("kind", domain.KindOf(err).String()),
			zap.Error(err),
		)
		return nil, err
	}

	if result.OrderID != "" && result.OrderID != txn.ProviderOrderID {
		if err := s.txns.AttachProviderOrderID(ctx, txn.ID, result.OrderID); err != nil {
			return nil, fmt.Errorf("failed to attach provider order id: %w", err)
		}
		txn.ProviderOrderID = result.OrderID
	}

	logger.Get().Info("subscription checkout initiated",
		zap.String("transaction_id", txn.ID),
		zap.String("organization_id", txn.OrganizationID),
		zap.String("order_id", txn.ProviderOrderID),
		zap.String("provider", string(txn.Provider)),
		zap.String("billing_cycle", string(cycle)),
		zap.String("amount", txn.Amount.StringFixed(2)),
	)
	metrics.RecordCheckoutInitiated(ctx, string(txn.Provider), string(cycle))

	return &InitiateResponse{
		TransactionID: txn.ID,
		OrderID:       txn.ProviderOrderID,
		Provider:      txn.Provider,
		Method:        result.Method,
		PaymentURL:    result.PaymentURL,
		PaymentKey:    result.PaymentKey,
		FormData:      result.FormData,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		BillingCycle:  cycle,
	}, nil
}

// HandleSuccessCallback never returns an error: every failure becomes a
// coarse reason for the redirect
func (s *subscriptionPaymentService) HandleSuccessCallback(ctx context.Context, cb *gateway.Callback) *CallbackOutcome {
	ctx, span := telemetry.StartSpan(ctx, "subscription.callback.success")
	defer span.End()

	txn, orderID := s.lookup(ctx, cb)
	if txn == nil {
		return &CallbackOutcome{OrderID: orderID, Reason: domain.ReasonUnknownOrder}
	}
	span.SetAttributes(
		attribute.String("payment.transaction_id", txn.ID),
		attribute.String("payment.provider", string(txn.Provider)),
	)
	log := logger.Get().With(
		zap.String("transaction_id", txn.ID),
		zap.String("order_id", txn.ProviderOrderID),
		zap.String("provider", string(txn.Provider)),
	)

	cfg, err := s.router.Resolve(ctx, txn.OrganizationID, &txn.Provider)
	if err != nil {
		telemetry.SetSpanError(span, err)
		log.Error("no usable gateway config for callback", zap.Error(err))
		return s.reject(txn, domain.ReasonInternalError)
	}

	result, err := s.router.Verify(ctx, cfg, cb)
	if err != nil {
		if domain.IsKind(err, domain.KindVerification) {
			return s.fail(ctx, log, txn, domain.ReasonOf(err), callbackRaw(cb))
		}
		telemetry.SetSpanError(span, err)
		log.Error("callback verification errored", zap.Error(err))
		return s.reject(txn, domain.ReasonInternalError)
	}

	if result.Pending {
		log.Info("payment still pending at provider", zap.String("status", result.Status))
		return s.reject(txn, domain.ReasonPaymentPending)
	}
	if !result.Success {
		return s.fail(ctx, log, txn, domain.ReasonPaymentDeclined, result.Raw)
	}

	if reason, ok := crossCheck(txn, result); !ok {
		log.Warn("verified callback disagrees with stored transaction",
			zap.String("reason", string(reason)),
			zap.String("claimed_amount", result.Amount.StringFixed(2)),
			zap.String("stored_amount", txn.Amount.StringFixed(2)),
			zap.String("claimed_cycle", string(result.BillingCycle)),
			zap.String("stored_cycle", string(txn.BillingCycle)),
			zap.String("claimed_organization_id", result.OrganizationID),
			zap.String("stored_organization_id", txn.OrganizationID),
		)
		return s.fail(ctx, log, txn, reason, result.Raw)
	}

	plan, err := s.plans.GetPlan(ctx, txn.PlanID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		log.Error("failed to load plan for transaction", zap.Error(err))
		return s.reject(txn, domain.ReasonInternalError)
	}

	now := s.machine.Now()
	var activated *domain.Organization
	err = s.txns.WithinTx(ctx, func(tx repository.LedgerTx) error {
		applied, err := tx.MarkCompleted(ctx, txn.ID, result.ProviderPaymentID, result.Raw, now)
		if err != nil || !applied {
			return err
		}

		org, err := tx.GetOrganizationForUpdate(ctx, txn.OrganizationID)
		if err != nil {
			return err
		}

		completed := txn.Clone()
		if err := completed.Complete(result.ProviderPaymentID, result.Raw, now); err != nil {
			return err
		}
		next, err := s.machine.ApplyPayment(org, completed, plan, result.BillingCycle, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateSubscription(ctx, next); err != nil {
			return err
		}
		activated = next
		return nil
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		log.Error("failed to apply payment, transaction left pending", zap.Error(err))
		return s.reject(txn, domain.ReasonInternalError)
	}

	if activated == nil {
		return s.settled(ctx, log, txn)
	}

	txn.Status = domain.TransactionCompleted
	txn.ProviderPaymentID = result.ProviderPaymentID
	s.notifier.SubscriptionActivated(ctx, notify.NewSubscriptionActivatedEvent(txn, activated))

	log.Info("subscription activated",
		zap.String("organization_id", activated.ID),
		zap.String("billing_cycle", string(txn.BillingCycle)),
		zap.Timep("subscription_ends_at", activated.SubscriptionEndsAt),
	)
	return &CallbackOutcome{Success: true, OrderID: txn.ProviderOrderID}
}

// HandleFailureCallback is idempotent: a transaction that already reached a
// terminal status is left as is
func (s *subscriptionPaymentService) HandleFailureCallback(ctx context.Context, cb *gateway.Callback) *CallbackOutcome {
	ctx, span := telemetry.StartSpan(ctx, "subscription.callback.failure")
	defer span.End()

	txn, orderID := s.lookup(ctx, cb)
	if txn == nil {
		return &CallbackOutcome{OrderID: orderID, Reason: domain.ReasonUnknownOrder}
	}

	log := logger.Get().With(
		zap.String("transaction_id", txn.ID),
		zap.String("order_id", txn.ProviderOrderID),
		zap.String("provider", string(txn.Provider)),
	)
	return s.fail(ctx, log, txn, domain.ReasonPaymentCancelled, callbackRaw(cb))
}

// lookup finds the transaction a callback refers to. The provider guessed
// from the payload shape only locates the order id; verification is bound
// to the provider stored on the transaction.
func (s *subscriptionPaymentService) lookup(ctx context.Context, cb *gateway.Callback) (*domain.PaymentTransaction, string) {
	provider, orderID := s.router.ExtractOrderID(cb)
	if orderID == "" {
		logger.Get().Warn("callback carries no recognizable order id")
		return nil, ""
	}

	txn, err := s.txns.GetByProviderOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			logger.Get().Warn("callback for unknown order",
				zap.String("order_id", orderID),
				zap.String("provider", string(provider)),
			)
		} else {
			logger.Get().Error("failed to load transaction for callback",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
		return nil, orderID
	}
	return txn, orderID
}

// fail marks txn failed with reason. When the transaction is already
// terminal the existing status wins.
func (s *subscriptionPaymentService) fail(ctx context.Context, log *logger.Logger, txn *domain.PaymentTransaction, reason domain.Reason, raw map[string]any) *CallbackOutcome {
	applied, err := s.txns.MarkFailed(ctx, txn.ID, reason, raw)
	if err != nil {
		log.Error("failed to mark transaction failed", zap.String("reason", string(reason)), zap.Error(err))
		return s.reject(txn, reason)
	}
	if !applied {
		log.Info("transaction already settled, failure ignored", zap.String("reason", string(reason)))
	} else {
		log.Warn("transaction failed", zap.String("reason", string(reason)))
	}
	return s.reject(txn, reason)
}

// settled handles a verified callback whose guarded completion was a no-op
func (s *subscriptionPaymentService) settled(ctx context.Context, log *logger.Logger, txn *domain.PaymentTransaction) *CallbackOutcome {
	current, err := s.txns.GetByID(ctx, txn.ID)
	if err != nil {
		log.Error("failed to reload settled transaction", zap.Error(err))
		return s.reject(txn, domain.ReasonInternalError)
	}

	switch current.Status {
	case domain.TransactionCompleted:
		log.Info("duplicate success callback, subscription already applied")
		return &CallbackOutcome{Success: true, OrderID: txn.ProviderOrderID}
	case domain.TransactionFailed:
		log.Error("success callback for failed transaction",
			zap.Error(domain.ErrTransactionNotPending),
			zap.String("failure_reason", string(current.FailureReason)),
		)
		return s.reject(txn, domain.ReasonAlreadyProcessed)
	default:
		log.Error("guarded completion was a no-op on a pending transaction")
		return s.reject(txn, domain.ReasonInternalError)
	}
}

func (s *subscriptionPaymentService) reject(txn *domain.PaymentTransaction, reason domain.Reason) *CallbackOutcome {
	return &CallbackOutcome{OrderID: txn.ProviderOrderID, Reason: reason}
}

// crossCheck compares what the provider vouched for with the stored row
func crossCheck(txn *domain.PaymentTransaction, result *gateway.VerifyResult) (domain.Reason, bool) {
	if result.OrderID != "" && result.OrderID != txn.ProviderOrderID {
		return domain.ReasonVerificationFailed, false
	}
	if !result.Amount.Round(2).Equal(txn.Amount.Round(2)) {
		return domain.ReasonAmountMismatch, false
	}
	if result.BillingCycle != txn.BillingCycle {
		return domain.ReasonCycleMismatch, false
	}
	if result.OrganizationID != txn.OrganizationID {
		return domain.ReasonOrganizationMismatch, false
	}
	return "", true
}

// callbackRaw keeps the unverified payload for audit
func callbackRaw(cb *gateway.Callback) map[string]any {
	if cb == nil || len(cb.Form) == 0 {
		return nil
	}
	raw := make(map[string]any, len(cb.Form))
	for k, v := range cb.Form {
		if len(v) > 0 {
			raw[k] = v[0]
		}
	}
	return raw
}
