package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures by how callers must react to them
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration: no usable gateway or incomplete credentials. 4xx, no retry.
	KindConfiguration
	// KindValidation: bad plan, cycle or price. 4xx, no retry.
	KindValidation
	// KindVerification: signature or cross-check failure. Redirect to failure page.
	KindVerification
	// KindTransient: provider unreachable or timed out. Caller may retry.
	KindTransient
	// KindInvariant: an internal guarantee was about to be broken. Logged, treated as no-op.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindVerification:
		return "verification"
	case KindTransient:
		return "transient"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is a classified domain error
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same kind and code, so sentinel
// values declared below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func ConfigurationError(code, message string, err error) *Error {
	return &Error{Kind: KindConfiguration, Code: code, Message: message, Err: err}
}

func ValidationError(code, message string, err error) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Err: err}
}

// VerificationFailure carries a redirect reason code as its Code
func VerificationFailure(reason Reason, message string, err error) *Error {
	return &Error{Kind: KindVerification, Code: string(reason), Message: message, Err: err}
}

func TransientError(code, message string, err error) *Error {
	return &Error{Kind: KindTransient, Code: code, Message: message, Err: err}
}

func InvariantViolation(code, message string) *Error {
	return &Error{Kind: KindInvariant, Code: code, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Not-found and uniqueness sentinels returned by repositories
var (
	ErrTransactionNotFound   = errors.New("payment transaction not found")
	ErrGatewayConfigNotFound = errors.New("gateway config not found")
	ErrOrganizationNotFound  = errors.New("organization not found")
	ErrPlanNotFound          = errors.New("subscription plan not found")
	ErrDuplicateOrderID      = errors.New("provider order id already exists")
)

// Classified sentinels
var (
	ErrNoActiveGateway       = ConfigurationError("NO_ACTIVE_GATEWAY", "no active payment gateway configured for organization", nil)
	ErrIncompleteCredentials = ConfigurationError("INCOMPLETE_CREDENTIALS", "payment gateway credentials are incomplete", nil)
	ErrUnsupportedProvider   = ConfigurationError("UNSUPPORTED_PROVIDER", "payment provider is not supported", nil)
	ErrInvalidBillingCycle   = ValidationError("INVALID_BILLING_CYCLE", "billing cycle must be monthly, quarterly or annual", nil)
	ErrPlanInactive          = ValidationError("PLAN_INACTIVE", "subscription plan is not active", nil)
	ErrNonPositivePrice      = ValidationError("NON_POSITIVE_PRICE", "plan price for billing cycle must be positive", nil)
	ErrInvalidPlan           = ValidationError("INVALID_PLAN", "subscription plan does not exist", nil)
	ErrUnknownOrganization   = ValidationError("UNKNOWN_ORGANIZATION", "organization does not exist", nil)
	ErrOrganizationForbidden = ValidationError("ORGANIZATION_FORBIDDEN", "caller may not pay for this organization", nil)
	ErrTransactionNotPending = InvariantViolation("TRANSACTION_NOT_PENDING", "transaction already reached a terminal status")
)

// Reason is a coarse, closed-set failure code safe to expose in redirect URLs
type Reason string

const (
	ReasonVerificationFailed   Reason = "verification_failed"
	ReasonAmountMismatch       Reason = "amount_mismatch"
	ReasonCycleMismatch        Reason = "cycle_mismatch"
	ReasonOrganizationMismatch Reason = "organization_mismatch"
	ReasonUnknownOrder         Reason = "unknown_order"
	ReasonAlreadyProcessed     Reason = "already_processed"
	ReasonPaymentDeclined      Reason = "payment_declined"
	ReasonPaymentCancelled     Reason = "payment_cancelled"
	ReasonPaymentPending       Reason = "payment_pending"
	ReasonAbandoned            Reason = "abandoned"
	ReasonInternalError        Reason = "internal_error"
)

// ReasonOf maps an error to a redirect reason, defaulting to internal_error
func ReasonOf(err error) Reason {
	var de *Error
	if errors.As(err, &de) && de.Kind == KindVerification && de.Code != "" {
		return Reason(de.Code)
	}
	if errors.Is(err, ErrTransactionNotFound) {
		return ReasonUnknownOrder
	}
	return ReasonInternalError
}
