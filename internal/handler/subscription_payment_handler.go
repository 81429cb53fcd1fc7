package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/subscription-payments/internal/domain"
	"github.com/prohmpiriya/subscription-payments/internal/dto"
	"github.com/prohmpiriya/subscription-payments/internal/gateway"
	"github.com/prohmpiriya/subscription-payments/internal/metrics"
	"github.com/prohmpiriya/subscription-payments/internal/service"
	"github.com/prohmpiriya/subscription-payments/pkg/logger"
	"github.com/prohmpiriya/subscription-payments/pkg/middleware"
	"github.com/prohmpiriya/subscription-payments/pkg/response"
)

// Callback bodies are small; anything larger is not a provider callback
const maxCallbackBytes = 64 << 10

// webhookSignatureHeaders mark server-to-server deliveries that expect a
// 2xx acknowledgement instead of a browser redirect
var webhookSignatureHeaders = []string{"Stripe-Signature", "X-Razorpay-Signature"}

// SubscriptionPaymentHandler handles subscription checkout endpoints
type SubscriptionPaymentHandler struct {
	service    service.SubscriptionPaymentService
	successURL string
	failureURL string
}

// NewSubscriptionPaymentHandler creates a new SubscriptionPaymentHandler.
// successURL and failureURL are the frontend pages callbacks redirect to.
func NewSubscriptionPaymentHandler(svc service.SubscriptionPaymentService, successURL, failureURL string) *SubscriptionPaymentHandler {
	return &SubscriptionPaymentHandler{
		service:    svc,
		successURL: successURL,
		failureURL: failureURL,
	}
}

// Initiate handles POST /subscription-payments/initiate
func (h *SubscriptionPaymentHandler) Initiate(c *gin.Context) {
	var req dto.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", err.Error())
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "user_id is required")
		return
	}
	callerOrgID, _ := middleware.GetOrganizationID(c)

	result, err := h.service.Initiate(c.Request.Context(), req.ToServiceRequest(userID, callerOrgID))
	if err != nil {
		h.writeInitiateError(c, err)
		return
	}

	response.Created(c, dto.FromInitiateResponse(result))
}

// SuccessCallback handles POST /subscription-payments/callback/success
func (h *SubscriptionPaymentHandler) SuccessCallback(c *gin.Context) {
	start := time.Now()
	cb, err := readCallback(c)
	if err != nil {
		logger.Get().Warn("unreadable success callback", zap.Error(err))
		h.respond(c, nil, &service.CallbackOutcome{Reason: domain.ReasonVerificationFailed}, "success", start)
		return
	}
	h.respond(c, cb, h.service.HandleSuccessCallback(c.Request.Context(), cb), "success", start)
}

// FailureCallback handles POST /subscription-payments/callback/failure
func (h *SubscriptionPaymentHandler) FailureCallback(c *gin.Context) {
	start := time.Now()
	cb, err := readCallback(c)
	if err != nil {
		logger.Get().Warn("unreadable failure callback", zap.Error(err))
		h.respond(c, nil, &service.CallbackOutcome{Reason: domain.ReasonPaymentCancelled}, "failure", start)
		return
	}
	h.respond(c, cb, h.service.HandleFailureCallback(c.Request.Context(), cb), "failure", start)
}

// respond redirects browsers and acknowledges webhooks. Only the order id
// and a coarse reason ever leave the service.
func (h *SubscriptionPaymentHandler) respond(c *gin.Context, cb *gateway.Callback, outcome *service.CallbackOutcome, kind string, start time.Time) {
	metrics.RecordCallback(c.Request.Context(), kind, outcome.Success, string(outcome.Reason), time.Since(start))

	if cb != nil && isWebhook(cb.Header) {
		status := http.StatusOK
		// Let the provider redeliver when we could not settle the event
		if outcome.Reason == domain.ReasonInternalError {
			status = http.StatusInternalServerError
		}
		c.JSON(status, dto.WebhookAck{
			Received: true,
			OrderID:  outcome.OrderID,
			Success:  outcome.Success,
			Reason:   string(outcome.Reason),
		})
		return
	}

	c.Redirect(http.StatusFound, h.redirectURL(outcome))
}

func (h *SubscriptionPaymentHandler) redirectURL(outcome *service.CallbackOutcome) string {
	base := h.failureURL
	if outcome.Success {
		base = h.successURL
	}

	u, err := url.Parse(base)
	if err != nil {
		logger.Get().Error("invalid frontend redirect url", zap.String("url", base), zap.Error(err))
		u = &url.URL{Path: "/"}
	}

	q := u.Query()
	if outcome.OrderID != "" {
		q.Set("order_id", outcome.OrderID)
	}
	if !outcome.Success && outcome.Reason != "" {
		q.Set("reason", string(outcome.Reason))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *SubscriptionPaymentHandler) writeInitiateError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrOrganizationForbidden) {
		response.Forbidden(c, "cannot pay for another organization")
		return
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		logger.Get().Error("initiate failed", zap.Error(err))
		response.InternalError(c)
		return
	}

	switch de.Kind {
	case domain.KindConfiguration:
		response.Error(c, http.StatusUnprocessableEntity, de.Code, de.Message, err.Error())
	case domain.KindValidation:
		response.Error(c, http.StatusBadRequest, de.Code, de.Message, "")
	case domain.KindTransient:
		c.Header("Retry-After", "5")
		response.Error(c, http.StatusServiceUnavailable, de.Code, "payment provider unavailable, please retry", "")
	default:
		logger.Get().Error("initiate failed", zap.Error(err))
		response.InternalError(c)
	}
}

func isWebhook(header http.Header) bool {
	for _, h := range webhookSignatureHeaders {
		if header.Get(h) != "" {
			return true
		}
	}
	return false
}

// readCallback accepts form-encoded and JSON bodies. JSON objects are
// flattened into Form so adapters read both the same way; the raw body is
// kept for signature schemes that sign the exact bytes.
func readCallback(c *gin.Context) (*gateway.Callback, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxCallbackBytes {
		return nil, errors.New("callback body too large")
	}

	form := url.Values{}
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	switch {
	case len(body) == 0:
	case mediaType == "application/json" || (mediaType == "" && json.Valid(body)):
		if err := flattenJSON(body, form); err != nil {
			return nil, err
		}
	default:
		parsed, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		form = parsed
	}

	return &gateway.Callback{
		Form:   form,
		Query:  c.Request.URL.Query(),
		Body:   body,
		Header: c.Request.Header.Clone(),
	}, nil
}

func flattenJSON(body []byte, form url.Values) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}

	for k, v := range obj {
		switch val := v.(type) {
		case nil:
			form.Set(k, "")
		case string:
			form.Set(k, val)
		case json.Number:
			form.Set(k, val.String())
		case bool:
			form.Set(k, strconv.FormatBool(val))
		default:
			nested, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("flatten %s: %w", k, err)
			}
			form.Set(k, string(nested))
		}
	}
	return nil
}
