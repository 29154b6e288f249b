package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/auth"
	"github.com/notewise/notewise/pkg/billing"
	"github.com/notewise/notewise/pkg/httputil"
	"github.com/notewise/notewise/pkg/middleware"
	"github.com/notewise/notewise/pkg/observability"
)

// MaxWebhookBytes caps webhook payloads; provider events are far smaller
const MaxWebhookBytes = 64 * 1024

// SignatureHeader carries the provider's webhook signature
const SignatureHeader = "Stripe-Signature"

// BillingHandlers handles billing-related HTTP requests
type BillingHandlers struct {
	billing  BillingService
	webhooks WebhookHandler
	logger   *observability.Logger
}

// NewBillingHandlers creates a new BillingHandlers
func NewBillingHandlers(billingService BillingService, webhooks WebhookHandler, logger *observability.Logger) *BillingHandlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &BillingHandlers{
		billing:  billingService,
		webhooks: webhooks,
		logger:   logger,
	}
}

// RegisterRoutes registers routes that require an authenticated user
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/checkout-sessions", h.CreateCheckoutSession).Methods("POST")
	router.HandleFunc("/subscription-status", h.GetSubscriptionStatus).Methods("GET")
	router.HandleFunc("/subscription/cancel", h.CancelSubscription).Methods("POST")
	router.HandleFunc("/subscription/update", h.UpdateSubscription).Methods("POST")
}

// RegisterWebhookRoutes registers the provider callback, authenticated by
// signature rather than bearer token
func (h *BillingHandlers) RegisterWebhookRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/payment-provider", h.HandleWebhook).Methods("POST")
}

// CreateCheckoutSession starts a hosted checkout for a paid plan
func (h *BillingHandlers) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, &apperrors.UnauthenticatedError{Reason: "no claims on request"})
		return
	}

	var req CheckoutRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, err := h.billing.CreateCheckoutSession(r.Context(), billing.CheckoutRequest{
		UserID:     claims.UserID,
		Email:      claims.Email,
		PlanID:     req.PlanID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, session)
}

// GetSubscriptionStatus returns the stored subscription state
func (h *BillingHandlers) GetSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	sub, err := h.billing.GetStatus(r.Context(), middleware.UserID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, SubscriptionStatusResponse{
		Status:           sub.Status,
		PlanID:           sub.PlanID,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	})
}

// CancelSubscription cancels the user's live subscription
func (h *BillingHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.billing.Cancel(r.Context(), middleware.UserID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, SubscriptionActionResponse{Status: sub.Status, PlanID: sub.PlanID})
}

// UpdateSubscription moves the live subscription to another paid plan
func (h *BillingHandlers) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req UpdateSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	sub, err := h.billing.Update(r.Context(), middleware.UserID(r), req.NewPlanID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	httputil.WriteSuccess(w, SubscriptionActionResponse{Status: sub.Status, PlanID: sub.PlanID})
}

// HandleWebhook verifies and reconciles a provider event. Anything other
// than a 2xx asks the provider to redeliver, so only bad signatures (400)
// and transient failures (500) are refused.
func (h *BillingHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContextOr(r.Context(), h.logger)

	payload, err := httputil.ReadBody(r, MaxWebhookBytes)
	if err != nil {
		log.WithError(err).Warn("Rejected unreadable webhook body")
		httputil.WriteBadRequest(w, "invalid webhook payload")
		return
	}

	outcome, err := h.webhooks.HandleWebhook(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		if outcome == billing.OutcomeRejected || apperrors.IsSignatureVerification(err) {
			log.WithError(err).WithField("remote_ip", r.RemoteAddr).Warn("Webhook signature verification failed")
			writeError(w, r, h.logger, err)
			return
		}
		log.WithError(err).WithField("outcome", string(outcome)).Error("Webhook processing failed, provider will retry")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, WebhookResponse{Received: true})
}
