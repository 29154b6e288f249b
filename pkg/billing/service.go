package billing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/audit"
	"github.com/notewise/notewise/pkg/observability"
	"github.com/notewise/notewise/pkg/plans"
)

// ServiceOptions configures a Service
type ServiceOptions struct {
	// AllowedRedirectHosts restricts checkout success/cancel URLs. Empty
	// allows any absolute http(s) URL.
	AllowedRedirectHosts []string
	ProviderTimeout      time.Duration

	Cache   *StatusCache
	Audit   audit.Logger
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Clock   func() time.Time
}

// Service runs checkout and user-initiated subscription changes
type Service struct {
	store    Store
	provider Provider
	catalog  *plans.Catalog

	allowedHosts map[string]bool
	timeout      time.Duration
	cache        *StatusCache
	audit        audit.Logger
	logger       *observability.Logger
	metrics      *observability.Metrics
	now          func() time.Time

	customers singleflight.Group
}

// NewService creates a new Service
func NewService(store Store, provider Provider, catalog *plans.Catalog, opts ServiceOptions) *Service {
	s := &Service{
		store:        store,
		provider:     provider,
		catalog:      catalog,
		allowedHosts: make(map[string]bool, len(opts.AllowedRedirectHosts)),
		timeout:      opts.ProviderTimeout,
		cache:        opts.Cache,
		audit:        opts.Audit,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Clock,
	}
	for _, h := range opts.AllowedRedirectHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.allowedHosts[h] = true
		}
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	if s.audit == nil {
		s.audit = audit.NewNopLogger()
	}
	if s.metrics == nil {
		s.metrics = observability.NewNopMetrics()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CheckoutRequest is a request to start a paid subscription
type CheckoutRequest struct {
	UserID     string
	Email      string
	PlanID     string
	SuccessURL string
	CancelURL  string
}

// CreateCheckoutSession creates a hosted checkout for a paid plan. The
// provider customer is created on first use and reused afterwards.
func (s *Service) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	plan, err := s.checkoutPlan(req)
	if err != nil {
		s.metrics.CheckoutSessionsTotal.WithLabelValues(req.PlanID, "rejected").Inc()
		return nil, err
	}
	logger := s.log(ctx).WithField("plan", plan.ID)

	sub, err := s.store.EnsureSubscription(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub.Status.IsLive() && sub.ExternalSubscriptionID != "" {
		s.metrics.CheckoutSessionsTotal.WithLabelValues(string(plan.ID), "rejected").Inc()
		return nil, apperrors.NewValidationError("planId", "an active subscription already exists; change plans with a subscription update")
	}

	customerID, err := s.ensureCustomer(ctx, req.UserID, req.Email, sub)
	if err != nil {
		s.metrics.CheckoutSessionsTotal.WithLabelValues(string(plan.ID), "error").Inc()
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	session, err := s.provider.CreateCheckoutSession(pctx, CheckoutParams{
		UserID:     req.UserID,
		CustomerID: customerID,
		PlanID:     string(plan.ID),
		PriceID:    plan.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	s.metrics.ObserveProvider("create_checkout_session", start, err)
	if err != nil {
		s.metrics.CheckoutSessionsTotal.WithLabelValues(string(plan.ID), "error").Inc()
		logger.WithError(err).Error("Failed to create checkout session")
		return nil, asProviderError("create_checkout_session", err)
	}

	s.metrics.CheckoutSessionsTotal.WithLabelValues(string(plan.ID), "created").Inc()
	logger.WithField("session_id", session.SessionID).Info("Checkout session created")

	event := audit.NewEvent(ctx, audit.EventTypeCheckoutStarted, audit.ActorUser, req.UserID)
	event.ExternalID = session.SessionID
	event.Metadata = map[string]interface{}{"plan_id": string(plan.ID)}
	recordAudit(ctx, s.audit, logger, event)
	return session, nil
}

func (s *Service) checkoutPlan(req CheckoutRequest) (*plans.Plan, error) {
	if req.UserID == "" {
		return nil, &apperrors.UnauthenticatedError{Reason: "missing user"}
	}

	id, err := s.catalog.Resolve(req.PlanID)
	if err != nil {
		return nil, err
	}
	plan, err := s.catalog.Get(id)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, &apperrors.InvalidPlanError{PlanID: string(plan.ID), Reason: "the free tier does not require checkout"}
	}
	if plan.PriceID == "" {
		return nil, &apperrors.ConfigurationError{Setting: "prices." + string(plan.ID), Message: "paid plan has no price id"}
	}

	if err := s.validateRedirect("successUrl", req.SuccessURL); err != nil {
		return nil, err
	}
	if err := s.validateRedirect("cancelUrl", req.CancelURL); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) validateRedirect(field, raw string) error {
	if raw == "" {
		return apperrors.NewValidationError(field, "is required")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return apperrors.NewValidationError(field, "must be an absolute http(s) URL")
	}
	if len(s.allowedHosts) > 0 && !s.allowedHosts[strings.ToLower(u.Hostname())] {
		return apperrors.NewValidationError(field, "host is not allowed")
	}
	return nil
}

// ensureCustomer returns the user's provider customer, creating it once.
// Concurrent callers for the same user share one creation; across
// processes the first stored id wins.
func (s *Service) ensureCustomer(ctx context.Context, userID, email string, sub *Subscription) (string, error) {
	if sub.ExternalCustomerID != "" {
		return sub.ExternalCustomerID, nil
	}

	v, err, _ := s.customers.Do(userID, func() (interface{}, error) {
		current, err := s.store.GetSubscription(ctx, userID)
		if err == nil && current.ExternalCustomerID != "" {
			return current.ExternalCustomerID, nil
		}

		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		start := time.Now()
		created, err := s.provider.CreateCustomer(pctx, userID, email)
		s.metrics.ObserveProvider("create_customer", start, err)
		if err != nil {
			s.log(ctx).WithError(err).Error("Failed to create provider customer")
			return "", asProviderError("create_customer", err)
		}
		s.metrics.CustomersCreatedTotal.Inc()

		stored, err := s.store.SetCustomerID(ctx, userID, created)
		if err != nil {
			return "", fmt.Errorf("failed to store customer id: %w", err)
		}
		if stored != created {
			s.log(ctx).
				WithFields(map[string]interface{}{"kept": stored, "discarded": created}).
				Warn("Concurrent customer creation, keeping the stored customer")
		}
		return stored, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetStatus returns the user's subscription for display. Users without a
// record read as status none on the free plan.
func (s *Service) GetStatus(ctx context.Context, userID string) (*Subscription, error) {
	if s.cache != nil {
		if sub, ok := s.cache.Get(ctx, userID); ok {
			return sub, nil
		}
	}

	sub, err := s.store.GetSubscription(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return NewSubscription(userID, s.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription status: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, sub)
	}
	return sub, nil
}

// Cancel cancels the user's live subscription at the provider and records
// the cancellation immediately.
func (s *Service) Cancel(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := s.liveSubscription(ctx, userID)
	if err != nil {
		s.metrics.SubscriptionActionsTotal.WithLabelValues("cancel", "rejected").Inc()
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	ps, err := s.provider.CancelSubscription(pctx, sub.ExternalSubscriptionID)
	s.metrics.ObserveProvider("cancel_subscription", start, err)
	if err != nil {
		s.metrics.SubscriptionActionsTotal.WithLabelValues("cancel", "error").Inc()
		s.log(ctx).WithError(err).Error("Failed to cancel subscription")
		return nil, asProviderError("cancel_subscription", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	updated, err := s.store.UpdateSubscription(ctx, userID, func(cur *Subscription) error {
		if cur.ExternalSubscriptionID != sub.ExternalSubscriptionID {
			return ErrNoChange
		}
		cur.Status = SubscriptionStatusCanceled
		cur.ExternalSubscriptionID = ""
		if !ps.CurrentPeriodEnd.IsZero() {
			end := ps.CurrentPeriodEnd
			cur.CurrentPeriodEnd = &end
		}
		cur.LastEventAt = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record cancellation: %w", err)
	}

	s.invalidate(ctx, userID)
	s.metrics.SubscriptionActionsTotal.WithLabelValues("cancel", "ok").Inc()
	s.log(ctx).WithField("subscription_id", sub.ExternalSubscriptionID).Info("Subscription canceled")

	event := audit.NewEvent(ctx, audit.EventTypeSubscriptionCanceled, audit.ActorUser, userID)
	event.ExternalID = sub.ExternalSubscriptionID
	event.Changes = &audit.ChangeDetails{Before: subscriptionState(sub), After: subscriptionState(updated)}
	recordAudit(ctx, s.audit, s.log(ctx), event)
	return updated, nil
}

// Update moves the user's live subscription to another paid plan
func (s *Service) Update(ctx context.Context, userID, newPlanID string) (*Subscription, error) {
	id, err := s.catalog.Resolve(newPlanID)
	if err != nil {
		return nil, err
	}
	plan, err := s.catalog.Get(id)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, &apperrors.InvalidPlanError{PlanID: string(plan.ID), Reason: "cancel the subscription to return to the free tier"}
	}
	if plan.PriceID == "" {
		return nil, &apperrors.ConfigurationError{Setting: "prices." + string(plan.ID), Message: "paid plan has no price id"}
	}

	sub, err := s.liveSubscription(ctx, userID)
	if err != nil {
		s.metrics.SubscriptionActionsTotal.WithLabelValues("update", "rejected").Inc()
		return nil, err
	}
	if sub.PlanID == plan.ID {
		return nil, &apperrors.InvalidPlanError{PlanID: string(plan.ID), Reason: "already subscribed to this plan"}
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	ps, err := s.provider.UpdateSubscriptionPrice(pctx, sub.ExternalSubscriptionID, plan.PriceID)
	s.metrics.ObserveProvider("update_subscription", start, err)
	if err != nil {
		s.metrics.SubscriptionActionsTotal.WithLabelValues("update", "error").Inc()
		s.log(ctx).WithError(err).Error("Failed to update subscription")
		return nil, asProviderError("update_subscription", err)
	}

	newPlan := plan.ID
	if mapped, err := s.catalog.PlanForPrice(ps.PriceID); err == nil {
		newPlan = mapped.ID
	}

	now := s.now().UTC().Truncate(time.Second)
	updated, err := s.store.UpdateSubscription(ctx, userID, func(cur *Subscription) error {
		if cur.ExternalSubscriptionID != sub.ExternalSubscriptionID {
			return ErrNoChange
		}
		cur.PlanID = newPlan
		if status := MapProviderStatus(ps.Status); status != SubscriptionStatusNone {
			cur.Status = status
		}
		if !ps.CurrentPeriodEnd.IsZero() {
			end := ps.CurrentPeriodEnd
			cur.CurrentPeriodEnd = &end
		}
		cur.LastEventAt = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record plan change: %w", err)
	}

	s.invalidate(ctx, userID)
	s.metrics.SubscriptionActionsTotal.WithLabelValues("update", "ok").Inc()
	s.log(ctx).WithFields(map[string]interface{}{
		"from_plan": sub.PlanID,
		"to_plan":   newPlan,
	}).Info("Subscription plan changed")

	event := audit.NewEvent(ctx, audit.EventTypeSubscriptionPlanChange, audit.ActorUser, userID)
	event.ExternalID = sub.ExternalSubscriptionID
	event.Changes = &audit.ChangeDetails{Before: subscriptionState(sub), After: subscriptionState(updated)}
	recordAudit(ctx, s.audit, s.log(ctx), event)
	return updated, nil
}

func (s *Service) liveSubscription(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NewValidationError("", "no active subscription found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if !sub.Status.IsLive() || sub.ExternalSubscriptionID == "" {
		return nil, apperrors.NewValidationError("", "no active subscription found")
	}
	return sub, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
}

// asProviderError keeps typed provider errors and wraps anything else
func asProviderError(op string, err error) error {
	var perr *apperrors.PaymentProviderError
	if errors.As(err, &perr) {
		return err
	}
	return &apperrors.PaymentProviderError{Op: op, Err: err}
}

func (s *Service) log(ctx context.Context) *observability.Logger {
	return observability.FromContextOr(ctx, s.logger)
}
