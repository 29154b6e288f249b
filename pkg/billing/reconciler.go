package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/audit"
	"github.com/notewise/notewise/pkg/observability"
	"github.com/notewise/notewise/pkg/plans"
)

// Outcome describes what the reconciler did with an event
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeMalformed Outcome = "malformed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Reconciler applies verified provider events to the store
type Reconciler struct {
	store    Store
	provider Provider
	catalog  *plans.Catalog
	cache    *StatusCache
	audit    audit.Logger
	timeout  time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics
}

// ReconcilerOptions configures a Reconciler
type ReconcilerOptions struct {
	Cache           *StatusCache
	Audit           audit.Logger
	ProviderTimeout time.Duration
	Logger          *observability.Logger
	Metrics         *observability.Metrics
}

// NewReconciler creates a new Reconciler
func NewReconciler(store Store, provider Provider, catalog *plans.Catalog, opts ReconcilerOptions) *Reconciler {
	r := &Reconciler{
		store:    store,
		provider: provider,
		catalog:  catalog,
		cache:    opts.Cache,
		audit:    opts.Audit,
		timeout:  opts.ProviderTimeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if r.timeout <= 0 {
		r.timeout = 10 * time.Second
	}
	if r.logger == nil {
		r.logger = observability.NewNopLogger()
	}
	if r.audit == nil {
		r.audit = audit.NewNopLogger()
	}
	if r.metrics == nil {
		r.metrics = observability.NewNopMetrics()
	}
	return r
}

// HandleWebhook authenticates and applies one delivery. A nil error means
// the delivery should be acknowledged, including for permanent failures
// that a redelivery could never fix.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	ev, err := r.provider.ParseEvent(payload, signatureHeader)
	if err != nil {
		if apperrors.IsSignatureVerification(err) {
			r.metrics.WebhookSignatureFailures.Inc()
			r.metrics.WebhookEventsTotal.WithLabelValues("unknown", string(OutcomeRejected)).Inc()

			event := audit.NewEvent(ctx, audit.EventTypeWebhookSignatureFailed, audit.ActorProvider, "")
			event.Status = audit.EventStatusDenied
			event.ErrorMessage = err.Error()
			recordAudit(ctx, r.audit, r.log(ctx), event)
			return OutcomeRejected, err
		}
		if apperrors.IsPermanent(err) {
			r.log(ctx).WithError(err).Error("Discarding malformed webhook event")
			r.metrics.WebhookEventsTotal.WithLabelValues("unknown", string(OutcomeMalformed)).Inc()
			return OutcomeMalformed, nil
		}
		return OutcomeFailed, err
	}

	return r.Apply(ctx, ev)
}

// Apply reconciles a verified event
func (r *Reconciler) Apply(ctx context.Context, ev *Event) (Outcome, error) {
	logger := r.log(ctx).WithFields(map[string]interface{}{
		"event_id":   ev.ID,
		"event_kind": string(ev.Kind),
	})

	outcome, err := r.apply(ctx, ev, logger)
	kind := string(ev.Kind)
	if !ev.Kind.Known() {
		kind = "other"
	}
	r.metrics.WebhookEventsTotal.WithLabelValues(kind, string(outcome)).Inc()

	switch {
	case err != nil:
		logger.WithError(err).Error("Failed to reconcile webhook event")
	case outcome == OutcomeApplied:
		logger.Info("Webhook event applied")
	default:
		logger.WithField("outcome", string(outcome)).Debug("Webhook event not applied")
	}
	return outcome, err
}

func (r *Reconciler) apply(ctx context.Context, ev *Event, logger *observability.Logger) (Outcome, error) {
	if !ev.Kind.Known() {
		return OutcomeIgnored, nil
	}
	if ev.ID == "" {
		logger.Error("Webhook event has no id")
		return OutcomeMalformed, nil
	}

	userID, err := r.correlate(ctx, ev)
	if errors.Is(err, ErrNotFound) {
		logger.WithFields(map[string]interface{}{
			"customer_id":     ev.CustomerID,
			"subscription_id": ev.SubscriptionID,
		}).Error("Webhook event matches no user")
		return OutcomeUnmatched, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	logger = logger.WithField("user_id", userID)

	if ev.Kind == EventCheckoutCompleted && ev.Subscription == nil && ev.SubscriptionID != "" {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		start := time.Now()
		ps, err := r.provider.GetSubscription(pctx, ev.SubscriptionID)
		r.metrics.ObserveProvider("get_subscription", start, err)
		cancel()
		if err != nil {
			return OutcomeFailed, asProviderError("get_subscription", err)
		}
		ev.Subscription = ps
	}

	outcome := OutcomeApplied
	record := ProcessedEvent{EventID: ev.ID, EventType: string(ev.Kind)}

	var before map[string]interface{}
	updated, err := r.store.ApplyEvent(ctx, userID, record, func(sub *Subscription) error {
		before = subscriptionState(sub)
		if sub.LastEventAt != nil && ev.Created.Before(*sub.LastEventAt) {
			outcome = OutcomeStale
			return ErrNoChange
		}

		switch ev.Kind {
		case EventCheckoutCompleted:
			r.applyCheckout(sub, ev, logger)
		case EventSubscriptionUpdated:
			if otherSubscription(sub, ev) {
				outcome = OutcomeStale
				return ErrNoChange
			}
			r.applySubscription(sub, ev.Subscription, logger)
		case EventSubscriptionDeleted:
			if otherSubscription(sub, ev) {
				outcome = OutcomeStale
				return ErrNoChange
			}
			sub.Status = SubscriptionStatusCanceled
			sub.ExternalSubscriptionID = ""
			if ev.Subscription != nil && !ev.Subscription.CurrentPeriodEnd.IsZero() {
				end := ev.Subscription.CurrentPeriodEnd
				sub.CurrentPeriodEnd = &end
			}
		}

		if sub.ExternalCustomerID == "" && ev.CustomerID != "" {
			sub.ExternalCustomerID = ev.CustomerID
		}
		created := ev.Created
		sub.LastEventAt = &created
		return nil
	})
	if errors.Is(err, ErrDuplicateEvent) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to apply event %s: %w", ev.ID, err)
	}

	if outcome == OutcomeApplied {
		if r.cache != nil {
			r.cache.Invalidate(ctx, userID)
		}

		event := audit.NewEvent(ctx, audit.EventTypeWebhookApplied, audit.ActorProvider, userID)
		event.ExternalID = ev.ID
		event.Metadata = map[string]interface{}{"event_kind": string(ev.Kind)}
		event.Changes = &audit.ChangeDetails{Before: before, After: subscriptionState(updated)}
		recordAudit(ctx, r.audit, logger, event)
	}
	return outcome, nil
}

func (r *Reconciler) applyCheckout(sub *Subscription, ev *Event, logger *observability.Logger) {
	// Two checkouts raced past the live-subscription check. The older
	// subscription keeps billing at the provider with no link to this user.
	if sub.Status.IsLive() && otherSubscription(sub, ev) {
		logger.WithFields(map[string]interface{}{
			"replaced_subscription_id": sub.ExternalSubscriptionID,
			"subscription_id":          ev.SubscriptionID,
			"customer_id":              sub.ExternalCustomerID,
		}).Warn("Checkout replaced a different live subscription; the replaced subscription needs manual cancellation")
	}
	if ev.SubscriptionID != "" {
		sub.ExternalSubscriptionID = ev.SubscriptionID
	}
	if ev.Subscription != nil {
		r.applySubscription(sub, ev.Subscription, logger)
		if sub.Status == SubscriptionStatusNone {
			sub.Status = SubscriptionStatusActive
		}
	} else {
		sub.Status = SubscriptionStatusActive
	}

	// The price could not be mapped; fall back to the plan the session was
	// created for.
	if sub.PlanID == plans.PlanFree && ev.PlanID != "" {
		if id, err := r.catalog.Resolve(ev.PlanID); err == nil {
			sub.PlanID = id
		}
	}
}

// applySubscription copies absolute provider state onto sub
func (r *Reconciler) applySubscription(sub *Subscription, ps *ProviderSubscription, logger *observability.Logger) {
	if ps == nil {
		return
	}

	if status := MapProviderStatus(ps.Status); status != SubscriptionStatusNone {
		sub.Status = status
	} else {
		logger.WithField("provider_status", ps.Status).Warn("Unrecognized provider subscription status")
	}

	if !ps.CurrentPeriodEnd.IsZero() {
		end := ps.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}

	if sub.Status.IsLive() && ps.ID != "" {
		sub.ExternalSubscriptionID = ps.ID
	}

	if ps.PriceID == "" {
		return
	}
	plan, err := r.catalog.PlanForPrice(ps.PriceID)
	if err != nil {
		logger.WithField("price_id", ps.PriceID).Error("Subscription price maps to no plan, keeping current plan")
		return
	}
	sub.PlanID = plan.ID
}

// otherSubscription reports whether ev concerns a subscription other than
// the one currently on record.
func otherSubscription(sub *Subscription, ev *Event) bool {
	return sub.ExternalSubscriptionID != "" && ev.SubscriptionID != "" &&
		sub.ExternalSubscriptionID != ev.SubscriptionID
}

// correlate finds the user an event belongs to
func (r *Reconciler) correlate(ctx context.Context, ev *Event) (string, error) {
	if ev.UserID != "" {
		return ev.UserID, nil
	}
	if ev.Subscription != nil && ev.Subscription.Metadata[MetadataUserID] != "" {
		return ev.Subscription.Metadata[MetadataUserID], nil
	}

	if ev.SubscriptionID != "" {
		userID, err := r.store.FindUserBySubscriptionID(ctx, ev.SubscriptionID)
		if err == nil {
			return userID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}

	if ev.CustomerID != "" {
		userID, err := r.store.FindUserByCustomerID(ctx, ev.CustomerID)
		if err == nil {
			return userID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}

	return "", ErrNotFound
}

func (r *Reconciler) log(ctx context.Context) *observability.Logger {
	return observability.FromContextOr(ctx, r.logger)
}
