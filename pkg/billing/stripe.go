package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/observability"
)

// StripeConfig configures the Stripe adapter
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string

	// APIURL overrides the API endpoint, for stripe-mock or tests
	APIURL     string
	HTTPClient *http.Client
	MaxRetries int64
}

// StripeProvider implements Provider on an injected stripe-go client
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider creates a Stripe adapter. Nothing is written to the
// package-level stripe.Key.
func NewStripeProvider(cfg StripeConfig, logger *observability.Logger) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, &apperrors.ConfigurationError{Setting: "stripe secret key", Message: "is required"}
	}
	if cfg.WebhookSecret == "" {
		return nil, &apperrors.ConfigurationError{Setting: "stripe webhook secret", Message: "is required"}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 80 * time.Second}
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
	}
	if logger != nil {
		backendConfig.LeveledLogger = logger.WithField("component", "stripe")
	}
	if cfg.APIURL != "" {
		backendConfig.URL = stripe.String(cfg.APIURL)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	}

	return &StripeProvider{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func providerError(op string, err error) error {
	return &apperrors.PaymentProviderError{Op: op, Err: err}
}

// CreateCustomer creates a Stripe customer tagged with the user id. The
// idempotency key makes concurrent creations across processes collapse to
// one customer within Stripe's idempotency window.
func (p *StripeProvider) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, userID)
	params.SetIdempotencyKey("customer-" + userID)
	if email != "" {
		params.Email = stripe.String(email)
	}

	cust, err := p.api.Customers.New(params)
	if err != nil {
		return "", providerError("create_customer", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession creates a hosted subscription checkout
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(in.CustomerID),
		ClientReferenceID: stripe.String(in.UserID),
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataUserID: in.UserID,
				MetadataPlanID: in.PlanID,
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, in.UserID)
	params.AddMetadata(MetadataPlanID, in.PlanID)

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, providerError("create_checkout_session", err)
	}
	return &CheckoutSession{SessionID: sess.ID, RedirectURL: sess.URL}, nil
}

// GetSubscription retrieves a subscription
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, providerError("get_subscription", err)
	}
	return fromStripeSubscription(sub), nil
}

// UpdateSubscriptionPrice swaps the first subscription item to priceID
func (p *StripeProvider) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*ProviderSubscription, error) {
	current, err := p.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if current.ItemID == "" {
		return nil, providerError("update_subscription", fmt.Errorf("subscription %s has no items", subscriptionID))
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.ItemID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, providerError("update_subscription", err)
	}
	return fromStripeSubscription(sub), nil
}

// CancelSubscription cancels a subscription immediately
func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		return nil, providerError("cancel_subscription", err)
	}
	return fromStripeSubscription(sub), nil
}

// ParseEvent verifies the Stripe-Signature header and decodes the event
func (p *StripeProvider) ParseEvent(payload []byte, signatureHeader string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, &apperrors.SignatureVerificationError{Err: err}
	}

	out := &Event{
		ID:      ev.ID,
		Kind:    EventKind(ev.Type),
		Created: time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Data == nil {
		return out, nil
	}

	switch out.Kind {
	case EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, apperrors.Permanent(fmt.Errorf("failed to decode checkout session: %w", err))
		}
		out.UserID = sess.Metadata[MetadataUserID]
		if out.UserID == "" {
			out.UserID = sess.ClientReferenceID
		}
		out.PlanID = sess.Metadata[MetadataPlanID]
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}

	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, apperrors.Permanent(fmt.Errorf("failed to decode subscription: %w", err))
		}
		out.Subscription = fromStripeSubscription(&sub)
		out.SubscriptionID = sub.ID
		out.CustomerID = out.Subscription.CustomerID
		out.UserID = sub.Metadata[MetadataUserID]
		out.PlanID = sub.Metadata[MetadataPlanID]
	}

	return out, nil
}

func fromStripeSubscription(sub *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	return out
}
