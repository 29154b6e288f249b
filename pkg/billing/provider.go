package billing

import (
	"context"
	"time"
)

// EventKind is the provider's event type string
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout.session.completed"
	EventSubscriptionUpdated EventKind = "customer.subscription.updated"
	EventSubscriptionDeleted EventKind = "customer.subscription.deleted"
)

// Known reports whether the reconciler acts on this kind
func (k EventKind) Known() bool {
	switch k {
	case EventCheckoutCompleted, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	}
	return false
}

// MetadataUserID is the metadata key carrying our user id at the provider
const MetadataUserID = "user_id"

// MetadataPlanID is the metadata key carrying the purchased plan
const MetadataPlanID = "plan_id"

// Provider is the payment provider as seen by billing
type Provider interface {
	// CreateCustomer creates a provider customer tagged with userID
	CreateCustomer(ctx context.Context, userID, email string) (string, error)

	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// UpdateSubscriptionPrice swaps the subscription's price
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*ProviderSubscription, error)

	CancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// ParseEvent authenticates payload against the signature header and
	// decodes it. Authentication failures are SignatureVerificationError.
	ParseEvent(payload []byte, signatureHeader string) (*Event, error)
}

// CheckoutParams are the inputs to a hosted checkout session
type CheckoutParams struct {
	UserID     string
	CustomerID string
	PlanID     string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a created hosted checkout page
type CheckoutSession struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

// ProviderSubscription is the provider's view of a subscription
type ProviderSubscription struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	ItemID           string
	CurrentPeriodEnd time.Time
	Metadata         map[string]string
}

// Event is a verified, decoded webhook event
type Event struct {
	ID      string
	Kind    EventKind
	Created time.Time

	// Correlation hints, any of which may be empty
	UserID         string
	CustomerID     string
	SubscriptionID string

	// PlanID is the plan named in checkout metadata, used when the price
	// cannot be mapped
	PlanID string

	// Subscription is set for subscription events
	Subscription *ProviderSubscription
}
