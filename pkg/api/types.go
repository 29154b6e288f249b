package api

import (
	"context"
	"time"

	"github.com/notewise/notewise/pkg/billing"
	"github.com/notewise/notewise/pkg/entitlements"
	"github.com/notewise/notewise/pkg/plans"
	"github.com/notewise/notewise/pkg/transform"
)

// BillingService is the subscription surface used by the billing handlers
type BillingService interface {
	CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
	GetStatus(ctx context.Context, userID string) (*billing.Subscription, error)
	Cancel(ctx context.Context, userID string) (*billing.Subscription, error)
	Update(ctx context.Context, userID, newPlanID string) (*billing.Subscription, error)
}

// WebhookHandler authenticates and applies provider deliveries
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (billing.Outcome, error)
}

// EntitlementService answers entitlement and usage queries
type EntitlementService interface {
	Entitlements(ctx context.Context, userID string) (*entitlements.Snapshot, error)
	GetUsage(ctx context.Context, userID string) (*entitlements.Usage, error)
	GetRemaining(ctx context.Context, userID string) (entitlements.Remaining, error)
	CanUseFeature(ctx context.Context, userID string, feature plans.Feature) (bool, error)
}

// Transformer runs metered note transformations
type Transformer interface {
	Transform(ctx context.Context, userID string, req transform.Request) (*transform.Result, error)
}

// CheckoutRequest is the body of POST /checkout-sessions
type CheckoutRequest struct {
	PlanID     string `json:"planId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// UpdateSubscriptionRequest is the body of POST /subscription/update
type UpdateSubscriptionRequest struct {
	NewPlanID string `json:"newPlanId"`
}

// SubscriptionStatusResponse is returned by GET /subscription-status
type SubscriptionStatusResponse struct {
	Status           billing.SubscriptionStatus `json:"status"`
	PlanID           plans.PlanID               `json:"planId"`
	CurrentPeriodEnd *time.Time                 `json:"currentPeriodEnd"`
}

// SubscriptionActionResponse is returned by cancel and update
type SubscriptionActionResponse struct {
	Status billing.SubscriptionStatus `json:"status"`
	PlanID plans.PlanID               `json:"planId"`
}

// WebhookResponse acknowledges a webhook delivery
type WebhookResponse struct {
	Received bool `json:"received"`
}

// PlansResponse lists the catalog
type PlansResponse struct {
	Plans []*plans.Plan `json:"plans"`
}

// TransformResponse is returned by POST /transformations
type TransformResponse struct {
	Content   string                 `json:"content"`
	Template  transform.Template     `json:"template"`
	Tone      transform.Tone         `json:"tone"`
	Remaining entitlements.Remaining `json:"remaining"`
}

// FeatureAccessResponse is returned by GET /entitlements/features/{feature}
type FeatureAccessResponse struct {
	Feature plans.Feature `json:"feature"`
	Allowed bool          `json:"allowed"`
}
