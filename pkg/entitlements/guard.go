// Package entitlements answers "may this user do X" from the stored
// subscription and the plan catalog. It never calls the payment provider
// and never reads the display cache.
package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/billing"
	"github.com/notewise/notewise/pkg/observability"
	"github.com/notewise/notewise/pkg/plans"
)

// FeatureTransformations is the quota name reported in QuotaExceededError
const FeatureTransformations = "transformations"

// Guard enforces plan limits and feature flags
type Guard struct {
	store   billing.Store
	catalog *plans.Catalog
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// Option configures a Guard
type Option func(*Guard)

// WithMetrics records quota and feature decisions
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithLogger sets the fallback logger
func WithLogger(l *observability.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a new Guard
func NewGuard(store billing.Store, catalog *plans.Catalog, opts ...Option) *Guard {
	g := &Guard{
		store:   store,
		catalog: catalog,
		metrics: observability.NewNopMetrics(),
		logger:  observability.NewNopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Remaining is the unused transformation allowance in the current cycle
type Remaining struct {
	Count     int  `json:"count"`
	Unlimited bool `json:"unlimited"`
}

// Usage reports a user's consumption in the current cycle
type Usage struct {
	Used       int       `json:"used"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	Unlimited  bool      `json:"unlimited"`
	CycleStart time.Time `json:"cycleStart"`
	CycleEnd   time.Time `json:"cycleEnd"`
}

// Limit is one numeric plan limit; -1 limits are reported as unlimited
type Limit struct {
	Value     int  `json:"value"`
	Unlimited bool `json:"unlimited"`
}

// Snapshot is everything a client needs to render the user's plan
type Snapshot struct {
	PlanID           plans.PlanID               `json:"planId"`
	StoredPlanID     plans.PlanID               `json:"storedPlanId"`
	Status           billing.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time                 `json:"currentPeriodEnd,omitempty"`
	Features         map[plans.Feature]bool     `json:"features"`
	Limits           map[string]Limit           `json:"limits"`
	ExportFormats    []string                   `json:"exportFormats"`
	Usage            Usage                      `json:"usage"`
	UpgradeTo        plans.PlanID               `json:"upgradeTo,omitempty"`
}

func limitOf(v int) Limit {
	if v < 0 {
		return Limit{Unlimited: true}
	}
	return Limit{Value: v}
}

// EffectivePlan returns the plan whose entitlements the user holds now.
// Canceled and none map to free regardless of the stored plan id; past_due
// keeps the paid plan only until the current period ends.
func EffectivePlan(sub *billing.Subscription, now time.Time) plans.PlanID {
	if sub == nil {
		return plans.PlanFree
	}
	switch sub.Status {
	case billing.SubscriptionStatusActive:
		return sub.PlanID
	case billing.SubscriptionStatusPastDue:
		if sub.CurrentPeriodEnd != nil && now.Before(*sub.CurrentPeriodEnd) {
			return sub.PlanID
		}
	}
	return plans.PlanFree
}

func (g *Guard) subscription(ctx context.Context, userID string) (*billing.Subscription, error) {
	sub, err := g.store.GetSubscription(ctx, userID)
	if errors.Is(err, billing.ErrNotFound) {
		return billing.NewSubscription(userID, g.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

// Plan returns the user's effective plan and the subscription it came from
func (g *Guard) Plan(ctx context.Context, userID string) (*plans.Plan, *billing.Subscription, error) {
	sub, err := g.subscription(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	id := EffectivePlan(sub, g.now())
	plan, err := g.catalog.Get(id)
	if err != nil {
		// A stored plan that left the catalog
		observability.FromContextOr(ctx, g.logger).
			WithField("plan", string(id)).
			Error("Subscription references an unknown plan, falling back to free")
		plan, err = g.catalog.Get(plans.PlanFree)
		if err != nil {
			return nil, nil, err
		}
	}
	return plan, sub, nil
}

// CanUseFeature reports whether the user's effective plan grants feature
func (g *Guard) CanUseFeature(ctx context.Context, userID string, feature plans.Feature) (bool, error) {
	plan, _, err := g.Plan(ctx, userID)
	if err != nil {
		return false, err
	}

	allowed := plan.HasFeature(feature)
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	g.metrics.FeatureChecksTotal.WithLabelValues(string(feature), decision).Inc()
	return allowed, nil
}

// CheckAndConsumeTransformation takes one unit of the monthly quota, or
// returns QuotaExceededError when none is left.
func (g *Guard) CheckAndConsumeTransformation(ctx context.Context, userID string) (*Usage, error) {
	plan, _, err := g.Plan(ctx, userID)
	if err != nil {
		return nil, err
	}

	cycle := billing.CycleStart(g.now())
	limit := plan.TransformationsPerMonth
	counter, err := g.store.ConsumeTransformation(ctx, userID, limit, cycle)
	if errors.Is(err, billing.ErrQuotaExhausted) {
		g.metrics.QuotaDecisionsTotal.WithLabelValues(string(plan.ID), "denied").Inc()
		used := limit
		if counter != nil {
			used = counter.TransformationsUsed
		}
		return nil, &apperrors.QuotaExceededError{
			Feature: FeatureTransformations,
			PlanID:  string(plan.ID),
			Limit:   limit,
			Used:    used,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume transformation: %w", err)
	}

	g.metrics.QuotaDecisionsTotal.WithLabelValues(string(plan.ID), "allowed").Inc()
	usage := newUsage(counter.TransformationsUsed, limit, cycle)
	return &usage, nil
}

// ReleaseTransformation returns a unit taken by CheckAndConsumeTransformation
// in the current cycle.
func (g *Guard) ReleaseTransformation(ctx context.Context, userID string) error {
	cycle := billing.CycleStart(g.now())
	if _, err := g.store.ReleaseTransformation(ctx, userID, cycle); err != nil {
		return fmt.Errorf("failed to release transformation: %w", err)
	}
	return nil
}

// GetRemaining returns the unused allowance, floored at zero
func (g *Guard) GetRemaining(ctx context.Context, userID string) (Remaining, error) {
	usage, err := g.GetUsage(ctx, userID)
	if err != nil {
		return Remaining{}, err
	}
	return Remaining{Count: usage.Remaining, Unlimited: usage.Unlimited}, nil
}

// GetUsage returns the current cycle's consumption against the plan limit
func (g *Guard) GetUsage(ctx context.Context, userID string) (*Usage, error) {
	plan, _, err := g.Plan(ctx, userID)
	if err != nil {
		return nil, err
	}

	cycle := billing.CycleStart(g.now())
	counter, err := g.store.GetUsage(ctx, userID, cycle)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	usage := newUsage(counter.TransformationsUsed, plan.TransformationsPerMonth, cycle)
	return &usage, nil
}

func newUsage(used, limit int, cycle time.Time) Usage {
	u := Usage{
		Used:       used,
		Limit:      limit,
		CycleStart: cycle,
		CycleEnd:   billing.NextCycleStart(cycle),
	}
	if limit < 0 {
		u.Unlimited = true
		u.Limit = 0
		return u
	}
	if used < limit {
		u.Remaining = limit - used
	}
	return u
}

// CheckNoteLength rejects notes longer than the plan allows
func (g *Guard) CheckNoteLength(ctx context.Context, userID string, length int) error {
	plan, _, err := g.Plan(ctx, userID)
	if err != nil {
		return err
	}
	if plan.MaxNoteLength >= 0 && length > plan.MaxNoteLength {
		return apperrors.NewValidationError("notes",
			fmt.Sprintf("exceeds the %d character limit of the %s plan", plan.MaxNoteLength, plan.Name))
	}
	return nil
}

// Entitlements returns the user's full entitlement snapshot
func (g *Guard) Entitlements(ctx context.Context, userID string) (*Snapshot, error) {
	plan, sub, err := g.Plan(ctx, userID)
	if err != nil {
		return nil, err
	}

	cycle := billing.CycleStart(g.now())
	counter, err := g.store.GetUsage(ctx, userID, cycle)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}

	snap := &Snapshot{
		PlanID:           plan.ID,
		StoredPlanID:     sub.PlanID,
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		Features:         plan.Features(),
		Limits: map[string]Limit{
			"transformationsPerMonth": limitOf(plan.TransformationsPerMonth),
			"maxNoteLength":           limitOf(plan.MaxNoteLength),
			"maxProjects":             limitOf(plan.MaxProjects),
			"teamMembers":             limitOf(plan.TeamMembers),
		},
		ExportFormats: plan.ExportFormats,
		Usage:         newUsage(counter.TransformationsUsed, plan.TransformationsPerMonth, cycle),
	}
	if next := g.catalog.NextTier(plan.ID); next != nil {
		snap.UpgradeTo = next.ID
	}
	return snap, nil
}
