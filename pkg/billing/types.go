package billing

import (
	"time"

	"github.com/notewise/notewise/pkg/plans"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusNone     SubscriptionStatus = "none"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Valid reports whether s is one of the known statuses
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusNone, SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled:
		return true
	}
	return false
}

// IsLive reports whether the provider still bills this subscription
func (s SubscriptionStatus) IsLive() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusPastDue
}

// MapProviderStatus folds the provider's subscription statuses onto ours
func MapProviderStatus(raw string) SubscriptionStatus {
	switch raw {
	case "active", "trialing":
		return SubscriptionStatusActive
	case "past_due", "unpaid", "incomplete", "paused":
		return SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return SubscriptionStatusCanceled
	default:
		return SubscriptionStatusNone
	}
}

// Subscription is the per-user billing record
type Subscription struct {
	UserID                 string             `json:"userId"`
	ExternalCustomerID     string             `json:"externalCustomerId,omitempty"`
	ExternalSubscriptionID string             `json:"externalSubscriptionId,omitempty"`
	PlanID                 plans.PlanID       `json:"planId"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodEnd       *time.Time         `json:"currentPeriodEnd,omitempty"`
	LastEventAt            *time.Time         `json:"lastEventAt,omitempty"`
	Version                int64              `json:"version"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// NewSubscription returns the implicit record for a user who never paid
func NewSubscription(userID string, now time.Time) *Subscription {
	return &Subscription{
		UserID:    userID,
		PlanID:    plans.PlanFree,
		Status:    SubscriptionStatusNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy
func (s *Subscription) Clone() *Subscription {
	cp := *s
	if s.CurrentPeriodEnd != nil {
		t := *s.CurrentPeriodEnd
		cp.CurrentPeriodEnd = &t
	}
	if s.LastEventAt != nil {
		t := *s.LastEventAt
		cp.LastEventAt = &t
	}
	return &cp
}

// UsageCounter tracks metered feature use within one billing cycle
type UsageCounter struct {
	UserID              string    `json:"userId"`
	TransformationsUsed int       `json:"transformationsUsed"`
	CycleStart          time.Time `json:"cycleStart"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// CycleStart returns the first instant of t's UTC calendar month
func CycleStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextCycleStart returns the start of the cycle after the one containing t
func NextCycleStart(t time.Time) time.Time {
	return CycleStart(t).AddDate(0, 1, 0)
}

// ProcessedEvent records a webhook event that has been handled
type ProcessedEvent struct {
	EventID     string
	EventType   string
	UserID      string
	ProcessedAt time.Time
}
