package billing

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches
	ErrNotFound = errors.New("subscription not found")
	// ErrDuplicateEvent is returned by ApplyEvent for an already processed event id
	ErrDuplicateEvent = errors.New("event already processed")
	// ErrNoChange may be returned by a MutateFunc to commit without writing
	ErrNoChange = errors.New("no change")
	// ErrQuotaExhausted is returned when a conditional increment is refused
	ErrQuotaExhausted = errors.New("quota exhausted")
)

// MutateFunc edits a subscription in place under the per-user write lock.
// Returning ErrNoChange keeps the row as is; any other error aborts.
type MutateFunc func(sub *Subscription) error

// Store persists subscription and usage state. Implementations serialize
// writes per user and make ConsumeTransformation a single atomic check and
// increment.
type Store interface {
	// GetSubscription returns ErrNotFound for users without a record
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)

	// EnsureSubscription returns the record, creating the implicit free one
	EnsureSubscription(ctx context.Context, userID string) (*Subscription, error)

	// SetCustomerID stores customerID unless one is already set and returns
	// the id that is stored afterwards.
	SetCustomerID(ctx context.Context, userID, customerID string) (string, error)

	FindUserBySubscriptionID(ctx context.Context, subscriptionID string) (string, error)
	FindUserByCustomerID(ctx context.Context, customerID string) (string, error)

	// UpdateSubscription applies fn to the record, creating it if missing
	UpdateSubscription(ctx context.Context, userID string, fn MutateFunc) (*Subscription, error)

	// ApplyEvent records event and applies fn in one transaction. Returns
	// ErrDuplicateEvent without calling fn if the event id was seen before.
	ApplyEvent(ctx context.Context, userID string, event ProcessedEvent, fn MutateFunc) (*Subscription, error)

	// ConsumeTransformation increments the counter if it is below limit
	// (limit < 0 means unlimited), resetting it first when cycleStart is
	// newer than the stored cycle. On refusal the current counter is
	// returned with ErrQuotaExhausted.
	ConsumeTransformation(ctx context.Context, userID string, limit int, cycleStart time.Time) (*UsageCounter, error)

	// ReleaseTransformation gives back one unit consumed in cycleStart
	ReleaseTransformation(ctx context.Context, userID string, cycleStart time.Time) (*UsageCounter, error)

	// GetUsage returns the counter as of cycleStart; a stale cycle reads as zero
	GetUsage(ctx context.Context, userID string, cycleStart time.Time) (*UsageCounter, error)

	// PruneProcessedEvents deletes processed event ids older than before
	PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error)
}
