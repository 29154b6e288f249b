package billing

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. A single mutex serializes all writes,
// which trivially satisfies per-user serialization.
type MemoryStore struct {
	mu        sync.Mutex
	subs      map[string]*Subscription
	usage     map[string]*UsageCounter
	processed map[string]ProcessedEvent
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:      make(map[string]*Subscription),
		usage:     make(map[string]*UsageCounter),
		processed: make(map[string]ProcessedEvent),
		now:       time.Now,
	}
}

func (m *MemoryStore) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (m *MemoryStore) EnsureSubscription(ctx context.Context, userID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ensureLocked(userID).Clone(), nil
}

func (m *MemoryStore) ensureLocked(userID string) *Subscription {
	sub, ok := m.subs[userID]
	if !ok {
		sub = NewSubscription(userID, m.now())
		m.subs[userID] = sub
	}
	return sub
}

func (m *MemoryStore) SetCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := m.ensureLocked(userID)
	if sub.ExternalCustomerID == "" {
		sub.ExternalCustomerID = customerID
		sub.Version++
		sub.UpdatedAt = m.now()
	}
	return sub.ExternalCustomerID, nil
}

func (m *MemoryStore) FindUserBySubscriptionID(ctx context.Context, subscriptionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, sub := range m.subs {
		if subscriptionID != "" && sub.ExternalSubscriptionID == subscriptionID {
			return userID, nil
		}
	}
	return "", ErrNotFound
}

func (m *MemoryStore) FindUserByCustomerID(ctx context.Context, customerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, sub := range m.subs {
		if customerID != "" && sub.ExternalCustomerID == customerID {
			return userID, nil
		}
	}
	return "", ErrNotFound
}

func (m *MemoryStore) UpdateSubscription(ctx context.Context, userID string, fn MutateFunc) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.mutateLocked(userID, fn)
}

func (m *MemoryStore) ApplyEvent(ctx context.Context, userID string, event ProcessedEvent, fn MutateFunc) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.processed[event.EventID]; seen {
		return nil, ErrDuplicateEvent
	}

	sub, err := m.mutateLocked(userID, fn)
	if err != nil {
		return nil, err
	}

	event.UserID = userID
	event.ProcessedAt = m.now()
	m.processed[event.EventID] = event
	return sub, nil
}

// mutateLocked runs fn on a copy so an aborted mutation leaves no trace
func (m *MemoryStore) mutateLocked(userID string, fn MutateFunc) (*Subscription, error) {
	current := m.ensureLocked(userID)
	working := current.Clone()

	if err := fn(working); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}

	working.UserID = userID
	working.Version = current.Version + 1
	working.UpdatedAt = m.now()
	m.subs[userID] = working
	return working.Clone(), nil
}

func (m *MemoryStore) ConsumeTransformation(ctx context.Context, userID string, limit int, cycleStart time.Time) (*UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counter := m.usageLocked(userID, cycleStart)
	if limit >= 0 && counter.TransformationsUsed >= limit {
		cp := *counter
		return &cp, ErrQuotaExhausted
	}

	counter.TransformationsUsed++
	counter.UpdatedAt = m.now()
	cp := *counter
	return &cp, nil
}

func (m *MemoryStore) ReleaseTransformation(ctx context.Context, userID string, cycleStart time.Time) (*UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counter := m.usageLocked(userID, cycleStart)
	if counter.CycleStart.Equal(cycleStart) && counter.TransformationsUsed > 0 {
		counter.TransformationsUsed--
		counter.UpdatedAt = m.now()
	}
	cp := *counter
	return &cp, nil
}

func (m *MemoryStore) GetUsage(ctx context.Context, userID string, cycleStart time.Time) (*UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counter, ok := m.usage[userID]
	if !ok || counter.CycleStart.Before(cycleStart) {
		return &UsageCounter{UserID: userID, CycleStart: cycleStart}, nil
	}
	cp := *counter
	return &cp, nil
}

// usageLocked returns the live counter, rolling it over into cycleStart
func (m *MemoryStore) usageLocked(userID string, cycleStart time.Time) *UsageCounter {
	counter, ok := m.usage[userID]
	if !ok {
		counter = &UsageCounter{UserID: userID, CycleStart: cycleStart, UpdatedAt: m.now()}
		m.usage[userID] = counter
	}
	if counter.CycleStart.Before(cycleStart) {
		counter.TransformationsUsed = 0
		counter.CycleStart = cycleStart
	}
	return counter
}

func (m *MemoryStore) PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, ev := range m.processed {
		if ev.ProcessedAt.Before(before) {
			delete(m.processed, id)
			n++
		}
	}
	return n, nil
}
