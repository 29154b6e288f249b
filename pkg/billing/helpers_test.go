package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/plans"
)

var testPrices = map[plans.PlanID]string{
	plans.PlanBasic:      "price_basic",
	plans.PlanPremium:    "price_premium",
	plans.PlanEnterprise: "price_enterprise",
}

func testCatalog(t *testing.T) *plans.Catalog {
	t.Helper()
	catalog, err := plans.DefaultCatalog(testPrices)
	require.NoError(t, err)
	return catalog
}

// fakeProvider is an in-memory Provider
type fakeProvider struct {
	mu            sync.Mutex
	customers     int64
	sessions      []CheckoutParams
	subscriptions map[string]*ProviderSubscription
	events        map[string]*Event
	canceled      []string

	customerDelay time.Duration
	failWith      error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subscriptions: make(map[string]*ProviderSubscription),
		events:        make(map[string]*Event),
	}
}

func (f *fakeProvider) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	if f.customerDelay > 0 {
		time.Sleep(f.customerDelay)
	}
	if f.failWith != nil {
		return "", f.failWith
	}
	n := atomic.AddInt64(&f.customers, 1)
	return fmt.Sprintf("cus_%d", n), nil
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, params)
	id := fmt.Sprintf("cs_%d", len(f.sessions))
	return &CheckoutSession{SessionID: id, RedirectURL: "https://checkout.example.com/" + id}, nil
}

func (f *fakeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, &apperrors.PaymentProviderError{Op: "get_subscription", Err: errors.New("no such subscription")}
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeProvider) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*ProviderSubscription, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, &apperrors.PaymentProviderError{Op: "update_subscription", Err: errors.New("no such subscription")}
	}
	sub.PriceID = priceID
	cp := *sub
	return &cp, nil
}

func (f *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, subscriptionID)
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return &ProviderSubscription{ID: subscriptionID, Status: "canceled"}, nil
	}
	sub.Status = "canceled"
	cp := *sub
	return &cp, nil
}

// ParseEvent treats the payload as an event id registered with addEvent
// and the signature header as "valid" or anything else.
func (f *fakeProvider) ParseEvent(payload []byte, signatureHeader string) (*Event, error) {
	if signatureHeader != "valid" {
		return nil, &apperrors.SignatureVerificationError{Err: errors.New("bad signature")}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[string(payload)]
	if !ok {
		return nil, apperrors.Permanent(errors.New("malformed payload"))
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeProvider) addSubscription(sub *ProviderSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[sub.ID] = sub
}

func (f *fakeProvider) addEvent(ev *Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.ID] = ev
}

func (f *fakeProvider) customerCount() int64 {
	return atomic.LoadInt64(&f.customers)
}

// activeSubscription seeds store with a live subscription for userID
func activeSubscription(t *testing.T, store Store, userID, subID string, plan plans.PlanID) {
	t.Helper()
	_, err := store.UpdateSubscription(context.Background(), userID, func(s *Subscription) error {
		s.ExternalCustomerID = "cus_" + userID
		s.ExternalSubscriptionID = subID
		s.PlanID = plan
		s.Status = SubscriptionStatusActive
		return nil
	})
	require.NoError(t, err)
}
