package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/notewise/notewise/pkg/billing"
	"github.com/notewise/notewise/pkg/entitlements"
	"github.com/notewise/notewise/pkg/plans"
)

const testWebhookSecret = "whsec_test_secret"

func subscriptionEvent(id, status, price string, created int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": "customer.subscription.updated",
		"created": %d,
		"data": {"object": {
			"id": "sub_1",
			"object": "subscription",
			"status": %q,
			"customer": "cus_123",
			"current_period_end": 1900000000,
			"metadata": {"user_id": "user-1"},
			"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "price": {"id": %q, "object": "price"}}]}
		}}
	}`, id, created, status, price))
}

func sign(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}

// newWebhookServer wires the real provider, reconciler and guard over a
// memory store
func newWebhookServer(t *testing.T) (*Server, *billing.MemoryStore) {
	t.Helper()
	catalog := testCatalog(t)
	store := billing.NewMemoryStore()

	provider, err := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		APIURL:        "http://127.0.0.1:1",
	}, nil)
	require.NoError(t, err)

	server := NewServer(Config{
		Billing:      billing.NewService(store, provider, catalog, billing.ServiceOptions{}),
		Webhooks:     billing.NewReconciler(store, provider, catalog, billing.ReconcilerOptions{}),
		Entitlements: entitlements.NewGuard(store, catalog),
		Catalog:      catalog,
		Authenticate: authenticator(t),
	})
	return server, store
}

func postWebhook(server *Server, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/webhooks/payment-provider", strings.NewReader(string(payload)))
	req.Header.Set(SignatureHeader, header)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

func TestWebhook_EndToEnd(t *testing.T) {
	server, store := newWebhookServer(t)
	token := bearer(t, "user-1", "user@example.com")

	getEntitlements := func() entitlements.Snapshot {
		req := httptest.NewRequest("GET", "/entitlements", nil)
		req.Header.Set("Authorization", token)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var snap entitlements.Snapshot
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
		return snap
	}

	assert.Equal(t, plans.PlanFree, getEntitlements().PlanID)

	payload := subscriptionEvent("evt_1", "active", "price_premium", 1760000000)
	w := postWebhook(server, payload, sign(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())

	snap := getEntitlements()
	assert.Equal(t, plans.PlanPremium, snap.PlanID)
	assert.Equal(t, billing.SubscriptionStatusActive, snap.Status)

	// Redelivery is acknowledged without being applied twice
	w = postWebhook(server, payload, sign(payload, testWebhookSecret))
	assert.Equal(t, http.StatusOK, w.Code)

	// An older event arriving late does not roll the plan back
	older := subscriptionEvent("evt_0", "active", "price_basic", 1759990000)
	w = postWebhook(server, older, sign(older, testWebhookSecret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, plans.PlanPremium, getEntitlements().PlanID)

	sub, err := store.GetSubscription(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ExternalSubscriptionID)
	assert.Equal(t, "cus_123", sub.ExternalCustomerID)
}

func TestWebhook_BadSignatureLeavesStoreUntouched(t *testing.T) {
	server, store := newWebhookServer(t)

	payload := subscriptionEvent("evt_1", "active", "price_premium", 1760000000)
	w := postWebhook(server, payload, sign(payload, "whsec_attacker"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	_, err := store.GetSubscription(t.Context(), "user-1")
	assert.ErrorIs(t, err, billing.ErrNotFound)

	// The forged delivery did not mark evt_1 as processed, so the genuine
	// delivery of the same event is applied
	w = postWebhook(server, payload, sign(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	sub, err := store.GetSubscription(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, plans.PlanPremium, sub.PlanID)
	assert.Equal(t, "sub_1", sub.ExternalSubscriptionID)
}
