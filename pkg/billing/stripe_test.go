package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewise/notewise/pkg/apperrors"
)

const testWebhookSecret = "whsec_test"

// fakeStripeAPI records form posts and answers with canned JSON
type fakeStripeAPI struct {
	mu       sync.Mutex
	requests map[string]url.Values
	headers  map[string]http.Header
	status   int
}

func newFakeStripeAPI(t *testing.T) (*fakeStripeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeStripeAPI{
		requests: make(map[string]url.Values),
		headers:  make(map[string]http.Header),
		status:   http.StatusOK,
	}
	server := httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(server.Close)
	return api, server
}

func (f *fakeStripeAPI) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))

	key := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.requests[key] = form
	f.headers[key] = r.Header.Clone()
	status := f.status
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error":{"type":"api_error","message":"upstream unavailable"}}`)
		return
	}

	switch key {
	case "POST /v1/customers":
		fmt.Fprint(w, `{"id":"cus_123","object":"customer"}`)
	case "POST /v1/checkout/sessions":
		fmt.Fprint(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`)
	case "GET /v1/subscriptions/sub_1":
		fmt.Fprint(w, subscriptionJSON("active", "price_basic"))
	case "POST /v1/subscriptions/sub_1":
		fmt.Fprint(w, subscriptionJSON("active", form.Get("items[0][price]")))
	case "DELETE /v1/subscriptions/sub_1":
		fmt.Fprint(w, subscriptionJSON("canceled", "price_basic"))
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"not found"}}`)
	}
}

func (f *fakeStripeAPI) request(key string) (url.Values, http.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[key], f.headers[key]
}

func subscriptionJSON(status, price string) string {
	return fmt.Sprintf(`{
		"id": "sub_1",
		"object": "subscription",
		"status": %q,
		"customer": "cus_123",
		"current_period_end": 1780000000,
		"metadata": {"user_id": "user-1"},
		"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "price": {"id": %q, "object": "price"}}]}
	}`, status, price)
}

func newTestStripeProvider(t *testing.T, server *httptest.Server) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		APIURL:        server.URL,
		HTTPClient:    server.Client(),
	}, nil)
	require.NoError(t, err)
	return provider
}

func TestNewStripeProvider_RequiresSecrets(t *testing.T) {
	_, err := NewStripeProvider(StripeConfig{WebhookSecret: "whsec"}, nil)
	var cfgErr *apperrors.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewStripeProvider(StripeConfig{SecretKey: "sk_test"}, nil)
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStripeProvider_CreateCustomer(t *testing.T) {
	api, server := newFakeStripeAPI(t)
	provider := newTestStripeProvider(t, server)

	id, err := provider.CreateCustomer(context.Background(), "user-1", "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_123", id)

	form, headers := api.request("POST /v1/customers")
	assert.Equal(t, "user-1", form.Get("metadata[user_id]"))
	assert.Equal(t, "user@example.com", form.Get("email"))
	assert.Equal(t, "customer-user-1", headers.Get("Idempotency-Key"))
}

func TestStripeProvider_CreateCheckoutSession(t *testing.T) {
	api, server := newFakeStripeAPI(t)
	provider := newTestStripeProvider(t, server)

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutParams{
		UserID:     "user-1",
		CustomerID: "cus_123",
		PlanID:     "premium",
		PriceID:    "price_premium",
		SuccessURL: "https://app.example.com/ok",
		CancelURL:  "https://app.example.com/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", session.RedirectURL)

	form, _ := api.request("POST /v1/checkout/sessions")
	assert.Equal(t, "subscription", form.Get("mode"))
	assert.Equal(t, "cus_123", form.Get("customer"))
	assert.Equal(t, "user-1", form.Get("client_reference_id"))
	assert.Equal(t, "price_premium", form.Get("line_items[0][price]"))
	assert.Equal(t, "user-1", form.Get("subscription_data[metadata][user_id]"))
	assert.Equal(t, "premium", form.Get("metadata[plan_id]"))
}

func TestStripeProvider_UpdateSubscriptionPrice(t *testing.T) {
	api, server := newFakeStripeAPI(t)
	provider := newTestStripeProvider(t, server)

	sub, err := provider.UpdateSubscriptionPrice(context.Background(), "sub_1", "price_premium")
	require.NoError(t, err)
	assert.Equal(t, "price_premium", sub.PriceID)
	assert.Equal(t, "cus_123", sub.CustomerID)
	assert.Equal(t, time.Unix(1780000000, 0).UTC(), sub.CurrentPeriodEnd)

	form, _ := api.request("POST /v1/subscriptions/sub_1")
	assert.Equal(t, "si_1", form.Get("items[0][id]"))
	assert.Equal(t, "create_prorations", form.Get("proration_behavior"))
}

func TestStripeProvider_CancelSubscription(t *testing.T) {
	_, server := newFakeStripeAPI(t)
	provider := newTestStripeProvider(t, server)

	sub, err := provider.CancelSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "canceled", sub.Status)
}

func TestStripeProvider_APIError(t *testing.T) {
	api, server := newFakeStripeAPI(t)
	api.status = http.StatusServiceUnavailable
	provider := newTestStripeProvider(t, server)

	_, err := provider.CreateCustomer(context.Background(), "user-1", "")
	var perr *apperrors.PaymentProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create_customer", perr.Op)
}

func signedPayload(t *testing.T, event map[string]interface{}, secret string) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestStripeProvider_ParseEvent(t *testing.T) {
	_, server := newFakeStripeAPI(t)
	provider := newTestStripeProvider(t, server)

	t.Run("checkout completed", func(t *testing.T) {
		payload, header := signedPayload(t, map[string]interface{}{
			"id":      "evt_1",
			"object":  "event",
			"type":    "checkout.session.completed",
			"created": 1760000000,
			"data": map[string]interface{}{
				"object": map[string]interface{}{
					"id":                  "cs_1",
					"object":              "checkout.session",
					"client_reference_id": "user-1",
					"customer":            "cus_123",
					"subscription":        "sub_1",
					"metadata":            map[string]string{"plan_id": "premium"},
				},
			},
		}, testWebhookSecret)

		ev, err := provider.ParseEvent(payload, header)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, EventCheckoutCompleted, ev.Kind)
		assert.Equal(t, time.Unix(1760000000, 0).UTC(), ev.Created)
		assert.Equal(t, "user-1", ev.UserID)
		assert.Equal(t, "cus_123", ev.CustomerID)
		assert.Equal(t, "sub_1", ev.SubscriptionID)
		assert.Equal(t, "premium", ev.PlanID)
	})

	t.Run("subscription deleted", func(t *testing.T) {
		var sub map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(subscriptionJSON("canceled", "price_basic")), &sub))
		payload, header := signedPayload(t, map[string]interface{}{
			"id":      "evt_2",
			"object":  "event",
			"type":    "customer.subscription.deleted",
			"created": 1760000100,
			"data":    map[string]interface{}{"object": sub},
		}, testWebhookSecret)

		ev, err := provider.ParseEvent(payload, header)
		require.NoError(t, err)
		assert.Equal(t, EventSubscriptionDeleted, ev.Kind)
		assert.Equal(t, "user-1", ev.UserID)
		assert.Equal(t, "sub_1", ev.SubscriptionID)
		require.NotNil(t, ev.Subscription)
		assert.Equal(t, "canceled", ev.Subscription.Status)
		assert.Equal(t, "price_basic", ev.Subscription.PriceID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		payload, header := signedPayload(t, map[string]interface{}{
			"id": "evt_3", "object": "event", "type": "customer.subscription.updated",
		}, "whsec_other")

		_, err := provider.ParseEvent(payload, header)
		assert.True(t, apperrors.IsSignatureVerification(err))
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := provider.ParseEvent([]byte(`{"id":"evt_4"}`), "")
		assert.True(t, apperrors.IsSignatureVerification(err))
	})

	t.Run("tampered payload", func(t *testing.T) {
		payload, header := signedPayload(t, map[string]interface{}{
			"id": "evt_5", "object": "event", "type": "customer.subscription.updated",
		}, testWebhookSecret)
		payload = append(payload[:len(payload)-1], []byte(`,"x":1}`)...)

		_, err := provider.ParseEvent(payload, header)
		assert.True(t, apperrors.IsSignatureVerification(err))
	})
}
