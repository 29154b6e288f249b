// Package api provides the HTTP REST API for subscriptions, entitlements
// and note transformations.
//
// # Architecture
//
// The API is built on gorilla/mux and organized into handler groups, each
// depending on a narrow interface so it can be tested without a provider:
//
//   - BillingHandlers: checkout sessions, subscription status, cancel and
//     update, plus the payment provider webhook
//   - EntitlementHandlers: public plan catalog, entitlement snapshot, usage
//   - TransformHandlers: metered LLM transformations, rate limited per user
//
// # API Endpoints
//
//	POST /checkout-sessions            {planId, successUrl, cancelUrl} -> {sessionId, redirectUrl}
//	POST /webhooks/payment-provider    signed provider event -> {received: true}
//	GET  /subscription-status          -> {status, planId, currentPeriodEnd}
//	POST /subscription/cancel          -> {status, planId}
//	POST /subscription/update          {newPlanId} -> {status, planId}
//	GET  /plans                        -> {plans: [...]}
//	GET  /entitlements                 -> entitlement snapshot
//	GET  /usage                        -> {used, limit, remaining, unlimited, cycleStart, cycleEnd}
//	POST /transformations              {notes, template, tone} -> {content, remaining}
//
// # Errors
//
// Failures are written as {"error": message, "code": code}. Payment
// provider, configuration and internal errors are logged but never echoed.
//
//	400 validation_error, unknown_plan, invalid_plan, signature_verification_failed
//	401 unauthenticated
//	402 quota_exceeded
//	429 rate_limited
//	502 payment_provider_error, transformation_failed
//	500 configuration_error, internal_error
//
// # Usage
//
//	server := api.NewServer(api.Config{
//		Billing:      billingService,
//		Webhooks:     reconciler,
//		Entitlements: guard,
//		Transformer:  transformer,
//		Catalog:      catalog,
//		Authenticate: authMW.Handler,
//		RateLimit:    limitMW.Handler,
//	})
//	http.ListenAndServe(":8080", server)
package api
