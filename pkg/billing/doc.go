// Package billing owns subscription state and its synchronization with the
// payment provider.
//
// # Components
//
// Store persists per-user Subscription and UsageCounter records together
// with the ids of processed webhook events. PostgresStore is the production
// backend; MemoryStore serves tests and single-process development.
//
// Service creates checkout sessions (creating the provider customer lazily,
// at most once per user) and applies user-initiated cancel and plan change
// actions.
//
// Reconciler verifies, deduplicates and orders provider webhook events and
// applies them to the Store. Events are correlated to users through the
// user_id metadata attached at checkout, never by email.
//
// StatusCache fronts the Store for display-only status reads.
//
// # Provider
//
// Provider abstracts the payment provider. StripeProvider implements it with
// an injected stripe-go client; nothing in this package touches the global
// stripe.Key.
package billing
