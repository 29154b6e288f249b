package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeCheckoutStarted        EventType = "subscription.checkout_started"
	EventTypeSubscriptionCanceled   EventType = "subscription.canceled"
	EventTypeSubscriptionPlanChange EventType = "subscription.plan_changed"

	EventTypeWebhookApplied         EventType = "webhook.applied"
	EventTypeWebhookSignatureFailed EventType = "webhook.signature_failed"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Actor identifies who caused a change
type Actor string

const (
	ActorUser     Actor = "user"
	ActorProvider Actor = "payment_provider"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`
	Actor     Actor       `json:"actor"`

	UserID    string `json:"user_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// ExternalID is the provider object the event refers to, e.g. a
	// subscription, checkout session or webhook event id
	ExternalID string `json:"external_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}
