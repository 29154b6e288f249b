package audit

import (
	"context"
	"time"

	"github.com/notewise/notewise/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes any buffered events
	Close() error
}

// NewEvent creates an event stamped with the current time and the request
// id carried by ctx
func NewEvent(ctx context.Context, eventType EventType, actor Actor, userID string) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    EventStatusSuccess,
		Actor:     actor,
		UserID:    userID,
		RequestID: observability.GetRequestID(ctx),
	}
}

// NewNopLogger returns a Logger that drops every event
func NewNopLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }

func (noOpLogger) Close() error { return nil }
