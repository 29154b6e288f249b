package audit

import (
	"context"

	"github.com/notewise/notewise/pkg/observability"
)

// StructuredLogger writes audit events as structured log lines tagged
// audit=true, for deployments that ship logs rather than keep a table
type StructuredLogger struct {
	logger *observability.Logger
}

// NewStructuredLogger creates a StructuredLogger on logger
func NewStructuredLogger(logger *observability.Logger) *StructuredLogger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &StructuredLogger{logger: logger.WithField("audit", true)}
}

// Log writes event at info level, or warn when it did not succeed
func (l *StructuredLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"actor":      string(event.Actor),
		"timestamp":  event.Timestamp,
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.ExternalID != "" {
		fields["external_id"] = event.ExternalID
	}
	if event.ErrorMessage != "" {
		fields["error_message"] = event.ErrorMessage
	}
	if event.Changes != nil {
		fields["before"] = event.Changes.Before
		fields["after"] = event.Changes.After
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields)
	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}
	if event.Status == EventStatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

// Close implements Logger
func (l *StructuredLogger) Close() error {
	return nil
}
