package billing

import (
	"context"

	"github.com/notewise/notewise/pkg/audit"
	"github.com/notewise/notewise/pkg/observability"
)

func subscriptionState(sub *Subscription) map[string]interface{} {
	state := map[string]interface{}{
		"plan_id": string(sub.PlanID),
		"status":  string(sub.Status),
	}
	if sub.CurrentPeriodEnd != nil {
		state["current_period_end"] = sub.CurrentPeriodEnd.UTC()
	}
	return state
}

// recordAudit writes event and logs, but never returns, a failed write
func recordAudit(ctx context.Context, auditLogger audit.Logger, logger *observability.Logger, event *audit.AuditEvent) {
	if err := auditLogger.Log(ctx, event); err != nil {
		logger.WithError(err).WithField("event_type", string(event.EventType)).Warn("Failed to write audit event")
	}
}
