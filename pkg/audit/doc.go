// Package audit records who changed a subscription, when, and from what.
//
// Events are written for checkouts started, user-initiated cancellations
// and plan changes, and for every webhook delivery that changes stored
// state or fails signature verification. Each event carries the user id,
// the request id when one is available, and before/after values for plan
// and status.
//
// # Sinks
//
//	dbLogger, _ := audit.NewDBLogger(ctx, db) // audit_logs table in Postgres
//	structured := audit.NewStructuredLogger(logger)
//	auditLogger := audit.NewMultiLogger(dbLogger, structured)
//
// Audit writes are best effort: callers log a failed write and continue.
package audit
