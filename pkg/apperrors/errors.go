// Package apperrors defines the error taxonomy shared by the billing,
// entitlement and transformation packages. Every error carries a stable
// machine-readable code and a message that is safe to show to clients;
// wrapped causes are only ever logged.
package apperrors

import (
	"errors"
	"fmt"
)

// Client-facing error codes
const (
	CodeValidation            = "validation_error"
	CodeUnknownPlan           = "unknown_plan"
	CodeInvalidPlan           = "invalid_plan"
	CodeUnauthenticated       = "unauthenticated"
	CodeQuotaExceeded         = "quota_exceeded"
	CodePaymentProvider       = "payment_provider_error"
	CodeConfiguration         = "configuration_error"
	CodeSignatureVerification = "signature_verification_failed"
	CodeTransformationFailed  = "transformation_failed"
	CodeInternal              = "internal_error"
)

// ValidationError is returned for malformed client input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UnknownPlanError is returned for plan ids outside the catalog
type UnknownPlanError struct {
	PlanID string
}

func (e *UnknownPlanError) Error() string {
	return fmt.Sprintf("unknown plan: %q", e.PlanID)
}

// InvalidPlanError is returned when a known plan cannot be used for the
// requested operation, e.g. checking out the free tier.
type InvalidPlanError struct {
	PlanID string
	Reason string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid plan %q: %s", e.PlanID, e.Reason)
}

// UnauthenticatedError is returned when the caller has no valid identity
type UnauthenticatedError struct {
	Reason string
	Err    error
}

func (e *UnauthenticatedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthenticated: %s: %v", e.Reason, e.Err)
	}
	return "unauthenticated: " + e.Reason
}

func (e *UnauthenticatedError) Unwrap() error { return e.Err }

// QuotaExceededError is returned when a metered feature has no allowance
// left in the current billing cycle.
type QuotaExceededError struct {
	Feature string
	PlanID  string
	Limit   int
	Used    int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s on plan %s: %d/%d used", e.Feature, e.PlanID, e.Used, e.Limit)
}

// PaymentProviderError wraps failures talking to the payment provider.
// These are retryable from the client's perspective.
type PaymentProviderError struct {
	Op  string
	Err error
}

func (e *PaymentProviderError) Error() string {
	return fmt.Sprintf("payment provider %s failed: %v", e.Op, e.Err)
}

func (e *PaymentProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the operation may be retried
func (e *PaymentProviderError) Retryable() bool { return true }

// ConfigurationError marks an operator mistake, e.g. a missing price mapping
type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Setting, e.Message)
}

// SignatureVerificationError is returned when a webhook payload cannot be
// authenticated.
type SignatureVerificationError struct {
	Err error
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("webhook signature verification failed: %v", e.Err)
}

func (e *SignatureVerificationError) Unwrap() error { return e.Err }

// TransformationFailedError wraps a failed LLM completion
type TransformationFailedError struct {
	Err error
}

func (e *TransformationFailedError) Error() string {
	return fmt.Sprintf("transformation failed: %v", e.Err)
}

func (e *TransformationFailedError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not succeed on redelivery.
// Webhook handlers acknowledge these instead of asking for a retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked permanent
func IsPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}

// IsRetryable reports whether err wraps a retryable failure
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	var qerr *QuotaExceededError
	return errors.As(err, &qerr)
}

// IsSignatureVerification checks if an error is a signature failure
func IsSignatureVerification(err error) bool {
	var serr *SignatureVerificationError
	return errors.As(err, &serr)
}
