// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses
// and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, session)
//
// Error responses carry a human message and a machine-readable code:
//
//	httputil.WriteErrorCode(w, http.StatusPaymentRequired, "quota_exceeded", "Monthly limit reached")
//	httputil.WriteBadRequest(w, "planId is required")
//	httputil.WriteUnauthorized(w, "Token expired")
//
// # Request Parsing
//
//	var req CheckoutRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Raw bodies (webhooks) are read with a hard cap:
//
//	payload, err := httputil.ReadBody(r, 64*1024)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication and rate limiting middleware
package httputil
