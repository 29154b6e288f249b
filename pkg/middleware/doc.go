// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// # Overview
//
// AuthMiddleware verifies bearer tokens through an auth.Verifier and places
// the caller's claims and user ID on the request context:
//
//	authMW := middleware.NewAuthMiddleware(verifier, logger, metrics)
//	router.Use(authMW.Handler)
//	userID := middleware.UserID(r)
//
// RateLimitMiddleware keys requests by authenticated user, falling back to
// the client IP. Either limiter implementation may back it:
//
//	users := middleware.NewDistributedRateLimiter(redisClient, middleware.PerUserRateLimitConfig(), "")
//	anon := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	limit := middleware.NewRateLimitMiddleware(users, anon, logger, metrics)
//
// Limiter errors fail open. A refused request gets 429 with Retry-After and
// X-RateLimit-* headers.
//
// # Related Packages
//
//   - pkg/auth: Token verification
//   - pkg/httputil: Error responses
package middleware
