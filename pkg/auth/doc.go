// Package auth verifies the bearer tokens issued by the identity provider
// and exposes the caller's identity to handlers.
//
// # Verifiers
//
// OIDCVerifier validates RS256 ID tokens (Firebase, Auth0 or any OpenID
// Connect issuer) against the issuer's published key set:
//
//	verifier, err := auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
//		IssuerURL: "https://securetoken.google.com/notewise-prod",
//		Audience:  "notewise-prod",
//	})
//
// HMACVerifier validates HS256 tokens signed with a shared secret and is
// intended for local development and tests.
//
// # Claims
//
// Both verifiers return Claims. The subject claim is the user id used as the
// key of every billing record; the email claim is informational only.
//
//	claims, ok := auth.ClaimsFromContext(r.Context())
package auth
