package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/contextkeys"
)

// Claims is the verified identity of a caller
type Claims struct {
	UserID        string
	Email         string
	EmailVerified bool
	ExpiresAt     time.Time
}

// Verifier checks a raw bearer token
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// WithClaims stores claims in ctx
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return contextkeys.WithAuth(ctx, claims)
}

// ClaimsFromContext returns the claims set by the auth middleware
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextkeys.AuthKey).(*Claims)
	return claims, ok && claims != nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", &apperrors.UnauthenticatedError{Reason: "missing authorization header"}
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", &apperrors.UnauthenticatedError{Reason: "invalid authorization header format"}
	}
	return strings.TrimSpace(parts[1]), nil
}

// OIDCConfig configures OIDCVerifier
type OIDCConfig struct {
	IssuerURL string
	Audience  string
}

// OIDCVerifier validates ID tokens from an OpenID Connect issuer
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and builds a verifier
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	if cfg.IssuerURL == "" {
		return nil, &apperrors.ConfigurationError{Setting: "auth issuer url", Message: "is required"}
	}
	if cfg.Audience == "" {
		return nil, &apperrors.ConfigurationError{Setting: "auth audience", Message: "is required"}
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.Audience}),
	}, nil
}

// NewOIDCVerifierWithKeySet builds a verifier on a fixed key set, skipping
// discovery
func NewOIDCVerifierWithKeySet(issuer, audience string, keySet oidc.KeySet, now func() time.Time) *OIDCVerifier {
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: audience, Now: now}),
	}
}

// Verify validates signature, issuer, audience and expiry
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, &apperrors.UnauthenticatedError{Reason: "invalid or expired token", Err: err}
	}

	var extra struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := token.Claims(&extra); err != nil {
		return nil, &apperrors.UnauthenticatedError{Reason: "invalid token claims", Err: err}
	}
	if token.Subject == "" {
		return nil, &apperrors.UnauthenticatedError{Reason: "token has no subject"}
	}

	return &Claims{
		UserID:        token.Subject,
		Email:         extra.Email,
		EmailVerified: extra.EmailVerified,
		ExpiresAt:     token.Expiry,
	}, nil
}

// HMACConfig configures HMACVerifier
type HMACConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// HMACVerifier validates HS256 tokens signed with a shared secret
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

type hmacClaims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

// NewHMACVerifier creates a verifier for a shared secret
func NewHMACVerifier(cfg HMACConfig) (*HMACVerifier, error) {
	if len(cfg.Secret) < 32 {
		return nil, &apperrors.ConfigurationError{Setting: "auth hmac secret", Message: "must be at least 32 bytes"}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &HMACVerifier{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}, nil
}

// Verify validates the token signature and registered claims
func (v *HMACVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	var claims hmacClaims
	_, err := v.parser.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "token expired"
		}
		return nil, &apperrors.UnauthenticatedError{Reason: reason, Err: err}
	}
	if claims.Subject == "" {
		return nil, &apperrors.UnauthenticatedError{Reason: "token has no subject"}
	}

	out := &Claims{
		UserID:        claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// SignHMAC issues an HS256 token for userID; used by local tooling and tests
func SignHMAC(secret, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := hmacClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
