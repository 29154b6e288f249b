package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/notewise/notewise/pkg/httputil"
	"github.com/notewise/notewise/pkg/observability"
	"github.com/notewise/notewise/pkg/plans"
)

// Config wires the API server. Transformer and both rate limits are optional.
type Config struct {
	Billing      BillingService
	Webhooks     WebhookHandler
	Entitlements EntitlementService
	Transformer  Transformer
	Catalog      *plans.Catalog

	// Authenticate guards every user route
	Authenticate func(http.Handler) http.Handler
	// RateLimit guards LLM-backed routes
	RateLimit func(http.Handler) http.Handler
	// AnonymousRateLimit throttles by client IP on public routes and in
	// front of Authenticate. The webhook route is never limited.
	AnonymousRateLimit func(http.Handler) http.Handler

	AllowedOrigins []string
	MaxBodyBytes   int64

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the public HTTP API
type Server struct {
	router *mux.Router
}

// NewServer creates a new API server with all routes registered
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNopMetrics()
	}
	if cfg.Authenticate == nil {
		cfg.Authenticate = denyAll
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(cfg.Logger),
		httputil.RecoveryMiddleware(cfg.Logger),
		observability.HTTPMetricsMiddleware(cfg.Metrics),
	)
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(httputil.CORSMiddleware(cfg.AllowedOrigins))
	}

	billingHandlers := NewBillingHandlers(cfg.Billing, cfg.Webhooks, cfg.Logger)
	entitlementHandlers := NewEntitlementHandlers(cfg.Catalog, cfg.Entitlements, cfg.Logger)

	// Provider webhooks come from a few provider IPs and must not be throttled
	billingHandlers.RegisterWebhookRoutes(router)

	// Public routes
	public := router.NewRoute().Subrouter()
	if cfg.AnonymousRateLimit != nil {
		public.Use(cfg.AnonymousRateLimit)
	}
	entitlementHandlers.RegisterPublicRoutes(public)

	// Authenticated routes
	user := router.NewRoute().Subrouter()
	if cfg.AnonymousRateLimit != nil {
		user.Use(cfg.AnonymousRateLimit)
	}
	user.Use(
		cfg.Authenticate,
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
	)
	billingHandlers.RegisterRoutes(user)
	entitlementHandlers.RegisterRoutes(user)
	if cfg.Transformer != nil {
		NewTransformHandlers(cfg.Transformer, cfg.RateLimit, cfg.Logger).RegisterRoutes(user)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorCode(w, http.StatusNotFound, httputil.CodeNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorCode(w, http.StatusMethodNotAllowed, httputil.CodeInvalidRequest, "method not allowed")
	})

	return &Server{router: router}
}

// denyAll rejects every request; used when no authenticator is configured
func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteUnauthorized(w, "authentication required")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}
