package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/httputil"
	"github.com/notewise/notewise/pkg/middleware"
	"github.com/notewise/notewise/pkg/observability"
	"github.com/notewise/notewise/pkg/plans"
)

// EntitlementHandlers serves the plan catalog and per-user entitlements
type EntitlementHandlers struct {
	catalog      *plans.Catalog
	entitlements EntitlementService
	logger       *observability.Logger
}

// NewEntitlementHandlers creates a new EntitlementHandlers
func NewEntitlementHandlers(catalog *plans.Catalog, entitlements EntitlementService, logger *observability.Logger) *EntitlementHandlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &EntitlementHandlers{catalog: catalog, entitlements: entitlements, logger: logger}
}

// RegisterPublicRoutes registers routes served without authentication
func (h *EntitlementHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/plans", h.ListPlans).Methods("GET")
}

// RegisterRoutes registers routes that require an authenticated user
func (h *EntitlementHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/entitlements", h.GetEntitlements).Methods("GET")
	router.HandleFunc("/entitlements/features/{feature}", h.GetFeatureAccess).Methods("GET")
	router.HandleFunc("/usage", h.GetUsage).Methods("GET")
	router.HandleFunc("/usage/remaining", h.GetRemaining).Methods("GET")
}

// ListPlans returns the catalog in tier order. Price ids are never included.
func (h *EntitlementHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, PlansResponse{Plans: h.catalog.Plans()})
}

// GetEntitlements returns the caller's effective plan, limits and usage
func (h *EntitlementHandlers) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	snap, err := h.entitlements.Entitlements(r.Context(), middleware.UserID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, snap)
}

// GetUsage returns the caller's transformation usage for the current cycle
func (h *EntitlementHandlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.entitlements.GetUsage(r.Context(), middleware.UserID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, usage)
}

// GetRemaining returns how many transformations are left this cycle
func (h *EntitlementHandlers) GetRemaining(w http.ResponseWriter, r *http.Request) {
	remaining, err := h.entitlements.GetRemaining(r.Context(), middleware.UserID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, remaining)
}

// GetFeatureAccess reports whether the caller's effective plan grants a feature
func (h *EntitlementHandlers) GetFeatureAccess(w http.ResponseWriter, r *http.Request) {
	feature, ok := plans.ParseFeature(mux.Vars(r)["feature"])
	if !ok {
		writeError(w, r, h.logger, apperrors.NewValidationError("feature", "unknown feature"))
		return
	}

	allowed, err := h.entitlements.CanUseFeature(r.Context(), middleware.UserID(r), feature)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, FeatureAccessResponse{Feature: feature, Allowed: allowed})
}
