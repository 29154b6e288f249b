package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

type dependency struct {
	name     string
	check    CheckFunc
	required bool
}

// HealthChecker aggregates dependency probes for liveness and readiness.
// Required dependencies make the service unhealthy when they fail; optional
// ones (cache, rate limit store) only degrade it.
type HealthChecker struct {
	version string
	deps    []dependency
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHealthChecker creates a health checker. A nil db or redis client is skipped.
func NewHealthChecker(version string, db *sql.DB, redisClient *redis.Client) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.AddCheck("database", true, func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			var one int
			return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
		})
	}
	if redisClient != nil {
		h.AddCheck("redis", false, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	return h
}

// AddCheck registers an additional dependency check
func (h *HealthChecker) AddCheck(name string, required bool, check CheckFunc) {
	h.deps = append(h.deps, dependency{name: name, check: check, required: required})
}

// Check runs every registered check and folds the results into one status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.deps)),
	}

	deps := append([]dependency(nil), h.deps...)
	sort.Slice(deps, func(i, j int) bool { return deps[i].name < deps[j].name })

	for _, dep := range deps {
		start := time.Now()
		err := dep.check(ctx)
		ds := DependencyStatus{
			Status:    StatusHealthy,
			LatencyMS: time.Since(start).Milliseconds(),
			Timestamp: time.Now(),
		}
		if err != nil {
			ds.Status = StatusUnhealthy
			ds.Message = err.Error()
			if dep.required {
				status.Status = StatusUnhealthy
			} else if status.Status != StatusUnhealthy {
				status.Status = StatusDegraded
			}
		}
		status.Dependencies[dep.name] = ds
	}

	return status
}

// Liveness returns 200 while the process is running
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 when a required dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
}
